// Package resolver classifies query targets and decides the physical
// backing of the logical base table.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/curlake/curlake/internal/cache"
	"github.com/curlake/curlake/internal/queryerr"
	"github.com/curlake/curlake/internal/source"
)

// Kind is the classification of a query target.
type Kind string

const (
	KindSQLString  Kind = "sql"
	KindStoredSQL  Kind = "stored-sql"
	KindDirectFile Kind = "direct-file"
)

// Backing is the physical source of the logical base table.
type Backing string

const (
	BackingLocal      Backing = "local"
	BackingRemote     Backing = "remote"
	BackingDirectFile Backing = "direct-file"
)

// Resolution is the outcome of classifying one target.
type Resolution struct {
	Kind Kind
	// SQL is the executable text for sql and stored-sql targets.
	SQL string
	// FilePath is the direct columnar file for direct-file targets.
	FilePath string
	// StoredPath is the library-relative path for stored-sql targets.
	StoredPath string
	// Description is the optional "-- Description:" header of a stored
	// query.
	Description string
	Backing     Backing
}

const (
	columnarExtension = ".parquet"
	sqlExtension      = ".sql"
)

// sqlKeywords is the conservative token check that separates SQL strings
// from mistyped paths.
var sqlKeywords = []string{"select", "with", "from", "insert", "update", "delete", "create", "drop", "alter"}

// Resolve classifies target and, for SQL-backed targets, decides local
// versus remote per the config and the forceRemote override.
func Resolve(cfg source.Config, target string, forceRemote bool) (Resolution, error) {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return Resolution{}, queryerr.New(queryerr.KindInvalidQuery, "query target is empty")
	}

	if strings.HasSuffix(trimmed, columnarExtension) && !containsWhitespace(trimmed) {
		if info, err := os.Stat(trimmed); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(trimmed)
			if err != nil {
				return Resolution{}, fmt.Errorf("resolve direct file %q: %w", trimmed, err)
			}
			return Resolution{Kind: KindDirectFile, FilePath: abs, Backing: BackingDirectFile}, nil
		}
		return Resolution{}, queryerr.New(queryerr.KindNotFound,
			fmt.Sprintf("columnar file %q does not exist", trimmed))
	}

	if strings.HasSuffix(trimmed, sqlExtension) && !containsWhitespace(trimmed) {
		text, err := loadStoredSQL(cfg, trimmed)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Kind:        KindStoredSQL,
			SQL:         text,
			StoredPath:  trimmed,
			Description: descriptionHeader(text),
			Backing:     decideBacking(cfg, forceRemote),
		}, nil
	}

	if looksLikeSQL(trimmed) {
		return Resolution{Kind: KindSQLString, SQL: trimmed, Backing: decideBacking(cfg, forceRemote)}, nil
	}

	return Resolution{}, queryerr.New(queryerr.KindInvalidQuery,
		fmt.Sprintf("target %q is neither SQL, a stored query, nor a columnar file", truncate(trimmed, 80)),
		"pass a SQL string, a .sql path under the query library, or an existing .parquet path")
}

// decideBacking applies the preference chain: force-remote wins, then a
// usable local cache, then remote.
func decideBacking(cfg source.Config, forceRemote bool) Backing {
	if forceRemote {
		return BackingRemote
	}
	if cfg.LocalRoot != "" && cfg.PreferLocal && cache.IsUsable(cfg) {
		return BackingLocal
	}
	return BackingRemote
}

// loadStoredSQL reads a stored query, confined to the configured library
// root.
func loadStoredSQL(cfg source.Config, target string) (string, error) {
	if cfg.QueryLibraryRoot == "" {
		return "", queryerr.New(queryerr.KindInvalidQuery, "no query library is configured for stored queries")
	}
	full := filepath.Join(cfg.QueryLibraryRoot, filepath.FromSlash(target))
	root, err := filepath.Abs(cfg.QueryLibraryRoot)
	if err != nil {
		return "", fmt.Errorf("resolve query library root: %w", err)
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("resolve stored query path: %w", err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", queryerr.New(queryerr.KindInvalidQuery,
			fmt.Sprintf("stored query %q escapes the query library", target))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", queryerr.New(queryerr.KindNotFound,
				fmt.Sprintf("stored query %q was not found in the library", target))
		}
		return "", fmt.Errorf("read stored query %q: %w", target, err)
	}
	return string(data), nil
}

// descriptionHeader extracts a leading "-- Description:" comment, when one
// exists.
func descriptionHeader(sqlText string) string {
	for _, line := range strings.Split(sqlText, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "-- Description:"); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}

func looksLikeSQL(target string) bool {
	if !containsWhitespace(target) {
		return false
	}
	lowered := strings.ToLower(target)
	for _, keyword := range sqlKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func containsWhitespace(value string) bool {
	return strings.ContainsAny(value, " \t\r\n")
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
