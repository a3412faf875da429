// Package dispatcher is the unified query entry point: it validates a
// request, resolves its source, stages the physical file set with the
// engine adapter, executes, and translates failures into the closed error
// taxonomy.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/curlake/curlake/internal/cache"
	"github.com/curlake/curlake/internal/discovery"
	"github.com/curlake/curlake/internal/engine"
	"github.com/curlake/curlake/internal/observability"
	"github.com/curlake/curlake/internal/queryerr"
	"github.com/curlake/curlake/internal/resolver"
	"github.com/curlake/curlake/internal/safety"
	"github.com/curlake/curlake/internal/source"
)

// Options shape one query request.
type Options struct {
	// ForceRemote bypasses the local cache regardless of preference.
	ForceRemote bool
	// RowLimit caps returned rows; zero means the config's MaxRows.
	RowLimit int
	// Deadline bounds the whole query; zero means no extra deadline. It
	// dominates any inner timeout.
	Deadline time.Duration
}

// Metadata describes how a query was served.
type Metadata struct {
	DataSource      resolver.Backing
	Rows            int
	ExecutionTimeMs int64
	Engine          string
	Description     string
}

// Result is a successful query response.
type Result struct {
	Frame    engine.Frame
	Metadata Metadata
}

// Dispatcher routes queries for one data-source config through one engine
// adapter. The adapter is not assumed thread-safe; a mutex serializes all
// adapter access, so a Dispatcher is safe for concurrent callers.
type Dispatcher struct {
	Config  source.Config
	Adapter engine.Adapter
	Lister  *discovery.Lister
	Logger  *slog.Logger
	// Diagnostics keeps the raw engine text on returned errors.
	Diagnostics bool

	mu sync.Mutex
}

// Query executes target and returns the result frame with metadata, or a
// *queryerr.Error.
func (d *Dispatcher) Query(ctx context.Context, target string, opts Options) (Result, error) {
	start := time.Now()
	result, err := d.query(ctx, target, opts)
	if err != nil {
		typed := d.classify(ctx, err)
		observability.ObserveQuery("unresolved", string(typed.Kind), time.Since(start))
		if d.Logger != nil {
			d.Logger.Warn("query failed",
				slog.String("kind", string(typed.Kind)),
				slog.String("message", typed.Message),
			)
		}
		return Result{}, typed
	}
	observability.ObserveQuery(string(result.Metadata.DataSource), "ok", time.Since(start))
	return result, nil
}

func (d *Dispatcher) query(ctx context.Context, target string, opts Options) (Result, error) {
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	rowLimit := opts.RowLimit
	if rowLimit == 0 {
		rowLimit = d.Config.MaxRows
	}

	resolution, err := resolver.Resolve(d.Config, target, opts.ForceRemote)
	if err != nil {
		return Result{}, err
	}

	sqlText := resolution.SQL
	tableName := d.Config.TableName
	if resolution.Kind == resolver.KindDirectFile {
		tableName = directTableName(resolution.FilePath)
		sqlText = fmt.Sprintf("SELECT * FROM %q", tableName)
	}

	// Safety applies uniformly, including the SQL synthesized for
	// direct-file targets.
	limits := safety.Limits{MaxQueryLen: d.Config.MaxQueryLen, MaxRows: d.Config.MaxRows}
	if err := safety.Validate(sqlText, rowLimit, limits); err != nil {
		return Result{}, err
	}

	files, err := d.fileSet(ctx, resolution)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, d.noDataError(ctx, resolution.Backing)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.Adapter.RegisterTable(ctx, tableName, files); err != nil {
		return Result{}, err
	}

	executed := time.Now()
	frame, err := d.Adapter.Execute(ctx, sqlText, rowLimit)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Frame: frame,
		Metadata: Metadata{
			DataSource:      resolution.Backing,
			Rows:            len(frame.Rows),
			ExecutionTimeMs: time.Since(executed).Milliseconds(),
			Engine:          d.Adapter.Name(),
			Description:     resolution.Description,
		},
	}, nil
}

// fileSet resolves the physical files backing the query. The set handed to
// the engine is exactly what the active discovery layer returned for the
// configured window.
func (d *Dispatcher) fileSet(ctx context.Context, resolution resolver.Resolution) ([]source.FileRef, error) {
	switch resolution.Backing {
	case resolver.BackingDirectFile:
		return []source.FileRef{{
			LocalPath: resolution.FilePath,
			Format:    source.FormatForName(resolution.FilePath),
		}}, nil
	case resolver.BackingLocal:
		return cache.ListFiles(d.Config)
	default:
		files, _, err := d.Lister.List(ctx, d.Config)
		return files, err
	}
}

// noDataError builds the NotFound error. For remote backing the hint lists
// every partition found under the prefix; the list is not narrowed to
// partitions near the window. Local backing gets no partition hint.
func (d *Dispatcher) noDataError(ctx context.Context, backing resolver.Backing) error {
	hint := queryerr.Context{}
	if backing == resolver.BackingRemote && d.Lister != nil {
		if partitions, _, err := d.Lister.Partitions(ctx, d.Config); err == nil {
			for _, partition := range partitions {
				hint.Partitions = append(hint.Partitions, partition.Value)
			}
		}
	}
	message := "no data files found for the configured window"
	typed := queryerr.New(queryerr.KindNotFound, message)
	if len(hint.Partitions) > 0 {
		typed.Suggestions = append(typed.Suggestions,
			"available partitions: "+strings.Join(hint.Partitions, ", "))
	}
	return typed
}

func (d *Dispatcher) classify(ctx context.Context, err error) *queryerr.Error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.As(err, new(*queryerr.Error)) {
		return queryerr.New(queryerr.KindCancelled, "query was cancelled before completion")
	}
	known := []string{d.Config.TableName}
	if lister, ok := d.Adapter.(interface{ Tables() []string }); ok {
		known = append(known, lister.Tables()...)
	}
	typed := queryerr.Classify(err, queryerr.Context{KnownTables: dedupe(known)})
	if !d.Diagnostics {
		typed.Original = ""
	}
	return typed
}

func directTableName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, value := range values {
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}
