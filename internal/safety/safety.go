// Package safety admits or rejects SQL before it reaches an engine. A query
// is admissible iff it is a single read-only statement within the configured
// length cap and the requested row limit is inside the allowed range.
package safety

import (
	"fmt"
	"strings"

	"github.com/curlake/curlake/internal/queryerr"
)

// Limits are the caps taken from the data-source config.
type Limits struct {
	MaxQueryLen int
	MaxRows     int
}

// forbidden statement-leading or embedded tokens. Matching is on word
// boundaries of the normalized text, not substrings, so column names like
// "update_time" pass.
var forbiddenTokens = map[string]string{
	"insert":   "data-manipulation",
	"update":   "data-manipulation",
	"delete":   "data-manipulation",
	"merge":    "data-manipulation",
	"truncate": "data-manipulation",
	"create":   "data-definition",
	"alter":    "data-definition",
	"drop":     "data-definition",
	"grant":    "grant/revoke",
	"revoke":   "grant/revoke",
	"attach":   "session-changing",
	"detach":   "session-changing",
	"set":      "session-changing",
	"install":  "session-changing",
	"load":     "session-changing",
	"copy":     "data-manipulation",
	"export":   "data-manipulation",
	"call":     "session-changing",
	"pragma":   "session-changing",
	"vacuum":   "session-changing",
}

// Validate checks sql and rowLimit against the limits. Violations are
// returned as InvalidQuery naming the specific rule.
func Validate(sql string, rowLimit int, limits Limits) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return queryerr.New(queryerr.KindInvalidQuery, "query is empty")
	}
	if limits.MaxQueryLen > 0 && len(trimmed) > limits.MaxQueryLen {
		return queryerr.New(queryerr.KindInvalidQuery,
			fmt.Sprintf("query length %d exceeds the cap of %d", len(trimmed), limits.MaxQueryLen))
	}
	if limits.MaxRows > 0 && (rowLimit < 1 || rowLimit > limits.MaxRows) {
		return queryerr.New(queryerr.KindInvalidQuery,
			fmt.Sprintf("row limit %d is outside [1, %d]", rowLimit, limits.MaxRows))
	}

	statements := splitStatements(trimmed)
	if len(statements) != 1 {
		return queryerr.New(queryerr.KindInvalidQuery,
			fmt.Sprintf("exactly one statement is required, got %d", len(statements)),
			"submit a single SELECT or WITH statement")
	}
	statement := statements[0]

	words := tokenize(statement)
	if len(words) == 0 {
		return queryerr.New(queryerr.KindInvalidQuery, "query is empty")
	}
	if first := words[0]; first != "select" && first != "with" {
		return queryerr.New(queryerr.KindInvalidQuery,
			fmt.Sprintf("statement must start with SELECT or WITH, got %q", strings.ToUpper(first)),
			"only read statements are admitted")
	}
	for _, word := range words {
		if class, bad := forbiddenTokens[word]; bad {
			return queryerr.New(queryerr.KindInvalidQuery,
				fmt.Sprintf("%s token %q is not admitted", class, strings.ToUpper(word)),
				"only read statements are admitted")
		}
	}
	return nil
}

// splitStatements splits on semicolons outside of quotes. A trailing empty
// segment (terminal semicolon) is dropped.
func splitStatements(sql string) []string {
	var (
		statements []string
		current    strings.Builder
		inSingle   bool
		inDouble   bool
	)
	for _, r := range sql {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == ';' && !inSingle && !inDouble:
			if segment := strings.TrimSpace(current.String()); segment != "" {
				statements = append(statements, segment)
			}
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if segment := strings.TrimSpace(current.String()); segment != "" {
		statements = append(statements, segment)
	}
	return statements
}

// tokenize lowercases the statement and splits it into bare words, with
// quoted literals and identifiers blanked so their contents are not
// mistaken for keywords.
func tokenize(sql string) []string {
	var (
		out      []string
		current  strings.Builder
		inSingle bool
		inDouble bool
	)
	flush := func() {
		if current.Len() > 0 {
			out = append(out, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	for _, r := range sql {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			flush()
		case r == '"' && !inSingle:
			inDouble = !inDouble
			flush()
		case inSingle || inDouble:
			// skip quoted content
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
