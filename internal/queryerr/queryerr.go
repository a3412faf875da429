// Package queryerr defines the closed error taxonomy surfaced by the query
// dispatcher and the classifier that maps raw engine and transport errors
// into it. Classification is a pure function over the raw error text; the
// engine is a black box and its message is never promoted to the primary
// message shown to callers.
package queryerr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Kind enumerates the closed taxonomy.
type Kind string

const (
	KindInvalidQuery    Kind = "InvalidQuery"
	KindUnknownColumn   Kind = "UnknownColumn"
	KindUnknownTable    Kind = "UnknownTable"
	KindSyntaxError     Kind = "SyntaxError"
	KindAccessDenied    Kind = "AccessDenied"
	KindNotFound        Kind = "NotFound"
	KindTransient       Kind = "Transient"
	KindConflict        Kind = "Conflict"
	KindCancelled       Kind = "Cancelled"
	KindInvalidManifest Kind = "InvalidManifest"
	KindInternal        Kind = "Internal"
)

// Error is the typed error returned by the data plane. Original carries the
// raw engine text for diagnostics only; callers decide whether to expose it.
type Error struct {
	Kind          Kind
	Message       string
	Suggestions   []string
	Original      string
	CorrelationID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a typed error without an underlying raw error.
func New(kind Kind, message string, suggestions ...string) *Error {
	return &Error{Kind: kind, Message: message, Suggestions: suggestions}
}

// KindOf extracts the Kind from any error, defaulting to Internal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// Context gives the classifier the vocabulary for suggestions.
type Context struct {
	// KnownTables are the logical names registered with the engine.
	KnownTables []string
	// Partitions are the partition values visible near the requested
	// window, used for NotFound hints.
	Partitions []string
}

var (
	columnNotFoundPattern = regexp.MustCompile(`(?i)(?:column|referenced column)\s+"?([A-Za-z0-9_.]+)"?\s+not found`)
	candidatePattern      = regexp.MustCompile(`(?i)candidate(?:s| bindings)?\s*:?\s*(.+)`)
	candidateNamePattern  = regexp.MustCompile(`"([^"]+)"|([A-Za-z0-9_.]+)`)
	tableNotFoundPattern  = regexp.MustCompile(`(?i)table(?: with name)?\s+"?([A-Za-z0-9_.]+)"?\s+(?:does not exist|not found)`)
	syntaxPosPattern      = regexp.MustCompile(`(?i)(?:at or near|near|LINE \d+:?|position)\s*"?([^"!\n]*)"?`)
	retryAfterPattern     = regexp.MustCompile(`(?i)retry[- ]after[:= ]+(\d+)`)
)

// The pattern table, checked in order. Centralized here on purpose: the
// engine and transport are black boxes and text matching is the contract.
var classifiers = []struct {
	kind    Kind
	matches func(string) bool
}{
	{KindCancelled, containsAny("context canceled", "context deadline exceeded", "operation was canceled", "query interrupted")},
	{KindAccessDenied, containsAny(
		"access denied", "accessdenied", "invalidaccesskeyid", "signaturedoesnotmatch",
		"expiredtoken", "expired token", "invalidclienttokenid", "403 forbidden",
		"could not load credentials", "no credential providers", "failed to refresh cached credentials",
		"not authorized", "httpfs authentication",
	)},
	{KindUnknownColumn, func(raw string) bool { return columnNotFoundPattern.MatchString(raw) }},
	{KindUnknownTable, func(raw string) bool { return tableNotFoundPattern.MatchString(raw) }},
	{KindSyntaxError, containsAny("parser error", "syntax error", "parse error")},
	{KindNotFound, containsAny(
		"nosuchkey", "nosuchbucket", "no such file", "404 not found", "statuscode: 404",
		"no files found", "object not found", "no data files",
	)},
	{KindTransient, containsAny(
		"slowdown", "slow down", "timeout", "timed out", "connection reset",
		"connection refused", "broken pipe", "statuscode: 503", "statuscode: 500",
		"serviceunavailable", "requesttimeout", "toomanyrequests", "throttl",
		"temporarily unavailable", "eof",
	)},
}

func containsAny(needles ...string) func(string) bool {
	return func(raw string) bool {
		for _, needle := range needles {
			if strings.Contains(raw, needle) {
				return true
			}
		}
		return false
	}
}

// Classify maps a raw error into the taxonomy. It is deterministic: the same
// raw text always yields the same kind, message, and suggestions. The
// correlation id on Internal errors is the only non-deterministic field and
// exists purely for log correlation.
func Classify(raw error, ctx Context) *Error {
	if raw == nil {
		return nil
	}
	var typed *Error
	if errors.As(raw, &typed) {
		return typed
	}

	text := raw.Error()
	lowered := strings.ToLower(text)

	for _, entry := range classifiers {
		if !entry.matches(lowered) {
			continue
		}
		return build(entry.kind, text, ctx)
	}

	return &Error{
		Kind:          KindInternal,
		Message:       "query failed for an unexpected reason",
		Suggestions:   []string{"retry the query; if the failure persists, report the correlation id"},
		Original:      text,
		CorrelationID: uuid.NewString(),
	}
}

func build(kind Kind, raw string, ctx Context) *Error {
	switch kind {
	case KindCancelled:
		return &Error{Kind: kind, Message: "query was cancelled before completion", Original: raw}
	case KindAccessDenied:
		return &Error{
			Kind:    kind,
			Message: "access to the data source was denied",
			Suggestions: []string{
				"check the credential resolution order: static keys, session token, profile, role assumption, ambient environment",
				"a synced local cache avoids remote credentials entirely (prefer_local)",
			},
			Original: raw,
		}
	case KindUnknownColumn:
		column := ""
		if match := columnNotFoundPattern.FindStringSubmatch(raw); match != nil {
			column = match[1]
		}
		suggestions := candidateColumns(raw)
		message := "column not found"
		if column != "" {
			message = fmt.Sprintf("column %q not found", column)
		}
		suggestions = append(suggestions, "list the table's columns with SELECT * ... LIMIT 0")
		return &Error{Kind: kind, Message: message, Suggestions: suggestions, Original: raw}
	case KindUnknownTable:
		table := ""
		if match := tableNotFoundPattern.FindStringSubmatch(raw); match != nil {
			table = match[1]
		}
		message := "table not found"
		if table != "" {
			message = fmt.Sprintf("table %q not found", table)
		}
		var suggestions []string
		if len(ctx.KnownTables) > 0 {
			suggestions = append(suggestions, "known tables: "+strings.Join(ctx.KnownTables, ", "))
		}
		return &Error{Kind: kind, Message: message, Suggestions: suggestions, Original: raw}
	case KindSyntaxError:
		var suggestions []string
		if match := syntaxPosPattern.FindStringSubmatch(raw); match != nil && strings.TrimSpace(match[1]) != "" {
			suggestions = append(suggestions, "near: "+strings.TrimSpace(match[1]))
		}
		return &Error{Kind: kind, Message: "the query could not be parsed", Suggestions: suggestions, Original: raw}
	case KindNotFound:
		var suggestions []string
		if len(ctx.Partitions) > 0 {
			suggestions = append(suggestions, "partitions near the requested window: "+strings.Join(ctx.Partitions, ", "))
		}
		return &Error{Kind: kind, Message: "requested data was not found", Suggestions: suggestions, Original: raw}
	case KindTransient:
		suggestions := []string{"the failure is retryable"}
		if match := retryAfterPattern.FindStringSubmatch(raw); match != nil {
			suggestions = append(suggestions, "retry after "+match[1]+"s")
		}
		return &Error{Kind: kind, Message: "a transient transport error occurred", Suggestions: suggestions, Original: raw}
	default:
		return &Error{Kind: kind, Message: string(kind), Original: raw}
	}
}

// candidateColumns parses candidate names the engine proposes, e.g.
// `Candidate bindings: "col_x", "col_y"`.
func candidateColumns(raw string) []string {
	match := candidatePattern.FindStringSubmatch(raw)
	if match == nil {
		return nil
	}
	segment := match[1]
	if cut := strings.IndexAny(segment, "!\n"); cut >= 0 {
		segment = segment[:cut]
	}
	var names []string
	for _, m := range candidateNamePattern.FindAllStringSubmatch(segment, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
