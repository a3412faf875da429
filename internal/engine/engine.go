// Package engine defines the capability contract the dispatcher consumes.
// Engine-specific behavior lives exclusively in adapter packages; multiple
// adapters may coexist and the dispatcher selects by configuration and by
// the features an adapter reports.
package engine

import (
	"context"

	"github.com/curlake/curlake/internal/source"
)

// Feature names an optional adapter capability.
type Feature string

const (
	FeatureWindowFunctions  Feature = "window_functions"
	FeatureCTEs             Feature = "ctes"
	FeatureReadRemoteDirect Feature = "read_remote_directly"
	FeatureWriteParquet     Feature = "write_parquet"
)

// Frame is an ordered, named sequence of columns with typed cells. Row
// order is query-defined; without an ORDER BY it is unspecified but stable
// within one execution.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// Adapter is the uniform contract over a SQL engine. Instances are not
// assumed thread-safe; callers serialize access or pool instances. Table
// registrations live for the adapter instance and are discarded with it.
type Adapter interface {
	// RegisterTable binds a logical name to the union of rows of a file
	// set. Files within a partition are unordered.
	RegisterTable(ctx context.Context, name string, files []source.FileRef) error
	// RegisterFile binds a logical name to a single file.
	RegisterFile(ctx context.Context, name string, file source.FileRef) error
	// Execute runs sql and returns at most rowLimit rows.
	Execute(ctx context.Context, sql string, rowLimit int) (Frame, error)
	// WriteParquet runs sql and persists the full result to a parquet
	// file at path. Only valid when FeatureWriteParquet is supported.
	WriteParquet(ctx context.Context, sql string, path string) (int64, error)
	Supports(feature Feature) bool
	Name() string
	Close() error
}
