package dispatcher

import (
	"context"
	"errors"

	"github.com/curlake/curlake/internal/engine"
	"github.com/curlake/curlake/internal/resolver"
	"github.com/curlake/curlake/internal/safety"
	"github.com/curlake/curlake/internal/source"
)

// ErrWriteUnsupported is returned when the configured adapter cannot
// persist results as parquet.
var ErrWriteUnsupported = errors.New("engine adapter does not support parquet output")

// ExecuteToParquet runs sqlText through the normal resolve/stage pipeline
// and persists the full, un-limited result to a parquet file at outputPath.
// The view materializer is the intended caller; failures are classified the
// same way Query classifies them.
func (d *Dispatcher) ExecuteToParquet(ctx context.Context, sqlText string, outputPath string, opts Options) (int64, error) {
	rows, err := d.executeToParquet(ctx, sqlText, outputPath, opts)
	if err != nil {
		return 0, d.classify(ctx, err)
	}
	return rows, nil
}

func (d *Dispatcher) executeToParquet(ctx context.Context, sqlText string, outputPath string, opts Options) (int64, error) {
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}
	if !d.Adapter.Supports(engine.FeatureWriteParquet) {
		return 0, ErrWriteUnsupported
	}

	limits := safety.Limits{MaxQueryLen: d.Config.MaxQueryLen, MaxRows: d.Config.MaxRows}
	if err := safety.Validate(sqlText, 1, limits); err != nil {
		return 0, err
	}

	resolution := resolver.Resolution{
		Kind:    resolver.KindSQLString,
		SQL:     sqlText,
		Backing: resolver.BackingRemote,
	}
	if !opts.ForceRemote {
		free, err := resolver.Resolve(d.Config, sqlText, false)
		if err != nil {
			return 0, err
		}
		resolution = free
	}

	files, err := d.fileSet(ctx, resolution)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, d.noDataError(ctx, resolution.Backing)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.Adapter.RegisterTable(ctx, d.Config.TableName, files); err != nil {
		return 0, err
	}
	return d.Adapter.WriteParquet(ctx, resolution.SQL, outputPath)
}

// RegisterView binds a produced view file as a logical table so later
// views can reference it. Registrations live for the adapter instance; a
// materializer run uses a dedicated adapter and discards it on completion.
func (d *Dispatcher) RegisterView(ctx context.Context, name string, file source.FileRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.Adapter.RegisterFile(ctx, name, file); err != nil {
		return d.classify(ctx, err)
	}
	return nil
}
