package materializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curlake/curlake/internal/cache"
	"github.com/curlake/curlake/internal/dispatcher"
	"github.com/curlake/curlake/internal/observability"
	"github.com/curlake/curlake/internal/queryerr"
	"github.com/curlake/curlake/internal/source"
)

// ViewFailure names one view that did not produce its output.
type ViewFailure struct {
	Name string
	Err  error
}

// Report is the outcome of one materialization run. Already-written
// outputs from earlier levels survive a failed run.
type Report struct {
	Produced []string
	Failed   []ViewFailure
	Skipped  []string
	Duration time.Duration
}

// Runner executes a manifest against one dispatcher. The dispatcher must
// own a dedicated adapter: view registrations made during the run are
// scoped to that adapter and are discarded when the caller closes it.
type Runner struct {
	Dispatcher *dispatcher.Dispatcher
	OutputRoot string
	Logger     *slog.Logger
	// Parallelism bounds concurrent views within one level. Zero means
	// the level's width.
	Parallelism int
	// Deadline bounds each view's execution.
	Deadline time.Duration
}

// Run materializes every view of the manifest in dependency order. Views
// within a level run in parallel; the run aborts at the first failing view
// and reports everything not yet produced as skipped.
func (r *Runner) Run(ctx context.Context, manifest Manifest) (Report, error) {
	start := time.Now()

	if manifest.BaseTable == "" {
		manifest.BaseTable = r.Dispatcher.Config.TableName
	}
	levels, err := manifest.Order()
	if err != nil {
		return Report{Duration: time.Since(start)}, err
	}
	if r.OutputRoot == "" {
		return Report{}, fmt.Errorf("output root is required")
	}

	// The base table may be uncached; force remote then so every view
	// reads the authoritative data. Otherwise the default preference
	// applies.
	forceRemote := !cache.IsUsable(r.Dispatcher.Config)

	report := Report{}
	var mu sync.Mutex
	aborted := false

	for levelIndex, views := range levels {
		level := levelIndex + 1
		if aborted {
			for _, view := range views {
				report.Skipped = append(report.Skipped, view.Name)
			}
			continue
		}

		group, groupCtx := errgroup.WithContext(ctx)
		if r.Parallelism > 0 {
			group.SetLimit(r.Parallelism)
		}
		for _, view := range views {
			group.Go(func() error {
				err := r.materializeView(groupCtx, view, level, forceRemote)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					report.Produced = append(report.Produced, view.Name)
					observability.ObserveMaterializedView("produced")
					return nil
				case isCancellation(err) && groupCtx.Err() != nil && ctx.Err() == nil:
					// A sibling's failure cancelled this view before it
					// finished; it never ran to completion.
					report.Skipped = append(report.Skipped, view.Name)
					observability.ObserveMaterializedView("skipped")
					return nil
				default:
					report.Failed = append(report.Failed, ViewFailure{Name: view.Name, Err: err})
					observability.ObserveMaterializedView("failed")
					return err
				}
			})
		}
		if err := group.Wait(); err != nil {
			aborted = true
		}
	}

	sort.Strings(report.Produced)
	sort.Strings(report.Skipped)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })
	report.Duration = time.Since(start)

	if len(report.Failed) > 0 {
		first := report.Failed[0]
		return report, fmt.Errorf("materialize view %q: %w", first.Name, first.Err)
	}
	if aborted {
		return report, queryerr.New(queryerr.KindCancelled, "materializer run was cancelled")
	}
	return report, nil
}

// materializeView produces one view: execute, stage, rename, register.
func (r *Runner) materializeView(ctx context.Context, view View, level int, forceRemote bool) error {
	levelDir := filepath.Join(r.OutputRoot, fmt.Sprintf("level_%d", level))
	if err := os.MkdirAll(levelDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %q: %w", levelDir, err)
	}
	outputPath := filepath.Join(levelDir, view.Name+".parquet")
	staged := outputPath + cache.TempSuffix

	rows, err := r.Dispatcher.ExecuteToParquet(ctx, view.SQL, staged, dispatcher.Options{
		ForceRemote: forceRemote,
		Deadline:    r.Deadline,
	})
	if err != nil {
		_ = os.Remove(staged)
		return err
	}
	if err := os.Rename(staged, outputPath); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("publish view output %q: %w", outputPath, err)
	}

	if err := r.Dispatcher.RegisterView(ctx, view.Name, source.FileRef{
		LocalPath: outputPath,
		Format:    source.FormatParquet,
	}); err != nil {
		return err
	}

	if r.Logger != nil {
		r.Logger.Info("view materialized",
			slog.String("view", view.Name),
			slog.Int("level", level),
			slog.Int64("rows", rows),
			slog.String("path", outputPath),
		)
	}
	return nil
}

func isCancellation(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return queryerr.KindOf(err) == queryerr.KindCancelled
}
