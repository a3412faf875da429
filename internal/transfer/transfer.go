// Package transfer streams remote export files into the local cache. Syncs
// are idempotent: files already present with the remote size are skipped,
// staged writes become visible only on rename, and a re-run with no remote
// changes transfers zero bytes.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/curlake/curlake/internal/cache"
	"github.com/curlake/curlake/internal/discovery"
	"github.com/curlake/curlake/internal/export"
	"github.com/curlake/curlake/internal/observability"
	"github.com/curlake/curlake/internal/queryerr"
	"github.com/curlake/curlake/internal/source"
)

// ObjectGetter is the slice of the S3 API transfer needs beyond listing.
type ObjectGetter interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options tune one sync run.
type Options struct {
	// Workers bounds the parallel file downloads. Zero means DefaultWorkers.
	Workers int
	// Overwrite re-downloads files even when the local size matches.
	Overwrite bool
	// MaxRetries caps the retry attempts on transient errors, per file and
	// for the remote listing.
	MaxRetries int
	// RetryBase is the initial backoff interval.
	RetryBase time.Duration
}

const (
	DefaultWorkers    = 5
	DefaultMaxRetries = 3
	DefaultRetryBase  = 500 * time.Millisecond
)

// FileFailure names one file that could not be transferred.
type FileFailure struct {
	Key string
	Err error
}

// Report enumerates the outcome of a sync run.
type Report struct {
	Transferred int
	Skipped     int
	Failed      []FileFailure
	TotalBytes  int64
	Duration    time.Duration
}

// Estimate sizes the configured window without copying anything.
type Estimate struct {
	Files      int
	TotalBytes int64
}

// Syncer mirrors remote partitions into the local cache.
type Syncer struct {
	Lister *discovery.Lister
	Client ObjectGetter
	Logger *slog.Logger
}

// Sync mirrors every file of the configured window into the local cache.
// Per-file failures are collected in the report and do not abort the run;
// an error return means the run itself could not proceed (bad config, lock
// conflict, cancelled context, or a failed listing).
func (s *Syncer) Sync(ctx context.Context, cfg source.Config, opts Options) (Report, error) {
	if cfg.LocalRoot == "" {
		return Report{}, fmt.Errorf("local root must be configured for sync")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}

	lock, err := cache.AcquireLock(cfg.LocalRoot)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = lock.Release() }()

	start := time.Now()
	reclaimTemporaries(cache.Root(cfg), s.Logger)

	// Transient listing errors get the same capped backoff as downloads.
	var remote []source.FileRef
	listPolicy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(opts.RetryBase)),
		uint64(opts.MaxRetries),
	), ctx)
	err = backoff.Retry(func() error {
		files, _, listErr := s.Lister.List(ctx, cfg)
		if listErr != nil && !isTransient(listErr) {
			return backoff.Permanent(listErr)
		}
		remote = files
		return listErr
	}, listPolicy)
	if err != nil {
		return Report{}, err
	}

	type outcome struct {
		ref         source.FileRef
		transferred bool
		bytes       int64
		err         error
	}
	outcomes := make([]outcome, len(remote))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(opts.Workers)
	for i, ref := range remote {
		group.Go(func() error {
			transferred, n, err := s.syncFile(groupCtx, cfg, ref, opts)
			outcomes[i] = outcome{ref: ref, transferred: transferred, bytes: n, err: err}
			// Individual failures never cancel the group; only context
			// cancellation stops the run early.
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, queryerr.New(queryerr.KindCancelled, "sync was cancelled")
	}

	report := Report{Duration: time.Since(start)}
	succeededByPartition := make(map[export.Partition]map[string]int64)
	failedPartitions := make(map[export.Partition]bool)
	for _, oc := range outcomes {
		if oc.err != nil {
			report.Failed = append(report.Failed, FileFailure{Key: oc.ref.Key, Err: oc.err})
			failedPartitions[oc.ref.Partition] = true
			continue
		}
		if oc.transferred {
			report.Transferred++
			report.TotalBytes += oc.bytes
		} else {
			report.Skipped++
		}
		files := succeededByPartition[oc.ref.Partition]
		if files == nil {
			files = make(map[string]int64)
			succeededByPartition[oc.ref.Partition] = files
		}
		files[filepath.Base(oc.ref.Key)] = oc.ref.Size
	}

	// A partition's marker is rewritten only when every remote file landed;
	// completeness stays per-partition.
	for partition, files := range succeededByPartition {
		if failedPartitions[partition] {
			continue
		}
		if err := cache.WriteSyncMarker(cfg, partition, files); err != nil {
			report.Failed = append(report.Failed, FileFailure{Key: partition.DirName(), Err: err})
		}
	}

	observability.ObserveSync(report.Transferred, report.Skipped, len(report.Failed), report.TotalBytes)
	if s.Logger != nil {
		s.Logger.Info("sync finished",
			slog.Int("transferred", report.Transferred),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", len(report.Failed)),
			slog.Int64("bytes", report.TotalBytes),
			slog.Duration("duration", report.Duration),
		)
	}
	return report, nil
}

// syncFile downloads one object unless it is already cached with the same
// size. Returns whether bytes moved and how many.
func (s *Syncer) syncFile(ctx context.Context, cfg source.Config, ref source.FileRef, opts Options) (bool, int64, error) {
	destination := cache.PathFor(cfg, ref)
	if !opts.Overwrite {
		if info, err := os.Stat(destination); err == nil && info.Size() == ref.Size {
			return false, 0, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return false, 0, fmt.Errorf("create partition dir: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(opts.RetryBase)),
		uint64(opts.MaxRetries),
	), ctx)

	var written int64
	operation := func() error {
		n, err := s.downloadTo(ctx, cfg, ref, destination)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		written = n
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return false, 0, err
	}
	return true, written, nil
}

func (s *Syncer) downloadTo(ctx context.Context, cfg source.Config, ref source.FileRef, destination string) (int64, error) {
	output, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", ref.Key, err)
	}
	defer func() { _ = output.Body.Close() }()

	staged := destination + cache.TempSuffix
	file, err := os.Create(staged)
	if err != nil {
		return 0, fmt.Errorf("stage file %q: %w", staged, err)
	}
	written, err := io.Copy(file, output.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(staged)
		return 0, fmt.Errorf("write staged file %q: %w", staged, err)
	}
	if ref.Size > 0 && written != ref.Size {
		_ = os.Remove(staged)
		return 0, fmt.Errorf("short download for %q: got %d bytes, want %d", ref.Key, written, ref.Size)
	}
	if err := os.Rename(staged, destination); err != nil {
		_ = os.Remove(staged)
		return 0, fmt.Errorf("publish file %q: %w", destination, err)
	}
	return written, nil
}

// EstimateSync reports how much the configured window would transfer.
func (s *Syncer) EstimateSync(ctx context.Context, cfg source.Config) (Estimate, error) {
	remote, _, err := s.Lister.List(ctx, cfg)
	if err != nil {
		return Estimate{}, err
	}
	estimate := Estimate{Files: len(remote)}
	for _, ref := range remote {
		estimate.TotalBytes += ref.Size
	}
	return estimate, nil
}

// reclaimTemporaries removes staged leftovers from interrupted runs. Runs
// under the advisory lock, so nothing else is writing.
func reclaimTemporaries(root string, logger *slog.Logger) {
	removed := 0
	_ = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if strings.HasSuffix(entry.Name(), cache.TempSuffix) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 && logger != nil {
		logger.Info("reclaimed stale temporaries", slog.Int("count", removed))
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return queryerr.Classify(err, queryerr.Context{}).Kind == queryerr.KindTransient
}

// SortFailures orders a report's failures by key for stable output.
func SortFailures(report *Report) {
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Key < report.Failed[j].Key })
}
