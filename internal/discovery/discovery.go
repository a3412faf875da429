// Package discovery lists the partitioned content files of a data export
// under its S3 prefix. The object store is the single source of truth; no
// listing is cached across calls.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/curlake/curlake/internal/export"
	"github.com/curlake/curlake/internal/source"
)

// ObjectLister is the slice of the S3 API discovery needs. *s3.Client
// satisfies it; tests provide fakes.
type ObjectLister interface {
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Diagnostics counts discovery oddities that are not errors.
type Diagnostics struct {
	// SkippedPartitions counts child directories whose name carried the
	// partition token but failed to parse as a partition value.
	SkippedPartitions int
}

// Lister discovers remote file references for a data-source config.
type Lister struct {
	Client ObjectLister
	Logger *slog.Logger
}

// List enumerates partitions under the prefix, filters them by the config's
// window, and returns the contained content files in (partition ascending,
// key ascending) order. An empty result is legal.
func (l *Lister) List(ctx context.Context, cfg source.Config) ([]source.FileRef, Diagnostics, error) {
	partitions, diag, err := l.Partitions(ctx, cfg)
	if err != nil {
		return nil, diag, err
	}

	var files []source.FileRef
	for _, partition := range partitions {
		if !cfg.ExportType.InWindow(partition.Value, cfg.DateStart, cfg.DateEnd) {
			continue
		}
		refs, err := l.listPartition(ctx, cfg, partition)
		if err != nil {
			return nil, diag, err
		}
		files = append(files, refs...)
	}
	return files, diag, nil
}

// Partitions lists every partition present under the prefix, unfiltered and
// ascending.
func (l *Lister) Partitions(ctx context.Context, cfg source.Config) ([]export.Partition, Diagnostics, error) {
	var diag Diagnostics
	token := cfg.ExportType.PartitionToken() + "="
	root := cfg.Prefix + "/"

	var partitions []export.Partition
	var continuation *string
	for {
		output, err := l.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(cfg.Bucket),
			Prefix:            aws.String(root),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, diag, fmt.Errorf("list partitions under s3://%s/%s: %w", cfg.Bucket, cfg.Prefix, err)
		}
		for _, common := range output.CommonPrefixes {
			name := path.Base(strings.TrimSuffix(aws.ToString(common.Prefix), "/"))
			if !strings.HasPrefix(name, token) {
				continue
			}
			partition, err := cfg.ExportType.ParseDirName(name)
			if err != nil {
				diag.SkippedPartitions++
				if l.Logger != nil {
					l.Logger.Debug("skipping unparseable partition", slog.String("name", name))
				}
				continue
			}
			partitions = append(partitions, partition)
		}
		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuation = output.NextContinuationToken
	}

	sort.Slice(partitions, func(i, j int) bool { return partitions[i].Before(partitions[j]) })
	return partitions, diag, nil
}

func (l *Lister) listPartition(ctx context.Context, cfg source.Config, partition export.Partition) ([]source.FileRef, error) {
	prefix := cfg.Prefix + "/" + partition.DirName() + "/"

	var refs []source.FileRef
	var continuation *string
	for {
		output, err := l.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list partition %s: %w", partition.DirName(), err)
		}
		for _, object := range output.Contents {
			key := aws.ToString(object.Key)
			size := aws.ToInt64(object.Size)
			if size == 0 || !cfg.ExportType.AcceptsFile(key) {
				continue
			}
			refs = append(refs, source.FileRef{
				Key:       key,
				Partition: partition,
				Format:    source.FormatForName(key),
				Size:      size,
			})
		}
		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuation = output.NextContinuationToken
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}
