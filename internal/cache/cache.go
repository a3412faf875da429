// Package cache is the on-disk mirror of a data export. The layout under
// the local root mirrors the remote key space exactly:
//
//	<local_root>/<bucket>/<prefix>/<token>=<value>/<file>
//
// Writers stage under temporary names and rename, so a file visible under
// its final name is always whole. Completeness is judged per partition
// against the sync marker the transfer layer leaves behind.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/curlake/curlake/internal/export"
	"github.com/curlake/curlake/internal/source"
)

// SyncMarkerName is the hidden per-partition file recording the remote file
// set observed at the completion of the last sync.
const SyncMarkerName = ".curlake-sync.json"

// TempSuffix marks in-flight staged downloads. Anything carrying it is
// invisible to readers and reclaimed by the next sync.
const TempSuffix = ".curlake-tmp"

// SyncMarker is the serialized completeness record.
type SyncMarker struct {
	Partition string           `json:"partition"`
	Files     map[string]int64 `json:"files"`
}

// PartitionStatus summarizes one cached partition.
type PartitionStatus struct {
	Partition  export.Partition
	FileCount  int
	TotalBytes int64
	Complete   bool
}

// Root returns the cache directory mirroring the configured remote prefix.
func Root(cfg source.Config) string {
	return filepath.Join(cfg.LocalRoot, cfg.Bucket, filepath.FromSlash(cfg.Prefix))
}

// PathFor maps a remote file reference to its cache location.
func PathFor(cfg source.Config, ref source.FileRef) string {
	return filepath.Join(cfg.LocalRoot, cfg.Bucket, filepath.FromSlash(ref.Key))
}

// IsUsable reports whether the cache can back queries: the root exists and
// holds at least one partition inside the configured window.
func IsUsable(cfg source.Config) bool {
	if cfg.LocalRoot == "" {
		return false
	}
	partitions, err := listPartitionDirs(cfg)
	if err != nil {
		return false
	}
	for _, partition := range partitions {
		if cfg.ExportType.InWindow(partition.Value, cfg.DateStart, cfg.DateEnd) {
			return true
		}
	}
	return false
}

// ListFiles returns the cached content files inside the configured window,
// ordered (partition ascending, file name ascending) — the same rule remote
// discovery follows.
func ListFiles(cfg source.Config) ([]source.FileRef, error) {
	if cfg.LocalRoot == "" {
		return nil, fmt.Errorf("local root is not configured")
	}
	partitions, err := listPartitionDirs(cfg)
	if err != nil {
		return nil, err
	}

	var files []source.FileRef
	for _, partition := range partitions {
		if !cfg.ExportType.InWindow(partition.Value, cfg.DateStart, cfg.DateEnd) {
			continue
		}
		refs, err := listPartitionFiles(cfg, partition)
		if err != nil {
			return nil, err
		}
		files = append(files, refs...)
	}
	return files, nil
}

// Status reports per-partition file counts, byte totals, and completeness
// for every cached partition inside the window.
func Status(cfg source.Config) ([]PartitionStatus, error) {
	if cfg.LocalRoot == "" {
		return nil, fmt.Errorf("local root is not configured")
	}
	partitions, err := listPartitionDirs(cfg)
	if err != nil {
		return nil, err
	}

	var statuses []PartitionStatus
	for _, partition := range partitions {
		if !cfg.ExportType.InWindow(partition.Value, cfg.DateStart, cfg.DateEnd) {
			continue
		}
		refs, err := listPartitionFiles(cfg, partition)
		if err != nil {
			return nil, err
		}
		status := PartitionStatus{Partition: partition, FileCount: len(refs)}
		for _, ref := range refs {
			status.TotalBytes += ref.Size
		}
		status.Complete = isComplete(cfg, partition, refs)
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// WriteSyncMarker records the remote file set for a partition. Called by the
// transfer layer when a partition finishes syncing.
func WriteSyncMarker(cfg source.Config, partition export.Partition, files map[string]int64) error {
	dir := filepath.Join(Root(cfg), partition.DirName())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir %q: %w", dir, err)
	}
	marker := SyncMarker{Partition: partition.Value, Files: files}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sync marker: %w", err)
	}
	staged := filepath.Join(dir, SyncMarkerName+TempSuffix)
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return fmt.Errorf("stage sync marker: %w", err)
	}
	if err := os.Rename(staged, filepath.Join(dir, SyncMarkerName)); err != nil {
		return fmt.Errorf("publish sync marker: %w", err)
	}
	return nil
}

func readSyncMarker(cfg source.Config, partition export.Partition) (SyncMarker, bool) {
	data, err := os.ReadFile(filepath.Join(Root(cfg), partition.DirName(), SyncMarkerName))
	if err != nil {
		return SyncMarker{}, false
	}
	var marker SyncMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return SyncMarker{}, false
	}
	return marker, true
}

// isComplete holds when every file named by the last sync's marker is
// present with a matching size. Size equality is the integrity check; there
// is no hashing.
func isComplete(cfg source.Config, partition export.Partition, refs []source.FileRef) bool {
	marker, ok := readSyncMarker(cfg, partition)
	if !ok {
		return false
	}
	present := make(map[string]int64, len(refs))
	for _, ref := range refs {
		present[filepath.Base(ref.LocalPath)] = ref.Size
	}
	for name, size := range marker.Files {
		if present[name] != size {
			return false
		}
	}
	return true
}

func listPartitionDirs(cfg source.Config) ([]export.Partition, error) {
	root := Root(cfg)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache root %q: %w", root, err)
	}

	var partitions []export.Partition
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		partition, err := cfg.ExportType.ParseDirName(entry.Name())
		if err != nil {
			continue
		}
		partitions = append(partitions, partition)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].Before(partitions[j]) })
	return partitions, nil
}

func listPartitionFiles(cfg source.Config, partition export.Partition) ([]source.FileRef, error) {
	dir := filepath.Join(Root(cfg), partition.DirName())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition dir %q: %w", dir, err)
	}

	var refs []source.FileRef
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, TempSuffix) || name == SyncMarkerName {
			continue
		}
		if !cfg.ExportType.AcceptsFile(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat cached file %q: %w", name, err)
		}
		refs = append(refs, source.FileRef{
			Key:       cfg.Prefix + "/" + partition.DirName() + "/" + name,
			LocalPath: filepath.Join(dir, name),
			Partition: partition,
			Format:    source.FormatForName(name),
			Size:      info.Size(),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].LocalPath < refs[j].LocalPath })
	return refs, nil
}
