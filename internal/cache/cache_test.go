package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/curlake/curlake/internal/export"
	"github.com/curlake/curlake/internal/queryerr"
	"github.com/curlake/curlake/internal/source"
)

func testConfig(t *testing.T) source.Config {
	t.Helper()
	cfg := source.Config{
		Bucket:     "billing-exports",
		Prefix:     "cur2/data",
		ExportType: export.TypeCUR2,
		LocalRoot:  t.TempDir(),
		DateStart:  "2025-05",
		DateEnd:    "2025-07",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func writeCached(t *testing.T, cfg source.Config, partition, name string, size int) {
	t.Helper()
	dir := filepath.Join(Root(cfg), partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestRootMirrorsRemoteLayout(t *testing.T) {
	cfg := testConfig(t)
	want := filepath.Join(cfg.LocalRoot, "billing-exports", "cur2", "data")
	if got := Root(cfg); got != want {
		t.Fatalf("Root() = %q, want %q", got, want)
	}
}

func TestPathForMirrorsKeySuffix(t *testing.T) {
	cfg := testConfig(t)
	ref := source.FileRef{Key: "cur2/data/BILLING_PERIOD=2025-07/part-0.parquet"}
	want := filepath.Join(cfg.LocalRoot, "billing-exports", "cur2", "data", "BILLING_PERIOD=2025-07", "part-0.parquet")
	if got := PathFor(cfg, ref); got != want {
		t.Fatalf("PathFor() = %q, want %q", got, want)
	}
}

func TestIsUsableRequiresPartitionInWindow(t *testing.T) {
	cfg := testConfig(t)
	if IsUsable(cfg) {
		t.Fatalf("empty cache reported usable")
	}
	writeCached(t, cfg, "BILLING_PERIOD=2025-03", "part-0.parquet", 10)
	if IsUsable(cfg) {
		t.Fatalf("cache with out-of-window partition reported usable")
	}
	writeCached(t, cfg, "BILLING_PERIOD=2025-06", "part-0.parquet", 10)
	if !IsUsable(cfg) {
		t.Fatalf("cache with in-window partition reported unusable")
	}
}

func TestListFilesOrdersAndFilters(t *testing.T) {
	cfg := testConfig(t)
	writeCached(t, cfg, "BILLING_PERIOD=2025-06", "b.parquet", 10)
	writeCached(t, cfg, "BILLING_PERIOD=2025-06", "a.parquet", 10)
	writeCached(t, cfg, "BILLING_PERIOD=2025-05", "z.parquet", 10)
	writeCached(t, cfg, "BILLING_PERIOD=2025-03", "old.parquet", 10)
	writeCached(t, cfg, "BILLING_PERIOD=2025-06", "ignored.json", 10)
	writeCached(t, cfg, "BILLING_PERIOD=2025-06", "partial.parquet"+TempSuffix, 10)

	files, err := ListFiles(cfg)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	var names []string
	for _, ref := range files {
		names = append(names, filepath.Base(ref.LocalPath))
	}
	want := []string{"z.parquet", "a.parquet", "b.parquet"}
	if len(names) != len(want) {
		t.Fatalf("ListFiles() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ListFiles() = %v, want %v", names, want)
		}
	}
	for _, ref := range files {
		if ref.LocalPath == "" || ref.Key == "" {
			t.Fatalf("file ref missing path or key: %+v", ref)
		}
	}
}

func TestStatusCompleteness(t *testing.T) {
	cfg := testConfig(t)
	writeCached(t, cfg, "BILLING_PERIOD=2025-06", "a.parquet", 10)
	writeCached(t, cfg, "BILLING_PERIOD=2025-06", "b.parquet", 20)

	partition, err := export.TypeCUR2.ParseValue("2025-06")
	if err != nil {
		t.Fatalf("ParseValue() error = %v", err)
	}

	// Without a sync marker the partition cannot be judged complete.
	statuses, err := Status(cfg)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 1 || statuses[0].Complete {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].FileCount != 2 || statuses[0].TotalBytes != 30 {
		t.Fatalf("statuses = %+v", statuses)
	}

	if err := WriteSyncMarker(cfg, partition, map[string]int64{"a.parquet": 10, "b.parquet": 20}); err != nil {
		t.Fatalf("WriteSyncMarker() error = %v", err)
	}
	statuses, err = Status(cfg)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !statuses[0].Complete {
		t.Fatalf("partition with matching marker not complete: %+v", statuses[0])
	}

	// A size mismatch or a missing file breaks completeness.
	if err := WriteSyncMarker(cfg, partition, map[string]int64{"a.parquet": 10, "b.parquet": 20, "c.parquet": 5}); err != nil {
		t.Fatalf("WriteSyncMarker() error = %v", err)
	}
	statuses, err = Status(cfg)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if statuses[0].Complete {
		t.Fatalf("partition missing a marker file reported complete")
	}
}

func TestAcquireLockConflicts(t *testing.T) {
	root := t.TempDir()
	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer func() { _ = lock.Release() }()

	_, err = AcquireLock(root)
	if err == nil {
		t.Fatalf("second AcquireLock() succeeded")
	}
	var typed *queryerr.Error
	if !errors.As(err, &typed) || typed.Kind != queryerr.KindConflict {
		t.Fatalf("second AcquireLock() error = %v, want Conflict", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	relocked, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	_ = relocked.Release()
}
