package source

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/curlake/curlake/internal/export"
)

func TestValidateNormalizes(t *testing.T) {
	cfg := Config{
		Bucket:     " billing-exports ",
		Prefix:     "/cur2/data/",
		ExportType: export.TypeCUR2,
		LocalRoot:  "cache",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Bucket != "billing-exports" {
		t.Fatalf("bucket = %q", cfg.Bucket)
	}
	if cfg.Prefix != "cur2/data" {
		t.Fatalf("prefix = %q", cfg.Prefix)
	}
	if cfg.TableName != export.DefaultTableName {
		t.Fatalf("table name = %q", cfg.TableName)
	}
	if !filepath.IsAbs(cfg.LocalRoot) {
		t.Fatalf("local root not absolute: %q", cfg.LocalRoot)
	}
	if cfg.MaxRows != DefaultMaxRows || cfg.MaxQueryLen != DefaultMaxQueryLen {
		t.Fatalf("caps not defaulted: %d, %d", cfg.MaxRows, cfg.MaxQueryLen)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cfg := Config{Prefix: "p", ExportType: export.TypeCUR2}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing bucket admitted")
	}

	cfg = Config{Bucket: "b", ExportType: export.TypeCUR2}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing prefix admitted")
	}

	cfg = Config{Bucket: "b", Prefix: "p", ExportType: "CSV"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown export type admitted")
	}

	cfg = Config{Bucket: "b", Prefix: "p", ExportType: export.TypeCUR2, DateStart: "2025-07-01"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "date_start") {
		t.Fatalf("daily bound admitted for monthly export: %v", err)
	}
}

func TestFileRefLocation(t *testing.T) {
	ref := FileRef{Key: "cur2/data/BILLING_PERIOD=2025-07/part-0.parquet"}
	if ref.Location() != ref.Key {
		t.Fatalf("Location() = %q", ref.Location())
	}
	if got := ref.RemoteURI("billing-exports"); got != "s3://billing-exports/cur2/data/BILLING_PERIOD=2025-07/part-0.parquet" {
		t.Fatalf("RemoteURI() = %q", got)
	}

	ref.LocalPath = "/cache/part-0.parquet"
	if ref.Location() != "/cache/part-0.parquet" {
		t.Fatalf("Location() = %q", ref.Location())
	}
}

func TestFormatForName(t *testing.T) {
	if FormatForName("a.parquet") != FormatParquet {
		t.Fatalf("parquet not detected")
	}
	if FormatForName("a.csv.gz") != FormatGzip {
		t.Fatalf("gzip not detected")
	}
}
