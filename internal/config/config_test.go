package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/curlake/curlake/internal/export"
)

func lookupFrom(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load("curlake-query", lookupFrom(map[string]string{
		"CURLAKE_S3_BUCKET":     "billing-exports",
		"CURLAKE_S3_PREFIX":     "cur2/data",
		"CURLAKE_EXPORT_TYPE":   "FOCUS1.0",
		"CURLAKE_DATE_START":    "2025-05",
		"CURLAKE_DATE_END":      "2025-07",
		"CURLAKE_LOG_LEVEL":     "debug",
		"CURLAKE_LOG_JSON":      "false",
		"CURLAKE_SYNC_WORKERS":  "9",
		"CURLAKE_VIEW_DEADLINE": "30s",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "curlake-query" {
		t.Fatalf("service name = %q", cfg.Service.Name)
	}
	if cfg.Source.ExportType != export.TypeFocus {
		t.Fatalf("export type = %q", cfg.Source.ExportType)
	}
	if cfg.Source.TableName != export.DefaultTableName {
		t.Fatalf("table name = %q", cfg.Source.TableName)
	}
	if cfg.Transfer.Workers != 9 {
		t.Fatalf("workers = %d", cfg.Transfer.Workers)
	}
	if cfg.Materializer.ViewDeadline != 30*time.Second {
		t.Fatalf("view deadline = %v", cfg.Materializer.ViewDeadline)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug || cfg.Observability.LogJSON {
		t.Fatalf("observability = %+v", cfg.Observability)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	base := map[string]string{
		"CURLAKE_S3_BUCKET": "billing-exports",
		"CURLAKE_S3_PREFIX": "cur2/data",
	}

	bad := map[string]string{
		"CURLAKE_EXPORT_TYPE":  "CSV",
		"CURLAKE_SYNC_WORKERS": "many",
		"CURLAKE_LOG_LEVEL":    "loud",
		"CURLAKE_PREFER_LOCAL": "maybe",
		"CURLAKE_DATE_START":   "2025-07-01",
	}
	for key, value := range bad {
		values := map[string]string{}
		for k, v := range base {
			values[k] = v
		}
		values[key] = value
		if _, err := Load("curlake-query", lookupFrom(values)); err == nil {
			t.Fatalf("Load() admitted %s=%q", key, value)
		}
	}
}

func TestLoadRequiresBucketAndPrefix(t *testing.T) {
	if _, err := Load("curlake-query", lookupFrom(map[string]string{})); err == nil {
		t.Fatalf("Load() succeeded without a bucket")
	}
}
