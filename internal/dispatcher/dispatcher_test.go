package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/parquet-go/parquet-go"

	"github.com/curlake/curlake/internal/discovery"
	"github.com/curlake/curlake/internal/engine"
	"github.com/curlake/curlake/internal/engine/duckdb"
	"github.com/curlake/curlake/internal/export"
	"github.com/curlake/curlake/internal/queryerr"
	"github.com/curlake/curlake/internal/resolver"
	"github.com/curlake/curlake/internal/source"
)

type usageRow struct {
	Account string  `parquet:"account"`
	Cost    float64 `parquet:"cost"`
}

func writeParquetFile(t *testing.T, path string, rows []usageRow) {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[usageRow](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func testConfig(t *testing.T) source.Config {
	t.Helper()
	cfg := source.Config{
		Bucket:     "billing-exports",
		Prefix:     "cur2/data",
		ExportType: export.TypeCUR2,
		TableName:  "CUR",
		DateStart:  "2025-06",
		DateEnd:    "2025-07",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

// emptyLister serves a store with no objects at all.
type emptyLister struct{}

func (emptyLister) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}, nil
}

func TestQueryPrefersCompleteLocalCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocalRoot = t.TempDir()
	cfg.PreferLocal = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	writeParquetFile(t,
		filepath.Join(cfg.LocalRoot, cfg.Bucket, "cur2", "data", "BILLING_PERIOD=2025-06", "part-0.parquet"),
		[]usageRow{{Account: "111", Cost: 10}, {Account: "222", Cost: 5}},
	)

	adapter := duckdb.New()
	defer func() { _ = adapter.Close() }()

	// Lister is nil: a remote listing would panic, which is the point.
	disp := &Dispatcher{Config: cfg, Adapter: adapter}

	result, err := disp.Query(context.Background(), "SELECT COUNT(*) FROM CUR", Options{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Metadata.DataSource != resolver.BackingLocal {
		t.Fatalf("data source = %s, want local", result.Metadata.DataSource)
	}
	if result.Frame.Rows[0][0] != int64(2) {
		t.Fatalf("count = %#v", result.Frame.Rows[0][0])
	}
	if result.Metadata.Engine != "duckdb" {
		t.Fatalf("engine = %q", result.Metadata.Engine)
	}
}

func TestQueryDirectFile(t *testing.T) {
	cfg := testConfig(t)
	reportPath := filepath.Join(t.TempDir(), "july.parquet")
	writeParquetFile(t, reportPath, []usageRow{{Account: "111", Cost: 10}})

	adapter := duckdb.New()
	defer func() { _ = adapter.Close() }()
	disp := &Dispatcher{Config: cfg, Adapter: adapter}

	result, err := disp.Query(context.Background(), reportPath, Options{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Metadata.DataSource != resolver.BackingDirectFile {
		t.Fatalf("data source = %s, want direct-file", result.Metadata.DataSource)
	}
	if result.Metadata.Rows != 1 {
		t.Fatalf("rows = %d", result.Metadata.Rows)
	}
}

// recordingAdapter fails the test if the dispatcher reaches the engine.
type recordingAdapter struct {
	registered bool
	executed   bool
	executeErr error
}

func (r *recordingAdapter) RegisterTable(context.Context, string, []source.FileRef) error {
	r.registered = true
	return nil
}
func (r *recordingAdapter) RegisterFile(context.Context, string, source.FileRef) error {
	r.registered = true
	return nil
}
func (r *recordingAdapter) Execute(context.Context, string, int) (engine.Frame, error) {
	r.executed = true
	return engine.Frame{}, r.executeErr
}
func (r *recordingAdapter) WriteParquet(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (r *recordingAdapter) Supports(engine.Feature) bool { return true }
func (r *recordingAdapter) Name() string                 { return "recording" }
func (r *recordingAdapter) Close() error                 { return nil }

func TestQueryRejectsWriteBeforeTouchingAdapter(t *testing.T) {
	adapter := &recordingAdapter{}
	disp := &Dispatcher{Config: testConfig(t), Adapter: adapter}

	_, err := disp.Query(context.Background(), "DELETE FROM CUR", Options{})
	if queryerr.KindOf(err) != queryerr.KindInvalidQuery {
		t.Fatalf("Query() error = %v, want InvalidQuery", err)
	}
	var typed *queryerr.Error
	if !errors.As(err, &typed) {
		t.Fatalf("error is not typed: %v", err)
	}
	suggestion := strings.Join(typed.Suggestions, " ")
	if !strings.Contains(suggestion, "only read statements are admitted") {
		t.Fatalf("suggestions = %v", typed.Suggestions)
	}
	if adapter.registered || adapter.executed {
		t.Fatalf("adapter was touched for a rejected query")
	}
}

func TestQueryClassifiesColumnTypo(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocalRoot = t.TempDir()
	cfg.PreferLocal = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	writeParquetFile(t,
		filepath.Join(cfg.LocalRoot, cfg.Bucket, "cur2", "data", "BILLING_PERIOD=2025-06", "part-0.parquet"),
		[]usageRow{{Account: "111", Cost: 10}},
	)

	adapter := &recordingAdapter{
		executeErr: errors.New(`Binder Error: Referenced column "colx" not found in FROM clause! Candidate bindings: "col_x", "col_y"`),
	}
	disp := &Dispatcher{Config: cfg, Adapter: adapter, Diagnostics: true}

	_, err := disp.Query(context.Background(), "SELECT colx FROM CUR", Options{})
	var typed *queryerr.Error
	if !errors.As(err, &typed) {
		t.Fatalf("error is not typed: %v", err)
	}
	if typed.Kind != queryerr.KindUnknownColumn {
		t.Fatalf("kind = %s", typed.Kind)
	}
	if typed.Suggestions[0] != "col_x" || typed.Suggestions[1] != "col_y" {
		t.Fatalf("suggestions = %v", typed.Suggestions)
	}
	if typed.Original == "" {
		t.Fatalf("original dropped in diagnostics mode")
	}

	// Without diagnostics mode the raw engine text is withheld.
	disp.Diagnostics = false
	_, err = disp.Query(context.Background(), "SELECT colx FROM CUR", Options{})
	if !errors.As(err, &typed) {
		t.Fatalf("error is not typed: %v", err)
	}
	if typed.Original != "" {
		t.Fatalf("original leaked without diagnostics mode")
	}
}

func TestQueryCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocalRoot = t.TempDir()
	cfg.PreferLocal = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	writeParquetFile(t,
		filepath.Join(cfg.LocalRoot, cfg.Bucket, "cur2", "data", "BILLING_PERIOD=2025-06", "part-0.parquet"),
		[]usageRow{{Account: "111", Cost: 10}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := duckdb.New()
	defer func() { _ = adapter.Close() }()
	disp := &Dispatcher{Config: cfg, Adapter: adapter}

	_, err := disp.Query(ctx, "SELECT COUNT(*) FROM CUR", Options{Deadline: time.Second})
	if queryerr.KindOf(err) != queryerr.KindCancelled {
		t.Fatalf("Query() error = %v, want Cancelled", err)
	}
}

func TestQueryNoDataIsNotFound(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocalRoot = t.TempDir()
	cfg.PreferLocal = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	// The cache is empty, so the resolver falls back to remote, which has
	// nothing either.
	disp := &Dispatcher{
		Config:  cfg,
		Adapter: &recordingAdapter{},
		Lister:  &discovery.Lister{Client: emptyLister{}},
	}

	_, err := disp.Query(context.Background(), "SELECT COUNT(*) FROM CUR", Options{})
	if queryerr.KindOf(err) != queryerr.KindNotFound {
		t.Fatalf("Query() error = %v, want NotFound", err)
	}
}

func TestOutputFormats(t *testing.T) {
	frame := engine.Frame{
		Columns: []string{"account", "cost"},
		Rows:    [][]any{{"111", 10.5}, {"222", nil}},
	}

	data, err := JSONRows(frame)
	if err != nil {
		t.Fatalf("JSONRows() error = %v", err)
	}
	if !strings.Contains(string(data), `"account":"111"`) {
		t.Fatalf("json = %s", data)
	}

	text, err := CSVText(frame)
	if err != nil {
		t.Fatalf("CSVText() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 3 || lines[0] != "account,cost" {
		t.Fatalf("csv = %q", text)
	}

	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Fatalf("ParseOutputFormat() accepted yaml")
	}
	format, err := ParseOutputFormat("")
	if err != nil || format != FormatFrame {
		t.Fatalf("default format = %v, %v", format, err)
	}
}
