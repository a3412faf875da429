// Package duckdb adapts an in-process DuckDB database to the engine
// contract. It is the default execution engine: exports are scanned with
// read_parquet/read_csv_auto over local paths or s3:// URIs, and view
// materialization persists through COPY ... TO (FORMAT PARQUET).
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/curlake/curlake/internal/engine"
	"github.com/curlake/curlake/internal/source"
)

// S3Settings configure httpfs access for remote scans. Zero value means the
// adapter only reads local paths.
type S3Settings struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string
	UsePathStyle    bool
}

// Adapter holds one DuckDB connection and its registrations. Not safe for
// concurrent use; the dispatcher serializes access.
type Adapter struct {
	Bucket string
	S3     S3Settings

	mu         sync.Mutex
	db         *sql.DB
	s3Prepared bool
	tables     []string
}

func New() *Adapter {
	return &Adapter{}
}

// NewRemote returns an adapter prepared to scan s3://bucket keys with the
// given settings.
func NewRemote(bucket string, s3 S3Settings) *Adapter {
	return &Adapter{Bucket: bucket, S3: s3}
}

func (a *Adapter) Name() string { return "duckdb" }

func (a *Adapter) Supports(feature engine.Feature) bool {
	switch feature {
	case engine.FeatureWindowFunctions, engine.FeatureCTEs, engine.FeatureWriteParquet:
		return true
	case engine.FeatureReadRemoteDirect:
		return true
	default:
		return false
	}
}

func (a *Adapter) conn(ctx context.Context, needsRemote bool) (*sql.DB, error) {
	if a.db == nil {
		db, err := sql.Open("duckdb", "")
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		a.db = db
	}
	if needsRemote && !a.s3Prepared {
		if err := a.prepareS3(ctx); err != nil {
			return nil, err
		}
		a.s3Prepared = true
	}
	return a.db, nil
}

func (a *Adapter) prepareS3(ctx context.Context) error {
	for _, statement := range []string{"INSTALL httpfs", "LOAD httpfs"} {
		if _, err := a.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("load httpfs extension: %w", err)
		}
	}
	settings := map[string]string{}
	if a.S3.Region != "" {
		settings["s3_region"] = a.S3.Region
	}
	if a.S3.AccessKeyID != "" {
		settings["s3_access_key_id"] = a.S3.AccessKeyID
	}
	if a.S3.SecretAccessKey != "" {
		settings["s3_secret_access_key"] = a.S3.SecretAccessKey
	}
	if a.S3.SessionToken != "" {
		settings["s3_session_token"] = a.S3.SessionToken
	}
	if a.S3.Endpoint != "" {
		settings["s3_endpoint"] = a.S3.Endpoint
	}
	if a.S3.UsePathStyle {
		settings["s3_url_style"] = "path"
	}
	for name, value := range settings {
		statement := fmt.Sprintf("SET %s=%s", name, quoteString(value))
		if _, err := a.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("configure %s: %w", name, err)
		}
	}
	return nil
}

// RegisterTable binds name to the union of rows of the file set. Parquet
// and gzipped CSV scans are unioned when a table mixes both formats.
func (a *Adapter) RegisterTable(ctx context.Context, name string, files []source.FileRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(files) == 0 {
		return fmt.Errorf("no files to register for table %q", name)
	}

	var parquetPaths, csvPaths []string
	needsRemote := false
	for _, file := range files {
		location := file.LocalPath
		if location == "" {
			location = file.RemoteURI(a.Bucket)
			needsRemote = true
		}
		if file.Format == source.FormatParquet {
			parquetPaths = append(parquetPaths, location)
		} else {
			csvPaths = append(csvPaths, location)
		}
	}

	db, err := a.conn(ctx, needsRemote)
	if err != nil {
		return err
	}

	var scans []string
	if len(parquetPaths) > 0 {
		scans = append(scans, fmt.Sprintf("SELECT * FROM read_parquet(%s)", quoteStringArray(parquetPaths)))
	}
	if len(csvPaths) > 0 {
		scans = append(scans, fmt.Sprintf("SELECT * FROM read_csv_auto(%s)", quoteStringArray(csvPaths)))
	}
	viewSQL := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", quoteIdent(name), strings.Join(scans, " UNION ALL "))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return fmt.Errorf("create view for table %q: %w", name, err)
	}
	a.rememberTable(name)
	return nil
}

func (a *Adapter) RegisterFile(ctx context.Context, name string, file source.FileRef) error {
	return a.RegisterTable(ctx, name, []source.FileRef{file})
}

// Execute runs sql and returns at most rowLimit rows. rowLimit <= 0 means
// no limit wrapping.
func (a *Adapter) Execute(ctx context.Context, sqlText string, rowLimit int) (engine.Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return engine.Frame{}, fmt.Errorf("sql is required")
	}
	if rowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, rowLimit)
	}

	db, err := a.conn(ctx, false)
	if err != nil {
		return engine.Frame{}, err
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return engine.Frame{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return engine.Frame{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return engine.Frame{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return engine.Frame{}, err
	}

	return engine.Frame{Columns: columns, Rows: resultRows}, nil
}

// WriteParquet persists the full result of sql to a parquet file at path
// and returns the row count.
func (a *Adapter) WriteParquet(ctx context.Context, sqlText string, path string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return 0, fmt.Errorf("sql is required")
	}

	db, err := a.conn(ctx, false)
	if err != nil {
		return 0, err
	}

	copySQL := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, COMPRESSION SNAPPY)", sqlText, quoteString(path))
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		return 0, err
	}

	var count int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM read_parquet(%s)", quoteString(path))
	if err := db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count written rows: %w", err)
	}
	return count, nil
}

// Tables lists the logical names registered so far, registration order.
func (a *Adapter) Tables() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.tables))
	copy(out, a.tables)
	return out
}

func (a *Adapter) rememberTable(name string) {
	for _, existing := range a.tables {
		if existing == name {
			return
		}
	}
	a.tables = append(a.tables, name)
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	a.s3Prepared = false
	return err
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

var _ engine.Adapter = (*Adapter)(nil)
