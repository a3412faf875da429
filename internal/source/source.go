// Package source holds the immutable per-engine data-source descriptor and
// the file references that flow between discovery, cache, transfer, and the
// query dispatcher.
package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/curlake/curlake/internal/export"
)

// Format is the content format of a discovered file.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatGzip    Format = "gzip"
)

// FormatForName derives the content format from an object name.
func FormatForName(name string) Format {
	if strings.HasSuffix(name, ".parquet") {
		return FormatParquet
	}
	return FormatGzip
}

// Credentials is the bundle handed to the client provider. Zero values mean
// "not set"; resolution precedence lives in the awsauth package.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	RoleARN         string
	ExternalID      string
	// Expiration is an optional RFC 3339 timestamp for temporary
	// credentials; the provider warns when it is near.
	Expiration string
}

// Config describes one data source. It is constructed once, validated, and
// never mutated for the lifetime of the engine that holds it.
type Config struct {
	Bucket     string
	Prefix     string
	ExportType export.Type
	TableName  string

	// Inclusive partition window; either bound may be empty.
	DateStart string
	DateEnd   string

	// LocalRoot enables the on-disk cache. Empty means remote-only, and
	// PreferLocal is then ignored.
	LocalRoot   string
	PreferLocal bool

	// QueryLibraryRoot is the directory stored-SQL targets resolve under.
	QueryLibraryRoot string

	Credentials Credentials
	Region      string

	// Caps enforced by the safety validator.
	MaxRows     int
	MaxQueryLen int

	// API-side data toggles. Recognized for configuration compatibility;
	// the core data plane does not consume them.
	EnablePricingAPI      bool
	EnableSavingsPlansAPI bool
}

const (
	DefaultMaxRows     = 100000
	DefaultMaxQueryLen = 65536
)

// Validate normalizes the config in place and rejects invalid combinations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "/")
	if c.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}

	if _, err := export.ParseType(string(c.ExportType)); err != nil {
		return err
	}
	if c.TableName == "" {
		c.TableName = export.DefaultTableName
	}

	if err := c.ExportType.ValidateBound(c.DateStart); err != nil {
		return fmt.Errorf("date_start: %w", err)
	}
	if err := c.ExportType.ValidateBound(c.DateEnd); err != nil {
		return fmt.Errorf("date_end: %w", err)
	}

	if c.LocalRoot != "" {
		abs, err := filepath.Abs(c.LocalRoot)
		if err != nil {
			return fmt.Errorf("resolve local root %q: %w", c.LocalRoot, err)
		}
		c.LocalRoot = abs
	}

	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.MaxQueryLen <= 0 {
		c.MaxQueryLen = DefaultMaxQueryLen
	}
	return nil
}

// FileRef points at one content file of one partition, either remotely (Key
// set) or in the local cache (LocalPath set).
type FileRef struct {
	// Key is the full object key under the bucket, including the prefix.
	Key string
	// LocalPath is the absolute cache path when the file is local.
	LocalPath string
	Partition export.Partition
	Format    Format
	// Size is the byte size when known, otherwise zero.
	Size int64
}

// Location returns whichever of LocalPath or Key identifies the file.
func (f FileRef) Location() string {
	if f.LocalPath != "" {
		return f.LocalPath
	}
	return f.Key
}

// RemoteURI renders the s3:// form of a remote reference.
func (f FileRef) RemoteURI(bucket string) string {
	return "s3://" + bucket + "/" + f.Key
}
