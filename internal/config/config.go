// Package config loads process configuration from the environment. The
// per-source descriptor it produces is handed to the data plane once and
// never mutated.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curlake/curlake/internal/export"
	"github.com/curlake/curlake/internal/source"
)

type LookupFunc func(string) (string, bool)

// Config is the full process configuration for the curlake binaries.
type Config struct {
	Service       ServiceConfig
	Source        source.Config
	Transfer      TransferConfig
	Materializer  MaterializerConfig
	Observability ObservabilityConfig
	// S3EndpointOverride points clients at an S3-compatible store.
	S3EndpointOverride string
	S3UsePathStyle     bool
}

type ServiceConfig struct {
	Name string
}

type TransferConfig struct {
	Workers    int
	Overwrite  bool
	MaxRetries int
	RetryBase  time.Duration
}

type MaterializerConfig struct {
	ViewsDir     string
	ManifestPath string
	OutputRoot   string
	Parallelism  int
	ViewDeadline time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := defaults(serviceName)

	if err := applyString(lookup, "CURLAKE_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_S3_BUCKET", &cfg.Source.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_S3_PREFIX", &cfg.Source.Prefix); err != nil {
		return Config{}, err
	}
	exportType := string(cfg.Source.ExportType)
	if err := applyString(lookup, "CURLAKE_EXPORT_TYPE", &exportType); err != nil {
		return Config{}, err
	}
	parsedType, err := export.ParseType(exportType)
	if err != nil {
		return Config{}, err
	}
	cfg.Source.ExportType = parsedType
	if err := applyString(lookup, "CURLAKE_TABLE_NAME", &cfg.Source.TableName); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_DATE_START", &cfg.Source.DateStart); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_DATE_END", &cfg.Source.DateEnd); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_LOCAL_ROOT", &cfg.Source.LocalRoot); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "CURLAKE_PREFER_LOCAL", &cfg.Source.PreferLocal); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_QUERY_LIBRARY", &cfg.Source.QueryLibraryRoot); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_REGION", &cfg.Source.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_ACCESS_KEY_ID", &cfg.Source.Credentials.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_SECRET_ACCESS_KEY", &cfg.Source.Credentials.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_SESSION_TOKEN", &cfg.Source.Credentials.SessionToken); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_PROFILE", &cfg.Source.Credentials.Profile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_ROLE_ARN", &cfg.Source.Credentials.RoleARN); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_EXTERNAL_ID", &cfg.Source.Credentials.ExternalID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_AWS_EXPIRATION", &cfg.Source.Credentials.Expiration); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CURLAKE_MAX_ROWS", &cfg.Source.MaxRows); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CURLAKE_MAX_QUERY_LEN", &cfg.Source.MaxQueryLen); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_S3_ENDPOINT", &cfg.S3EndpointOverride); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "CURLAKE_S3_PATH_STYLE", &cfg.S3UsePathStyle); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CURLAKE_SYNC_WORKERS", &cfg.Transfer.Workers); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "CURLAKE_SYNC_OVERWRITE", &cfg.Transfer.Overwrite); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CURLAKE_SYNC_MAX_RETRIES", &cfg.Transfer.MaxRetries); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "CURLAKE_SYNC_RETRY_BASE", &cfg.Transfer.RetryBase); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_VIEWS_DIR", &cfg.Materializer.ViewsDir); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_VIEW_MANIFEST", &cfg.Materializer.ManifestPath); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CURLAKE_VIEW_OUTPUT", &cfg.Materializer.OutputRoot); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CURLAKE_VIEW_PARALLELISM", &cfg.Materializer.Parallelism); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "CURLAKE_VIEW_DEADLINE", &cfg.Materializer.ViewDeadline); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "CURLAKE_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "CURLAKE_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if err := cfg.Source.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults(serviceName string) Config {
	return Config{
		Service: ServiceConfig{Name: serviceName},
		Source: source.Config{
			ExportType: export.TypeCUR2,
		},
		Transfer: TransferConfig{
			Workers:    5,
			MaxRetries: 3,
			RetryBase:  500 * time.Millisecond,
		},
		Materializer: MaterializerConfig{
			OutputRoot:   "cur2_view",
			ViewDeadline: 10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelInfo,
			LogJSON:  true,
		},
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
