package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/curlake/curlake/internal/awsauth"
	"github.com/curlake/curlake/internal/config"
	"github.com/curlake/curlake/internal/discovery"
	"github.com/curlake/curlake/internal/dispatcher"
	"github.com/curlake/curlake/internal/engine/duckdb"
	"github.com/curlake/curlake/internal/materializer"
	"github.com/curlake/curlake/internal/observability"
)

func main() {
	flag.Parse()

	cfg, err := config.LoadFromEnv("curlake-materialize")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(observability.LoggerConfig{
		ServiceName: cfg.Service.Name,
		Level:       cfg.Observability.LogLevel,
		JSON:        cfg.Observability.LogJSON,
	}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var manifest materializer.Manifest
	switch {
	case cfg.Materializer.ManifestPath != "":
		manifest, err = materializer.LoadManifest(cfg.Materializer.ManifestPath)
	case cfg.Materializer.ViewsDir != "":
		manifest, err = materializer.DiscoverManifest(cfg.Materializer.ViewsDir, cfg.Source.TableName)
	default:
		logger.Error("set CURLAKE_VIEW_MANIFEST or CURLAKE_VIEWS_DIR")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("failed to load view manifest", slog.Any("error", err))
		os.Exit(1)
	}

	provider := &awsauth.Provider{
		EndpointOverride: cfg.S3EndpointOverride,
		UsePathStyle:     cfg.S3UsePathStyle,
		Logger:           logger,
	}
	client, err := provider.S3Client(ctx, cfg.Source.Credentials, cfg.Source.Region)
	if err != nil {
		logger.Error("failed to build object-store client", slog.Any("error", err))
		os.Exit(1)
	}
	storageCreds, err := provider.StorageCredentials(ctx, cfg.Source.Credentials, cfg.Source.Region)
	if err != nil {
		logger.Error("failed to resolve storage credentials", slog.Any("error", err))
		os.Exit(1)
	}

	// The run gets its own adapter; its view registrations vanish when
	// the adapter closes.
	adapter := duckdb.NewRemote(cfg.Source.Bucket, duckdb.S3Settings{
		Region:          cfg.Source.Region,
		AccessKeyID:     storageCreds.AccessKeyID,
		SecretAccessKey: storageCreds.SecretAccessKey,
		SessionToken:    storageCreds.SessionToken,
		Endpoint:        cfg.S3EndpointOverride,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	defer func() { _ = adapter.Close() }()

	runner := &materializer.Runner{
		Dispatcher: &dispatcher.Dispatcher{
			Config:  cfg.Source,
			Adapter: adapter,
			Lister:  &discovery.Lister{Client: client, Logger: logger},
			Logger:  logger,
		},
		OutputRoot:  cfg.Materializer.OutputRoot,
		Logger:      logger,
		Parallelism: cfg.Materializer.Parallelism,
		Deadline:    cfg.Materializer.ViewDeadline,
	}

	report, err := runner.Run(ctx, manifest)
	fmt.Printf("produced=%d\tfailed=%d\tskipped=%d\n",
		len(report.Produced), len(report.Failed), len(report.Skipped))
	for _, name := range report.Produced {
		fmt.Println("produced:", name)
	}
	for _, failure := range report.Failed {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", failure.Name, failure.Err)
	}
	for _, name := range report.Skipped {
		fmt.Fprintln(os.Stderr, "skipped:", name)
	}
	if err != nil {
		logger.Error("materializer run failed", slog.Any("error", err))
		os.Exit(1)
	}
}
