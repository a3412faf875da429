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
	"github.com/curlake/curlake/internal/cache"
	"github.com/curlake/curlake/internal/config"
	"github.com/curlake/curlake/internal/discovery"
	"github.com/curlake/curlake/internal/observability"
	"github.com/curlake/curlake/internal/transfer"
)

func main() {
	estimateOnly := flag.Bool("estimate", false, "report size of the window without transferring")
	statusOnly := flag.Bool("status", false, "report cache status and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv("curlake-sync")
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

	if *statusOnly {
		statuses, err := cache.Status(cfg.Source)
		if err != nil {
			logger.Error("failed to read cache status", slog.Any("error", err))
			os.Exit(1)
		}
		for _, status := range statuses {
			fmt.Printf("%s\tfiles=%d\tbytes=%d\tcomplete=%t\n",
				status.Partition.DirName(), status.FileCount, status.TotalBytes, status.Complete)
		}
		return
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

	syncer := &transfer.Syncer{
		Lister: &discovery.Lister{Client: client, Logger: logger},
		Client: client,
		Logger: logger,
	}

	if *estimateOnly {
		estimate, err := syncer.EstimateSync(ctx, cfg.Source)
		if err != nil {
			logger.Error("estimate failed", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("files=%d\tbytes=%d\n", estimate.Files, estimate.TotalBytes)
		return
	}

	report, err := syncer.Sync(ctx, cfg.Source, transfer.Options{
		Workers:    cfg.Transfer.Workers,
		Overwrite:  cfg.Transfer.Overwrite,
		MaxRetries: cfg.Transfer.MaxRetries,
		RetryBase:  cfg.Transfer.RetryBase,
	})
	if err != nil {
		logger.Error("sync failed", slog.Any("error", err))
		os.Exit(1)
	}

	transfer.SortFailures(&report)
	fmt.Printf("transferred=%d\tskipped=%d\tfailed=%d\tbytes=%d\n",
		report.Transferred, report.Skipped, len(report.Failed), report.TotalBytes)
	for _, failure := range report.Failed {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", failure.Key, failure.Err)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}
