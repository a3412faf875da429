package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curlake/curlake/internal/awsauth"
	"github.com/curlake/curlake/internal/config"
	"github.com/curlake/curlake/internal/discovery"
	"github.com/curlake/curlake/internal/dispatcher"
	"github.com/curlake/curlake/internal/engine/duckdb"
	"github.com/curlake/curlake/internal/observability"
	"github.com/curlake/curlake/internal/queryerr"
)

func main() {
	forceRemote := flag.Bool("force-remote", false, "bypass the local cache")
	rowLimit := flag.Int("limit", 0, "row limit (default: configured max)")
	format := flag.String("format", "frame", "output format: frame, json, csv")
	deadline := flag.Duration("deadline", 5*time.Minute, "overall query deadline")
	diagnostics := flag.Bool("diagnostics", false, "include the raw engine error in failures")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: curlake-query [flags] <sql | stored.sql | file.parquet>")
		os.Exit(2)
	}
	target := flag.Arg(0)

	cfg, err := config.LoadFromEnv("curlake-query")
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

	outputFormat, err := dispatcher.ParseOutputFormat(*format)
	if err != nil {
		logger.Error("invalid output format", slog.Any("error", err))
		os.Exit(2)
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
	adapter := duckdb.NewRemote(cfg.Source.Bucket, duckdb.S3Settings{
		Region:          cfg.Source.Region,
		AccessKeyID:     storageCreds.AccessKeyID,
		SecretAccessKey: storageCreds.SecretAccessKey,
		SessionToken:    storageCreds.SessionToken,
		Endpoint:        cfg.S3EndpointOverride,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	defer func() { _ = adapter.Close() }()

	disp := &dispatcher.Dispatcher{
		Config:      cfg.Source,
		Adapter:     adapter,
		Lister:      &discovery.Lister{Client: client, Logger: logger},
		Logger:      logger,
		Diagnostics: *diagnostics,
	}

	result, err := disp.Query(ctx, target, dispatcher.Options{
		ForceRemote: *forceRemote,
		RowLimit:    *rowLimit,
		Deadline:    *deadline,
	})
	if err != nil {
		printError(err, *diagnostics)
		os.Exit(1)
	}

	logger.Info("query finished",
		slog.String("data_source", string(result.Metadata.DataSource)),
		slog.Int("rows", result.Metadata.Rows),
		slog.Int64("execution_ms", result.Metadata.ExecutionTimeMs),
		slog.String("engine", result.Metadata.Engine),
	)

	switch outputFormat {
	case dispatcher.FormatJSON:
		data, err := dispatcher.JSONRows(result.Frame)
		if err != nil {
			logger.Error("failed to encode result", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(string(data))
	case dispatcher.FormatCSV:
		text, err := dispatcher.CSVText(result.Frame)
		if err != nil {
			logger.Error("failed to encode result", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Print(text)
	default:
		printFrame(result)
	}
}

func printFrame(result dispatcher.Result) {
	for i, column := range result.Frame.Columns {
		if i > 0 {
			fmt.Print("\t")
		}
		fmt.Print(column)
	}
	fmt.Println()
	for _, row := range result.Frame.Rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Print("\t")
			}
			fmt.Print(cell)
		}
		fmt.Println()
	}
}

func printError(err error, diagnostics bool) {
	var typed *queryerr.Error
	if !errors.As(err, &typed) {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	fmt.Fprintf(os.Stderr, "error [%s]: %s\n", typed.Kind, typed.Message)
	for _, suggestion := range typed.Suggestions {
		fmt.Fprintln(os.Stderr, "  hint:", suggestion)
	}
	if diagnostics && typed.Original != "" {
		fmt.Fprintln(os.Stderr, "  original:", typed.Original)
	}
}
