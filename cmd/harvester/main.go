// Package main runs a report harvest: read the workbook, fetch every report,
// and write the metadata workbook.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-harvester/internal/acquirer"
	"github.com/JakeFAU/report-harvester/internal/config"
	"github.com/JakeFAU/report-harvester/internal/fetcher/direct"
	"github.com/JakeFAU/report-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/report-harvester/internal/harvest"
	"github.com/JakeFAU/report-harvester/internal/id/uuid"
	"github.com/JakeFAU/report-harvester/internal/logging"
	"github.com/JakeFAU/report-harvester/internal/metrics"
	"github.com/JakeFAU/report-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/report-harvester/internal/runreport"
	"github.com/JakeFAU/report-harvester/internal/scheduler"
	"github.com/JakeFAU/report-harvester/internal/sheet"
	"github.com/JakeFAU/report-harvester/internal/telemetry"
	"github.com/JakeFAU/report-harvester/internal/validator"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("harvester", pflag.ExitOnError)
	config.Flags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	logger := logging.ForRun(baseLogger, runID, cfg.Input.Path)
	if startedAt, err := uuid.StartedAt(runID); err == nil {
		logger.Info("run started", zap.Time("started_at", startedAt), zap.String("version", version))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.Init(ctx, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()
	ctx, end := tracing.StartRun(ctx, runID, cfg.Input.Path)
	defer end()

	return harvestBatch(ctx, cfg, runID, logger)
}

// harvestBatch runs one configured harvest. Errors returned are setup
// failures; per-record failures only show up in the logs and the metadata.
func harvestBatch(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) error {
	table, batch, err := sheet.Read(cfg.Input.Path, sheet.Columns{
		Index:    cfg.Input.IndexColumn,
		Direct:   cfg.Input.DirectColumn,
		Fallback: cfg.Input.FallbackColumn,
	}, cfg.Input.Limit)
	if err != nil {
		return err
	}
	if len(table.Unsafe) > 0 {
		logger.Warn("record ids that are not plain file names skipped", zap.Strings("record_ids", table.Unsafe))
	}
	if len(table.Duplicates) > 0 {
		logger.Warn("duplicate record ids skipped", zap.Strings("record_ids", table.Duplicates))
	}
	logger.Info("batch loaded", zap.Int("records", len(batch)))

	recorder := metrics.NewRecorder()
	pdfValidator := validator.New(logger)

	var converter harvest.Converter
	if cfg.Headless.Enabled {
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:     cfg.Headless.MaxParallel,
			UserAgent:       cfg.HTTP.UserAgent,
			Timeout:         cfg.Headless.Timeout,
			PrintBackground: true,
			ExecPath:        cfg.Headless.ExecPath,
			NoSandbox:       cfg.Headless.NoSandbox,
		})
		if err != nil {
			return fmt.Errorf("init headless converter: %w", err)
		}
		defer chrome.Close()
		converter = chrome
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.HTTP.PerHostRPS,
		Burst:      cfg.HTTP.PerHostBurst,
		OnDelay:    recorder.ObserveThrottle,
	})
	downloader := &countingDownloader{
		next: ratelimit.Wrap(direct.New(direct.Config{
			Timeout:   cfg.HTTP.Timeout,
			ChunkSize: cfg.HTTP.ChunkSize,
			UserAgent: cfg.HTTP.UserAgent,
		}), limiter),
		recorder: recorder,
	}
	acq := acquirer.New(downloader, converter, pdfValidator, recorder, logger)

	sched, err := scheduler.New(acq, scheduler.Config{
		Mode:      scheduler.Mode(cfg.Scheduler.Mode),
		Workers:   cfg.Scheduler.Workers,
		OutputDir: cfg.Output.DownloadDir,
	}, recorder, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	outputs, err := openSinks(ctx, cfg, runID, logger)
	if err != nil {
		return err
	}
	defer outputs.Close()

	stream, err := sched.Stream(ctx, batch)
	if err != nil {
		return err
	}
	logger.Info("harvest started",
		zap.String("mode", cfg.Scheduler.Mode),
		zap.Int("workers", sched.Workers()),
		zap.Bool("fallback", converter != nil),
	)
	results := make([]harvest.Result, 0, len(batch))
	for res := range stream {
		results = append(results, res)
		outputs.Handle(ctx, res)
	}

	// Every worker has returned once the stream closes.
	ids := batch.IDs()
	statuses := runreport.FromDirectory(ids, cfg.Output.DownloadDir, pdfValidator)
	reconcile(logger, statuses, runreport.FromResults(ids, results))

	table.SetColumn(runreport.Column, runreport.Labels(statuses), runreport.No)
	metadataPath := sheet.MetadataPath(cfg.Output.MetadataDir, cfg.Input.Path)
	if err := sheet.Write(metadataPath, table); err != nil {
		return err
	}

	summary := runreport.Summarize(results)
	logger.Info("harvest finished",
		zap.Int("total", summary.Total),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("not_downloaded", summary.NotDownloaded),
		zap.Int("direct", summary.Direct),
		zap.Int("fallback", summary.Fallback),
		zap.Int("crashed", summary.Crashed),
		zap.String("metadata", metadataPath),
	)

	outputs.Upload(ctx, ids, metadataPath)

	if cfg.Metrics.Textfile != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics textfile not written", zap.Error(err))
		}
	}
	return ctx.Err()
}

// reconcile logs records whose on-disk status disagrees with the outcome
// reported by the pipeline.
func reconcile(logger *zap.Logger, disk, reported []runreport.Status) {
	for i := range disk {
		if disk[i].Downloaded != reported[i].Downloaded {
			logger.Warn("status differs from reported outcome",
				zap.String("record_id", disk[i].RecordID),
				zap.Bool("on_disk", disk[i].Downloaded),
				zap.Bool("reported", reported[i].Downloaded),
			)
		}
	}
}
