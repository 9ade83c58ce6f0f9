package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-harvester/internal/config"
	"github.com/JakeFAU/report-harvester/internal/harvest"
	"github.com/JakeFAU/report-harvester/internal/hash/sha256"
	"github.com/JakeFAU/report-harvester/internal/metrics"
	publisher "github.com/JakeFAU/report-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/report-harvester/internal/storage/gcs"
	"github.com/JakeFAU/report-harvester/internal/storage/postgres"
)

const sinkTimeout = 30 * time.Second

// countingDownloader feeds direct-stage byte counts into the recorder.
type countingDownloader struct {
	next     harvest.Downloader
	recorder *metrics.Recorder
}

func (d *countingDownloader) Download(ctx context.Context, rawURL, path string) (int64, error) {
	n, err := d.next.Download(ctx, rawURL, path)
	d.recorder.ObserveDownload(rawURL, n)
	return n, err
}

// sinks holds the optional outputs enabled by configuration. A nil field is
// a disabled sink.
type sinks struct {
	runID       string
	downloadDir string
	logger      *zap.Logger
	ledger      *postgres.Ledger
	psClient    *pubsub.Client
	publisher   *publisher.Publisher
	gcsClient   *storage.Client
	uploader    *gcs.Uploader
}

func openSinks(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) (*sinks, error) {
	s := &sinks{runID: runID, downloadDir: cfg.Output.DownloadDir, logger: logger}

	if cfg.Postgres.DSN != "" {
		ledger, err := postgres.NewLedger(ctx, postgres.LedgerConfig{DSN: cfg.Postgres.DSN, Table: cfg.Postgres.Table})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("init outcome ledger: %w", err)
		}
		s.ledger = ledger
		if err := ledger.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		s.psClient = client
		s.publisher = publisher.New(client.Topic(cfg.PubSub.Topic))
	}

	if cfg.GCS.Bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		s.gcsClient = client
		uploader, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix}, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("init uploader: %w", err)
		}
		s.uploader = uploader
	}
	return s, nil
}

// Handle records one result in the ledger and announces it. Sink failures
// are logged and never change the record's outcome.
func (s *sinks) Handle(ctx context.Context, res harvest.Result) {
	if s.ledger == nil && s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	digest := s.digest(res)
	now := time.Now()
	if s.ledger != nil {
		entry := postgres.Entry{RunID: s.runID, Result: res, SHA256: digest, At: now}
		if err := s.ledger.Record(ctx, entry); err != nil {
			s.logger.Warn("outcome not recorded", zap.String("record_id", res.RecordID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, publisher.NewEvent(s.runID, res, digest, now)); err != nil {
			s.logger.Warn("outcome not published", zap.String("record_id", res.RecordID), zap.Error(err))
		}
	}
}

func (s *sinks) digest(res harvest.Result) string {
	if !res.Outcome.Succeeded() {
		return ""
	}
	path := harvest.Record{ID: res.RecordID}.PathIn(s.downloadDir)
	sum, err := sha256.File(path)
	if err != nil {
		s.logger.Warn("report not hashed", zap.String("record_id", res.RecordID), zap.Error(err))
		return ""
	}
	return sum
}

// Upload mirrors downloaded reports and the metadata workbook to GCS.
func (s *sinks) Upload(ctx context.Context, ids []string, metadataPath string) {
	if s.uploader == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	n, err := s.uploader.UploadReports(ctx, s.downloadDir, ids)
	if err != nil {
		s.logger.Warn("some reports were not uploaded", zap.Error(err))
	}
	uri, err := s.uploader.UploadFile(ctx, metadataPath, "metadata", gcs.ContentTypeXLSX)
	if err != nil {
		s.logger.Warn("metadata not uploaded", zap.Error(err))
		return
	}
	s.logger.Info("outputs uploaded", zap.Int("reports", n), zap.String("metadata", uri))
}

// Close releases every open client.
func (s *sinks) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.psClient != nil {
		if err := s.psClient.Close(); err != nil {
			s.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if s.gcsClient != nil {
		if err := s.gcsClient.Close(); err != nil {
			s.logger.Warn("storage client close failed", zap.Error(err))
		}
	}
	s.ledger.Close()
}
