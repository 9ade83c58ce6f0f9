// Package gcs mirrors harvested reports to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Content types of the objects the uploader writes.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Config captures the destination bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader copies local files into a bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a GCS-backed uploader.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// ObjectName joins the configured prefix with the given parts.
func (u *Uploader) ObjectName(parts ...string) string {
	return path.Join(append([]string{u.prefix}, parts...)...)
}

// PutObject uploads r to object and returns a gs:// URI.
func (u *Uploader) PutObject(ctx context.Context, object, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, object), nil
}

// UploadFile copies a local file to prefix/<sub>/<base name>.
func (u *Uploader) UploadFile(ctx context.Context, localPath, sub, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return u.PutObject(ctx, u.ObjectName(sub, filepath.Base(localPath)), contentType, f)
}

// UploadReports copies <dir>/<id>.pdf for every id whose file exists. Missing
// files and ids that are not plain file names are skipped; upload errors are joined and the rest still run.
func (u *Uploader) UploadReports(ctx context.Context, dir string, ids []string) (int, error) {
	var (
		uploaded int
		errs     []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !harvest.SafeID(id) {
			continue
		}
		local := harvest.Record{ID: id}.PathIn(dir)
		if _, err := os.Stat(local); err != nil {
			continue
		}
		uri, err := u.UploadFile(ctx, local, "pdf", ContentTypePDF)
		if err != nil {
			u.logger.Warn("report upload failed", zap.String("record_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("upload %s: %w", id, err))
			continue
		}
		u.logger.Debug("report uploaded", zap.String("record_id", id), zap.String("uri", uri))
		uploaded++
	}
	return uploaded, errors.Join(errs...)
}
