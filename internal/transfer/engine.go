// Package transfer streams media from its source into the object store
// through a bounded-lifetime local buffer.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"wp2s3/internal/extract"
	"wp2s3/internal/media"
	"wp2s3/internal/progress"
	"wp2s3/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// metadataValueLimit caps metadata values; S3 user metadata has size limits.
const metadataValueLimit = 1000

// Observer receives byte progress while a transfer is in flight.
type Observer interface {
	SetTotal(bytes int64)
	AddBytes(bytes int64)
}

// Engine performs download-then-upload transfers. It never buffers a full
// payload in memory: the download leg streams into a uniquely named
// temporary file and the upload leg streams that file to the store. The
// temporary file is removed on every exit path.
type Engine struct {
	fetcher  media.Fetcher
	store    storage.Client
	bucket   string
	tempDir  string
	observer Observer
	logger   *zap.Logger
}

// NewEngine creates a transfer engine. tempDir may be empty to use the
// system default; observer may be nil.
func NewEngine(fetcher media.Fetcher, store storage.Client, bucket, tempDir string, observer Observer, logger *zap.Logger) *Engine {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Engine{
		fetcher:  fetcher,
		store:    store,
		bucket:   bucket,
		tempDir:  tempDir,
		observer: observer,
		logger:   logger,
	}
}

// Transfer streams the media identified by ref to the store under targetKey,
// attaching metadata to the stored object. On failure it returns a
// *DownloadError or *UploadError carrying the underlying cause. Zero-byte
// media transfers as an empty object. Ledger and status bookkeeping belong
// to the caller.
func (e *Engine) Transfer(ctx context.Context, ref extract.Reference, targetKey string, metadata map[string]string) (storage.ObjectLocation, error) {
	start := time.Now()

	tmpPath := filepath.Join(e.tempDir, "wp2s3-"+uuid.NewString()+".mp4")
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Could not remove temporary file",
				zap.String("path", tmpPath),
				zap.Error(err),
			)
		}
	}()

	size, err := e.download(ctx, ref, tmpPath)
	if err != nil {
		return storage.ObjectLocation{}, &DownloadError{MediaURL: ref.WatchURL, Cause: err}
	}

	e.logger.Info("Downloaded media",
		zap.String("media_url", ref.WatchURL),
		zap.String("size", progress.FormatBytes(size)),
	)

	if err := e.upload(ctx, tmpPath, targetKey, size, metadata); err != nil {
		return storage.ObjectLocation{}, &UploadError{Key: targetKey, Cause: err}
	}

	loc := storage.ObjectLocation{Bucket: e.bucket, Key: targetKey}
	e.logger.Info("Transfer completed",
		zap.String("location", loc.String()),
		zap.Duration("duration", time.Since(start)),
	)

	return loc, nil
}

// download streams the media into the file at tmpPath and returns the byte
// count written.
func (e *Engine) download(ctx context.Context, ref extract.Reference, tmpPath string) (int64, error) {
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer f.Close()

	body, total, err := e.fetcher.Open(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if e.observer != nil {
		e.observer.SetTotal(total)
	}

	var w io.Writer = f
	if e.observer != nil {
		w = &countingWriter{w: f, observer: e.observer}
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return 0, fmt.Errorf("failed to stream media: %w", err)
	}

	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to flush temporary file: %w", err)
	}

	return n, nil
}

// upload reopens the completed temporary file and streams it to the store.
func (e *Engine) upload(ctx context.Context, tmpPath, targetKey string, size int64, metadata map[string]string) error {
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to reopen temporary file: %w", err)
	}
	defer f.Close()

	opts := storage.PutOptions{
		ContentType: "video/mp4",
		Metadata:    sanitizeMetadata(metadata),
	}

	return e.store.PutObject(ctx, e.bucket, targetKey, f, size, opts)
}

// sanitizeMetadata strips non-ASCII characters and caps value lengths so
// the values are acceptable as S3 user metadata.
func sanitizeMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}

	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		clean := make([]byte, 0, len(v))
		for i := 0; i < len(v); i++ {
			if v[i] < 0x80 {
				clean = append(clean, v[i])
			}
		}
		if len(clean) > metadataValueLimit {
			clean = clean[:metadataValueLimit]
		}
		out[k] = string(clean)
	}
	return out
}

type countingWriter struct {
	w        io.Writer
	observer Observer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.observer.AddBytes(int64(n))
	}
	return n, err
}
