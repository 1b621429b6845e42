// Package archive uploads closed capture files to object storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	cfg "github.com/tamzrod/opcua-capture/internal/config"
	"github.com/tamzrod/opcua-capture/internal/metrics"
)

// Uploader stores one local file under key.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Build creates the uploader for the configured kind. Returns nil when the
// archive is disabled.
func Build(ctx context.Context, a cfg.ArchiveConfig) (Uploader, error) {
	switch a.Kind {
	case "":
		return nil, nil
	case "s3":
		return NewS3(ctx, S3Config{
			Bucket:   a.Bucket,
			Region:   a.Region,
			Endpoint: a.Endpoint,
		})
	case "azblob":
		return NewAzureBlob(AzureBlobConfig{
			AccountName: a.AccountName,
			AccountKey:  a.AccountKey,
			Container:   a.Container,
		})
	default:
		return nil, fmt.Errorf("archive: unsupported kind %q", a.Kind)
	}
}

// Worker uploads files handed to Enqueue on a single goroutine.
type Worker struct {
	up      Uploader
	prefix  string
	log     zerolog.Logger
	metrics *metrics.Metrics

	attempts int
	backoff  time.Duration

	ch     chan string
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

// NewWorker creates a worker with capacity pending uploads.
func NewWorker(up Uploader, prefix string, log zerolog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		up:       up,
		prefix:   prefix,
		log:      log.With().Str("component", "archive").Logger(),
		metrics:  m,
		attempts: 5,
		backoff:  time.Second,
		ch:       make(chan string, 64),
		done:     make(chan struct{}),
		cancel:   func() {},
	}
}

// Start runs the upload loop until Stop. Uploads use a child of ctx that
// Stop cancels when its own deadline passes.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go func() {
		defer close(w.done)
		for p := range w.ch {
			if ctx.Err() != nil {
				w.log.Warn().Str("path", p).Msg("archive stopped, file kept locally only")
				continue
			}
			w.upload(ctx, p)
		}
	}()
}

// Enqueue schedules path for upload. Never blocks the caller: when the
// backlog is full the file stays on disk and a warning is logged.
func (w *Worker) Enqueue(p string) {
	select {
	case w.ch <- p:
	default:
		w.log.Warn().Str("path", p).Msg("archive backlog full, file kept locally only")
	}
}

// Stop lets pending uploads finish until ctx ends. After that the upload in
// progress is cancelled, the remaining files stay on disk only, and Stop
// returns ctx.Err(). Stop must follow Start.
func (w *Worker) Stop(ctx context.Context) error {
	w.once.Do(func() { close(w.ch) })

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		return fmt.Errorf("archive: stop: %w", ctx.Err())
	}
}

// Key returns the object key for a local file.
func (w *Worker) Key(localPath string) string {
	return path.Join(w.prefix, filepath.Base(localPath))
}

func (w *Worker) upload(ctx context.Context, p string) {
	key := w.Key(p)
	delay := w.backoff

	for attempt := 1; attempt <= w.attempts; attempt++ {
		err := w.up.Upload(ctx, p, key)
		if err == nil {
			w.metrics.RecordArchive(true)
			w.log.Info().Str("path", p).Str("key", key).Msg("archived")
			return
		}
		w.metrics.RecordArchive(false)
		w.log.Warn().Err(err).Str("path", p).Int("attempt", attempt).Msg("archive upload failed")

		if attempt == w.attempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay *= 2
	}

	w.log.Error().Str("path", p).Msg("archive gave up, file kept locally")
}
