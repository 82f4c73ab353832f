// Package download implements the model downloader: a streaming fetch
// with progress reporting, cooperative cancellation, retry with
// exponential backoff, checksum verification, and a commit into the cache
// under the model's final id. It deliberately stays on net/http and
// crypto/sha256 (see DESIGN.md) rather than a third-party HTTP client: a
// streaming byte-range fetch with manual retry control is exactly what
// net/http's Client/Response model is built for.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inferedge/browsercore/internal/cache"
	"github.com/inferedge/browsercore/internal/errs"
	"github.com/inferedge/browsercore/internal/log"
)

// MaxAttempts and InitialRetryDelay are the download retry tunables.
const (
	MaxAttempts       = 3
	InitialRetryDelay = 1 * time.Second
)

// Descriptor names what to fetch and how to validate it.
type Descriptor struct {
	ModelID      string
	URL          string
	SizeBytes    int64
	ChecksumHex  string // lower-case SHA-256 hex, empty if not declared
}

// Progress is one download progress update. Percentage is capped at 99
// until commit; 100 is emitted exactly once, after commit or on a cache hit.
type Progress struct {
	TotalBytes               int64
	DownloadedBytes          int64
	SpeedBytesPerSecond      float64
	EstimatedSecondsRemaining float64
	HasETA                   bool
	Percentage               int
}

// Downloader fetches models into a cache.Store.
type Downloader struct {
	client *http.Client
	store  *cache.Store
	logger *log.Logger
}

// New constructs a Downloader writing committed entries into store.
func New(store *cache.Store, client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client, store: store, logger: log.Named("download")}
}

// Download fetches d, reporting Progress via onProgress, and returns the
// full model bytes once committed to the cache. If the cache already
// holds a checksum-valid entry for d.ModelID, it is returned without a
// network call.
func (dl *Downloader) Download(ctx context.Context, d Descriptor, onProgress func(Progress)) ([]byte, error) {
	if cached, ok, err := dl.tryCacheHit(ctx, d); err != nil {
		return nil, err
	} else if ok {
		onProgress(Progress{TotalBytes: d.SizeBytes, DownloadedBytes: d.SizeBytes, Percentage: 100})
		return cached, nil
	}

	tempID := cache.TempKey(d.ModelID)
	var data []byte
	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		data, lastErr = dl.attempt(ctx, d, onProgress)
		if lastErr == nil {
			break
		}
		if errs.KindOf(lastErr) == errs.Cancelled || errs.KindOf(lastErr) == errs.Http {
			_ = dl.store.PurgeTemp(ctx)
			return nil, lastErr
		}
		if attempt == MaxAttempts {
			break
		}
		delay := InitialRetryDelay * time.Duration(1<<(attempt-1))
		dl.logger.Warn("download attempt failed, retrying",
			log.String("modelId", d.ModelID), log.Int("attempt", attempt), log.Err(lastErr))
		if err := sleepCancellable(ctx, delay); err != nil {
			_ = dl.store.PurgeTemp(ctx)
			return nil, errs.Wrap(errs.Cancelled, "retry delay cancelled", err)
		}
	}

	if lastErr != nil {
		_ = dl.store.PurgeTemp(ctx)
		return nil, errs.Wrap(errs.NetworkTransient, "download failed after retries", lastErr)
	}

	if d.ChecksumHex != "" {
		sum := sha256.Sum256(data)
		got := hex.EncodeToString(sum[:])
		if got != d.ChecksumHex {
			_ = dl.store.PurgeTemp(ctx)
			return nil, errs.New(errs.ChecksumMismatch, fmt.Sprintf("checksum mismatch for %s: want %s got %s", d.ModelID, d.ChecksumHex, got))
		}
	}

	if err := dl.store.Delete(ctx, tempID); err != nil {
		dl.logger.Warn("failed to clear temp entry before commit", log.Err(err))
	}
	if err := dl.store.Put(ctx, cache.Entry{ModelID: d.ModelID, Data: data, Timestamp: time.Now()}); err != nil {
		return nil, errs.Wrap(errs.CacheWriteFailed, "commit downloaded model", err)
	}
	if err := dl.store.PurgeTemp(ctx); err != nil {
		dl.logger.Warn("failed to purge temp keyspace after commit", log.Err(err))
	}

	onProgress(Progress{TotalBytes: d.SizeBytes, DownloadedBytes: int64(len(data)), Percentage: 100})
	return data, nil
}

func (dl *Downloader) tryCacheHit(ctx context.Context, d Descriptor) ([]byte, bool, error) {
	entry, ok, err := dl.store.Get(ctx, d.ModelID)
	if err != nil || !ok {
		return nil, false, err
	}
	if d.ChecksumHex != "" {
		sum := sha256.Sum256(entry.Data)
		if hex.EncodeToString(sum[:]) != d.ChecksumHex {
			_ = dl.store.Delete(ctx, d.ModelID)
			return nil, false, nil
		}
	}
	return entry.Data, true, nil
}

func (dl *Downloader) attempt(ctx context.Context, d Descriptor, onProgress func(Progress)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkTransient, "build download request", err)
	}

	resp, err := dl.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Cancelled, "download cancelled", ctx.Err())
		}
		return nil, errs.Wrap(errs.NetworkTransient, "download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.Http, fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, d.URL))
	}

	total := d.SizeBytes
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	tracker := newSpeedTracker()
	buf := make([]byte, 0, max64(total, 0))
	chunk := make([]byte, 32*1024)

	for {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.Cancelled, "download cancelled", err)
		}
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			speed := tracker.sample(int64(n))
			pct := 0
			if total > 0 {
				pct = int(float64(len(buf)) / float64(total) * 100)
				if pct > 99 {
					pct = 99
				}
			}
			p := Progress{TotalBytes: total, DownloadedBytes: int64(len(buf)), SpeedBytesPerSecond: speed, Percentage: pct}
			if speed > 0 && total > int64(len(buf)) {
				p.EstimatedSecondsRemaining = float64(total-int64(len(buf))) / speed
				p.HasETA = true
			}
			onProgress(p)
		}
		if readErr == io.EOF {
			return buf, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, errs.Wrap(errs.Cancelled, "download cancelled", ctx.Err())
			}
			return nil, errs.Wrap(errs.NetworkTransient, "stream read failed", readErr)
		}
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func sleepCancellable(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
