// Package download streams media files off the camera to local storage.
// A file reaches its final path only after its full content is on disk,
// and the ledger entry is appended only after that rename — partial
// downloads can never masquerade as completed ones.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
	"github.com/chrisgavin/trailbot/internal/ledger"
)

// Appender is the write side of the download ledger.
type Appender interface {
	Append(e ledger.Entry) error
}

// Options configures retry behavior.
type Options struct {
	// Retries is the number of additional full-file attempts after a
	// failed transfer. 0 means a single attempt with no retry.
	Retries     int
	BackoffBase time.Duration // first retry delay, doubled per attempt
	BackoffMax  time.Duration // retry delay cap
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Retries:     3,
		BackoffBase: time.Second,
		BackoffMax:  15 * time.Second,
	}
}

// Downloader fetches remote files over the camera's HTTP server.
type Downloader struct {
	http   *resty.Client
	ledger Appender
	opts   Options
	logger *zap.Logger
}

// NewDownloader creates a downloader against the camera at baseURL.
func NewDownloader(baseURL string, appender Appender, opts Options, logger *zap.Logger) *Downloader {
	if opts.Retries < 0 {
		opts.Retries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 15 * time.Second
	}
	return &Downloader{
		http:   resty.New().SetBaseURL(baseURL),
		ledger: appender,
		opts:   opts,
		logger: logger,
	}
}

// Fetch downloads ref into destDir and appends the ledger entry. Transfer
// errors are retried with backoff up to the configured retry count;
// size mismatches and disk errors are not retried. Temporary files from
// failed attempts are always removed.
//
// Failure kinds: TransferError, DiskError, SizeMismatch.
func (d *Downloader) Fetch(ctx context.Context, cameraIdentity string, ref camera.RemoteFileRef, destDir string) (ledger.Entry, error) {
	var none ledger.Entry

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return none, fault.Newf(fault.KindDiskError, "create destination: %w", err)
	}

	finalPath := filepath.Join(destDir, ref.LocalName())
	tmpPath := finalPath + ".tmp"

	var lastErr error
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := d.opts.BackoffBase << uint(attempt-1)
			if delay > d.opts.BackoffMax || delay <= 0 {
				delay = d.opts.BackoffMax
			}
			d.logger.Warn("retrying download",
				zap.String("remote_name", ref.RemoteName),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return none, fault.Newf(fault.KindTransferError, "download %s: %w", ref.RemoteName, ctx.Err())
			}
		}

		entry, err := d.attempt(ctx, cameraIdentity, ref, tmpPath, finalPath)
		if err == nil {
			return entry, nil
		}
		lastErr = err
		if fault.KindOf(err) != fault.KindTransferError {
			return none, err
		}
	}
	return none, lastErr
}

// attempt performs one full transfer. The temp file never survives a
// failed attempt.
func (d *Downloader) attempt(ctx context.Context, cameraIdentity string, ref camera.RemoteFileRef, tmpPath, finalPath string) (entry ledger.Entry, err error) {
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	resp, err := d.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(ref.RemotePath)
	if err != nil {
		return entry, fault.Newf(fault.KindTransferError, "get %s: %w", ref.RemotePath, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.RawResponse.StatusCode != 200 {
		return entry, fault.Newf(fault.KindTransferError, "get %s: HTTP %d", ref.RemotePath, resp.RawResponse.StatusCode)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return entry, fault.Newf(fault.KindDiskError, "create temp file: %w", err)
	}

	written, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		return entry, fault.Newf(fault.KindTransferError, "stream %s: %w", ref.RemoteName, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return entry, fault.Newf(fault.KindDiskError, "sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return entry, fault.Newf(fault.KindDiskError, "close %s: %w", tmpPath, err)
	}

	// Prefer the server's advertised length; fall back to the size the
	// listing page reported, when either is available.
	expected := resp.RawResponse.ContentLength
	if expected <= 0 {
		expected = ref.RemoteSize
	}
	if expected > 0 && written != expected {
		return entry, fault.Newf(fault.KindSizeMismatch,
			"%s: expected %d bytes, wrote %d", ref.RemoteName, expected, written)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return entry, fault.Newf(fault.KindDiskError, "move into place: %w", err)
	}

	entry = ledger.Entry{
		CameraIdentity: cameraIdentity,
		RemoteName:     ref.RemoteName,
		LocalPath:      finalPath,
		ByteSize:       written,
		DownloadedAt:   time.Now(),
	}
	if err := d.ledger.Append(entry); err != nil {
		// The file is safely in place; only the bookkeeping failed. The
		// next run will re-download it, which is wasteful but sound.
		return ledger.Entry{}, fault.Newf(fault.KindDiskError, "ledger append for %s: %w", ref.RemoteName, err)
	}

	d.logger.Info("downloaded",
		zap.String("camera", cameraIdentity),
		zap.String("remote_name", ref.RemoteName),
		zap.String("size", humanize.Bytes(uint64(written))),
		zap.String("local_path", finalPath))
	return entry, nil
}

// CleanRemote deletes a file from the camera after it has been fetched and
// ledgered, via the vendor's del query parameter. Best-effort.
func (d *Downloader) CleanRemote(ctx context.Context, ref camera.RemoteFileRef) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParam("del", "1").
		Get(ref.RemotePath)
	if err != nil {
		return fmt.Errorf("delete %s from camera: %w", ref.RemoteName, err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete %s from camera: HTTP %d", ref.RemoteName, resp.StatusCode())
	}
	d.logger.Debug("remote file cleaned", zap.String("remote_name", ref.RemoteName))
	return nil
}
