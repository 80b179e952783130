package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
)

// fetchWhole streams the resource with plain GETs, truncating the file on
// every attempt.
func (d *Downloader) fetchWhole(ctx context.Context, t *Task) error {
	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Str("op", "downloader/whole").Msgf("retrying download of %s (attempt %d/%d)", t.URL, attempt+1, t.MaxRetries+1)
			if err := sleepContext(ctx, d.RetryDelay); err != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}
		lastErr = d.fetchWholeOnce(ctx, t)
		if lastErr == nil {
			return nil
		}
		log.Debug().Str("op", "downloader/whole").Err(lastErr).Msgf("attempt %d for %s failed", attempt+1, t.URL)
	}
	return fmt.Errorf("download failed after %d attempts: %w", t.MaxRetries+1, lastErr)
}

func (d *Downloader) fetchWholeOnce(ctx context.Context, t *Task) error {
	req, err := newRequest(ctx, http.MethodGet, t)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Want: http.StatusOK}
	}
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", resp.ContentLength, n)
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}
