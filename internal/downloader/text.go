package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const maxTextSize = 32 << 20

// GetText fetches a small text resource such as a patch or a manifest,
// retrying up to DefaultRetries times. headers may be nil.
func (d *Downloader) GetText(ctx context.Context, url string, headers map[string]string) (string, error) {
	t := &Task{URL: url, Headers: headers}
	var lastErr error
	for attempt := 0; attempt <= DefaultRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, d.RetryDelay); err != nil {
				return "", err
			}
		}
		text, err := d.getTextOnce(ctx, t)
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Warn().Str("op", "downloader/text").Err(err).Msgf("request %s failed (attempt %d/%d)", url, attempt+1, DefaultRetries+1)
	}
	return "", fmt.Errorf("request %s failed after %d attempts: %w", url, DefaultRetries+1, lastErr)
}

func (d *Downloader) getTextOnce(ctx context.Context, t *Task) (string, error) {
	req, err := newRequest(ctx, http.MethodGet, t)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Want: http.StatusOK}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextSize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
