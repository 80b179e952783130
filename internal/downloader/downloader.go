package downloader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetries    = 6
	DefaultChunks     = 4
	DefaultRetryDelay = time.Second

	headTimeout = 30 * time.Second
)

// Downloader starts background downloads through a shared HTTP client.
type Downloader struct {
	client utils.HTTPDoer
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
}

// New returns a Downloader using client. A nil client gets a default
// utils.HTTPClient.
func New(client utils.HTTPDoer) *Downloader {
	if client == nil {
		client = utils.NewHTTPClient(utils.HTTPClientConfig{})
	}
	return &Downloader{client: client, RetryDelay: DefaultRetryDelay}
}

// Option adjusts a single Fetch call.
type Option func(*fetchOptions)

type fetchOptions struct {
	retries int
	chunks  int
	headers map[string]string
}

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) Option {
	return func(o *fetchOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithChunks sets the desired number of parallel range requests. Values
// below 2 disable chunking.
func WithChunks(n int) Option {
	return func(o *fetchOptions) {
		if n > 0 {
			o.chunks = n
		}
	}
}

// WithHeaders adds request headers sent with every request of the task.
func WithHeaders(h map[string]string) Option {
	return func(o *fetchOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			o.headers[k] = v
		}
	}
}

// Fetch starts downloading url into path and returns without waiting for the
// transfer. Any existing file at path is replaced and missing parent
// directories are created. Failures are reported through the returned task.
func (d *Downloader) Fetch(ctx context.Context, url, path string, opts ...Option) *Task {
	o := fetchOptions{retries: DefaultRetries, chunks: DefaultChunks}
	for _, opt := range opts {
		opt(&o)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	t := newTask(url, path, o.retries, o.chunks, o.headers)
	log.Debug().Str("op", "downloader/fetch").Str("task", t.ID.String()).Msgf("queued %s -> %s", url, path)
	go d.run(ctx, t)
	return t
}

// Download is Fetch followed by Wait.
func (d *Downloader) Download(ctx context.Context, url, path string, opts ...Option) error {
	return d.Fetch(ctx, url, path, opts...).Wait()
}

func (d *Downloader) run(ctx context.Context, t *Task) {
	err := d.download(ctx, t)
	if err != nil {
		err = &DownloadError{URL: t.URL, Path: t.Path, Err: err}
		log.Debug().Str("op", "downloader/fetch").Str("task", t.ID.String()).Err(err).Msg("task failed")
	} else {
		log.Debug().Str("op", "downloader/fetch").Str("task", t.ID.String()).Msgf("downloaded %s", t.Path)
	}
	t.finish(err)
}

func (d *Downloader) download(ctx context.Context, t *Task) error {
	if t.URL == "" {
		return ErrEmptyURL
	}
	if err := prepareDestination(t.Path); err != nil {
		return err
	}
	size, ranged := d.head(ctx, t)
	if ranged && t.Chunks > 1 {
		err := d.fetchChunks(ctx, t, size)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		log.Warn().Str("op", "downloader/fetch").Err(err).Msgf("chunked download of %s failed, retrying as a single stream", t.URL)
	}
	return d.fetchWhole(ctx, t)
}

// head reports the content length and whether the server accepts byte
// ranges. Any failure means "no ranges".
func (d *Downloader) head(ctx context.Context, t *Task) (int64, bool) {
	pctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	req, err := newRequest(pctx, http.MethodHead, t)
	if err != nil {
		return 0, false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		log.Debug().Str("op", "downloader/head").Err(err).Msgf("HEAD %s failed", t.URL)
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug().Str("op", "downloader/head").Msgf("HEAD %s returned %d", t.URL, resp.StatusCode)
		return 0, false
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return 0, false
	}
	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || size <= 0 {
		return 0, false
	}
	return size, true
}

func prepareDestination(path string) error {
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing file: %w", err)
		}
		log.Warn().Str("op", "downloader/fetch").Msgf("file %s already exists, removed", path)
	}
	dir := filepath.Dir(path)
	created := !utils.DirExists(dir)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	if created {
		log.Info().Str("op", "downloader/fetch").Msgf("created directory %s", dir)
	}
	return nil
}

func newRequest(ctx context.Context, method string, t *Task) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
