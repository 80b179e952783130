package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Chunk is a byte range of a download; End is inclusive.
type Chunk struct {
	ID      int
	Start   int64
	End     int64
	Retries int
}

func (c Chunk) Size() int64 { return c.End - c.Start + 1 }

func (c Chunk) RangeHeader() string {
	return fmt.Sprintf("bytes=%d-%d", c.Start, c.End)
}

// SplitRanges divides [0, contentLength) into min(desired, contentLength)
// equal chunks. The last chunk takes the remainder so it always ends at
// contentLength-1.
func SplitRanges(contentLength int64, desired int) []Chunk {
	if contentLength <= 0 || desired <= 0 {
		return nil
	}
	n := min(int64(desired), contentLength)
	size := contentLength / n
	chunks := make([]Chunk, 0, n)
	for i := range n {
		start := i * size
		end := start + size - 1
		if i == n-1 {
			end = contentLength - 1
		}
		chunks = append(chunks, Chunk{ID: int(i), Start: start, End: end})
	}
	return chunks
}

// fetchChunks pre-sizes the destination and downloads every chunk in its own
// goroutine. The first chunk to exhaust its retries cancels the others.
func (d *Downloader) fetchChunks(ctx context.Context, t *Task, size int64) error {
	chunks := SplitRanges(size, t.Chunks)
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("error pre-allocating output file: %w", err)
	}
	log.Debug().Str("op", "downloader/chunks").Msgf("downloading %s in %d chunks (%d bytes)", t.URL, len(chunks), size)

	g, gctx := errgroup.WithContext(ctx)
	for i := range chunks {
		chunk := &chunks[i]
		g.Go(func() error {
			return d.fetchChunk(gctx, t, f, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return f.Sync()
}

func (d *Downloader) fetchChunk(ctx context.Context, t *Task, f *os.File, chunk *Chunk) error {
	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if attempt > 0 {
			chunk.Retries++
			if err := sleepContext(ctx, d.RetryDelay); err != nil {
				return err
			}
		}
		lastErr = d.fetchChunkOnce(ctx, t, f, chunk)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().Str("op", "downloader/chunks").Err(lastErr).Msgf("chunk %d of %s failed (attempt %d/%d)", chunk.ID, t.URL, attempt+1, t.MaxRetries+1)
	}
	return fmt.Errorf("chunk %d (%s) failed after %d attempts: %w", chunk.ID, chunk.RangeHeader(), t.MaxRetries+1, lastErr)
}

func (d *Downloader) fetchChunkOnce(ctx context.Context, t *Task, f *os.File, chunk *Chunk) error {
	req, err := newRequest(ctx, http.MethodGet, t)
	if err != nil {
		return err
	}
	req.Header.Set("Range", chunk.RangeHeader())
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return &StatusError{Code: resp.StatusCode, Want: http.StatusPartialContent}
	}
	// Each chunk owns [Start, End]; the limit keeps a misbehaving server from
	// spilling into the neighbouring range.
	w := io.NewOffsetWriter(f, chunk.Start)
	n, err := io.Copy(w, io.LimitReader(resp.Body, chunk.Size()))
	if err != nil {
		return fmt.Errorf("error writing chunk %d: %w", chunk.ID, err)
	}
	if n != chunk.Size() {
		return fmt.Errorf("size mismatch for chunk %d: expected %d bytes, got %d", chunk.ID, chunk.Size(), n)
	}
	return nil
}
