package downloader

import (
	"errors"
	"fmt"
)

var ErrEmptyURL = errors.New("downloader: empty URL")

// DownloadError is the terminal error stored on a failed task.
type DownloadError struct {
	URL  string
	Path string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download error: %v (url: %s, path: %s)", e.Err, e.URL, e.Path)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// StatusError reports a response whose status code was not the one the
// transfer mode requires (200 for whole-file, 206 for a chunk).
type StatusError struct {
	Code int
	Want int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d (want %d)", e.Code, e.Want)
}
