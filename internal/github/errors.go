package github

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrNotFound             = errors.New("not found")
	ErrArtifactNotFound     = errors.New("artifact not found")
	ErrMustNotBeZero        = errors.New("must be greater than zero")
)

// UnexpectedStatusError carries the status and body of a failed API call.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}
