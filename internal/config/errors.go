package config

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrMissingKey     = errors.New("missing config key")
	ErrNoConfigs      = errors.New("no usable build config found")
)

// ParseError describes a problem with one named build config.
type ParseError struct {
	Config string
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Config, e.Msg, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Config, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
