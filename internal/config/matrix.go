package config

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Matrix is the CI job matrix emitted by the prepare stage.
type Matrix struct {
	Include []MatrixEntry `json:"include"`
}

type MatrixEntry struct {
	Name   string `json:"name"`
	Config string `json:"config"`
}

// EncodeMatrix packs every config as uppercase hex of gzipped JSON.
func EncodeMatrix(configs []*BuildConfig) (string, error) {
	m := Matrix{Include: make([]MatrixEntry, 0, len(configs))}
	for _, cfg := range configs {
		packed, err := EncodeConfig(cfg)
		if err != nil {
			return "", err
		}
		m.Include = append(m.Include, MatrixEntry{Name: cfg.Name, Config: packed})
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func EncodeConfig(cfg *BuildConfig) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("error encoding config %s: %w", cfg.Name, err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf.Bytes())), nil
}

// DecodeConfig reverses EncodeConfig for the matrix value a job receives.
func DecodeConfig(packed string) (*BuildConfig, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(packed))
	if err != nil {
		return nil, fmt.Errorf("error decoding config hex: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error opening config gzip: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("error reading config gzip: %w", err)
	}
	var cfg BuildConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding config json: %w", err)
	}
	if cfg.ExtPackages == nil {
		cfg.ExtPackages = map[string]ExtPackage{}
	}
	return &cfg, nil
}
