package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://api.github.com"
	MediaType      = "application/vnd.github+json"
	APIVersion     = "2022-11-28"

	DefaultRPS        = 10
	DefaultBurst      = 5
	DefaultAPITimeout = 2 * time.Minute

	getAttempts = 6
)

type Config struct {
	Token      string
	BaseURL    string
	HTTP       utils.HTTPClientConfig
	RPS        int
	Burst      int
	RetryDelay time.Duration
	// APITimeout bounds each JSON request. Asset uploads are not bounded.
	APITimeout time.Duration
}

// Client talks to the GitHub REST API. Requests are authenticated with the
// configured token, rate limited, and GETs are retried on transient errors.
type Client struct {
	http       *http.Client
	baseURL    string
	token      string
	retryDelay time.Duration
	apiTimeout time.Duration
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RPS == 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.APITimeout == 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	base := utils.NewHTTPClient(cfg.HTTP)
	transport, err := NewThrottle(cfg.RPS, cfg.Burst, &apiTransport{next: base.RoundTripper()})
	if err != nil {
		return nil, fmt.Errorf("configuring throttle: %w", err)
	}
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return &Client{
		http:       &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		retryDelay: cfg.RetryDelay,
		apiTimeout: cfg.APITimeout,
	}, nil
}

// AuthHeaders returns the headers needed to fetch authenticated URLs such as
// artifact archives through a different HTTP client.
func (c *Client) AuthHeaders() map[string]string {
	h := map[string]string{"Accept": MediaType, "X-GitHub-Api-Version": APIVersion}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}

func (c *Client) User(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "/user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	var r Release
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/releases/latest", repo), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReleases returns the most recent releases, newest first.
func (c *Client) ListReleases(ctx context.Context, repo string) ([]Release, error) {
	var rs []Release
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/releases?per_page=100", repo), &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (c *Client) CreateRelease(ctx context.Context, repo string, in NewRelease) (*Release, error) {
	var r Release
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/releases", repo), in, http.StatusCreated, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) DeleteRelease(ctx context.Context, repo string, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/releases/%d", repo, id), nil, http.StatusNoContent, nil)
}

func (c *Client) DeleteTag(ctx context.Context, repo, tag string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/git/refs/tags/%s", repo, url.PathEscape(tag)), nil, http.StatusNoContent, nil)
}

// UploadReleaseAsset streams the file at path to the release's upload URL.
func (c *Client) UploadReleaseAsset(ctx context.Context, rel *Release, path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	target := rel.UploadURL
	if i := strings.Index(target, "{"); i >= 0 {
		target = target[:i]
	}
	target += "?name=" + url.QueryEscape(filepath.Base(path))

	req, err := c.newRequest(ctx, http.MethodPost, target, f)
	if err != nil {
		return nil, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	var a Asset
	if err := c.send(req, http.StatusCreated, &a); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
	}
	log.Debug().Str("op", "github/client").Msgf("uploaded asset %s (%s)", a.Name, utils.FormatBytes(uint64(info.Size())))
	return &a, nil
}

// ListRunArtifacts lists the artifacts of one workflow run, optionally
// filtered by name.
func (c *Client) ListRunArtifacts(ctx context.Context, repo, runID, name string) ([]Artifact, error) {
	q := url.Values{"per_page": {"100"}}
	if name != "" {
		q.Set("name", name)
	}
	var list artifactList
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/actions/runs/%s/artifacts?%s", repo, runID, q.Encode()), &list); err != nil {
		return nil, err
	}
	return list.Artifacts, nil
}

// FindArtifact returns the unexpired artifact called name from the run.
func (c *Client) FindArtifact(ctx context.Context, repo, runID, name string) (*Artifact, error) {
	artifacts, err := c.ListRunArtifacts(ctx, repo, runID, name)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		if a.Name == name && !a.Expired && (a.WorkflowRun.ID == 0 || fmt.Sprint(a.WorkflowRun.ID) == runID) {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
}

// ListCaches returns the Actions caches whose key starts with prefix.
func (c *Client) ListCaches(ctx context.Context, repo, prefix string) ([]Cache, error) {
	q := url.Values{"key": {prefix}, "per_page": {"100"}}
	var list cacheList
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/actions/caches?%s", repo, q.Encode()), &list); err != nil {
		return nil, err
	}
	return list.ActionsCaches, nil
}

// DeleteCachesWithPrefix removes every cache whose key starts with prefix and
// returns how many were deleted.
func (c *Client) DeleteCachesWithPrefix(ctx context.Context, repo, prefix string) (int, error) {
	caches, err := c.ListCaches(ctx, repo, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, cache := range caches {
		if !strings.HasPrefix(cache.Key, prefix) {
			continue
		}
		err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/actions/caches/%d", repo, cache.ID), nil, http.StatusNoContent, nil)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, fmt.Errorf("error deleting cache %s: %w", cache.Key, err)
		}
		log.Info().Str("op", "github/client").Msgf("deleted cache %s (%s)", cache.Key, utils.FormatBytes(uint64(cache.SizeInBytes)))
		deleted++
	}
	return deleted, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	var err error
	for attempt := 1; attempt <= getAttempts; attempt++ {
		err = c.do(ctx, http.MethodGet, endpoint, nil, http.StatusOK, out)
		if err == nil || ctx.Err() != nil || !retryable(err) {
			return err
		}
		log.Warn().Str("op", "github/client").Err(err).Msgf("GET %s failed (attempt %d/%d)", endpoint, attempt, getAttempts)
		if attempt == getAttempts {
			break
		}
		t := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func retryable(err error) bool {
	var se *UnexpectedStatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) do(ctx context.Context, method, endpoint string, in any, expCode int, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, expCode, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.baseURL + endpoint
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, expCode int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exec http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expCode {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		sentinel := ErrUnexpectedStatusCode
		if resp.StatusCode == http.StatusNotFound {
			sentinel = ErrNotFound
		}
		return &UnexpectedStatusError{StatusCode: resp.StatusCode, Body: string(b), Err: sentinel}
	}
	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}
	return nil
}

// apiTransport adds the GitHub media type and API version headers.
type apiTransport struct {
	next http.RoundTripper
}

func (t *apiTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", MediaType)
	}
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	return t.next.RoundTrip(req)
}
