package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openwrt-k/buildhelper/internal/archive"
	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/github"
	"github.com/rs/zerolog/log"
)

// ArtifactFinder is the part of the GitHub API the store needs.
type ArtifactFinder interface {
	FindArtifact(ctx context.Context, repo, runID, name string) (*github.Artifact, error)
	AuthHeaders() map[string]string
}

// GitHubStore fetches artifacts of the current workflow run and registers new
// ones as upload-artifact steps.
type GitHubStore struct {
	api      ArtifactFinder
	dl       *downloader.Downloader
	repo     string
	runID    string
	uploader *Uploader
}

func NewGitHubStore(api ArtifactFinder, dl *downloader.Downloader, repo, runID string, uploader *Uploader) *GitHubStore {
	return &GitHubStore{api: api, dl: dl, repo: repo, runID: runID, uploader: uploader}
}

func (s *GitHubStore) Fetch(ctx context.Context, name, dir string) (string, error) {
	a, err := s.api.FindArtifact(ctx, s.repo, s.runID, name)
	if err != nil {
		if errors.Is(err, github.ErrArtifactNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	log.Info().Str("op", "artifact/github").Msgf("downloading artifact %s from %s", name, a.ArchiveDownloadURL)
	zipPath := filepath.Join(dir, name+".zip")
	if err := s.dl.Download(ctx, a.ArchiveDownloadURL, zipPath, downloader.WithHeaders(s.api.AuthHeaders())); err != nil {
		return "", err
	}
	out := filepath.Join(dir, name)
	if err := archive.ExtractZip(zipPath, out); err != nil {
		return "", fmt.Errorf("error unpacking artifact %s: %w", name, err)
	}
	if err := os.Remove(zipPath); err != nil {
		log.Warn().Str("op", "artifact/github").Err(err).Msgf("could not remove %s", zipPath)
	}
	return out, nil
}

func (s *GitHubStore) Register(_ context.Context, name string, paths []string, opts UploadOptions) error {
	s.uploader.Add(name, paths, opts)
	return nil
}

func (s *GitHubStore) Flush(context.Context) error {
	return s.uploader.Save()
}
