package pipeline

import (
	"context"
	"time"

	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/gitclone"
	"github.com/openwrt-k/buildhelper/internal/github"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/openwrt-k/buildhelper/internal/paths"
)

// GitHubAPI is the part of the REST API the stages use.
type GitHubAPI interface {
	User(ctx context.Context) (*github.User, error)
	LatestRelease(ctx context.Context, repo string) (*github.Release, error)
	ListReleases(ctx context.Context, repo string) ([]github.Release, error)
	CreateRelease(ctx context.Context, repo string, in github.NewRelease) (*github.Release, error)
	UploadReleaseAsset(ctx context.Context, rel *github.Release, path string) (*github.Asset, error)
	DeleteRelease(ctx context.Context, repo string, id int64) error
	DeleteTag(ctx context.Context, repo, tag string) error
	DeleteCachesWithPrefix(ctx context.Context, repo, prefix string) (int, error)
}

// Mirror copies release files to secondary storage.
type Mirror interface {
	Mirror(ctx context.Context, tag string, files []string) ([]string, error)
}

type CloneFunc func(ctx context.Context, url, path string, opts gitclone.Options) error

type CheckoutFunc func(path, ref string) error

// Env carries everything a stage touches. It is built once per process.
type Env struct {
	Paths      *paths.Paths
	Action     *github.ActionContext
	GitHub     GitHubAPI
	Store      artifact.Store
	Downloader *downloader.Downloader
	Runner     openwrt.Runner
	// Mirror is optional.
	Mirror   Mirror
	Clone    CloneFunc
	Checkout CheckoutFunc
	Token    string
	Now      func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) clone(ctx context.Context, url, path string, opts gitclone.Options) error {
	if e.Clone != nil {
		return e.Clone(ctx, url, path, opts)
	}
	return gitclone.Clone(ctx, url, path, opts)
}

func (e *Env) checkout(path, ref string) error {
	if e.Checkout != nil {
		return e.Checkout(path, ref)
	}
	return gitclone.Checkout(path, ref)
}

// StageConfig is the fixed view of a build config that one stage works with.
type StageConfig struct {
	Stage     string
	Ref       string
	Target    string
	Subtarget string
	UseCache  bool
}

func NewStageConfig(stage string, cfg *config.BuildConfig) StageConfig {
	return StageConfig{
		Stage:     stage,
		Ref:       cfg.Compile.TagBranch,
		Target:    cfg.Target,
		Subtarget: cfg.Subtarget,
		UseCache:  cfg.Compile.UseCache,
	}
}

// WithTarget returns a copy with the target read from a tree.
func (s StageConfig) WithTarget(target, subtarget string) StageConfig {
	s.Target, s.Subtarget = target, subtarget
	return s
}
