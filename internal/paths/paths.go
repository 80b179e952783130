package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openwrt-k/buildhelper/internal/utils"
)

// Paths resolves the workspace layout. Directory accessors create their
// directory on first use and fail if something other than a directory is
// already there.
type Paths struct {
	// Root is the workspace (GITHUB_WORKSPACE or the working directory).
	Root string
	// Repo holds the checked-out build repository with files/, patches/ and
	// .github/action/upload/. It defaults to Root.
	Repo string
}

func New(root, repo string) (*Paths, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if repo == "" {
		repo = root
	}
	return &Paths{Root: root, Repo: repo}, nil
}

func (p *Paths) GlobalConfig() string {
	return filepath.Join(p.Root, "config", "OpenWrt.config")
}

func (p *Paths) ConfigDir(name string) string {
	return filepath.Join(p.Root, "config", name)
}

func (p *Paths) Workdir() (string, error) { return p.dir("workdir") }

func (p *Paths) Uploads() (string, error) { return p.dir("uploads") }

func (p *Paths) ErrorInfo() (string, error) { return p.dir("errorinfo") }

// Log is the debug log file inside the uploads directory.
func (p *Paths) Log() (string, error) {
	uploads, err := p.Uploads()
	if err != nil {
		return "", err
	}
	return filepath.Join(uploads, utils.LogFileName), nil
}

// TempDir creates a fresh directory below <root>/tmp. The caller removes it.
func (p *Paths) TempDir() (string, error) {
	tmp, err := p.dir("tmp")
	if err != nil {
		return "", err
	}
	return os.MkdirTemp(tmp, "build-helper-")
}

// OpenWrt is where a single restored OpenWrt tree lives during a stage.
func (p *Paths) OpenWrt() (string, error) {
	wd, err := p.Workdir()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, "openwrt"), nil
}

// ImageBuilder is where the extracted image builder lives.
func (p *Paths) ImageBuilder() (string, error) {
	wd, err := p.Workdir()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, "ImageBuilder"), nil
}

func (p *Paths) Files() string   { return filepath.Join(p.Repo, "files") }
func (p *Paths) Patches() string { return filepath.Join(p.Repo, "patches") }

// UploadAction is the composite action the upload steps are written into.
func (p *Paths) UploadAction() string {
	return filepath.Join(p.Repo, ".github", "action", "upload", "action.yml")
}

func (p *Paths) dir(name string) (string, error) {
	path := filepath.Join(p.Root, name)
	if err := utils.EnsureDir(path); err != nil {
		return "", fmt.Errorf("error preparing %s directory: %w", name, err)
	}
	return path, nil
}
