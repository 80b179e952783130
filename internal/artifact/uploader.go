package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const uploadAction = "actions/upload-artifact@v4"

type UploadStep struct {
	Name string     `yaml:"name"`
	Uses string     `yaml:"uses"`
	With UploadWith `yaml:"with"`
}

type UploadWith struct {
	Name               string `yaml:"name"`
	Path               string `yaml:"path"`
	IfNoFilesFound     string `yaml:"if-no-files-found,omitempty"`
	RetentionDays      int    `yaml:"retention-days,omitempty"`
	CompressionLevel   *int   `yaml:"compression-level,omitempty"`
	Overwrite          *bool  `yaml:"overwrite,omitempty"`
	IncludeHiddenFiles *bool  `yaml:"include-hidden-files,omitempty"`
}

type actionFile struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Runs        actionRuns     `yaml:"runs"`
	Extra       map[string]any `yaml:",inline"`
}

type actionRuns struct {
	Using string         `yaml:"using"`
	Steps []UploadStep   `yaml:"steps"`
	Extra map[string]any `yaml:",inline"`
}

// Uploader collects upload-artifact steps into a composite action that a
// later workflow step runs.
type Uploader struct {
	mu     sync.Mutex
	path   string
	action actionFile
}

// NewUploader loads the composite action at path and drops its steps. A
// missing file starts from an empty composite action.
func NewUploader(path string) (*Uploader, error) {
	u := &Uploader{path: path, action: actionFile{Name: "upload", Runs: actionRuns{Using: "composite"}}}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &u.action); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
	}
	u.action.Runs.Steps = nil
	return u, nil
}

func (u *Uploader) Add(name string, paths []string, opts UploadOptions) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.action.Runs.Steps = append(u.action.Runs.Steps, UploadStep{
		Name: name,
		Uses: uploadAction,
		With: UploadWith{
			Name:               name,
			Path:               strings.Join(paths, "\n"),
			IfNoFilesFound:     opts.IfNoFilesFound,
			RetentionDays:      opts.RetentionDays,
			CompressionLevel:   opts.CompressionLevel,
			Overwrite:          opts.Overwrite,
			IncludeHiddenFiles: opts.IncludeHiddenFiles,
		},
	})
	log.Debug().Str("op", "artifact/uploader").Msgf("registered upload %s", name)
}

func (u *Uploader) Steps() []UploadStep {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]UploadStep(nil), u.action.Runs.Steps...)
}

// Save writes the action file if at least one step was added.
func (u *Uploader) Save() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.action.Runs.Steps) == 0 {
		return nil
	}
	data, err := yaml.Marshal(&u.action)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(u.path)); err != nil {
		return err
	}
	if err := os.WriteFile(u.path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", u.path, err)
	}
	log.Info().Str("op", "artifact/uploader").Msgf("wrote %d upload steps to %s", len(u.action.Runs.Steps), u.path)
	return nil
}
