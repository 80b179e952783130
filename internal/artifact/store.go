package artifact

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("artifact not found")

// UploadOptions mirrors the inputs of actions/upload-artifact. Zero values
// are left out of the generated step.
type UploadOptions struct {
	IfNoFilesFound     string
	RetentionDays      int
	CompressionLevel   *int
	Overwrite          *bool
	IncludeHiddenFiles *bool
}

// Level is a helper for UploadOptions.CompressionLevel.
func Level(n int) *int { return &n }

// Store moves named artifacts between pipeline stages.
type Store interface {
	// Fetch places the files of artifact name below dir and returns the
	// directory holding them.
	Fetch(ctx context.Context, name, dir string) (string, error)
	// Register records files or glob patterns to be published as name.
	Register(ctx context.Context, name string, paths []string, opts UploadOptions) error
	// Flush publishes everything registered so far.
	Flush(ctx context.Context) error
}

// Names of the artifacts exchanged between stages.
func SourceName(cfg string) string       { return "openwrt-source-" + cfg }
func BaseBuildsName(cfg string) string   { return "base-builds-" + cfg }
func PackagesName(cfg string) string     { return "packages-" + cfg }
func KmodsName(cfg string) string        { return "kmods-" + cfg }
func ImageBuilderName(cfg string) string { return "Image_Builder-" + cfg }
func FirmwareName(cfg string) string     { return "firmware-" + cfg }
