package openwrt

import (
	"context"
	"path/filepath"
	"strings"
)

// ImageBuilder is an unpacked OpenWrt image builder.
type ImageBuilder struct {
	Path string
	run  Runner
}

func NewImageBuilder(path string, run Runner) *ImageBuilder {
	if run == nil {
		run = ExecRunner{}
	}
	return &ImageBuilder{Path: path, run: run}
}

func (ib *ImageBuilder) PackagesDir() string { return filepath.Join(ib.Path, "packages") }

func (ib *ImageBuilder) Target() (string, string, error) { return Target(ib.Path) }

// Packages lists the packages enabled in the builder's .config.
func (ib *ImageBuilder) Packages() ([]string, error) { return EnabledPackages(ib.Path) }

func (ib *ImageBuilder) packagesArg() (string, error) {
	pkgs, err := ib.Packages()
	if err != nil {
		return "", err
	}
	return "PACKAGES=" + strings.Join(pkgs, " "), nil
}

func (ib *ImageBuilder) Info(ctx context.Context) error {
	return ib.run.Run(ctx, ib.Path, nil, "make", "info")
}

func (ib *ImageBuilder) Manifest(ctx context.Context) error {
	pkgs, err := ib.packagesArg()
	if err != nil {
		return err
	}
	return ib.run.Run(ctx, ib.Path, nil, "make", "manifest", pkgs)
}

func (ib *ImageBuilder) Image(ctx context.Context) error {
	pkgs, err := ib.packagesArg()
	if err != nil {
		return err
	}
	return ib.run.Run(ctx, ib.Path, nil, "make", "image", pkgs, "FILES="+filepath.Join(ib.Path, "files"))
}
