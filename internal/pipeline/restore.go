package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openwrt-k/buildhelper/internal/archive"
	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/cachekey"
	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/rs/zerolog/log"
)

// File names inside the artifacts.
const (
	sourceArchive       = "openwrt-source.tar.gz"
	baseBuildsArchive   = "base-builds.tar.gz"
	packagesArchive     = "packages.tar.gz"
	kmodsArchive        = "kmods.tar.gz"
	imageBuilderArchive = "openwrt-imagebuilder.tar.xz"
)

// jobImages is the CI job that turns the image builder into firmware.
const jobImages = "build-images"

// fetchFile fetches artifact name into dir and returns the path of file
// inside it.
func fetchFile(ctx context.Context, env *Env, name, dir, file string) (string, error) {
	out, err := env.Store.Fetch(ctx, name, dir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(out, file)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("artifact %s has no %s: %w", name, file, err)
	}
	return path, nil
}

// Restore unpacks the artifacts the current job builds on and publishes the
// cache keys for it as step outputs.
func Restore(ctx context.Context, env *Env, cfg *config.BuildConfig) error {
	job := env.Action.Job
	log.Debug().Str("op", "pipeline/restore").Msgf("job %s", job)
	tmp, err := env.Paths.TempDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	workdir, err := env.Paths.Workdir()
	if err != nil {
		return err
	}

	log.Info().Str("op", "pipeline/restore").Msg("restoring OpenWrt source")
	src, err := fetchFile(ctx, env, artifact.SourceName(cfg.Name), tmp, sourceArchive)
	if err != nil {
		return err
	}
	treePath, err := env.Paths.OpenWrt()
	if err != nil {
		return err
	}
	if err := os.RemoveAll(treePath); err != nil {
		return err
	}
	if _, err := archive.ExtractTar(src, workdir); err != nil {
		return fmt.Errorf("error unpacking OpenWrt source: %w", err)
	}
	tree := openwrt.NewTree(treePath, cfg.Compile.TagBranch, env.Runner)
	target, subtarget, err := tree.Target()
	if err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(job, cachekey.StageBaseBuilds):
		hash, err := cachekey.HashDirs(cachekey.DefaultAlgorithm, filepath.Join(tree.Path, "tools"), filepath.Join(tree.Path, "toolchain"))
		if err != nil {
			return fmt.Errorf("error hashing toolchain sources: %w", err)
		}
		if err := env.Action.SetOutput("toolchain-key", cachekey.ToolchainKey(hash, target, subtarget)); err != nil {
			return err
		}
	case strings.HasPrefix(job, cachekey.StagePackages), strings.HasPrefix(job, cachekey.StageImageBuilder):
		if err := os.RemoveAll(filepath.Join(tree.Path, "staging_dir")); err != nil {
			return err
		}
		builds, err := fetchFile(ctx, env, artifact.BaseBuildsName(cfg.Name), tmp, baseBuildsArchive)
		if err != nil {
			return err
		}
		if _, err := archive.ExtractTar(builds, tree.Path); err != nil {
			return fmt.Errorf("error unpacking base builds: %w", err)
		}
	case strings.HasPrefix(job, jobImages):
		if err := restoreImageBuilder(ctx, env, cfg, tree, tmp, workdir); err != nil {
			return err
		}
		return env.Action.SetOutput("openwrt-path", tree.Path)
	default:
		return fmt.Errorf("%w: job %q", ErrUnknownStage, job)
	}

	prefix, err := cachekey.StagePrefix(job)
	if err != nil {
		return err
	}
	sc := NewStageConfig(StageRestore, cfg).WithTarget(target, subtarget)
	restoreKey := cachekey.RestoreKey(prefix, sc.Ref, sc.Target, sc.Subtarget)
	outputs := []struct {
		name  string
		value any
	}{
		{"cache-key", cachekey.CacheKey(restoreKey, env.Action.RunID)},
		{"cache-restore-key", restoreKey},
		{"use-cache", sc.UseCache},
		{"openwrt-path", tree.Path},
	}
	for _, o := range outputs {
		if err := env.Action.SetOutput(o.name, o.value); err != nil {
			return err
		}
	}
	return nil
}

func restoreImageBuilder(ctx context.Context, env *Env, cfg *config.BuildConfig, tree *openwrt.Tree, tmp, workdir string) error {
	ibArchive, err := fetchFile(ctx, env, artifact.ImageBuilderName(cfg.Name), tmp, imageBuilderArchive)
	if err != nil {
		return err
	}
	ibPath, err := env.Paths.ImageBuilder()
	if err != nil {
		return err
	}
	if err := os.RemoveAll(ibPath); err != nil {
		return err
	}
	extractDir, err := os.MkdirTemp(workdir, "imagebuilder-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(extractDir)
	top, err := archive.ExtractTar(ibArchive, extractDir)
	if err != nil {
		return fmt.Errorf("error unpacking image builder: %w", err)
	}
	if len(top) == 0 {
		return fmt.Errorf("image builder archive %s is empty", ibArchive)
	}
	if err := os.Rename(filepath.Join(extractDir, top[0]), ibPath); err != nil {
		return err
	}
	ib := openwrt.NewImageBuilder(ibPath, env.Runner)

	pkgs, err := fetchFile(ctx, env, artifact.PackagesName(cfg.Name), tmp, packagesArchive)
	if err != nil {
		return err
	}
	if _, err := archive.ExtractTar(pkgs, ib.PackagesDir(), archive.SkipExisting()); err != nil {
		return fmt.Errorf("error unpacking packages: %w", err)
	}

	if err := replaceTree(filepath.Join(tree.Path, "files"), filepath.Join(ib.Path, "files")); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(tree.Path, ".config"))
	if err != nil {
		return err
	}
	return openwrt.ApplyConfig(ib.Path, string(data))
}
