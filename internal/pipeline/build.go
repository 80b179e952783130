package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openwrt-k/buildhelper/internal/archive"
	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/cachekey"
	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/rs/zerolog/log"
)

// Intermediate artifacts only live until the next job of the run.
var stageUpload = artifact.UploadOptions{RetentionDays: 1, CompressionLevel: artifact.Level(0)}

func openTree(env *Env, cfg *config.BuildConfig) (*openwrt.Tree, error) {
	path, err := env.Paths.OpenWrt()
	if err != nil {
		return nil, err
	}
	return openwrt.NewTree(path, cfg.Compile.TagBranch, env.Runner), nil
}

func makeTargets(ctx context.Context, tree *openwrt.Tree, targets ...string) error {
	for _, target := range targets {
		if err := tree.Make(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// BaseBuilds builds tools, toolchain and kernel and publishes staging_dir.
func BaseBuilds(ctx context.Context, env *Env, cfg *config.BuildConfig) error {
	tree, err := openTree(env, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("op", "pipeline/build").Msg("enabling all kernel modules")
	if err := tree.EnableKmods(ctx, cfg.Compile.KmodExclude, false); err != nil {
		return err
	}
	tree.Download(ctx)
	if !tree.HasToolchain() {
		if err := makeTargets(ctx, tree, "tools/install", "toolchain/install"); err != nil {
			return err
		}
	} else {
		log.Info().Str("op", "pipeline/build").Msg("toolchain restored from cache")
	}
	if err := makeTargets(ctx, tree, "target/compile"); err != nil {
		return err
	}

	uploads, err := env.Paths.Uploads()
	if err != nil {
		return err
	}
	tarPath := filepath.Join(uploads, baseBuildsArchive)
	log.Info().Str("op", "pipeline/build").Msg("archiving staging_dir")
	if err := archive.TarGz(tarPath, filepath.Join(tree.Path, "staging_dir"), "staging_dir"); err != nil {
		return err
	}
	if err := env.Store.Register(ctx, artifact.BaseBuildsName(cfg.Name), []string{tarPath}, stageUpload); err != nil {
		return err
	}
	return dropOldCaches(ctx, env, tree, cfg)
}

// BuildPackages compiles every selected package and publishes the .ipk
// files as a flat tarball.
func BuildPackages(ctx context.Context, env *Env, cfg *config.BuildConfig) error {
	tree, err := openTree(env, cfg)
	if err != nil {
		return err
	}
	tree.Download(ctx)
	if err := makeTargets(ctx, tree, "package/compile", "package/install"); err != nil {
		return err
	}
	tarPath, err := packIPKs(env, tree, packagesArchive, isIPK)
	if err != nil {
		return err
	}
	if err := env.Store.Register(ctx, artifact.PackagesName(cfg.Name), []string{tarPath}, stageUpload); err != nil {
		return err
	}
	return dropOldCaches(ctx, env, tree, cfg)
}

// BuildImageBuilder produces the image builder, the package index and the
// kernel module set without building firmware images.
func BuildImageBuilder(ctx context.Context, env *Env, cfg *config.BuildConfig) error {
	tree, err := openTree(env, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("op", "pipeline/build").Msg("enabling all kernel modules and disabling images")
	if err := tree.EnableKmods(ctx, cfg.Compile.KmodExclude, false); err != nil {
		return err
	}
	if err := openwrt.DisableImages(tree.Path); err != nil {
		return err
	}
	if err := tree.Defconfig(ctx); err != nil {
		return err
	}
	tree.Download(ctx)
	err = makeTargets(ctx, tree,
		"package/compile", "package/install", "target/install",
		"package/index", "json_overview_image_info", "checksum")
	if err != nil {
		return err
	}

	kmods, err := packIPKs(env, tree, kmodsArchive, isKmod)
	if err != nil {
		return err
	}
	if err := env.Store.Register(ctx, artifact.KmodsName(cfg.Name), []string{kmods}, stageUpload); err != nil {
		return err
	}

	target, subtarget, err := tree.Target()
	if err != nil {
		return err
	}
	if target == "" || subtarget == "" {
		return fmt.Errorf("cannot determine target of %s", tree.Path)
	}
	uploads, err := env.Paths.Uploads()
	if err != nil {
		return err
	}
	built := filepath.Join(tree.Path, "bin", "targets", target, subtarget,
		fmt.Sprintf("openwrt-imagebuilder-%s-%s.Linux-x86_64.tar.xz", target, subtarget))
	ibPath := filepath.Join(uploads, imageBuilderArchive)
	if err := moveFile(built, ibPath); err != nil {
		return fmt.Errorf("error collecting image builder: %w", err)
	}
	if err := env.Store.Register(ctx, artifact.ImageBuilderName(cfg.Name), []string{ibPath}, stageUpload); err != nil {
		return err
	}
	return dropOldCaches(ctx, env, tree, cfg)
}

// BuildImages runs the image builder and publishes the firmware directory.
func BuildImages(ctx context.Context, env *Env, cfg *config.BuildConfig) error {
	path, err := env.Paths.ImageBuilder()
	if err != nil {
		return err
	}
	ib := openwrt.NewImageBuilder(path, env.Runner)
	log.Info().Str("op", "pipeline/build").Msg("collecting image information")
	if err := ib.Info(ctx); err != nil {
		return err
	}
	if err := ib.Manifest(ctx); err != nil {
		return err
	}
	log.Info().Str("op", "pipeline/build").Msg("building images")
	if err := ib.Image(ctx); err != nil {
		return err
	}
	target, subtarget, err := ib.Target()
	if err != nil {
		return err
	}
	if target == "" || subtarget == "" {
		return fmt.Errorf("cannot determine target of %s", ib.Path)
	}
	firmware := filepath.Join(ib.Path, "bin", "targets", target, subtarget, "*")
	return env.Store.Register(ctx, artifact.FirmwareName(cfg.Name), []string{firmware}, stageUpload)
}

func packIPKs(env *Env, tree *openwrt.Tree, name string, match func(string) bool) (string, error) {
	files, err := findFiles(filepath.Join(tree.Path, "bin"), match)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	uploads, err := env.Paths.Uploads()
	if err != nil {
		return "", err
	}
	tarPath := filepath.Join(uploads, name)
	log.Info().Str("op", "pipeline/build").Msgf("packing %d packages into %s", len(files), name)
	return tarPath, archive.TarGzFiles(tarPath, files)
}

// dropOldCaches deletes the caches saved by earlier runs for this stage;
// the current run saves a fresh one when the job ends.
func dropOldCaches(ctx context.Context, env *Env, tree *openwrt.Tree, cfg *config.BuildConfig) error {
	prefix, err := cachekey.StagePrefix(env.Action.Job)
	if err != nil {
		return err
	}
	target, subtarget, err := tree.Target()
	if err != nil {
		return err
	}
	key := cachekey.RestoreKey(prefix, cfg.Compile.TagBranch, target, subtarget)
	repo := env.Action.Repository()
	if env.GitHub == nil || repo == "" {
		log.Debug().Str("op", "pipeline/build").Msgf("no repository, keeping caches for %s", key)
		return nil
	}
	n, err := env.GitHub.DeleteCachesWithPrefix(ctx, repo, key)
	if err != nil {
		log.Warn().Str("op", "pipeline/build").Err(err).Msgf("could not delete old caches for %s", key)
		return nil
	}
	log.Info().Str("op", "pipeline/build").Msgf("deleted %d old caches for %s", n, key)
	return nil
}
