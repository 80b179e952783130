package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
)

var ErrUnknownStage = errors.New("unknown stage")

// Stage names accepted by Run.
const (
	StageRestore           = "stage-prepare"
	StageBaseBuilds        = "base-builds"
	StageBuildPackages     = "build-packages"
	StageBuildImageBuilder = "build-image-builder"
	StageBuildImages       = "build-images"
	StageRelease           = "release"
)

type stageFunc func(ctx context.Context, env *Env, cfg *config.BuildConfig) error

var stageRegistry = map[string]stageFunc{
	StageRestore:           Restore,
	StageBaseBuilds:        BaseBuilds,
	StageBuildPackages:     BuildPackages,
	StageBuildImageBuilder: BuildImageBuilder,
	StageBuildImages:       BuildImages,
	StageRelease:           Release,
}

// Stages lists the names Run accepts.
func Stages() []string {
	names := make([]string, 0, len(stageRegistry))
	for name := range stageRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one per-config stage and publishes the artifacts it
// registered.
func Run(ctx context.Context, env *Env, stage string, cfg *config.BuildConfig) error {
	fn, ok := stageRegistry[stage]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	log.Info().Str("op", "pipeline/stage").Msgf("running %s for %s", stage, cfg.Name)
	if err := fn(ctx, env, cfg); err != nil {
		err = fmt.Errorf("%s failed for %s: %w", stage, cfg.Name, err)
		saveErrorInfo(env, stage, cfg, err)
		return err
	}
	if err := env.Store.Flush(ctx); err != nil {
		return fmt.Errorf("error publishing artifacts of %s: %w", stage, err)
	}
	return nil
}

// saveErrorInfo writes the failure of a stage into the errorinfo directory,
// along with the OpenWrt build logs when CONFIG_BUILD_LOG produced any.
func saveErrorInfo(env *Env, stage string, cfg *config.BuildConfig, stageErr error) {
	dir, err := env.Paths.ErrorInfo()
	if err != nil {
		log.Error().Str("op", "pipeline/stage").Err(err).Msg("cannot save error info")
		return
	}
	report := filepath.Join(dir, cfg.Name+"-"+stage+".txt")
	if err := os.WriteFile(report, []byte(stageErr.Error()+"\n"), 0644); err != nil {
		log.Error().Str("op", "pipeline/stage").Err(err).Msg("cannot save error info")
		return
	}
	tree, err := env.Paths.OpenWrt()
	if err != nil || !utils.DirExists(filepath.Join(tree, "logs")) {
		return
	}
	if err := replaceTree(filepath.Join(tree, "logs"), filepath.Join(dir, cfg.Name+"-logs")); err != nil {
		log.Warn().Str("op", "pipeline/stage").Err(err).Msg("cannot copy build logs")
	}
}
