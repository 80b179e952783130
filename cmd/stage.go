package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/output"
	"github.com/openwrt-k/buildhelper/internal/pipeline"
	"github.com/openwrt-k/buildhelper/internal/settings"
	"github.com/spf13/cobra"
)

var errNoConfig = errors.New("no build config, pass --config or set INPUT_CONFIG")

func runStage(cmd *cobra.Command, stage string) error {
	if conf.Config == "" {
		return errNoConfig
	}
	cfg, err := config.DecodeConfig(conf.Config)
	if err != nil {
		return err
	}
	env, closeEnv, err := newEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEnv()

	summary := output.NewSummary(fmt.Sprintf("%s (%s)", stage, cfg.Name))
	err = pipeline.Run(cmd.Context(), env, stage, cfg)
	summary.Record(stage, cfg.Compile.TagBranch, err)
	summary.Show(os.Stdout)
	return err
}

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage [STAGE] [--config PACKED_CONFIG]",
		Short: "Run one build stage for a single config",
		Long: `Run one build stage for the config packed into the build matrix.

Stages: ` + strings.Join(pipeline.Stages(), ", ") + `

Examples:
  build-helper stage stage-prepare --config 1F8B08...
  INPUT_CONFIG=1F8B08... build-helper stage build-packages`,
		Args:        cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:   pipeline.Stages(),
		Annotations: withLogFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, args[0])
		},
	}
	cmd.Flags().String(settings.KeyConfig, "", "Packed build config from the matrix")
	return cmd
}

func newReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "release [--config PACKED_CONFIG]",
		Short:       "Publish the firmware of a config as a GitHub release",
		Args:        cobra.NoArgs,
		Annotations: withLogFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, pipeline.StageRelease)
		},
	}
	cmd.Flags().String(settings.KeyConfig, "", "Packed build config from the matrix")
	return cmd
}
