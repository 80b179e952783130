package cmd

import (
	"os"

	"github.com/openwrt-k/buildhelper/internal/output"
	"github.com/openwrt-k/buildhelper/internal/pipeline"
	"github.com/spf13/cobra"
)

func newPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Parse the build configs and prepare one OpenWrt source tree per config",
		Long: `Parse every build config, clone OpenWrt and the extension packages, apply
fixes and customizations, publish one source archive per config and write
the build matrix as the "matrix" step output.`,
		Args:        cobra.NoArgs,
		Annotations: withLogFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEnv()
			configs, err := pipeline.Prepare(cmd.Context(), env)
			if err != nil {
				return err
			}
			summary := output.NewSummary("Prepared configs")
			for _, cfg := range configs {
				summary.Complete(cfg.Name, cfg.Compile.TagBranch+" "+cfg.Target+"/"+cfg.Subtarget)
			}
			summary.Show(os.Stdout)
			return nil
		},
	}
}
