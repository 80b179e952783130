package cmd

import (
	"fmt"

	"github.com/openwrt-k/buildhelper/internal/cachekey"
	"github.com/openwrt-k/buildhelper/internal/github"
	"github.com/openwrt-k/buildhelper/internal/output"
	"github.com/spf13/cobra"
)

func newCacheKeyCmd() *cobra.Command {
	var ref, target, subtarget string
	cmd := &cobra.Command{
		Use:   "cache-key --ref REF [--target TARGET] [--subtarget SUBTARGET]",
		Short: "Derive the cache keys of the current job",
		Long: `Derive the restore key and the run scoped cache key for the current job.
The stage prefix comes from the job id, so --job or GITHUB_JOB must name
one of base-builds, build-packages or build-ImageBuilder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" && subtarget != "" {
				output.PrintWarning(output.StyleSymbols["warning"] + " --subtarget without --target, the key will not match a restored tree")
			}
			prefix, err := cachekey.StagePrefix(conf.Job)
			if err != nil {
				return err
			}
			restoreKey := cachekey.RestoreKey(prefix, ref, target, subtarget)
			cacheKey := cachekey.CacheKey(restoreKey, conf.RunID)
			action, err := github.NewActionContext(conf.Repository, conf.RunID, conf.Job, conf.OutputFile)
			if err != nil {
				return err
			}
			if err := action.SetOutput("cache-restore-key", restoreKey); err != nil {
				return err
			}
			if err := action.SetOutput("cache-key", cacheKey); err != nil {
				return err
			}
			fmt.Println(restoreKey)
			fmt.Println(cacheKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "OpenWrt tag or branch")
	cmd.Flags().StringVar(&target, "target", "", "Target, empty when unknown")
	cmd.Flags().StringVar(&subtarget, "subtarget", "", "Subtarget, empty when unknown")
	cmd.MarkFlagRequired("ref")
	return cmd
}
