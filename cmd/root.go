package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openwrt-k/buildhelper/internal/output"
	"github.com/openwrt-k/buildhelper/internal/paths"
	"github.com/openwrt-k/buildhelper/internal/settings"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var BuildHelperVersion = "dev"

// withLogFile marks commands that also write the debug log into uploads.
var withLogFile = map[string]string{"log-file": "true"}

var (
	v       = viper.New()
	conf    *settings.Settings
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:           "build-helper",
	Short:         "Build helper for the OpenWrt-K CI workflow",
	Version:       BuildHelperVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.Bind(v, cmd.Flags()); err != nil {
			return err
		}
		conf = settings.Load(v)
		if cmd.Annotations["log-file"] != "true" {
			utils.InitLogger(conf.Debug, nil)
			return nil
		}
		p, err := paths.New(conf.Workspace, conf.RepoDir)
		if err != nil {
			return err
		}
		logPath, err := p.Log()
		if err != nil {
			return err
		}
		logFile, err = os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		utils.InitLogger(conf.Debug, logFile)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(settings.KeyWorkspace, "", "Workspace root (defaults to GITHUB_WORKSPACE or the working directory)")
	flags.String(settings.KeyRepoDir, "", "Checked out build repository with files/ and patches/ (defaults to the workspace)")
	flags.String(settings.KeyToken, "", "GitHub token (defaults to INPUT_TOKEN or GITHUB_TOKEN)")
	flags.String(settings.KeyRepository, "", "Repository as owner/name (defaults to GITHUB_REPOSITORY)")
	flags.String(settings.KeyRunID, "", "Workflow run id (defaults to GITHUB_RUN_ID)")
	flags.String(settings.KeyJob, "", "Job id (defaults to GITHUB_JOB)")
	flags.String(settings.KeyOutput, "", "Step output file (defaults to GITHUB_OUTPUT)")
	flags.String(settings.KeyArtifactStore, "", "Artifact store: github or a bucket URL such as file:///tmp/artifacts or s3://bucket")
	flags.String(settings.KeyS3Bucket, "", "Mirror release assets to this S3 bucket")
	flags.String(settings.KeyS3Prefix, "", "Key prefix for mirrored release assets")
	flags.String(settings.KeyAWSProfile, "", "AWS profile for the release mirror")
	flags.String(settings.KeyAPIURL, "", "GitHub API base URL")
	flags.Bool(settings.KeyDebug, false, "Enable debug logging")

	rootCmd.AddCommand(newPrepareCmd())
	rootCmd.AddCommand(newStageCmd())
	rootCmd.AddCommand(newReleaseCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newHashCmd())
	rootCmd.AddCommand(newCacheKeyCmd())
	rootCmd.AddCommand(newCleanCmd())
}
