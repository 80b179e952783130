package cmd

import (
	"os"
	"path/filepath"

	"github.com/openwrt-k/buildhelper/internal/output"
	"github.com/openwrt-k/buildhelper/internal/paths"
	"github.com/spf13/cobra"
)

// scratchDirs are the workspace directories the stages create.
var scratchDirs = []string{"workdir", "tmp", "uploads", "errorinfo"}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the scratch directories from the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := paths.New(conf.Workspace, conf.RepoDir)
			if err != nil {
				return err
			}
			output.PrintHeader("Cleaning " + p.Root)
			for _, dir := range scratchDirs {
				path := filepath.Join(p.Root, dir)
				if _, err := os.Lstat(path); os.IsNotExist(err) {
					output.PrintInfo(output.StyleSymbols["info"] + " " + dir + " not present")
					continue
				}
				if err := os.RemoveAll(path); err != nil {
					return err
				}
				output.PrintSuccess(output.StyleSymbols["pass"] + " removed " + path)
			}
			return nil
		},
	}
}
