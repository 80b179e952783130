package cmd

import (
	"fmt"

	"github.com/openwrt-k/buildhelper/internal/cachekey"
	"github.com/spf13/cobra"
)

func newHashCmd() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "hash [DIR]...",
		Short: "Print the content hash of one or more directory trees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := cachekey.HashDirs(algorithm, args...)
			if err != nil {
				return err
			}
			fmt.Println(sum)
			return nil
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", cachekey.DefaultAlgorithm, "Hash algorithm (md5, sha1, sha256, sha512)")
	return cmd
}
