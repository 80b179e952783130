package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/output"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var dest string
	var chunks, retries int
	var headers []string

	cmd := &cobra.Command{
		Use:   "fetch [URL] [--dest PATH]",
		Short: "Download a file with retries and parallel range requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("invalid URL %q", args[0])
			}
			if dest == "" {
				dest = path.Base(u.Path)
				if dest == "/" || dest == "." {
					dest = "index.html"
				}
			}
			dl := downloader.New(utils.NewHTTPClient(utils.HTTPClientConfig{}))
			err = dl.Download(cmd.Context(), args[0], dest,
				downloader.WithChunks(chunks),
				downloader.WithRetries(retries),
				downloader.WithHeaders(utils.ParseHeaderArgs(headers)))
			if err != nil {
				return err
			}
			info, err := os.Stat(dest)
			if err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("%s %s (%s)", output.StyleSymbols["pass"], dest, utils.FormatBytes(uint64(info.Size()))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Destination path (defaults to the URL's file name)")
	cmd.Flags().IntVarP(&chunks, "chunks", "c", downloader.DefaultChunks, "Parallel range requests when the server supports them")
	cmd.Flags().IntVarP(&retries, "retries", "r", downloader.DefaultRetries, "Retries after the first attempt")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Bearer TOKEN'); can be specified multiple times")
	return cmd
}
