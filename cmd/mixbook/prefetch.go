package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mixbook/internal/platform/prefetch"
)

func (c *cli) prefetchCmd() *cobra.Command {
	var baseURL, dir string

	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Download every recipe image for offline use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.app.Config
			if baseURL == "" {
				baseURL = cfg.PrefetchBaseURL
			}
			if dir == "" {
				dir = cfg.PrefetchDir
			}

			p := prefetch.New(baseURL, dir, cfg.PrefetchRPS, c.app.Logger.Named("prefetch"))
			out := cmd.OutOrStdout()
			stats, err := p.Run(cmd.Context(), c.app.Store.Recipes(), func(percent int) {
				fmt.Fprintf(out, "\rDownloading... %d%%", percent)
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Fetched %d of %d images (%d failed).\n", stats.Fetched, stats.Total, stats.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "server the image paths are resolved against")
	cmd.Flags().StringVar(&dir, "dir", "", "directory to write images to")
	return cmd
}
