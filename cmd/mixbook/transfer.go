package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mixbook/internal/store"
)

func (c *cli) exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:       "export recipes|favorites",
		Short:     "Write user recipes or favorites as JSON",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"recipes", "favorites"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any = c.app.Store.ExportRecipes()
			if args[0] == "favorites" {
				v = c.app.Store.ExportFavorites()
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var resolve string

	cmd := &cobra.Command{
		Use:       "import recipes|favorites <file>",
		Short:     "Merge user recipes or favorites from a JSON file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"recipes", "favorites"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch args[0] {
			case "favorites":
				res := c.app.Store.ImportFavorites(cmd.Context(), data)
				if !res.Success {
					return fmt.Errorf("%s", res.Message)
				}
				fmt.Fprintln(out, res.Message)
				return nil
			case "recipes":
			default:
				return fmt.Errorf("invalid argument %q, expected recipes or favorites", args[0])
			}

			var resolution store.Resolution
			if resolve != "" {
				if resolution, err = store.ParseResolution(resolve); err != nil {
					return err
				}
			}

			res := c.app.Store.ImportRecipes(cmd.Context(), data)
			if res.Success {
				fmt.Fprintln(out, res.Message)
				return nil
			}
			if res.Session == nil {
				return fmt.Errorf("%s", res.Message)
			}

			for _, conflict := range res.Conflicts {
				fmt.Fprintf(out, "conflict: %s (%s)\n", conflict.Incoming.Slug, conflict.Incoming.Name)
			}
			if resolution == 0 {
				c.app.Store.DiscardImport()
				return fmt.Errorf("%d conflicts, nothing imported; rerun with --resolve keep|overwrite", len(res.Conflicts))
			}

			var last store.ResolveResult
			for !res.Session.Done() {
				if last, err = res.Session.Resolve(cmd.Context(), resolution); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "%s %d conflicts resolved with %s, %d recipes added.\n",
				last.Message, len(res.Conflicts), resolution, last.Added)
			return nil
		},
	}
	cmd.Flags().StringVar(&resolve, "resolve", "", "resolve every conflict with keep or overwrite")
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
