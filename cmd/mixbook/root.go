package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mixbook/internal/app"
	"mixbook/internal/config"
	"mixbook/internal/recipe"
)

// cli carries the state shared by every subcommand.
type cli struct {
	cfgFile string
	verbose bool
	asJSON  bool

	app *app.App
}

// newRootCmd builds the command tree. The caller closes c after Execute.
func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:          "mixbook",
		Short:        "Browse, search and manage a cocktail recipe collection",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "config.json", "path to config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print recipes as JSON")

	root.AddCommand(
		c.listCmd(),
		c.searchCmd(),
		c.favoriteCmd(),
		c.deleteCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.prefetchCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := zap.NewNop()
	if c.verbose || cfg.Debug {
		if logger, err = app.NewLogger(true); err != nil {
			return err
		}
	}

	a, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	if err := a.WaitCatalog(cmd.Context()); err != nil {
		a.Close()
		return fmt.Errorf("load catalog: %w", err)
	}
	c.app = a
	return nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	_ = c.app.Logger.Sync()
	err := c.app.Close()
	c.app = nil
	return err
}

// printRecipes writes one line per recipe, or a JSON array with --json.
func (c *cli) printRecipes(w io.Writer, recipes []recipe.Recipe) error {
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recipes)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range recipes {
		var flags string
		if c.app.Store.IsUserRecipe(r.Slug) {
			flags += "user "
		}
		if c.app.Store.IsFavorite(r.Slug) {
			flags += "favorite"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Slug, r.Name, flags)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d recipes\n", len(recipes))
	return nil
}
