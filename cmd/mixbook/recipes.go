package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mixbook/internal/search"
)

func (c *cli) listCmd() *cobra.Command {
	var favorites bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every visible recipe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if favorites {
				return c.printRecipes(cmd.OutOrStdout(), c.app.Store.FavoriteRecipes())
			}
			return c.printRecipes(cmd.OutOrStdout(), c.app.Store.Recipes())
		},
	}
	cmd.Flags().BoolVarP(&favorites, "favorites", "f", false, "only list favorites")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		mode        string
		name        string
		ingredients []string
		keywords    []string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search recipes by name, ingredient or keyword",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			s := c.app.Store

			switch mode {
			case "simple":
				return c.printRecipes(cmd.OutOrStdout(), search.Simple(s.Recipes(), query))
			case "advanced":
				if name == "" {
					name = query
				}
				return c.printRecipes(cmd.OutOrStdout(), search.Advanced(s.Recipes(), search.Criteria{
					Name:        name,
					Ingredients: ingredients,
					Keywords:    keywords,
				}))
			case "fuzzy":
				return c.printRecipes(cmd.OutOrStdout(), c.app.Search.Fuzzy(s.Snapshot(), query, search.Filters{
					Ingredients: ingredients,
					Keywords:    keywords,
				}))
			default:
				return fmt.Errorf("unknown search mode %q", mode)
			}
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "fuzzy", "search mode: simple, advanced or fuzzy")
	cmd.Flags().StringVar(&name, "name", "", "name filter (advanced mode)")
	cmd.Flags().StringSliceVarP(&ingredients, "ingredient", "i", nil, "required ingredient, repeatable")
	cmd.Flags().StringSliceVarP(&keywords, "keyword", "k", nil, "required keyword, repeatable")
	return cmd
}

func (c *cli) favoriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <slug>",
		Short: "Toggle a recipe's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			if _, ok := c.app.Store.Recipe(slug); !ok {
				return fmt.Errorf("recipe %q not found", slug)
			}
			if c.app.Store.ToggleFavorite(cmd.Context(), slug) {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to favorites.\n", slug)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from favorites.\n", slug)
			}
			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [slug]",
		Short: "Delete a user recipe, or every user recipe with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				n := c.app.Store.DeleteAllUserRecipes(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d recipes.\n", n)
				return nil
			}
			if err := c.app.Store.DeleteUserRecipe(cmd.Context(), args[0]); err != nil {
				if !c.app.Store.IsUserRecipe(args[0]) {
					if _, static := c.app.Store.Recipe(args[0]); static {
						return errors.New("catalog recipes cannot be deleted")
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every user recipe")
	return cmd
}
