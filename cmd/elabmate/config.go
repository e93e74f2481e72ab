package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/elabmate/pkg/elab"
)

func (a *app) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML, API key redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Redacted()); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		},
	}
}

// named is an id/title pair listed by the lookup commands.
type named struct {
	ID    int
	Title string
}

type lister func(ctx context.Context, c *elab.Client) ([]named, error)

func (a *app) lookupCommand(use, short string, list lister) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, _ []string) error {
		items, err := list(ctx, c)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE")
		for _, item := range items {
			fmt.Fprintf(w, "%d\t%s\n", item.ID, item.Title)
		}
		return w.Flush()
	})
	return cmd
}

func listCategories(ctx context.Context, c *elab.Client) ([]named, error) {
	categories, err := c.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]named, 0, len(categories))
	for _, cat := range categories {
		out = append(out, named{ID: cat.ID, Title: cat.Title})
	}
	return out, nil
}

func listStatuses(ctx context.Context, c *elab.Client) ([]named, error) {
	statuses, err := c.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]named, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, named{ID: s.ID, Title: s.Title})
	}
	return out, nil
}

func listTemplates(ctx context.Context, c *elab.Client) ([]named, error) {
	templates, err := c.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]named, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, named{ID: tpl.ID, Title: tpl.Title})
	}
	return out, nil
}
