package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/elabmate/pkg/elab"
	"github.com/ajitpratap0/elabmate/pkg/json"
)

func (a *app) experimentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Create and edit experiments",
		Long: `Create and edit experiments.

Subcommands taking an EXPERIMENT accept either its numeric id or its title.`,
	}
	cmd.AddCommand(
		a.createCommand(),
		a.showCommand(),
		a.textCommand(),
		a.tagCommand(),
		a.stepCommand(),
		a.commentCommand(),
		a.uploadCommand(),
		a.downloadCommand(),
		a.filesCommand(),
	)
	return cmd
}

// openExperiment resolves ref as an id, or as a title when it is not a number.
func openExperiment(ctx context.Context, c *elab.Client, ref string) (*elab.Experiment, error) {
	if id, err := strconv.Atoi(ref); err == nil {
		return c.GetExperiment(ctx, id)
	}
	return c.LoadExperiment(ctx, ref)
}

func (a *app) createCommand() *cobra.Command {
	var (
		template, category, status, body string
		tags                             []string
	)
	cmd := &cobra.Command{
		Use:   "create TITLE",
		Short: "Create an experiment and print its id",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		var opts []elab.CreateOption
		if category != "" {
			opts = append(opts, elab.WithCategory(category))
		}
		if status != "" {
			opts = append(opts, elab.WithStatus(status))
		}

		var (
			exp *elab.Experiment
			err error
		)
		if template != "" {
			exp, err = c.CreateExperimentFromTemplate(ctx, args[0], template, opts...)
		} else {
			exp, err = c.CreateExperiment(ctx, args[0], opts...)
		}
		if err != nil {
			return err
		}

		if body != "" {
			if err := exp.SetMainText(ctx, body); err != nil {
				return err
			}
		}
		for _, tag := range tags {
			if err := exp.AddTag(ctx, tag); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), exp.ID())
		return nil
	})

	cmd.Flags().StringVar(&template, "template", "", "Create from the template with this title")
	cmd.Flags().StringVar(&category, "category", "", "Category title")
	cmd.Flags().StringVar(&status, "status", "", "Status title")
	cmd.Flags().StringVar(&body, "body", "", "Main text (HTML)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to attach, repeatable")
	return cmd
}

// experimentView is what `experiment show` prints.
type experimentView struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	Category string   `json:"category,omitempty"`
	Status   string   `json:"status,omitempty"`
	Tags     []string `json:"tags"`
	Steps    []string `json:"steps"`
	Comments []string `json:"comments"`
	Files    []string `json:"files"`
	Body     string   `json:"body"`
}

func (a *app) showCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show EXPERIMENT",
		Short: "Print an experiment as JSON",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		view := experimentView{ID: exp.ID(), Title: exp.Title(), Body: exp.MainText()}
		if data := exp.Data(); data != nil {
			view.Category = data.CategoryTitle
			view.Status = data.StatusTitle
		}
		if view.Tags, err = exp.Tags(ctx); err != nil {
			return err
		}
		if view.Steps, err = exp.Steps(ctx); err != nil {
			return err
		}
		if view.Comments, err = exp.Comments(ctx); err != nil {
			return err
		}
		files, err := exp.Files(ctx)
		if err != nil {
			return err
		}
		view.Files = make([]string, 0, len(files))
		for _, f := range files {
			view.Files = append(view.Files, f.RealName)
		}

		return json.EncodeIndent(cmd.OutOrStdout(), view, "  ")
	})
	return cmd
}

func (a *app) textCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "text EXPERIMENT TEXT",
		Short: "Replace the main text; TEXT - reads it from stdin",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		text := args[1]
		if text == "-" {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			text = string(raw)
		}
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		return exp.SetMainText(ctx, text)
	})
	return cmd
}

func (a *app) tagCommand() *cobra.Command {
	var remove, clearAll bool
	cmd := &cobra.Command{
		Use:   "tag EXPERIMENT [TAG...]",
		Short: "Attach, remove or clear tags, then print the tags",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		if clearAll {
			if err := exp.ClearTags(ctx); err != nil {
				return err
			}
		}
		for _, tag := range args[1:] {
			if remove {
				err = exp.RemoveTag(ctx, tag)
			} else {
				err = exp.AddTag(ctx, tag)
			}
			if err != nil {
				return err
			}
		}
		tags, err := exp.Tags(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(tags, "\n"))
		return nil
	})
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the given tags instead of attaching them")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Remove every tag first")
	return cmd
}

func (a *app) stepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step EXPERIMENT TEXT",
		Short: "Append a step",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		return exp.AddStep(ctx, args[1])
	})
	return cmd
}

func (a *app) commentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment EXPERIMENT TEXT",
		Short: "Append a comment",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		return exp.AddComment(ctx, args[1])
	})
	return cmd
}

func (a *app) uploadCommand() *cobra.Command {
	var (
		comment              string
		noReplace, sizeMatch bool
	)
	cmd := &cobra.Command{
		Use:   "upload EXPERIMENT FILE...",
		Short: "Upload files, skipping those the server already has",
		Args:  cobra.MinimumNArgs(2),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		opts := []elab.UploadOption{elab.WithComment(comment)}
		if noReplace {
			opts = append(opts, elab.WithoutReplace())
		}
		if sizeMatch {
			opts = append(opts, elab.WithSizeFallback())
		}
		for _, path := range args[1:] {
			outcome, err := exp.UploadFile(ctx, path, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", filepath.Base(path), outcome)
		}
		return nil
	})
	cmd.Flags().StringVar(&comment, "comment", elab.DefaultUploadComment, "Upload comment")
	cmd.Flags().BoolVar(&noReplace, "no-replace", false, "Always create a new attachment")
	cmd.Flags().BoolVar(&sizeMatch, "size-fallback", false, "Compare sizes when the server exposes no hash")
	return cmd
}

func (a *app) downloadCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download EXPERIMENT NAME",
		Short: "Download the newest attachment called NAME",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		upload, err := exp.File(ctx, args[1])
		if err != nil {
			return err
		}
		dest := output
		if dest == "" {
			dest = upload.RealName
		}
		if err := exp.DownloadFile(ctx, upload.ID, dest); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dest)
		return nil
	})
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path (default: the attachment name)")
	return cmd
}

func (a *app) filesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files EXPERIMENT",
		Short: "List attachments",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.withClient(func(ctx context.Context, c *elab.Client, args []string) error {
		exp, err := openExperiment(ctx, c, args[0])
		if err != nil {
			return err
		}
		files, err := exp.Files(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSIZE\tCREATED")
		for _, f := range files {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", f.ID, f.RealName, f.Filesize, f.CreatedAt)
		}
		return w.Flush()
	})
	return cmd
}
