package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loykin/keepr/pkg/client"
	"github.com/loykin/keepr/pkg/template"
)

// TemplateFlags holds flags for the template builtin command.
type TemplateFlags struct {
	ID       string
	Register bool
}

// TemplateListFlags holds flags for the template list command.
type TemplateListFlags struct {
	Category string
	Tags     []string
	JSON     bool
}

func (c command) TemplateList(ctx context.Context, w io.Writer, f TemplateListFlags) error {
	ts, err := c.client().Templates(ctx, client.TemplateQuery{Category: f.Category, Tags: f.Tags})
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(w, ts)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCATEGORY\tCOMMAND\tVARIABLES")
	for _, t := range ts {
		names := make([]string, 0, len(t.Variables))
		for _, v := range t.Variables {
			names = append(names, v.Name)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Category, t.Command, strings.Join(names, ","))
	}
	return tw.Flush()
}

// TemplateBuiltin prints a starter template, or registers it with the daemon
// when f.Register is set.
func (c command) TemplateBuiltin(ctx context.Context, w io.Writer, typ string, f TemplateFlags) error {
	t, err := template.NewGenerator().Generate(template.TemplateType(typ), f.ID)
	if err != nil {
		return err
	}
	if f.Register {
		if t, err = c.client().CreateTemplate(ctx, t); err != nil {
			return err
		}
	}
	printJSON(w, t)
	return nil
}

func (c command) TemplateInstantiate(ctx context.Context, w io.Writer, templateID, processID string, set []string) error {
	values, err := parsePairs(set)
	if err != nil {
		return err
	}
	p, err := c.client().Instantiate(ctx, templateID, processID, values)
	if err != nil {
		return err
	}
	printJSON(w, p)
	return nil
}

func (c command) TemplateDelete(ctx context.Context, w io.Writer, id string) error {
	if err := c.client().DeleteTemplate(ctx, id); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "template %s deleted\n", id)
	return nil
}

func createTemplateCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage process templates",
		Long: `Manage process templates.

Examples:
  keepr template list --category=development
  keepr template builtin web --id=site --register
  keepr template instantiate site docs --set=PORT=8080`,
	}

	lf := &TemplateListFlags{}
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered templates",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateList(cmd.Context(), cmd.OutOrStdout(), *lf)
		},
	}
	list.Flags().StringVar(&lf.Category, "category", "", "only templates in this category")
	list.Flags().StringSliceVar(&lf.Tags, "tag", nil, "only templates carrying every tag")
	list.Flags().BoolVar(&lf.JSON, "json", false, "print JSON")

	f := &TemplateFlags{}
	builtin := &cobra.Command{
		Use:       "builtin <type>",
		Short:     "Print a starter template",
		Long:      "Print a starter template. Supported types: " + strings.Join(template.NewGenerator().GetSupportedTypes(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: template.NewGenerator().GetSupportedTypes(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateBuiltin(cmd.Context(), cmd.OutOrStdout(), args[0], *f)
		},
	}
	builtin.Flags().StringVar(&f.ID, "id", "", "template id (defaults to the type)")
	builtin.Flags().BoolVar(&f.Register, "register", false, "register the template with the daemon")

	var set []string
	inst := &cobra.Command{
		Use:   "instantiate <template-id> <process-id>",
		Short: "Create a process from a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateInstantiate(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], set)
		},
	}
	inst.Flags().StringArrayVar(&set, "set", nil, "NAME=VALUE variable, repeatable")

	del := &cobra.Command{
		Use:     "delete <template-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a template",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateDelete(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	cmd.AddCommand(list, builtin, inst, del)
	return cmd
}
