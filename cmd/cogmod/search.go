// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cogmod-cli/pkg/registry"
)

// descriptionColumnWidth caps the description column so rows stay on one line
// in ordinary terminals.
const descriptionColumnWidth = 56

// searchParams bundles the dependencies and arguments for the search command.
type searchParams struct {
	stdout   io.Writer
	stderr   io.Writer
	client   *registry.Client
	indexURL string
	query    string
}

// newSearchCommand creates the `cogmod search` command.
func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the module registry",
		Long: `Search the registry index for modules. Matching is case-insensitive
and ranks name matches above keyword and description hits. Without a
query, every registry entry is listed.`,
		Example: `  # Find modules related to memory
  cogmod search memory

  # List everything the registry publishes
  cogmod search`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			cfg := currentConfig()

			query := ""
			if len(args) > 0 {
				query = args[0]
			}

			p := searchParams{
				stdout:   cmd.OutOrStdout(),
				stderr:   cmd.ErrOrStderr(),
				client:   newRegistryClient(cfg),
				indexURL: string(cfg.Registry.URL),
				query:    query,
			}

			return runSearch(cmd.Context(), p)
		},
	}

	return cmd
}

// runSearch is the core search logic, separated from Cobra for testability.
func runSearch(ctx context.Context, p searchParams) error {
	idx, err := p.client.FetchIndex(ctx, p.indexURL)
	if err != nil {
		return reportPipelineError(p.stderr, err)
	}

	results := idx.Search(p.query)

	if p.query == "" {
		fmt.Fprintln(p.stdout, TitleStyle.Render("Registry Modules"))
	} else {
		fmt.Fprintln(p.stdout, TitleStyle.Render("Search Results"))
	}

	if len(results) == 0 {
		fmt.Fprintf(p.stdout, "%s No modules match %q\n", infoIcon, p.query)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(p.stdout)
	t.AppendHeader(table.Row{"Name", "Version", "Tier", "Description"})
	for _, res := range results {
		t.AppendRow(table.Row{
			searchName(res.ModuleInfo),
			res.Version,
			res.Tier,
			truncate(res.Description, descriptionColumnWidth),
		})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	fmt.Fprintf(p.stdout, "\n%s %d module(s) found\n", infoIcon, len(results))

	return nil
}

// searchName decorates deprecated entries so they are visible at a glance.
func searchName(info registry.ModuleInfo) string {
	if info.Deprecated {
		return info.Name + " " + WarningStyle.Render("(deprecated)")
	}
	return info.Name
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-1]) + "…"
}
