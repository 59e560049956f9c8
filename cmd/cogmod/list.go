// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cogmod-cli/pkg/installer"
	"cogmod-cli/pkg/modfile"
)

// listParams bundles the dependencies for the list command.
type listParams struct {
	stdout io.Writer
	stderr io.Writer
	inst   *installer.Installer
}

// newListCommand creates the `cogmod list` command.
func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed modules",
		Long: `List the modules recorded in the install manifest, with the version,
tier, and source captured at install time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			inst, err := newInstaller(currentConfig())
			if err != nil {
				return err
			}

			p := listParams{
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				inst:   inst,
			}

			return runList(p)
		},
	}

	return cmd
}

// runList is the core listing logic, separated from Cobra for testability.
func runList(p listParams) error {
	installed, err := p.inst.List()
	if err != nil {
		return reportPipelineError(p.stderr, err)
	}

	fmt.Fprintln(p.stdout, TitleStyle.Render("Installed Modules"))

	if len(installed) == 0 {
		fmt.Fprintf(p.stdout, "%s No modules installed\n", infoIcon)
		fmt.Fprintf(p.stdout, "%s To install one, use: %s\n", infoIcon, CmdStyle.Render("cogmod install <name>"))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(p.stdout)
	t.AppendHeader(table.Row{"Name", "Version", "Tier", "Source", "Installed"})
	for _, mod := range installed {
		t.AppendRow(table.Row{
			mod.Name,
			moduleVersion(mod.Entry, mod.Descriptor),
			moduleTier(mod.Descriptor),
			mod.Entry.Source,
			relativeTime(mod.Entry.InstalledAt),
		})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	fmt.Fprintf(p.stdout, "\n%s %d module(s) installed\n", infoIcon, len(installed))

	return nil
}

// moduleVersion prefers the version resolved at install time and falls back
// to the on-disk descriptor.
func moduleVersion(entry installer.ManifestEntry, desc *modfile.Descriptor) string {
	if entry.ResolvedVersion != "" {
		return entry.ResolvedVersion
	}
	if desc != nil {
		return desc.Version
	}
	return "-"
}

// moduleTier reads the tier from the on-disk descriptor, when present.
func moduleTier(desc *modfile.Descriptor) string {
	if desc != nil && desc.Tier != "" {
		return desc.Tier
	}
	return "-"
}

// relativeTime renders an RFC 3339 timestamp as a human-relative duration.
// Unparseable values pass through untouched.
func relativeTime(stamp string) string {
	if stamp == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return stamp
	}
	return humanize.RelTime(ts, time.Now(), "ago", "from now")
}
