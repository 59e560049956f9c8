// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cogmod-cli/pkg/installer"
)

// removeParams bundles the dependencies and arguments for the remove command.
type removeParams struct {
	stdout io.Writer
	stderr io.Writer
	inst   *installer.Installer
	names  []string
}

// newRemoveCommand creates the `cogmod remove` command.
func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <name>...",
		Aliases: []string{"uninstall"},
		Short:   "Remove installed modules",
		Long: `Remove installed modules: delete their directories and drop their
manifest entries.

Only modules tracked by the install manifest can be removed; the
manifest entry and the files go together or not at all.`,
		Example: `  cogmod remove memory-bank
  cogmod remove memory-bank prompt-tools`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			inst, err := newInstaller(currentConfig())
			if err != nil {
				return err
			}

			p := removeParams{
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				inst:   inst,
				names:  args,
			}

			return runRemove(p)
		},
	}

	return cmd
}

// runRemove is the core removal logic, separated from Cobra for testability.
func runRemove(p removeParams) error {
	fmt.Fprintln(p.stdout, TitleStyle.Render("Remove Modules"))

	for _, name := range p.names {
		result, err := p.inst.Remove(name)
		if err != nil {
			return reportPipelineError(p.stderr, err)
		}

		fmt.Fprintf(p.stdout, "%s Removed %s\n", successIcon, CmdStyle.Render(result.Name))
		fmt.Fprintf(p.stdout, "%s Deleted %s\n", infoIcon, SubtitleStyle.Render(result.Location))
	}

	return nil
}
