// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cogmod-cli/pkg/installer"
)

// updateParams bundles the dependencies and flags for the update command.
type updateParams struct {
	stdout    io.Writer
	stderr    io.Writer
	inst      *installer.Installer
	names     []string
	all       bool   // --all: update every manifest entry
	pinnedRef string // --ref: move a repository install to a different ref
}

// newUpdateCommand creates the `cogmod update` command.
func newUpdateCommand() *cobra.Command {
	var (
		all       bool
		pinnedRef string
	)

	cmd := &cobra.Command{
		Use:   "update [name]...",
		Short: "Reinstall modules from their recorded sources",
		Long: `Update installed modules by reinstalling them from the source recorded
in the install manifest. Registry installs fetch whatever version the
index currently publishes; repository installs re-resolve the recorded
ref, or move to a new one given with --ref.

Only modules tracked by the manifest can be updated. Directories placed
in the modules directory by hand are invisible to this command.`,
		Example: `  # Update one module
  cogmod update memory-bank

  # Update everything the manifest tracks
  cogmod update --all

  # Move a repository install to a new tag
  cogmod update prompt-tools --ref v3.0.0`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			if len(args) == 0 && !all {
				return fmt.Errorf("name a module to update, or pass --all")
			}
			if pinnedRef != "" && (all || len(args) > 1) {
				return fmt.Errorf("--ref applies to a single module")
			}

			inst, err := newInstaller(currentConfig())
			if err != nil {
				return err
			}

			p := updateParams{
				stdout:    cmd.OutOrStdout(),
				stderr:    cmd.ErrOrStderr(),
				inst:      inst,
				names:     args,
				all:       all,
				pinnedRef: pinnedRef,
			}

			return runUpdate(cmd.Context(), p)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "update all installed modules")
	cmd.Flags().StringVar(&pinnedRef, "ref", "", "branch, tag, or commit to move a repository install to")

	return cmd
}

// runUpdate is the core update logic, separated from Cobra for testability.
func runUpdate(ctx context.Context, p updateParams) error {
	fmt.Fprintln(p.stdout, TitleStyle.Render("Update Modules"))

	names := p.names
	if p.all {
		installed, err := p.inst.List()
		if err != nil {
			return reportPipelineError(p.stderr, err)
		}
		if len(installed) == 0 {
			fmt.Fprintf(p.stdout, "%s No modules installed\n", infoIcon)
			return nil
		}
		names = make([]string, 0, len(installed))
		for _, mod := range installed {
			names = append(names, mod.Name)
		}
	}

	for _, name := range names {
		fmt.Fprintf(p.stdout, "%s Updating %s...\n", infoIcon, CmdStyle.Render(name))

		result, err := p.inst.Update(ctx, name, installer.UpdateOptions{PinnedRef: p.pinnedRef})
		if err != nil {
			return reportPipelineError(p.stderr, err)
		}

		if !result.Changed() {
			fmt.Fprintf(p.stdout, "%s %s unchanged at %s\n", successIcon,
				CmdStyle.Render(result.Name), result.NewVersion)
			continue
		}
		fmt.Fprintf(p.stdout, "%s %s %s → %s\n", successIcon,
			CmdStyle.Render(result.Name), result.OldVersion, SuccessStyle.Render(result.NewVersion))
	}

	return nil
}
