// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cogmod-cli/pkg/installer"
)

// installParams bundles the dependencies and flags for the install command,
// enabling the core logic in runInstall to be tested without a real Cobra
// command or network access.
type installParams struct {
	stdout     io.Writer
	stderr     io.Writer
	inst       *installer.Installer
	references []string
	renameTo   string // --rename: install under a different local name
	pinnedRef  string // --ref: branch, tag, or commit for repository installs
	replace    bool   // --replace: overwrite an existing module of the same name
}

// newInstallCommand creates the `cogmod install` command.
func newInstallCommand() *cobra.Command {
	var (
		renameTo  string
		pinnedRef string
		replace   bool
	)

	cmd := &cobra.Command{
		Use:   "install <reference>...",
		Short: "Install modules from the registry or a repository",
		Long: `Install one or more cognitive modules.

A reference is either a registry module name (optionally pinned with
@version), a repository shorthand like owner/repo, or a full repository
URL. Registry installs download the published tarball and verify its
sha256 checksum before anything is extracted; repository installs fetch
the archive for a resolved branch, tag, or commit.

Already-installed names are left untouched unless --replace is given.`,
		Example: `  # Install the latest published version from the registry
  cogmod install memory-bank

  # Pin a version
  cogmod install memory-bank@1.2.0

  # Install from a GitHub repository at a specific tag
  cogmod install owner/cognitive-modules --ref v2.1.0

  # Install a module under a different local name
  cogmod install memory-bank --rename scratchpad

  # Reinstall over an existing module
  cogmod install memory-bank --replace`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			if renameTo != "" && len(args) > 1 {
				return fmt.Errorf("--rename applies to a single module; got %d references", len(args))
			}

			inst, err := newInstaller(currentConfig())
			if err != nil {
				return err
			}

			p := installParams{
				stdout:     cmd.OutOrStdout(),
				stderr:     cmd.ErrOrStderr(),
				inst:       inst,
				references: args,
				renameTo:   renameTo,
				pinnedRef:  pinnedRef,
				replace:    replace,
			}

			return runInstall(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVar(&renameTo, "rename", "", "install under a different local name")
	cmd.Flags().StringVar(&pinnedRef, "ref", "", "branch, tag, or commit for repository installs")
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite an existing module of the same name")

	return cmd
}

// runInstall is the core install logic, separated from Cobra for testability.
// References install sequentially; the first failure stops the run.
func runInstall(ctx context.Context, p installParams) error {
	fmt.Fprintln(p.stdout, TitleStyle.Render("Install Modules"))

	for _, reference := range p.references {
		fmt.Fprintf(p.stdout, "%s Resolving %s...\n", infoIcon, CmdStyle.Render(reference))

		result, err := p.inst.Install(ctx, reference, installer.InstallOptions{
			RenameTo:  p.renameTo,
			PinnedRef: p.pinnedRef,
			Replace:   p.replace,
		})
		if err != nil {
			return reportPipelineError(p.stderr, err)
		}

		if result.AlreadyExists {
			fmt.Fprintf(p.stdout, "%s %s is already installed; use --replace to overwrite\n",
				warnIcon, CmdStyle.Render(result.Name))
			return &ExitError{Code: 1, Err: fmt.Errorf("module %s already installed", result.Name)}
		}

		fmt.Fprintf(p.stdout, "%s Installed %s %s\n", successIcon,
			CmdStyle.Render(result.Name), SuccessStyle.Render(result.Version))
		fmt.Fprintf(p.stdout, "%s Location: %s\n", infoIcon, SubtitleStyle.Render(result.Location))
		fmt.Fprintf(p.stdout, "%s Source:   %s\n", infoIcon, SubtitleStyle.Render(result.Source))
	}

	return nil
}
