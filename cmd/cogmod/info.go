// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cogmod-cli/pkg/fault"
	"cogmod-cli/pkg/installer"
	"cogmod-cli/pkg/registry"
)

// infoParams bundles the dependencies and arguments for the info command.
type infoParams struct {
	stdout   io.Writer
	stderr   io.Writer
	inst     *installer.Installer
	client   *registry.Client
	indexURL string
	name     string
}

// newInfoCommand creates the `cogmod info` command.
func newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show details for a module",
		Long: `Show details for a module. Installed modules show their manifest
entry, on-disk descriptor, and provenance record. Names not in the
install manifest fall back to a registry index lookup.`,
		Example: `  cogmod info memory-bank`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			cfg := currentConfig()

			inst, err := newInstaller(cfg)
			if err != nil {
				return err
			}

			p := infoParams{
				stdout:   cmd.OutOrStdout(),
				stderr:   cmd.ErrOrStderr(),
				inst:     inst,
				client:   newRegistryClient(cfg),
				indexURL: string(cfg.Registry.URL),
				name:     args[0],
			}

			return runInfo(cmd.Context(), p)
		},
	}

	return cmd
}

// runInfo is the core info logic, separated from Cobra for testability.
// Installed modules win; only names absent from the manifest consult the
// registry index.
func runInfo(ctx context.Context, p infoParams) error {
	detail, err := p.inst.Info(p.name)
	if err == nil {
		printInstalledInfo(p.stdout, detail)
		return nil
	}
	if !errors.Is(err, fault.ErrManifestNotFound) {
		return reportPipelineError(p.stderr, err)
	}

	idx, fetchErr := p.client.FetchIndex(ctx, p.indexURL)
	if fetchErr != nil {
		return reportPipelineError(p.stderr, fetchErr)
	}
	info, ok := idx.Lookup(p.name)
	if !ok {
		return reportPipelineError(p.stderr, &fault.Error{
			Kind: fault.ErrModuleNotFound,
			Op:   "info",
			Path: p.name,
		})
	}

	printRegistryInfo(p.stdout, info)
	return nil
}

// printInstalledInfo renders the manifest entry, descriptor, and provenance
// for an installed module.
func printInstalledInfo(w io.Writer, detail *installer.ModuleDetail) {
	fmt.Fprintln(w, TitleStyle.Render(detail.Name))

	fmt.Fprintf(w, "%s Version:   %s\n", infoIcon, SuccessStyle.Render(moduleVersion(detail.Entry, detail.Descriptor)))
	fmt.Fprintf(w, "%s Source:    %s\n", infoIcon, detail.Entry.Source)
	fmt.Fprintf(w, "%s Location:  %s\n", infoIcon, SubtitleStyle.Render(detail.Entry.Location))
	fmt.Fprintf(w, "%s Installed: %s\n", infoIcon, relativeTime(detail.Entry.InstalledAt))
	if detail.Entry.RequestedRef != "" {
		fmt.Fprintf(w, "%s Ref:       %s\n", infoIcon, detail.Entry.RequestedRef)
	}

	if desc := detail.Descriptor; desc != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, SubtitleStyle.Render("Descriptor:"))
		fmt.Fprintf(w, "  Tier:           %s\n", desc.Tier)
		fmt.Fprintf(w, "  Responsibility: %s\n", desc.Responsibility)
	}

	if prov := detail.Provenance; prov != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, SubtitleStyle.Render("Provenance:"))
		fmt.Fprintf(w, "  Origin:   %s\n", provenanceOrigin(prov))
		if prov.Integrity.Checksum != "" {
			fmt.Fprintf(w, "  Checksum: %s\n", prov.Integrity.Checksum)
		}
		if prov.Integrity.SizeBytes > 0 {
			fmt.Fprintf(w, "  Size:     %s\n", humanize.Bytes(uint64(prov.Integrity.SizeBytes)))
		}
		verified := errorIcon + " unverified"
		if prov.Integrity.Verified {
			verified = successIcon + " checksum verified"
		}
		fmt.Fprintf(w, "  Verified: %s\n", verified)
	}
}

// provenanceOrigin summarizes where a module's bytes came from.
func provenanceOrigin(prov *installer.Provenance) string {
	switch prov.Source.Type {
	case installer.SourceRegistryTarball:
		return fmt.Sprintf("registry %s (%s@%s)", prov.Source.Registry, prov.Source.Module, prov.Source.Version)
	case installer.SourceRepoArchive:
		origin := prov.Source.Repo + "@" + prov.Source.Ref
		if prov.Source.Commit != "" {
			origin += " (" + shortCommit(prov.Source.Commit) + ")"
		}
		return origin
	default:
		return prov.Source.Type
	}
}

// shortCommit abbreviates a commit SHA for display.
func shortCommit(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// printRegistryInfo renders a registry index entry for a module that is not
// installed locally.
func printRegistryInfo(w io.Writer, info registry.ModuleInfo) {
	fmt.Fprintln(w, TitleStyle.Render(info.Name)+" "+SubtitleStyle.Render("(not installed)"))

	fmt.Fprintf(w, "%s Version:     %s\n", infoIcon, SuccessStyle.Render(info.Version))
	if info.Description != "" {
		fmt.Fprintf(w, "%s Description: %s\n", infoIcon, info.Description)
	}
	if info.Author != "" {
		fmt.Fprintf(w, "%s Author:      %s\n", infoIcon, info.Author)
	}
	if info.Tier != "" {
		fmt.Fprintf(w, "%s Tier:        %s\n", infoIcon, info.Tier)
	}
	if len(info.Keywords) > 0 {
		fmt.Fprintf(w, "%s Keywords:    %v\n", infoIcon, info.Keywords)
	}
	if info.Deprecated {
		fmt.Fprintf(w, "%s This module is deprecated\n", warnIcon)
	}

	if info.HasDistribution() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, SubtitleStyle.Render("Distribution:"))
		fmt.Fprintf(w, "  Tarball:  %s\n", info.Tarball)
		if info.SizeBytes > 0 {
			fmt.Fprintf(w, "  Size:     %s\n", humanize.Bytes(uint64(info.SizeBytes)))
		}
		if info.Checksum != "" {
			fmt.Fprintf(w, "  Checksum: %s\n", info.Checksum)
		} else {
			fmt.Fprintf(w, "  Checksum: %s\n", ErrorStyle.Render("missing (not installable)"))
		}
	} else if info.Source != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s Source: %s\n", infoIcon, info.Source)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s Install with: %s\n", infoIcon, CmdStyle.Render("cogmod install "+info.Name))
}
