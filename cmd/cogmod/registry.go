// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cogmod-cli/pkg/assets"
)

// newRegistryCommand creates the `cogmod registry` command group for
// publisher-side asset work.
func newRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Build and verify registry assets",
		Long: `Build and verify the assets a module registry publishes.

'build' packages module directories into deterministic tarballs and
writes the index document that describes them. 'verify' downloads (or
reads) the published assets and confirms every tarball matches its
declared checksum, size, and layout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRegistryBuildCommand())
	cmd.AddCommand(newRegistryVerifyCommand())

	return cmd
}

// registryBuildParams bundles the flags for `registry build`.
type registryBuildParams struct {
	stdout io.Writer
	stderr io.Writer
	opts   assets.BuildOptions
}

// newRegistryBuildCommand creates the `cogmod registry build` command.
func newRegistryBuildCommand() *cobra.Command {
	var (
		modulesDir string
		outDir     string
		indexOut   string
		tag        string
		baseURL    string
		namespace  string
		runtimeMin string
		license    string
		repository string
		homepage   string
		timestamp  string
		only       []string
		legacyPath string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Package modules into registry tarballs and an index",
		Long: `Package each module directory into a deterministic tarball and write
the registry index describing the result.

Tarballs are bit-for-bit reproducible for identical input: members are
sorted, owned by root, and stamped with a fixed epoch. The index embeds
each tarball's sha256 checksum, so 'verify' and every installing client
can gate extraction on it.

With --tag (or --base-url) the index references the published download
URLs; without either it references bare filenames, which is the local
dry-run mode.`,
		Example: `  # Dry run against ./modules into ./dist
  cogmod registry build --modules-dir ./modules --out ./dist

  # Publish-ready index for a tagged release
  cogmod registry build --modules-dir ./modules --out ./dist \
    --repository https://github.com/cognary/cognitive --tag v2.4.0

  # Rebuild only one module, enriched from the v1 index
  cogmod registry build --modules-dir ./modules --out ./dist \
    --only memory-bank --legacy-registry ./registry.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			p := registryBuildParams{
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				opts: assets.BuildOptions{
					ModulesDir:         modulesDir,
					OutDir:             outDir,
					IndexOut:           indexOut,
					Tag:                tag,
					TarballBaseURL:     baseURL,
					Namespace:          namespace,
					RuntimeMin:         runtimeMin,
					License:            license,
					Repository:         repository,
					Homepage:           homepage,
					Timestamp:          timestamp,
					Only:               only,
					LegacyRegistryPath: legacyPath,
					Logger:             pipelineLogger(),
				},
			}

			return runRegistryBuild(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVar(&modulesDir, "modules-dir", "modules", "directory holding one subdirectory per module")
	cmd.Flags().StringVar(&outDir, "out", "dist", "output directory for tarballs and the index")
	cmd.Flags().StringVar(&indexOut, "index-out", "", "index file path (default <out>/index.json)")
	cmd.Flags().StringVar(&tag, "tag", "", "release tag the published tarball URLs point into")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "replace the release download URL prefix wholesale")
	cmd.Flags().StringVar(&namespace, "namespace", "", "identity namespace for published entries")
	cmd.Flags().StringVar(&runtimeMin, "runtime-min", "", "minimum runtime version for published entries")
	cmd.Flags().StringVar(&license, "license", "", "license recorded in published metadata")
	cmd.Flags().StringVar(&repository, "repository", "", "repository URL, also the release URL base")
	cmd.Flags().StringVar(&homepage, "homepage", "", "homepage URL recorded in published metadata")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "fixed RFC 3339 timestamp for reproducible builds")
	cmd.Flags().StringSliceVar(&only, "only", nil, "limit the build to the named modules")
	cmd.Flags().StringVar(&legacyPath, "legacy-registry", "", "v1 index whose metadata enriches published entries")

	return cmd
}

// runRegistryBuild is the core build logic, separated from Cobra for
// testability.
func runRegistryBuild(ctx context.Context, p registryBuildParams) error {
	fmt.Fprintln(p.stdout, TitleStyle.Render("Build Registry Assets"))

	result, err := assets.Build(ctx, p.opts)
	if err != nil {
		return reportPipelineError(p.stderr, err)
	}

	if len(result.Modules) == 0 {
		fmt.Fprintf(p.stdout, "%s No module directories found under %s\n", warnIcon, p.opts.ModulesDir)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(p.stdout)
	t.AppendHeader(table.Row{"Module", "Version", "Size", "Checksum"})
	for _, mod := range result.Modules {
		t.AppendRow(table.Row{
			mod.Name,
			mod.Version,
			humanize.Bytes(uint64(mod.SizeBytes)),
			shortChecksum(mod.Checksum),
		})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	fmt.Fprintln(p.stdout)
	fmt.Fprintf(p.stdout, "%s Packaged %d module(s)\n", successIcon, len(result.Modules))
	fmt.Fprintf(p.stdout, "%s Index written to %s\n", successIcon, SubtitleStyle.Render(result.IndexPath))

	return nil
}

// shortChecksum abbreviates a sha256:<hex> checksum for table display.
func shortChecksum(checksum string) string {
	const visible = len("sha256:") + 12
	if len(checksum) > visible {
		return checksum[:visible] + "…"
	}
	return checksum
}

// registryVerifyParams bundles the flags for `registry verify`.
type registryVerifyParams struct {
	stdout  io.Writer
	stderr  io.Writer
	opts    assets.VerifyOptions
	jsonOut bool
}

// newRegistryVerifyCommand creates the `cogmod registry verify` command.
func newRegistryVerifyCommand() *cobra.Command {
	var (
		indexURL    string
		indexPath   string
		assetsDir   string
		concurrency int
		maxTarball  int64
		timeout     time.Duration
		checkFiles  bool
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify published registry assets against their index",
		Long: `Verify that every tarball a registry index declares is present,
matches its sha256 checksum and declared size, and extracts safely
within the configured quotas.

Remote mode (--index-url) downloads the index and every tarball over
HTTP with bounded concurrency. Local mode (--index-path) checks files
on disk, which is the pre-publication gate for 'registry build' output.`,
		Example: `  # Check a built dist directory before publishing
  cogmod registry verify --index-path ./dist/index.json

  # Check the live registry
  cogmod registry verify --index-url https://cognary.github.io/cognitive/cognitive-registry.v2.json

  # Also confirm every listed file exists inside its tarball
  cogmod registry verify --index-path ./dist/index.json --check-files`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			cfg := currentConfig()

			if indexURL == "" && indexPath == "" {
				indexURL = string(cfg.Registry.URL)
			}
			if concurrency == 0 {
				concurrency = cfg.Verify.Concurrency
			}

			p := registryVerifyParams{
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				opts: assets.VerifyOptions{
					IndexURL:        indexURL,
					IndexPath:       indexPath,
					AssetsDir:       assetsDir,
					Concurrency:     concurrency,
					Limits:          archiveLimits(cfg),
					MaxTarballBytes: maxTarball,
					Timeout:         timeout,
					CheckFiles:      checkFiles,
					Logger:          pipelineLogger(),
				},
				jsonOut: jsonOut,
			}

			return runRegistryVerify(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVar(&indexURL, "index-url", "", "verify a published index over HTTP (default: configured registry)")
	cmd.Flags().StringVar(&indexPath, "index-path", "", "verify an index file and tarballs on disk")
	cmd.Flags().StringVar(&assetsDir, "assets-dir", "", "where local mode finds tarballs (default: the index file's directory)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel downloads in remote mode (default: configured)")
	cmd.Flags().Int64Var(&maxTarball, "max-tarball-bytes", 0, "per-tarball download cap in bytes")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout in remote mode")
	cmd.Flags().BoolVar(&checkFiles, "check-files", false, "confirm every listed file exists inside its tarball")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the verification report as JSON")
	cmd.MarkFlagsMutuallyExclusive("index-url", "index-path")

	return cmd
}

// runRegistryVerify is the core verification logic, separated from Cobra for
// testability. Any failing module makes the command exit non-zero.
func runRegistryVerify(ctx context.Context, p registryVerifyParams) error {
	result, err := assets.Verify(ctx, p.opts)
	if err != nil {
		return reportPipelineError(p.stderr, err)
	}

	if p.jsonOut {
		enc := json.NewEncoder(p.stdout)
		enc.SetIndent("", "  ")
		if encodeErr := enc.Encode(result); encodeErr != nil {
			return encodeErr
		}
	} else {
		printVerifyReport(p.stdout, result)
	}

	if !result.OK {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d module(s) failed verification",
			result.Failed, result.Passed+result.Failed)}
	}
	return nil
}

// printVerifyReport renders the human-readable verification summary.
func printVerifyReport(w io.Writer, result *assets.VerifyResult) {
	fmt.Fprintln(w, TitleStyle.Render("Verify Registry Assets"))

	for _, fail := range result.Failures {
		fmt.Fprintf(w, "%s %s [%s]: %s\n", errorIcon,
			CmdStyle.Render(fail.Module), fail.Phase, fail.Message)
	}
	if len(result.Failures) > 0 {
		fmt.Fprintln(w)
	}

	if result.OK {
		fmt.Fprintf(w, "%s %d module(s) verified\n", successIcon, result.Passed)
		return
	}
	fmt.Fprintf(w, "%s %d passed, %s\n", errorIcon, result.Passed,
		ErrorStyle.Render(fmt.Sprintf("%d failed", result.Failed)))
}
