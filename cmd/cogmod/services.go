// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"cogmod-cli/internal/config"
	"cogmod-cli/pkg/archive"
	"cogmod-cli/pkg/installer"
	"cogmod-cli/pkg/registry"
)

// newRegistryClient builds the registry client from configuration. The index
// cache lives under the user cache directory; when that cannot be resolved
// the client simply runs uncached.
func newRegistryClient(cfg *config.Config) *registry.Client {
	opts := []registry.ClientOption{
		registry.WithUserAgent("cogmod/" + Version),
	}

	if dir, err := os.UserCacheDir(); err == nil {
		opts = append(opts, registry.WithCacheDir(filepath.Join(dir, config.AppName, "registry")))
	}
	opts = append(opts, registry.WithCacheTTL(time.Duration(cfg.Registry.CacheTTLMinutes)*time.Minute))

	if cfg.Limits.IndexMaxBytes > 0 {
		opts = append(opts, registry.WithMaxIndexBytes(cfg.Limits.IndexMaxBytes))
	}

	return registry.NewClient(opts...)
}

// archiveLimits translates configured extraction quotas, keeping package
// defaults for any unset field.
func archiveLimits(cfg *config.Config) archive.Limits {
	limits := archive.DefaultLimits()
	if cfg.Limits.MaxFiles > 0 {
		limits.MaxFiles = cfg.Limits.MaxFiles
	}
	if cfg.Limits.MaxTotalBytes > 0 {
		limits.MaxTotalBytes = cfg.Limits.MaxTotalBytes
	}
	if cfg.Limits.MaxSingleFileBytes > 0 {
		limits.MaxSingleFileBytes = cfg.Limits.MaxSingleFileBytes
	}
	if cfg.Limits.MaxTarBytes > 0 {
		limits.MaxTarBytes = cfg.Limits.MaxTarBytes
	}
	return limits
}

// resolveModulesDir picks the install root: the configured modules_dir when
// set (with ~ expanded), the platform default otherwise.
func resolveModulesDir(cfg *config.Config) (string, error) {
	if cfg.ModulesDir != "" {
		return expandHome(string(cfg.ModulesDir))
	}
	return config.ModulesDir()
}

// expandHome rewrites a leading ~/ against the user home directory.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")), nil
	}
	return path, nil
}

// newInstaller assembles the installer from configuration. The modules
// directory is created on demand so a fresh machine works without a setup
// step.
func newInstaller(cfg *config.Config) (*installer.Installer, error) {
	modulesDir, err := resolveModulesDir(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(modulesDir, 0o755); err != nil {
		return nil, err
	}

	opts := []installer.Option{
		installer.WithRegistry(string(cfg.Registry.URL), newRegistryClient(cfg)),
		installer.WithArchiveLimits(archiveLimits(cfg)),
		installer.WithRequireRegistryDistribution(cfg.Policy.RequireRegistryDistribution),
		installer.WithLogger(pipelineLogger()),
	}
	if cfg.Limits.TarballMaxBytes > 0 {
		opts = append(opts, installer.WithMaxDownloadBytes(cfg.Limits.TarballMaxBytes))
	}

	return installer.New(modulesDir, opts...), nil
}

// pipelineLogger returns the diagnostic logger for pipeline internals.
// Debug detail only appears with --verbose; otherwise the logger discards.
func pipelineLogger() *log.Logger {
	if !verbose {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "cogmod",
	})
	logger.SetLevel(log.DebugLevel)
	return logger
}
