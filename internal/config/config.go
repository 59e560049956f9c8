// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cogmod-cli/internal/issue"
	"cogmod-cli/pkg/cueutil"
	"cogmod-cli/pkg/platform"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "cogmod"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the cogmod configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	// Allow tests to override the config directory
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// ModulesDir returns the default install root for cognitive modules.
// The path is ~/.cogmod/modules on all platforms. A non-empty modules_dir
// in the configuration takes precedence over this default.
func ModulesDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cogmod", "modules"), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level cache state. Callers that want caching can wrap this function.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("registry.url", defaults.Registry.URL)
	v.SetDefault("registry.cache_ttl_minutes", defaults.Registry.CacheTTLMinutes)
	v.SetDefault("modules_dir", defaults.ModulesDir)
	v.SetDefault("limits.index_max_bytes", defaults.Limits.IndexMaxBytes)
	v.SetDefault("limits.tarball_max_bytes", defaults.Limits.TarballMaxBytes)
	v.SetDefault("limits.max_files", defaults.Limits.MaxFiles)
	v.SetDefault("limits.max_total_bytes", defaults.Limits.MaxTotalBytes)
	v.SetDefault("limits.max_single_file_bytes", defaults.Limits.MaxSingleFileBytes)
	v.SetDefault("limits.max_tar_bytes", defaults.Limits.MaxTarBytes)
	v.SetDefault("verify.concurrency", defaults.Verify.Concurrency)
	v.SetDefault("policy.require_registry_distribution", defaults.Policy.RequireRegistryDistribution)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)

	resolvedPath := ""

	// If a custom config file path is set via --config flag, use it exclusively.
	if opts.ConfigFilePath != "" {
		cfgPath := string(opts.ConfigFilePath)
		if !fileExists(cfgPath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(cfgPath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'cogmod config show' to see default configuration").
				Wrap(fmt.Errorf("config file not found: %s", cfgPath)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, cfgPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(cfgPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("See 'cogmod config --help' for configuration options").
				Wrap(err).
				BuildError()
		}
		resolvedPath = cfgPath
	} else {
		// Get config directory
		cfgDir, err := configDirWithOverride(string(opts.ConfigDirPath))
		if err != nil {
			return nil, "", err
		}

		// Try to load CUE config file
		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, "", issue.NewErrorContext().
					WithOperation("load configuration").
					WithResource(cuePath).
					WithSuggestion("Check that the file contains valid CUE syntax").
					WithSuggestion("Verify the configuration values match the expected schema").
					WithSuggestion("See 'cogmod config --help' for configuration options").
					Wrap(err).
					BuildError()
			}
			resolvedPath = cuePath
		} else {
			// Also check current directory
			localCuePath := ConfigFileName + "." + ConfigFileExt
			if fileExists(localCuePath) {
				if err := loadCUEIntoViper(v, localCuePath); err != nil {
					return nil, "", issue.NewErrorContext().
						WithOperation("load configuration").
						WithResource(localCuePath).
						WithSuggestion("Check that the file contains valid CUE syntax").
						WithSuggestion("Verify the configuration values match the expected schema").
						WithSuggestion("See 'cogmod config --help' for configuration options").
						Wrap(err).
						BuildError()
				}
				resolvedPath = localCuePath
			}
			// If no config file found, use defaults (no error)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate constraints that CUE cannot express: the registry URL must
	// parse as an absolute http(s) URL and paths must not be whitespace-only.
	if err := validateLoaded(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Set registry.url to an absolute http or https URL").
			WithSuggestion("Use 'cogmod config show' to see the effective configuration").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper. Decoding targets map[string]any rather
// than Config so Viper keeps its default/override layering; Concrete(false)
// because every config field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecodeString[map[string]any](configSchema, data, "#Config",
		cueutil.WithConcrete(false),
		cueutil.WithFilename(path),
	)
	if err != nil {
		return err
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// validateLoaded checks the decoded config for constraints the CUE schema
// cannot express. Field errors are aggregated through the IsValid chain.
func validateLoaded(cfg *Config) error {
	if valid, errs := cfg.IsValid(); !valid {
		return errors.Join(errs...)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// EnsureModulesDir creates the default modules directory if it doesn't exist
func EnsureModulesDir() error {
	modDir, err := ModulesDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(modDir, 0o755)
}

// CreateDefaultConfig creates a default config file if it doesn't exist
func CreateDefaultConfig() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		return nil // File exists
	}

	defaults := DefaultConfig()
	cueContent := GenerateCUE(defaults)

	if err := os.WriteFile(cfgPath, []byte(cueContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Save writes the current configuration to file
func Save(cfg *Config) error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	cueContent := GenerateCUE(cfg)

	if err := os.WriteFile(cfgPath, []byte(cueContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// Cogmod Configuration File\n")
	sb.WriteString("// See https://github.com/cognary/cogmod for documentation.\n\n")

	// Registry
	sb.WriteString("registry: {\n")
	sb.WriteString(fmt.Sprintf("\turl: %q\n", cfg.Registry.URL))
	sb.WriteString(fmt.Sprintf("\tcache_ttl_minutes: %d\n", cfg.Registry.CacheTTLMinutes))
	sb.WriteString("}\n")

	// Modules dir (omitted when empty so the default stays in effect)
	if cfg.ModulesDir != "" {
		sb.WriteString(fmt.Sprintf("\nmodules_dir: %q\n", cfg.ModulesDir))
	}

	// Limits
	sb.WriteString("\nlimits: {\n")
	sb.WriteString(fmt.Sprintf("\tindex_max_bytes: %d\n", cfg.Limits.IndexMaxBytes))
	sb.WriteString(fmt.Sprintf("\ttarball_max_bytes: %d\n", cfg.Limits.TarballMaxBytes))
	sb.WriteString(fmt.Sprintf("\tmax_files: %d\n", cfg.Limits.MaxFiles))
	sb.WriteString(fmt.Sprintf("\tmax_total_bytes: %d\n", cfg.Limits.MaxTotalBytes))
	sb.WriteString(fmt.Sprintf("\tmax_single_file_bytes: %d\n", cfg.Limits.MaxSingleFileBytes))
	sb.WriteString(fmt.Sprintf("\tmax_tar_bytes: %d\n", cfg.Limits.MaxTarBytes))
	sb.WriteString("}\n")

	// Verify
	sb.WriteString("\nverify: {\n")
	sb.WriteString(fmt.Sprintf("\tconcurrency: %d\n", cfg.Verify.Concurrency))
	sb.WriteString("}\n")

	// Policy
	sb.WriteString("\npolicy: {\n")
	sb.WriteString(fmt.Sprintf("\trequire_registry_distribution: %v\n", cfg.Policy.RequireRegistryDistribution))
	sb.WriteString("}\n")

	// UI config
	sb.WriteString("\nui: {\n")
	sb.WriteString(fmt.Sprintf("\tcolor_scheme: %q\n", cfg.UI.ColorScheme))
	sb.WriteString(fmt.Sprintf("\tverbose: %v\n", cfg.UI.Verbose))
	sb.WriteString("}\n")

	return sb.String()
}
