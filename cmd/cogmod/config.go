// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"cogmod-cli/internal/config"
	"cogmod-cli/internal/issue"
	"cogmod-cli/pkg/types"
)

// newConfigCommand creates the `cogmod config` command tree.
func newConfigCommand() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cogmod configuration",
		Long: `Manage cogmod configuration.

Configuration is stored in:
  - Linux: ~/.config/cogmod/config.cue
  - macOS: ~/Library/Application Support/cogmod/config.cue
  - Windows: %APPDATA%\cogmod\config.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context())
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfigFile()
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath()
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd.Context(), args[0], args[1])
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output raw configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewProvider().Load(cmd.Context(), configLoadOptions())
			if err != nil {
				return err
			}

			cueContent := config.GenerateCUE(cfg)
			fmt.Print(cueContent)
			return nil
		},
	})

	return cfgCmd
}

// configLoadOptions honors the global --config flag.
func configLoadOptions() config.LoadOptions {
	opts := config.LoadOptions{}
	if cfgFile != "" {
		opts.ConfigFilePath = types.FilesystemPath(cfgFile)
	}
	return opts
}

func showConfig(ctx context.Context) error {
	cfg, err := config.NewProvider().Load(ctx, configLoadOptions())
	if err != nil {
		rendered, _ := issue.Get(issue.ConfigLoadFailedId).Render("dark")
		fmt.Fprint(os.Stderr, rendered)
		return err
	}

	// Style definitions using shared color palette
	headerStyle := TitleStyle
	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Println(headerStyle.Render("Current Configuration"))
	fmt.Println()

	// The provider does not cache resolved paths; derive the config file path
	// from the standard config directory the same way loading does.
	cfgDir, dirErr := config.ConfigDir()
	if dirErr == nil {
		cfgPath := cfgDir + "/config.cue"
		if fileExistsCheck(cfgPath) {
			fmt.Printf("%s: %s\n", keyStyle.Render("Config file"), cfgPath)
		} else {
			fmt.Printf("%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
		}
	} else {
		fmt.Printf("%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Println()

	fmt.Printf("%s:\n", keyStyle.Render("registry"))
	fmt.Printf("  url: %s\n", valueStyle.Render(cfg.Registry.URL.String()))
	fmt.Printf("  cache_ttl_minutes: %s\n", valueStyle.Render(strconv.Itoa(cfg.Registry.CacheTTLMinutes)))

	fmt.Println()
	if cfg.ModulesDir != "" {
		fmt.Printf("%s: %s\n", keyStyle.Render("modules_dir"), valueStyle.Render(cfg.ModulesDir.String()))
	} else if resolved, resolveErr := resolveModulesDir(cfg); resolveErr == nil {
		fmt.Printf("%s: %s %s\n", keyStyle.Render("modules_dir"), valueStyle.Render(resolved), SubtitleStyle.Render("(default)"))
	} else {
		fmt.Printf("%s: %s\n", keyStyle.Render("modules_dir"), SubtitleStyle.Render("(default)"))
	}

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("limits"))
	fmt.Printf("  index_max_bytes: %s\n", valueStyle.Render(strconv.FormatInt(cfg.Limits.IndexMaxBytes, 10)))
	fmt.Printf("  tarball_max_bytes: %s\n", valueStyle.Render(strconv.FormatInt(cfg.Limits.TarballMaxBytes, 10)))
	fmt.Printf("  max_files: %s\n", valueStyle.Render(strconv.Itoa(cfg.Limits.MaxFiles)))
	fmt.Printf("  max_total_bytes: %s\n", valueStyle.Render(strconv.FormatInt(cfg.Limits.MaxTotalBytes, 10)))
	fmt.Printf("  max_single_file_bytes: %s\n", valueStyle.Render(strconv.FormatInt(cfg.Limits.MaxSingleFileBytes, 10)))
	fmt.Printf("  max_tar_bytes: %s\n", valueStyle.Render(strconv.FormatInt(cfg.Limits.MaxTarBytes, 10)))

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("verify"))
	fmt.Printf("  concurrency: %s\n", valueStyle.Render(strconv.Itoa(cfg.Verify.Concurrency)))

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("policy"))
	fmt.Printf("  require_registry_distribution: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.Policy.RequireRegistryDistribution)))

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("ui"))
	fmt.Printf("  color_scheme: %s\n", valueStyle.Render(cfg.UI.ColorScheme.String()))
	fmt.Printf("  verbose: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.UI.Verbose)))

	return nil
}

func initConfigFile() error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	if err = config.CreateDefaultConfig(); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Printf("%s Created default configuration at %s/config.cue\n", SuccessStyle.Render("✓"), cfgDir)

	// Also create the modules directory
	modsDir, err := config.ModulesDir()
	if err == nil {
		if mkdirErr := config.EnsureModulesDir(); mkdirErr != nil {
			fmt.Fprintf(os.Stderr, "%s Could not create modules directory %s: %v\n", warnIcon, modsDir, mkdirErr)
		} else {
			fmt.Printf("%s Created modules directory at %s\n", SuccessStyle.Render("✓"), modsDir)
		}
	} else {
		fmt.Fprintf(os.Stderr, "%s Could not determine modules directory: %v\n", warnIcon, err)
	}

	return nil
}

func showConfigPath() error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Printf("Config directory: %s\n", cfgDir)
	fmt.Printf("Config file: %s/config.cue\n", cfgDir)

	modsDir, err := resolveModulesDir(currentConfig())
	if err == nil {
		fmt.Printf("Modules directory: %s\n", modsDir)
	}

	return nil
}

func setConfigValue(ctx context.Context, key, value string) error {
	cfg, err := config.NewProvider().Load(ctx, configLoadOptions())
	if err != nil {
		return err
	}

	switch key {
	case "registry.url":
		u := config.RegistryURL(value)
		if valid, errs := u.IsValid(); !valid {
			return errs[0]
		}
		cfg.Registry.URL = u

	case "registry.cache_ttl_minutes":
		n, convErr := strconv.Atoi(value)
		if convErr != nil || n < 0 {
			return fmt.Errorf("invalid registry.cache_ttl_minutes: must be a non-negative integer")
		}
		cfg.Registry.CacheTTLMinutes = n

	case "modules_dir":
		p := config.DirPath(value)
		if valid, errs := p.IsValid(); !valid {
			return errs[0]
		}
		cfg.ModulesDir = p

	case "verify.concurrency":
		n, convErr := strconv.Atoi(value)
		if convErr != nil || n < 0 {
			return fmt.Errorf("invalid verify.concurrency: must be a non-negative integer")
		}
		cfg.Verify.Concurrency = n

	case "policy.require_registry_distribution":
		cfg.Policy.RequireRegistryDistribution = value == "true" || value == "1"

	case "ui.verbose":
		cfg.UI.Verbose = value == "true" || value == "1"

	case "ui.color_scheme":
		cs := config.ColorScheme(value)
		if valid, errs := cs.IsValid(); !valid {
			return errs[0]
		}
		cfg.UI.ColorScheme = cs

	default:
		return fmt.Errorf("unknown configuration key: %s\nValid keys: registry.url, registry.cache_ttl_minutes, modules_dir, verify.concurrency, policy.require_registry_distribution, ui.verbose, ui.color_scheme", key)
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s Set %s = %s\n", SuccessStyle.Render("✓"), key, value)
	return nil
}

// fileExistsCheck checks if a file exists and is not a directory.
func fileExistsCheck(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
