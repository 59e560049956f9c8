// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/cogmod/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/cogmod/config.cue on macOS, %APPDATA%\cogmod\config.cue
// on Windows). The package provides type-safe configuration access and covers the registry
// client, the modules install root, download and extraction limits, verification
// concurrency, install policy, and UI settings.
//
// Configuration validation is performed against a CUE schema (config_schema.cue) to ensure
// type safety and provide clear error messages for invalid configurations.
package config
