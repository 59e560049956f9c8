// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for cogmod.
//
// This package implements the Cobra command hierarchy for the cogmod CLI,
// including the root command, subcommands for installing and managing
// cognitive modules, registry asset publishing, and configuration.
package cmd
