// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultRegistryURL points at the published cognitive module index.
	DefaultRegistryURL RegistryURL = "https://cognary.github.io/cognitive/cognitive-registry.v2.json"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidRegistryURL is the sentinel error wrapped by InvalidRegistryURLError.
	ErrInvalidRegistryURL = errors.New("invalid registry URL")
	// ErrInvalidDirPath is returned when a DirPath value is whitespace-only.
	ErrInvalidDirPath = errors.New("invalid directory path")
	// ErrInvalidRegistryConfig is the sentinel error wrapped by InvalidRegistryConfigError.
	ErrInvalidRegistryConfig = errors.New("invalid registry config")
	// ErrInvalidLimitsConfig is the sentinel error wrapped by InvalidLimitsConfigError.
	ErrInvalidLimitsConfig = errors.New("invalid limits config")
	// ErrInvalidVerifyConfig is the sentinel error wrapped by InvalidVerifyConfigError.
	ErrInvalidVerifyConfig = errors.New("invalid verify config")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// RegistryURL is the address of a remote registry index document.
	// A valid value must parse as an absolute http or https URL with a host.
	RegistryURL string

	// InvalidRegistryURLError is returned when a RegistryURL value cannot be
	// used to reach a registry. It wraps ErrInvalidRegistryURL for errors.Is().
	InvalidRegistryURLError struct {
		Value  RegistryURL
		Reason string
	}

	// DirPath represents a filesystem path to a directory.
	// The zero value ("") is valid and means "use the default directory".
	// Non-zero values must not be whitespace-only.
	DirPath string

	// InvalidDirPathError is returned when a DirPath value is
	// non-empty but whitespace-only.
	InvalidDirPathError struct {
		Value DirPath
	}

	// InvalidRegistryConfigError is returned when a RegistryConfig has invalid fields.
	// It wraps ErrInvalidRegistryConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidRegistryConfigError struct {
		FieldErrors []error
	}

	// InvalidLimitsConfigError is returned when a LimitsConfig has invalid fields.
	// It wraps ErrInvalidLimitsConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidLimitsConfigError struct {
		FieldErrors []error
	}

	// InvalidVerifyConfigError is returned when a VerifyConfig has invalid fields.
	// It wraps ErrInvalidVerifyConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidVerifyConfigError struct {
		FieldErrors []error
	}

	// InvalidUIConfigError is returned when a UIConfig has invalid fields.
	// It wraps ErrInvalidUIConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Registry configures where the module index is fetched from.
		Registry RegistryConfig `json:"registry" mapstructure:"registry"`
		// ModulesDir overrides the default install root for modules.
		ModulesDir DirPath `json:"modules_dir" mapstructure:"modules_dir"`
		// Limits bounds download and extraction sizes.
		Limits LimitsConfig `json:"limits" mapstructure:"limits"`
		// Verify configures registry asset verification.
		Verify VerifyConfig `json:"verify" mapstructure:"verify"`
		// Policy configures install-time trust requirements.
		Policy PolicyConfig `json:"policy" mapstructure:"policy"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// RegistryConfig configures the registry index client.
	RegistryConfig struct {
		// URL is the address of the registry index document.
		URL RegistryURL `json:"url" mapstructure:"url"`
		// CacheTTLMinutes is how long a cached index stays fresh.
		// Zero disables index caching entirely.
		CacheTTLMinutes int `json:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	}

	// LimitsConfig bounds what downloads and extractions may consume.
	// A zero field falls back to the built-in default at the point of use.
	LimitsConfig struct {
		// IndexMaxBytes caps how much index JSON will be read.
		IndexMaxBytes int64 `json:"index_max_bytes" mapstructure:"index_max_bytes"`
		// TarballMaxBytes caps a single downloaded archive (compressed size).
		TarballMaxBytes int64 `json:"tarball_max_bytes" mapstructure:"tarball_max_bytes"`
		// MaxFiles caps how many members an archive may contain.
		MaxFiles int `json:"max_files" mapstructure:"max_files"`
		// MaxTotalBytes caps the total extracted size of an archive.
		MaxTotalBytes int64 `json:"max_total_bytes" mapstructure:"max_total_bytes"`
		// MaxSingleFileBytes caps any single extracted file.
		MaxSingleFileBytes int64 `json:"max_single_file_bytes" mapstructure:"max_single_file_bytes"`
		// MaxTarBytes caps the decompressed tar stream while it is read.
		MaxTarBytes int64 `json:"max_tar_bytes" mapstructure:"max_tar_bytes"`
	}

	// VerifyConfig configures the registry asset verifier.
	VerifyConfig struct {
		// Concurrency is how many tarballs are checked in parallel.
		Concurrency int `json:"concurrency" mapstructure:"concurrency"`
	}

	// PolicyConfig configures install-time trust requirements.
	PolicyConfig struct {
		// RequireRegistryDistribution rejects installs that would bypass the
		// registry's checksummed tarballs (direct repository installs).
		RequireRegistryDistribution bool `json:"require_registry_distribution" mapstructure:"require_registry_distribution"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// IsValid returns whether the RegistryConfig has valid fields.
// It delegates to URL.IsValid() and checks that the cache TTL is not negative.
func (c RegistryConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.URL.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.CacheTTLMinutes < 0 {
		errs = append(errs, fmt.Errorf("cache_ttl_minutes must not be negative, got %d", c.CacheTTLMinutes))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidRegistryConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRegistryConfigError.
func (e *InvalidRegistryConfigError) Error() string {
	return fmt.Sprintf("invalid registry config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidRegistryConfig for errors.Is() compatibility.
func (e *InvalidRegistryConfigError) Unwrap() error { return ErrInvalidRegistryConfig }

// IsValid returns whether the LimitsConfig has valid fields.
// Every limit must be non-negative; zero means "use the built-in default".
func (c LimitsConfig) IsValid() (bool, []error) {
	var errs []error
	check := func(name string, v int64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	check("index_max_bytes", c.IndexMaxBytes)
	check("tarball_max_bytes", c.TarballMaxBytes)
	check("max_files", int64(c.MaxFiles))
	check("max_total_bytes", c.MaxTotalBytes)
	check("max_single_file_bytes", c.MaxSingleFileBytes)
	check("max_tar_bytes", c.MaxTarBytes)
	if len(errs) > 0 {
		return false, []error{&InvalidLimitsConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidLimitsConfigError.
func (e *InvalidLimitsConfigError) Error() string {
	return fmt.Sprintf("invalid limits config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidLimitsConfig for errors.Is() compatibility.
func (e *InvalidLimitsConfigError) Unwrap() error { return ErrInvalidLimitsConfig }

// IsValid returns whether the VerifyConfig has valid fields.
// Concurrency must not be negative; zero means "use the default".
func (c VerifyConfig) IsValid() (bool, []error) {
	var errs []error
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidVerifyConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidVerifyConfigError.
func (e *InvalidVerifyConfigError) Error() string {
	return fmt.Sprintf("invalid verify config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidVerifyConfig for errors.Is() compatibility.
func (e *InvalidVerifyConfigError) Unwrap() error { return ErrInvalidVerifyConfig }

// IsValid returns whether the UIConfig has valid fields.
// It delegates to ColorScheme.IsValid(); bool fields need no validation.
func (c UIConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUIConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to Registry.IsValid(), ModulesDir.IsValid(), Limits.IsValid(),
// Verify.IsValid(), and UI.IsValid(). Policy has only bool fields and needs
// no validation.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Registry.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.ModulesDir.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Limits.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Verify.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// String returns the string representation of the RegistryURL.
func (u RegistryURL) String() string { return string(u) }

// IsValid returns whether the RegistryURL can be used to reach a registry.
// The URL must be non-empty, parse cleanly, use http or https, and carry a
// host. The structural checks live here because the CUE schema cannot
// express URL parsing.
func (u RegistryURL) IsValid() (bool, []error) {
	if strings.TrimSpace(string(u)) == "" {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: "must be non-empty"}}
	}
	parsed, err := url.Parse(string(u))
	if err != nil {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: err.Error()}}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: "scheme must be http or https"}}
	}
	if parsed.Host == "" {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: "missing host"}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRegistryURLError.
func (e *InvalidRegistryURLError) Error() string {
	return fmt.Sprintf("invalid registry URL %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRegistryURL for errors.Is() compatibility.
func (e *InvalidRegistryURLError) Unwrap() error { return ErrInvalidRegistryURL }

// String returns the string representation of the DirPath.
func (p DirPath) String() string { return string(p) }

// IsValid returns whether the DirPath is valid.
// The zero value ("") is valid (means "use the default directory").
// Non-zero values must not be whitespace-only.
func (p DirPath) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidDirPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidDirPathError.
func (e *InvalidDirPathError) Error() string {
	return fmt.Sprintf("invalid directory path %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidDirPath for errors.Is() compatibility.
func (e *InvalidDirPathError) Unwrap() error { return ErrInvalidDirPath }

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			URL:             DefaultRegistryURL,
			CacheTTLMinutes: 15,
		},
		ModulesDir: "", // Will use ModulesDir() if empty
		Limits: LimitsConfig{
			IndexMaxBytes:      10 << 20,
			TarballMaxBytes:    128 << 20,
			MaxFiles:           1_000,
			MaxTotalBytes:      256 << 20,
			MaxSingleFileBytes: 64 << 20,
			MaxTarBytes:        512 << 20,
		},
		Verify: VerifyConfig{
			Concurrency: 4,
		},
		Policy: PolicyConfig{
			RequireRegistryDistribution: false,
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}
