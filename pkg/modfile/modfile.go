// SPDX-License-Identifier: MPL-2.0

// Package modfile reads the module.yaml descriptor that marks a directory as
// an installable module. Only the identity scalars are decoded here; the rest
// of the descriptor belongs to the execution pipeline and passes through
// untouched.
package modfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cogmod-cli/pkg/fault"
	"cogmod-cli/pkg/modref"
	"cogmod-cli/pkg/platform"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Filename is the descriptor file name looked up in a module root.
const Filename = "module.yaml"

// Descriptor holds the identity scalars every module.yaml must declare.
// Unknown keys are ignored so richer descriptors keep loading.
type Descriptor struct {
	Name           string `yaml:"name"`
	Version        string `yaml:"version"`
	Tier           string `yaml:"tier"`
	Responsibility string `yaml:"responsibility"`
}

// Load reads and validates the descriptor in dir. A missing module.yaml is
// fault.ErrModuleNotFound, so callers can probe candidate roots with
// errors.Is.
func Load(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &fault.Error{Kind: fault.ErrModuleNotFound, Op: "load descriptor", Path: dir, Detail: "no " + Filename}
		}
		return nil, fmt.Errorf("reading %s: %w", Filename, err)
	}
	return Parse(data, dir)
}

// Parse decodes and validates descriptor bytes. origin labels errors.
func Parse(data []byte, origin string) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s in %s: %w", Filename, origin, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s in %s: %w", Filename, origin, err)
	}
	return &d, nil
}

// Exists reports whether dir contains a module.yaml.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, Filename))
	return err == nil && info.Mode().IsRegular()
}

// Validate checks the identity scalars: all four are required, the name must
// be a publishable module name, and the version must read as semver.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("name is required")
	}
	if !modref.IsModuleName(d.Name) {
		return fmt.Errorf("invalid name %q: use lowercase letters, digits, and hyphens", d.Name)
	}
	// The name becomes an install directory name, so it must be creatable
	// everywhere modules are installed.
	if platform.IsWindowsReservedName(d.Name) {
		return fmt.Errorf("invalid name %q: reserved filename on Windows", d.Name)
	}
	if d.Version == "" {
		return errors.New("version is required")
	}
	if !semver.IsValid(CanonicalVersion(d.Version)) {
		return fmt.Errorf("invalid version %q", d.Version)
	}
	if d.Tier == "" {
		return errors.New("tier is required")
	}
	if d.Responsibility == "" {
		return errors.New("responsibility is required")
	}
	return nil
}

// CanonicalVersion prefixes v so published x.y.z versions compare correctly
// with golang.org/x/mod/semver, which requires the prefix.
func CanonicalVersion(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
