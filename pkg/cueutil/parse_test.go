// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"strings"
	"testing"
)

// Simple test schema for parsing tests
const testSchema = `
#TestConfig: {
	name:        string
	count:       int
	enabled:     bool
	description?: string
}
`

// TestConfig is a simple struct for testing generic parsing
type TestConfig struct {
	Name        string `json:"name"`
	Count       int    `json:"count"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

func TestParseAndDecode(t *testing.T) {
	t.Run("valid config parses successfully", func(t *testing.T) {
		data := []byte(`
name: "test"
count: 42
enabled: true
description: "A test config"
`)
		result, err := ParseAndDecode[TestConfig]([]byte(testSchema), data, "#TestConfig")
		if err != nil {
			t.Fatalf("ParseAndDecode failed: %v", err)
		}

		if result.Value.Name != "test" {
			t.Errorf("expected name='test', got %q", result.Value.Name)
		}
		if result.Value.Count != 42 {
			t.Errorf("expected count=42, got %d", result.Value.Count)
		}
		if !result.Value.Enabled {
			t.Error("expected enabled=true")
		}
		if result.Value.Description != "A test config" {
			t.Errorf("expected description='A test config', got %q", result.Value.Description)
		}
	})

	t.Run("optional field can be omitted", func(t *testing.T) {
		data := []byte(`
name: "minimal"
count: 1
enabled: false
`)
		result, err := ParseAndDecode[TestConfig]([]byte(testSchema), data, "#TestConfig")
		if err != nil {
			t.Fatalf("ParseAndDecode failed: %v", err)
		}

		if result.Value.Name != "minimal" {
			t.Errorf("expected name='minimal', got %q", result.Value.Name)
		}
		if result.Value.Description != "" {
			t.Errorf("expected empty description, got %q", result.Value.Description)
		}
	})

	t.Run("invalid type returns error", func(t *testing.T) {
		data := []byte(`
name: "test"
count: "not a number"  // Should be int
enabled: true
`)
		_, err := ParseAndDecode[TestConfig]([]byte(testSchema), data, "#TestConfig")
		if err == nil {
			t.Error("expected error for invalid type")
		}
	})

	t.Run("missing required field returns error", func(t *testing.T) {
		data := []byte(`
name: "test"
// count is missing
enabled: true
`)
		_, err := ParseAndDecode[TestConfig]([]byte(testSchema), data, "#TestConfig")
		if err == nil {
			t.Error("expected error for missing required field")
		}
	})

	t.Run("WithFilename sets filename in errors", func(t *testing.T) {
		data := []byte(`
name: "test"
count: "invalid"
enabled: true
`)
		_, err := ParseAndDecode[TestConfig](
			[]byte(testSchema),
			data,
			"#TestConfig",
			WithFilename("my-config.cue"),
		)
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "my-config.cue") {
			t.Errorf("error should contain filename, got: %v", err)
		}
	})
}

// Tests for application config-shaped parsing (optional nested sections).
func TestParseConfigShape(t *testing.T) {
	configSchema := `
#Config: {
	registry?: {
		url?:               string
		cache_ttl_minutes?: int & >=0
	}
	modules_dir?: string
	ui?: {
		color_scheme?: "auto" | "dark" | "light"
		verbose?:      bool
	}
}
`

	type registrySection struct {
		URL             string `json:"url,omitempty"`
		CacheTTLMinutes int    `json:"cache_ttl_minutes,omitempty"`
	}
	type uiSection struct {
		ColorScheme string `json:"color_scheme,omitempty"`
		Verbose     bool   `json:"verbose,omitempty"`
	}
	type appConfig struct {
		Registry   registrySection `json:"registry,omitempty"`
		ModulesDir string          `json:"modules_dir,omitempty"`
		UI         uiSection       `json:"ui,omitempty"`
	}

	t.Run("full config parses successfully", func(t *testing.T) {
		data := []byte(`
registry: {
	url: "https://registry.example.com/index.json"
	cache_ttl_minutes: 30
}
modules_dir: "/home/user/.cogmod/modules"
ui: color_scheme: "dark"
`)
		result, err := ParseAndDecode[appConfig](
			[]byte(configSchema),
			data,
			"#Config",
			WithConcrete(false),
		)
		if err != nil {
			t.Fatalf("ParseAndDecode failed: %v", err)
		}

		if result.Value.Registry.URL != "https://registry.example.com/index.json" {
			t.Errorf("unexpected registry url %q", result.Value.Registry.URL)
		}
		if result.Value.Registry.CacheTTLMinutes != 30 {
			t.Errorf("expected cache_ttl_minutes=30, got %d", result.Value.Registry.CacheTTLMinutes)
		}
		if result.Value.UI.ColorScheme != "dark" {
			t.Errorf("expected color_scheme='dark', got %q", result.Value.UI.ColorScheme)
		}
	})

	t.Run("empty config parses with WithConcrete(false)", func(t *testing.T) {
		data := []byte(`{}`)
		result, err := ParseAndDecode[appConfig](
			[]byte(configSchema),
			data,
			"#Config",
			WithConcrete(false),
		)
		if err != nil {
			t.Fatalf("ParseAndDecode failed: %v", err)
		}

		if result.Value.Registry.URL != "" {
			t.Errorf("expected empty registry url, got %q", result.Value.Registry.URL)
		}
	})

	t.Run("invalid enum value returns error", func(t *testing.T) {
		data := []byte(`
ui: color_scheme: "sepia"  // Invalid: not auto, dark, or light
`)
		_, err := ParseAndDecode[appConfig](
			[]byte(configSchema),
			data,
			"#Config",
			WithConcrete(false),
		)
		if err == nil {
			t.Error("expected error for invalid enum value")
		}
	})

	t.Run("negative ttl returns error", func(t *testing.T) {
		data := []byte(`
registry: cache_ttl_minutes: -5
`)
		_, err := ParseAndDecode[appConfig](
			[]byte(configSchema),
			data,
			"#Config",
			WithConcrete(false),
		)
		if err == nil {
			t.Error("expected error for negative ttl")
		}
	})
}

// File size limit enforcement tests
func TestFileSizeLimit(t *testing.T) {
	t.Run("file within limit parses successfully", func(t *testing.T) {
		data := []byte(`
name: "test"
count: 1
enabled: true
`)
		_, err := ParseAndDecode[TestConfig](
			[]byte(testSchema),
			data,
			"#TestConfig",
			WithMaxFileSize(1024), // 1KB limit
		)
		if err != nil {
			t.Errorf("expected success, got error: %v", err)
		}
	})

	t.Run("file exceeding limit returns error", func(t *testing.T) {
		// Create data larger than the limit
		data := make([]byte, 200)
		for i := range data {
			data[i] = 'a'
		}

		_, err := ParseAndDecode[TestConfig](
			[]byte(testSchema),
			data,
			"#TestConfig",
			WithMaxFileSize(100), // 100 byte limit
		)
		if err == nil {
			t.Error("expected error for oversized file")
		}
		if !strings.Contains(err.Error(), "exceeds maximum") {
			t.Errorf("error should mention size limit, got: %v", err)
		}
	})

	t.Run("default limit is applied", func(t *testing.T) {
		// Create data well under default limit
		data := []byte(`name: "test"
count: 1
enabled: true
`)
		_, err := ParseAndDecode[TestConfig]([]byte(testSchema), data, "#TestConfig")
		if err != nil {
			t.Errorf("expected success with default limit, got error: %v", err)
		}
	})
}

// Test ParseAndDecodeString convenience function
func TestParseAndDecodeString(t *testing.T) {
	data := []byte(`
name: "test"
count: 42
enabled: true
`)
	result, err := ParseAndDecodeString[TestConfig](testSchema, data, "#TestConfig")
	if err != nil {
		t.Fatalf("ParseAndDecodeString failed: %v", err)
	}

	if result.Value.Name != "test" {
		t.Errorf("expected name='test', got %q", result.Value.Name)
	}
}

// Test that Unified value is accessible
func TestUnifiedValueAccess(t *testing.T) {
	data := []byte(`
name: "test"
count: 42
enabled: true
`)
	result, err := ParseAndDecode[TestConfig]([]byte(testSchema), data, "#TestConfig")
	if err != nil {
		t.Fatalf("ParseAndDecode failed: %v", err)
	}

	// Verify we can access the unified value
	if result.Unified.Err() != nil {
		t.Errorf("unified value has error: %v", result.Unified.Err())
	}
}
