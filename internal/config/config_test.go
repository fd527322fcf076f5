package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// TestConfigData tests configuration defaults, TOML parsing, and validation
func TestConfigData(t *testing.T) {
	tests := []struct {
		name       string
		config     *AppConfig
		configTOML string
		setupFunc  func(*AppConfig)
		expectErr  bool
		validate   func(*testing.T, *AppConfig)
	}{
		{
			name:   "default config",
			config: DefaultConfig(),
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != "localhost:9456" {
					t.Errorf("Expected ListenAddress 'localhost:9456', got %s", c.Server.ListenAddress)
				}
				if c.Sampler.Frequency != 100 {
					t.Errorf("Expected default frequency 100, got %d", c.Sampler.Frequency)
				}
				if c.Sampler.TargetPID != -1 {
					t.Errorf("Expected default target_pid -1, got %d", c.Sampler.TargetPID)
				}
				if c.Logging.Defaults.Level != "info" {
					t.Errorf("Expected default log level 'info', got %s", c.Logging.Defaults.Level)
				}
				if len(c.Logging.Outputs) != 3 {
					t.Errorf("Expected 3 outputs, got %d", len(c.Logging.Outputs))
				}
			},
		},
		{
			name: "custom sampler config",
			configTOML: `
[sampler]
frequency = 997
num_pages = 64
target_pid = 1234
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Sampler.Frequency != 997 {
					t.Errorf("Expected frequency 997, got %d", c.Sampler.Frequency)
				}
				if c.Sampler.NumPages != 64 {
					t.Errorf("Expected num_pages 64, got %d", c.Sampler.NumPages)
				}
				if c.Sampler.TargetPID != 1234 {
					t.Errorf("Expected target_pid 1234, got %d", c.Sampler.TargetPID)
				}
			},
		},
		{
			name: "custom logging config",
			configTOML: `
[logging.defaults]
level = "debug"

[[logging.outputs]]
type = "console"
enabled = true

[[logging.outputs]]
type = "file"
enabled = true
[logging.outputs.file]
filename = "app.log"
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Logging.Defaults.Level != "debug" {
					t.Errorf("Expected debug level, got %s", c.Logging.Defaults.Level)
				}
				if len(c.Logging.Outputs) != 2 {
					t.Errorf("Expected 2 outputs, got %d", len(c.Logging.Outputs))
				}
				if c.Logging.Outputs[0].Type != "console" {
					t.Errorf("Expected first output 'console', got %s", c.Logging.Outputs[0].Type)
				}
			},
		},
		{
			name: "valid custom server config",
			configTOML: `
[server]
listen_address = ":8080"
metrics_path = "/custom"
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != ":8080" {
					t.Errorf("Expected :8080, got %s", c.Server.ListenAddress)
				}
				if c.Server.MetricsPath != "/custom" {
					t.Errorf("Expected /custom, got %s", c.Server.MetricsPath)
				}
			},
		},
		{
			name:   "invalid empty listen address",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Server.ListenAddress = ""
			},
			expectErr: true,
		},
		{
			name:   "invalid zero frequency",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Sampler.Frequency = 0
			},
			expectErr: true,
		},
		{
			name:   "invalid oversized frequency",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Sampler.Frequency = math.MaxUint32 + 1
			},
			expectErr: true,
		},
		{
			name:   "invalid non power of two pages",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Sampler.NumPages = 48
			},
			expectErr: true,
		},
		{
			name:   "invalid target pid",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Sampler.TargetPID = -7
			},
			expectErr: true,
		},
		{
			name:   "invalid no collectors enabled",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Collectors.CPUSamples.Enabled = false
			},
			expectErr: true,
		},
		{
			name:   "invalid no outputs enabled",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				for i := range c.Logging.Outputs {
					c.Logging.Outputs[i].Enabled = false
				}
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *AppConfig

			// Get config from direct config, TOML, or setup function
			switch {
			case tt.configTOML != "":
				path := filepath.Join(t.TempDir(), "config.toml")
				if err := os.WriteFile(path, []byte(tt.configTOML), 0644); err != nil {
					t.Fatalf("failed to write config file: %v", err)
				}
				var err error
				cfg, err = LoadConfig(path)
				if err != nil {
					t.Fatalf("LoadConfig: %v", err)
				}
			default:
				cfg = tt.config
			}

			if tt.setupFunc != nil {
				tt.setupFunc(cfg)
			}

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected validation error, got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}

			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	orig := DefaultConfig()
	orig.Sampler.Frequency = 250
	if err := SaveConfig(path, orig); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Sampler.Frequency != 250 {
		t.Errorf("round-tripped frequency = %d, want 250", loaded.Sampler.Frequency)
	}
}
