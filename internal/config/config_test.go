package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// isolate points the config directory at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "idreset")
}

func TestDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if dir != filepath.Join("/custom/config", "idreset") {
		t.Errorf("Dir() = %q", dir)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/someone")
	dir, err = Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if dir != filepath.Join("/home/someone", ".config", "idreset") {
		t.Errorf("Dir() without XDG_CONFIG_HOME = %q", dir)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromDefaultLocation(t *testing.T) {
	dir := isolate(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := `
max_backups: 3
protect: false
deletion:
  keywords: [augment, cursor]
  workspace_dirs: [Augment.vscode-augment]
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := Default()
	want.MaxBackups = 3
	want.Protect = false
	want.Deletion.Keywords = []string{"augment", "cursor"}
	want.Deletion.WorkspaceDirs = []string{"Augment.vscode-augment"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("IDRESET_MAX_BACKUPS", "4")
	t.Setenv("IDRESET_CREATE_BACKUPS", "false")
	t.Setenv("IDRESET_LOG_LEVEL", "debug")
	t.Setenv("IDRESET_DELETION_KEYWORDS", "alpha,beta")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxBackups != 4 || cfg.CreateBackups || cfg.LogLevel != "debug" {
		t.Errorf("Load() = %+v, env overrides not applied", cfg)
	}
	if diff := cmp.Diff([]string{"alpha", "beta"}, cfg.Deletion.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("backup_dir: /tmp/idreset-backups\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BackupDir != "/tmp/idreset-backups" {
		t.Errorf("BackupDir = %q", cfg.BackupDir)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing explicit file should fail")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_backups: [unclosed\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() of malformed YAML should fail")
	}
}

func TestWriteDefault(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, FileName)

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() after WriteDefault error: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("written defaults mismatch (-want +got):\n%s", diff)
	}

	if err := WriteDefault(path); !errors.Is(err, os.ErrExist) {
		t.Errorf("second WriteDefault() error = %v, want os.ErrExist", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErrs int
		check    func(t *testing.T, c *Config)
	}{
		{
			name:     "defaults are valid",
			mutate:   func(*Config) {},
			wantErrs: 0,
		},
		{
			name:     "negative max_backups clamped",
			mutate:   func(c *Config) { c.MaxBackups = -5 },
			wantErrs: 1,
			check: func(t *testing.T, c *Config) {
				if c.MaxBackups != 0 {
					t.Errorf("MaxBackups = %d, want 0", c.MaxBackups)
				}
			},
		},
		{
			name:     "huge max_backups clamped",
			mutate:   func(c *Config) { c.MaxBackups = 5000 },
			wantErrs: 1,
			check: func(t *testing.T, c *Config) {
				if c.MaxBackups != maxBackupsLimit {
					t.Errorf("MaxBackups = %d, want %d", c.MaxBackups, maxBackupsLimit)
				}
			},
		},
		{
			name: "bad log settings reset",
			mutate: func(c *Config) {
				c.LogLevel = "verbose"
				c.LogFormat = "xml"
			},
			wantErrs: 2,
			check: func(t *testing.T, c *Config) {
				if c.LogLevel != "warn" || c.LogFormat != "text" {
					t.Errorf("log settings = %q/%q", c.LogLevel, c.LogFormat)
				}
			},
		},
		{
			name:     "empty keywords dropped",
			mutate:   func(c *Config) { c.Deletion.Keywords = []string{" ", "augment"} },
			wantErrs: 1,
			check: func(t *testing.T, c *Config) {
				if diff := cmp.Diff([]string{"augment"}, c.Deletion.Keywords); diff != "" {
					t.Errorf("keywords mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:     "no keywords warned",
			mutate:   func(c *Config) { c.Deletion.Keywords = nil },
			wantErrs: 1,
		},
		{
			name:     "match-all deep pattern dropped",
			mutate:   func(c *Config) { c.Deletion.DeepPatterns = []string{"%", "%%", "%auth%", "exact"} },
			wantErrs: 3,
			check: func(t *testing.T, c *Config) {
				if diff := cmp.Diff([]string{"%auth%", "exact"}, c.Deletion.DeepPatterns); diff != "" {
					t.Errorf("deep patterns mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:     "workspace dirs must be plain names",
			mutate:   func(c *Config) { c.Deletion.WorkspaceDirs = []string{"..", "a/b", "", "plugin.cache"} },
			wantErrs: 3,
			check: func(t *testing.T, c *Config) {
				if diff := cmp.Diff([]string{"plugin.cache"}, c.Deletion.WorkspaceDirs); diff != "" {
					t.Errorf("workspace dirs mismatch (-want +got):\n%s", diff)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != tt.wantErrs {
				t.Errorf("Validate() returned %d errors, want %d: %v", len(errs), tt.wantErrs, errs)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
