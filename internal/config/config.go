// Package config loads idreset settings from a YAML file and IDRESET_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in Dir.
const FileName = "config.yaml"

// DeletionConfig drives the record-deletion and workspace modes.
type DeletionConfig struct {
	// Keywords expand to case variants of %keyword%.
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
	// DeepPatterns are raw LIKE patterns used in workspace mode and with
	// --deep.
	DeepPatterns []string `mapstructure:"deep_patterns" yaml:"deep_patterns"`
	// WorkspaceDirs are per-project directory names removed in workspace mode.
	WorkspaceDirs []string `mapstructure:"workspace_dirs" yaml:"workspace_dirs"`
}

type Config struct {
	BackupDir     string         `mapstructure:"backup_dir" yaml:"backup_dir"`
	MaxBackups    int            `mapstructure:"max_backups" yaml:"max_backups"`
	CreateBackups bool           `mapstructure:"create_backups" yaml:"create_backups"`
	Protect       bool           `mapstructure:"protect" yaml:"protect"`
	LogLevel      string         `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string         `mapstructure:"log_format" yaml:"log_format"`
	Deletion      DeletionConfig `mapstructure:"deletion" yaml:"deletion"`
}

func Default() *Config {
	return &Config{
		MaxBackups:    10,
		CreateBackups: true,
		Protect:       true,
		LogLevel:      "warn",
		LogFormat:     "text",
		Deletion: DeletionConfig{
			Keywords:      []string{"telemetry"},
			DeepPatterns:  []string{"%session%", "%token%", "%auth%", "%login%"},
			WorkspaceDirs: []string{},
		},
	}
}

// Dir returns the idreset config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/idreset if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "idreset"), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads cfgFile, or config.yaml in Dir when cfgFile is empty, and
// applies IDRESET_* environment overrides. A missing default file is not
// an error; a missing explicit file is.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("IDRESET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Decode into a zero value: decoding onto a populated slice keeps the
	// tail of the longer one.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that environment variables are seen
// for keys absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backup_dir", cfg.BackupDir)
	v.SetDefault("max_backups", cfg.MaxBackups)
	v.SetDefault("create_backups", cfg.CreateBackups)
	v.SetDefault("protect", cfg.Protect)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("deletion.keywords", cfg.Deletion.Keywords)
	v.SetDefault("deletion.deep_patterns", cfg.Deletion.DeepPatterns)
	v.SetDefault("deletion.workspace_dirs", cfg.Deletion.WorkspaceDirs)
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("config file already exists: %s: %w", path, os.ErrExist)
		}
		return fmt.Errorf("failed to create config file: %w", err)
	}

	header := "# idreset configuration. Environment variables IDRESET_<KEY> override these values.\n"
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}
