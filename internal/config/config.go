// Package config loads slotner settings from defaults, an optional YAML file,
// SLOTNER_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tetraminz/slotner/internal/logging"
)

// EnvPrefix is the prefix of environment overrides, e.g. SLOTNER_PATHS_DB.
const EnvPrefix = "SLOTNER"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "slotner.yaml"

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type PathSettings struct {
	Raw     string `mapstructure:"raw" yaml:"raw"`
	Labeled string `mapstructure:"labeled" yaml:"labeled"`
	Aligned string `mapstructure:"aligned" yaml:"aligned"`
	DB      string `mapstructure:"db" yaml:"db"`
}

type TokenizerSettings struct {
	// File is a HuggingFace tokenizer.json; empty selects the rune tokenizer.
	File       string `mapstructure:"file" yaml:"file"`
	MaxLength  int    `mapstructure:"max_length" yaml:"max_length"`
	OffsetUnit string `mapstructure:"offset_unit" yaml:"offset_unit"`
}

type SplitSettings struct {
	TrainGroups []string `mapstructure:"train_groups" yaml:"train_groups"`
	EvalGroups  []string `mapstructure:"eval_groups" yaml:"eval_groups"`
}

type MetricsSettings struct {
	// Textfile receives a Prometheus text dump after each command when set.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// Settings is the full configuration.
type Settings struct {
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
	Paths     PathSettings      `mapstructure:"paths" yaml:"paths"`
	Tokenizer TokenizerSettings `mapstructure:"tokenizer" yaml:"tokenizer"`
	Split     SplitSettings     `mapstructure:"split" yaml:"split"`
	Workers   int               `mapstructure:"workers" yaml:"workers"`
	Metrics   MetricsSettings   `mapstructure:"metrics" yaml:"metrics"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Log: LogSettings{Level: "info", Format: "text"},
		Paths: PathSettings{
			Raw:     "data/train_raw.jsonl",
			Labeled: "data/train_labeled.jsonl",
			Aligned: "data/aligned",
			DB:      "out/slotner.db",
		},
		Tokenizer: TokenizerSettings{MaxLength: 256, OffsetUnit: "byte"},
		Split: SplitSettings{
			TrainGroups: []string{"L1", "L2"},
			EvalGroups:  []string{"L3"},
		},
	}
}

// New returns a viper instance carrying the defaults and env bindings.
func New() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("paths.raw", d.Paths.Raw)
	v.SetDefault("paths.labeled", d.Paths.Labeled)
	v.SetDefault("paths.aligned", d.Paths.Aligned)
	v.SetDefault("paths.db", d.Paths.DB)
	v.SetDefault("tokenizer.file", d.Tokenizer.File)
	v.SetDefault("tokenizer.max_length", d.Tokenizer.MaxLength)
	v.SetDefault("tokenizer.offset_unit", d.Tokenizer.OffsetUnit)
	v.SetDefault("split.train_groups", d.Split.TrainGroups)
	v.SetDefault("split.eval_groups", d.Split.EvalGroups)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path into v and decodes the merged settings. An empty path
// tries DefaultFile in the working directory and ignores its absence.
func Load(v *viper.Viper, path string) (Settings, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("stat config %q: %w", DefaultFile, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseFormat(s.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if s.Tokenizer.MaxLength < 2 {
		return fmt.Errorf("tokenizer.max_length must be at least 2, got %d", s.Tokenizer.MaxLength)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", s.Workers)
	}
	return nil
}

// WriteDefault renders the default settings as YAML at path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %q already exists", path)
		}
	}
	raw, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}
