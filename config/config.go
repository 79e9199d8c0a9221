// Package config loads tinyfs settings from a YAML file.
//
// The file is named by the --config flag or the TFS_CONFIG environment
// variable. Without either, Default is used as is. Fields missing from the
// file keep their default values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mit-pdos/tinyfs/super"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "TFS_CONFIG"

type Config struct {
	// Image is the path of the backing disk image.
	Image string `yaml:"image"`

	// Geometry is used only when a new image is formatted.
	Geometry GeometryConfig `yaml:"geometry"`

	Mount MountConfig `yaml:"mount"`

	Log LogConfig `yaml:"log"`
}

type GeometryConfig struct {
	MaxInodes     uint64 `yaml:"max_inodes"`
	MaxDataBlocks uint64 `yaml:"max_data_blocks"`
}

func (g GeometryConfig) Geometry() super.Geometry {
	return super.Geometry{MaxInodes: g.MaxInodes, MaxDataBlocks: g.MaxDataBlocks}
}

type MountConfig struct {
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther requires user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`

	FsName       string        `yaml:"fs_name"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
}

type LogConfig struct {
	// Level is the slog level name: debug, info, warn or error.
	Level string `yaml:"level"`

	// Debug is the trace level of the filesystem core. 0 is silent.
	Debug uint64 `yaml:"debug"`
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func Default() *Config {
	g := super.DefaultGeometry()
	return &Config{
		Image: "DISKFILE",
		Geometry: GeometryConfig{
			MaxInodes:     g.MaxInodes,
			MaxDataBlocks: g.MaxDataBlocks,
		},
		Mount: MountConfig{
			FsName:       "tinyfs",
			EntryTimeout: time.Second,
			AttrTimeout:  time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config at path, or at $TFS_CONFIG when path is empty.
// With neither set it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile overlays the YAML file at path on Default and validates the
// result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Image == "" {
		errs = append(errs, fmt.Errorf("image is required"))
	}
	if err := c.Geometry.Geometry().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("geometry: %w", err))
	}
	if c.Mount.EntryTimeout < 0 || c.Mount.AttrTimeout < 0 {
		errs = append(errs, fmt.Errorf("mount timeouts must not be negative"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
