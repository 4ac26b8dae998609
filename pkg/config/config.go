// Package config holds the tunables of an export run.
//
// Values come from built-in defaults, optionally overlaid by a YAML file, and
// finally by command line flags the user set explicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkers is the number of recordings processed at once.
	DefaultWorkers = 8
	// DefaultFrameWorkers is the number of frames of one loop written at once.
	DefaultFrameWorkers = 8
)

// Config is the effective configuration of a run.
type Config struct {
	Workers      int      `yaml:"workers"`
	FrameWorkers int      `yaml:"frame_workers"`
	FileTimeout  Duration `yaml:"file_timeout"`
	FrameTimeout Duration `yaml:"frame_timeout"`

	// Extensions selects input files by suffix, case-insensitively.
	Extensions []string `yaml:"extensions"`

	// MaxDepth limits recursion below the subject directory; -1 is unlimited.
	MaxDepth int `yaml:"max_depth"`
}

// Duration is a time.Duration that reads Go duration strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workers:      DefaultWorkers,
		FrameWorkers: DefaultFrameWorkers,
		Extensions:   []string{".dcm"},
		MaxDepth:     -1,
	}
}

// Load reads a YAML file over Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.FrameWorkers < 1:
		return fmt.Errorf("frame_workers must be at least 1, got %d", c.FrameWorkers)
	case c.FileTimeout < 0:
		return fmt.Errorf("file_timeout must not be negative")
	case c.FrameTimeout < 0:
		return fmt.Errorf("frame_timeout must not be negative")
	case len(c.Extensions) == 0:
		return errors.New("extensions must not be empty")
	case c.MaxDepth < -1:
		return fmt.Errorf("max_depth must be -1 or more, got %d", c.MaxDepth)
	}
	return nil
}
