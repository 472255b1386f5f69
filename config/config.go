// Package config loads rfclive settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = ".rfclive.yaml"

type Config struct {
	Tool           string        `yaml:"tool"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	TempDir        string        `yaml:"temp_dir"`
	TempPrefix     string        `yaml:"temp_prefix"`
	Debounce       time.Duration `yaml:"debounce"`
	RootElement    string        `yaml:"root_element"`
	Workers        int           `yaml:"workers"`
	PreviewAddr    string        `yaml:"preview_addr"`
	TemplateDir    string        `yaml:"template_dir"`
	Breaker        Breaker       `yaml:"breaker"`
}

// Breaker configures the circuit breaker guarding the converter binary.
type Breaker struct {
	Enabled          bool          `yaml:"enabled"`
	ConsecutiveFails uint32        `yaml:"consecutive_fails"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

func Default() Config {
	return Config{
		Tool:           "xml2rfc",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 1024 * 1024,
		TempDir:        os.TempDir(),
		TempPrefix:     "xml2rfc",
		Debounce:       250 * time.Millisecond,
		RootElement:    "rfc",
		Workers:        2,
		PreviewAddr:    "127.0.0.1:7171",
		Breaker: Breaker{
			Enabled:          true,
			ConsecutiveFails: 3,
			OpenTimeout:      30 * time.Second,
		},
	}
}

// Load reads path (or DefaultFile when path is empty) on top of the
// defaults and applies RFCLIVE_* environment overrides. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg.normalize(), nil
}

func (c *Config) applyEnv() {
	c.Tool = envString("RFCLIVE_TOOL", c.Tool)
	c.Timeout = envDuration("RFCLIVE_TIMEOUT", c.Timeout)
	c.MaxOutputBytes = envInt("RFCLIVE_MAX_OUTPUT_BYTES", c.MaxOutputBytes)
	c.TempDir = envString("RFCLIVE_TEMP_DIR", c.TempDir)
	c.Debounce = envDuration("RFCLIVE_DEBOUNCE", c.Debounce)
	c.RootElement = envString("RFCLIVE_ROOT_ELEMENT", c.RootElement)
	c.Workers = envInt("RFCLIVE_WORKERS", c.Workers)
	c.PreviewAddr = envString("RFCLIVE_PREVIEW_ADDR", c.PreviewAddr)
	c.TemplateDir = envString("RFCLIVE_TEMPLATE_DIR", c.TemplateDir)
	c.Breaker.Enabled = envBool("RFCLIVE_BREAKER_ENABLED", c.Breaker.Enabled)
}

func (c Config) normalize() Config {
	out := c
	def := Default()

	if out.Tool == "" {
		out.Tool = def.Tool
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.MaxOutputBytes <= 0 {
		out.MaxOutputBytes = def.MaxOutputBytes
	}
	if out.TempDir == "" {
		out.TempDir = def.TempDir
	}
	if out.TempPrefix == "" {
		out.TempPrefix = def.TempPrefix
	}
	if out.Debounce < 0 {
		out.Debounce = def.Debounce
	}
	if out.RootElement == "" {
		out.RootElement = def.RootElement
	}
	if out.Workers <= 0 {
		out.Workers = def.Workers
	}
	if out.Breaker.ConsecutiveFails == 0 {
		out.Breaker.ConsecutiveFails = def.Breaker.ConsecutiveFails
	}
	if out.Breaker.OpenTimeout <= 0 {
		out.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	return out
}

func envString(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
