// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package config reads the scan configuration.
//
// A configuration file is YAML:
//
//     concurrency: 4
//     artifact_timeout: 2m
//     modules: [Viber, ShutdownLog]
//     indicators: [pegasus.stix2]
//     output: results/
//
// Fields that are not set in the file keep their defaults. Command line
// flags override both. An explicit "artifact_timeout: 0s" disables the
// artifact timeout instead of falling back to the default.
package config

import (
	"os"
	"runtime"
	"time"

	"github.com/apex/log"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for configuration files that can not be
// used. It is the only error that ends a scan before modules run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config configures a scan.
type Config struct {
	// Concurrency is the number of modules that run at the same time.
	Concurrency int `yaml:"concurrency"`
	// ArtifactTimeout bounds parsing of a single artifact, zero disables it.
	// It is read through fileConfig.
	ArtifactTimeout time.Duration `yaml:"-"`
	// OpenAttempts is the number of tries to open a busy database.
	OpenAttempts int `yaml:"open_attempts"`
	// RecoveryCacheSize is the number of recovered databases kept per scan.
	RecoveryCacheSize int `yaml:"recovery_cache_size"`

	// Modules selects modules by name, all if empty.
	Modules []string `yaml:"modules"`
	// Indicators are STIX2 files.
	Indicators   []string `yaml:"indicators"`
	ValidateSTIX bool     `yaml:"validate_stix"`

	// Output is the directory for JSON, CSV and the results database.
	Output string `yaml:"output"`
	// Archive is the path of an sqlar archive of all parsed artifacts.
	Archive     string `yaml:"archive"`
	MetricsFile string `yaml:"metrics_file"`
	LogLevel    string `yaml:"log_level"`
}

// fileConfig is the file layout. Settings where zero is a valid choice are
// pointers, so a zero in the file is told apart from a missing key.
type fileConfig struct {
	Config          `yaml:",inline"`
	ArtifactTimeout *time.Duration `yaml:"artifact_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Concurrency:       runtime.NumCPU(),
		ArtifactTimeout:   5 * time.Minute,
		OpenAttempts:      3,
		RecoveryCacheSize: 32,
		LogLevel:          "info",
	}
}

// Load reads a configuration file. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	file := &fileConfig{}
	if path != "" {
		f, err := os.Open(path) // #nosec
		if err != nil {
			return nil, errors.Wrap(ErrInvalidConfig, err.Error())
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		decoder.KnownFields(true)
		if err := decoder.Decode(file); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%s: %s", path, err)
		}
	}

	cfg := &file.Config
	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if file.ArtifactTimeout != nil {
		cfg.ArtifactTimeout = *file.ArtifactTimeout
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return errors.Wrap(ErrInvalidConfig, "concurrency must be at least 1")
	case c.ArtifactTimeout < 0:
		return errors.Wrap(ErrInvalidConfig, "artifact_timeout must not be negative")
	case c.OpenAttempts < 1:
		return errors.Wrap(ErrInvalidConfig, "open_attempts must be at least 1")
	case c.RecoveryCacheSize < 1:
		return errors.Wrap(ErrInvalidConfig, "recovery_cache_size must be at least 1")
	}
	if _, err := c.Level(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}
