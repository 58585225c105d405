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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "mobilecheck.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
concurrency: 2
artifact_timeout: 30s
modules: [Viber, ShutdownLog]
indicators:
  - pegasus.stix2
validate_stix: true
output: results
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.ArtifactTimeout)
	assert.Equal(t, []string{"Viber", "ShutdownLog"}, cfg.Modules)
	assert.Equal(t, []string{"pegasus.stix2"}, cfg.Indicators)
	assert.True(t, cfg.ValidateSTIX)
	assert.Equal(t, "results", cfg.Output)

	// defaults
	assert.Equal(t, 3, cfg.OpenAttempts)
	assert.Equal(t, 32, cfg.RecoveryCacheSize)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, level)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ArtifactTimeout(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    time.Duration
	}{
		{"missing key", "concurrency: 2\n", 5 * time.Minute},
		{"zero disables", "artifact_timeout: 0s\n", 0},
		{"set", "artifact_timeout: 1m30s\n", 90 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.ArtifactTimeout)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "concurency: 2\n"},
		{"negative concurrency", "concurrency: -1\n"},
		{"bad duration", "artifact_timeout: soon\n"},
		{"negative duration", "artifact_timeout: -1s\n"},
		{"bad level", "log_level: loud\n"},
		{"not yaml", "concurrency: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Equal(t, ErrInvalidConfig, errors.Cause(err))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Equal(t, ErrInvalidConfig, errors.Cause(err))
}
