// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/afdb/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Window.Size)
	assert.Equal(t, 500, cfg.Window.Stride)
	assert.Equal(t, 0.2, cfg.Split.TestFraction)
	assert.Equal(t, int64(42), cfg.Split.Seed)
	assert.Equal(t, 0, cfg.Data.Channel)
	assert.Equal(t, 4, cfg.Model.OutputSize)
	assert.Equal(t, 8, cfg.Model.ResBlocks)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data:
  path: /srv/afdb
  channel: 1
window:
  size: 2500
split:
  seed: 7
model:
  output_size: 2
  stem_filters: [16, 8]
log:
  format: json
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/afdb", cfg.Data.Path)
	assert.Equal(t, "atr", cfg.Data.Annotator)
	assert.Equal(t, 1, cfg.Data.Channel)
	assert.Equal(t, 2500, cfg.Window.Size)
	assert.Equal(t, 500, cfg.Window.Stride)
	assert.Equal(t, int64(7), cfg.Split.Seed)
	assert.Equal(t, 0.2, cfg.Split.TestFraction)
	assert.Equal(t, 2, cfg.Model.OutputSize)
	assert.Equal(t, [2]int{16, 8}, cfg.Model.StemFilters)
	assert.Equal(t, [2]int{8, 3}, cfg.Model.StemKernels)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window:\n  length: 10\n"), 0o644))
	_, err = config.Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Path = ""
	cfg.Data.Channel = -1
	cfg.Window.Stride = 0
	cfg.Split.TestFraction = 1
	cfg.Model.ResKernel = 0
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	for _, want := range []string{"data.path", "data.channel", "stride", "test_fraction", "res_kernel", "log.level", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestApplyEnv(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("AFDB_OUTPUT_PATH=/tmp/from-dotenv\nAFDB_LOG_LEVEL=debug\n"), 0o644))

	t.Setenv(config.EnvDataPath, "/data/from-env")
	t.Setenv(config.EnvLogLevel, "warn")
	t.Cleanup(func() {
		os.Unsetenv(config.EnvOutputPath)
	})

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(dotenv, filepath.Join(t.TempDir(), "missing.env")))

	assert.Equal(t, "/data/from-env", cfg.Data.Path)
	assert.Equal(t, "/tmp/from-dotenv", cfg.Output.Path)
	// Variables already in the environment win over the dotenv file.
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := config.NewLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("skipping record", "record", "04015")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "skipping record", entry["msg"])
	assert.Equal(t, "04015", entry["record"])

	_, err = config.NewLogger(&buf, config.LogConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
	_, err = config.NewLogger(&buf, config.LogConfig{Level: "chatty", Format: "text"})
	require.Error(t, err)
}
