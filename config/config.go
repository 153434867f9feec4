// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config holds every tunable of the dataset pipeline and the model.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/OpenPSG/afdb/model"
	"github.com/OpenPSG/afdb/window"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the pipeline.
type Config struct {
	Data   DataConfig    `yaml:"data"`
	Window window.Params `yaml:"window"`
	Split  SplitConfig   `yaml:"split"`
	Output OutputConfig  `yaml:"output"`
	Model  model.Params  `yaml:"model"`
	Log    LogConfig     `yaml:"log"`
}

// DataConfig locates the records.
type DataConfig struct {
	Path      string `yaml:"path"`      // Directory holding the WFDB records
	Annotator string `yaml:"annotator"` // Annotation file extension
	Channel   int    `yaml:"channel"`   // Signal to window, by index
}

// SplitConfig controls the record-level train/test split.
type SplitConfig struct {
	TestFraction float64 `yaml:"test_fraction"` // Fraction of records held out, in (0, 1)
	Seed         int64   `yaml:"seed"`          // Seed of the shuffle
}

// OutputConfig controls persistence of built datasets.
type OutputConfig struct {
	Path string `yaml:"path"` // Directory for the dataset artifact, empty to skip saving
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Data: DataConfig{
			Path:      "data/MIT-BIH AFDB/files",
			Annotator: "atr",
			Channel:   0,
		},
		Window: window.DefaultParams(),
		Split: SplitConfig{
			TestFraction: 0.2,
			Seed:         42,
		},
		Output: OutputConfig{
			Path: "data/processed",
		},
		Model: model.DefaultParams(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Environment variables overriding the configuration.
const (
	EnvDataPath   = "AFDB_DATA_PATH"
	EnvOutputPath = "AFDB_OUTPUT_PATH"
	EnvLogLevel   = "AFDB_LOG_LEVEL"
	EnvLogFormat  = "AFDB_LOG_FORMAT"
)

// ApplyEnv overrides settings from the environment, after loading any of the
// given dotenv files that exist. Variables already set take precedence over
// dotenv files.
func (c *Config) ApplyEnv(dotenvFiles ...string) error {
	for _, file := range dotenvFiles {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
	}

	overrides := map[string]*string{
		EnvDataPath:   &c.Data.Path,
		EnvOutputPath: &c.Output.Path,
		EnvLogLevel:   &c.Log.Level,
		EnvLogFormat:  &c.Log.Format,
	}
	for key, dst := range overrides {
		if value, ok := os.LookupEnv(key); ok {
			*dst = value
		}
	}

	return nil
}

// Validate checks every setting is within its range and reports all
// violations together.
func (c Config) Validate() error {
	var errs []error

	if c.Data.Path == "" {
		errs = append(errs, fmt.Errorf("data.path must not be empty"))
	}
	if c.Data.Annotator == "" {
		errs = append(errs, fmt.Errorf("data.annotator must not be empty"))
	}
	if c.Data.Channel < 0 {
		errs = append(errs, fmt.Errorf("data.channel must not be negative, got %d", c.Data.Channel))
	}

	if err := c.Window.Validate(); err != nil {
		errs = append(errs, err)
	}

	if !(c.Split.TestFraction > 0 && c.Split.TestFraction < 1) {
		errs = append(errs, fmt.Errorf("split.test_fraction must be in (0, 1), got %g", c.Split.TestFraction))
	}

	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
