// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dataset

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OpenPSG/afdb/window"
	"github.com/google/uuid"
)

// ArtifactName is the file name of a saved dataset inside its directory.
const ArtifactName = "datasets.gob"

// Artifact is a saved train/test dataset together with the records each
// split was built from, so the split never has to be derived again.
type Artifact struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Window       window.Params
	Channel      int
	TestFraction float64
	Seed         int64
	Train        *window.Set
	Test         *window.Set
	TrainRecords []string
	TestRecords  []string
}

// NewArtifact captures a built dataset.
func NewArtifact(opts Options, res *Result) *Artifact {
	return &Artifact{
		ID:           uuid.New(),
		CreatedAt:    time.Now().UTC(),
		Window:       opts.Window,
		Channel:      opts.Channel,
		TestFraction: opts.TestFraction,
		Seed:         opts.Seed,
		Train:        res.Train.Windows,
		Test:         res.Test.Windows,
		TrainRecords: res.Train.Records,
		TestRecords:  res.Test.Records,
	}
}

// SaveArtifact writes the artifact into dir, creating it if needed, and
// returns the path written. The file is replaced atomically.
func SaveArtifact(dir string, a *Artifact) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ArtifactName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("error creating artifact: %w", err)
	}
	defer os.Remove(f.Name())

	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(a); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("error encoding artifact: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("error writing artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("error writing artifact: %w", err)
	}

	path := filepath.Join(dir, ArtifactName)
	if err := os.Rename(f.Name(), path); err != nil {
		return "", fmt.Errorf("error saving artifact: %w", err)
	}

	return path, nil
}

// LoadArtifact reads the artifact saved in dir.
func LoadArtifact(dir string) (*Artifact, error) {
	f, err := os.Open(filepath.Join(dir, ArtifactName))
	if err != nil {
		return nil, fmt.Errorf("error opening artifact: %w", err)
	}
	defer f.Close()

	var a Artifact
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&a); err != nil {
		return nil, fmt.Errorf("error decoding artifact: %w", err)
	}

	// Empty splits decode as nil sets.
	if a.Train == nil {
		a.Train = window.NewSet(a.Window.Size)
	}
	if a.Test == nil {
		a.Test = window.NewSet(a.Window.Size)
	}

	return &a, nil
}
