// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dataset_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/afdb/dataset"
	"github.com/OpenPSG/afdb/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOptions() dataset.Options {
	return dataset.Options{
		Window:       window.DefaultParams(),
		TestFraction: 0.5,
		Seed:         42,
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "normal", dataset.Segment{Marker: "(N", Length: 2000})
	writeRecord(t, dir, "afib", dataset.Segment{Marker: "(AFIB", Length: 2000})

	builder, err := dataset.NewBuilder(dataset.NewLoader(dir, "atr", discard), defaultOptions(), discard)
	require.NoError(t, err)

	res, err := builder.Build()
	require.NoError(t, err)

	require.Len(t, res.Train.Records, 1)
	require.Len(t, res.Test.Records, 1)
	assert.ElementsMatch(t, []string{"normal", "afib"}, []string{res.Train.Records[0], res.Test.Records[0]})
	assert.Nil(t, res.Artifact)

	for _, split := range []dataset.Split{res.Train, res.Test} {
		// floor((2000 - 1000) / 500) + 1
		require.Equal(t, 3, split.Windows.Len())
		assert.Empty(t, split.Skipped())

		want := uint8(0)
		if split.Records[0] == "afib" {
			want = 1
		}
		assert.Equal(t, []uint8{want, want, want}, split.Windows.Labels)
		for i := 0; i < split.Windows.Len(); i++ {
			assert.Len(t, split.Windows.Window(i), 1000)
		}
	}
}

func TestBuildSkipsUnusableRecords(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "r1", dataset.Segment{Marker: "(N", Length: 1000}, dataset.Segment{Marker: "(AFIB", Length: 1500})
	writeRecord(t, dir, "r2", dataset.Segment{Marker: "(AFIB", Length: 2500})
	writeRecord(t, dir, "r3", dataset.Segment{Marker: "(N", Length: 1200})
	writeRecord(t, dir, "r4", dataset.Segment{Marker: "(N", Length: 3000})
	// No annotations.
	writeRecord(t, dir, "r5", dataset.Segment{Marker: "(N", Length: 3000})
	require.NoError(t, os.Remove(filepath.Join(dir, "r5.atr")))
	// Header only.
	writeRecord(t, dir, "r6", dataset.Segment{Marker: "(N", Length: 3000})
	require.NoError(t, os.Remove(filepath.Join(dir, "r6.dat")))

	opts := defaultOptions()
	opts.TestFraction = 0.4

	builder, err := dataset.NewBuilder(dataset.NewLoader(dir, "atr", discard), opts, discard)
	require.NoError(t, err)

	res, err := builder.Build()
	require.NoError(t, err)

	require.Len(t, res.Incomplete, 1)
	assert.Equal(t, "r6", res.Incomplete[0].Record)

	// ceil(0.4 * 5) records held out.
	assert.Len(t, res.Test.Records, 2)
	assert.Len(t, res.Train.Records, 3)

	windows := map[string]int{"r1": 4, "r2": 4, "r3": 1, "r4": 5, "r5": 0}
	labels := map[string][]uint8{
		"r1": {0, 1, 1, 1},
		"r2": {1, 1, 1, 1},
		"r3": {0},
		"r4": {0, 0, 0, 0, 0},
	}

	for _, split := range []dataset.Split{res.Train, res.Test} {
		require.Len(t, split.Outcomes, len(split.Records))

		var wantLabels []uint8
		total := 0
		for i, o := range split.Outcomes {
			assert.Equal(t, split.Records[i], o.Record)
			if o.Record == "r5" {
				require.True(t, o.Skipped())
				assert.ErrorIs(t, o.Err, dataset.ErrNoLabels)
				continue
			}
			require.False(t, o.Skipped(), "record %s: %v", o.Record, o.Err)
			assert.Equal(t, windows[o.Record], o.Windows.Len(), "record %s", o.Record)
			total += windows[o.Record]
			wantLabels = append(wantLabels, labels[o.Record]...)
		}

		assert.Equal(t, total, split.Windows.Len())
		assert.Equal(t, wantLabels, split.Windows.Labels)
	}
}

func TestBuildSkipsMalformedHeader(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "good", dataset.Segment{Marker: "(N", Length: 2000})
	writeRecord(t, dir, "other", dataset.Segment{Marker: "(AFIB", Length: 2000})
	// A sample count far beyond what the signal file holds.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.hea"), []byte("bad 1 250 100000000000000\nbad.dat 212 200 12 0 0 0 0 ECG\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.dat"), []byte{0, 0, 0}, 0o644))

	opts := defaultOptions()
	opts.TestFraction = 0.3

	builder, err := dataset.NewBuilder(dataset.NewLoader(dir, "atr", discard), opts, discard)
	require.NoError(t, err)

	var res *dataset.Result
	require.NotPanics(t, func() {
		res, err = builder.Build()
	})
	require.NoError(t, err)

	var outcomes []dataset.Outcome
	for _, split := range []dataset.Split{res.Train, res.Test} {
		outcomes = append(outcomes, split.Outcomes...)
	}
	require.Len(t, outcomes, 3)

	windows := 0
	for _, o := range outcomes {
		if o.Record == "bad" {
			require.True(t, o.Skipped())
			assert.ErrorIs(t, o.Err, io.ErrUnexpectedEOF)
			continue
		}
		require.False(t, o.Skipped(), "record %s: %v", o.Record, o.Err)
		assert.Equal(t, 3, o.Windows.Len())
		windows += o.Windows.Len()
	}
	assert.Equal(t, 6, res.Train.Windows.Len()+res.Test.Windows.Len())
	assert.Equal(t, 6, windows)
}

func TestBuildEmptyDirectory(t *testing.T) {
	builder, err := dataset.NewBuilder(dataset.NewLoader(t.TempDir(), "atr", discard), defaultOptions(), discard)
	require.NoError(t, err)

	res, err := builder.Build()
	require.NoError(t, err)
	assert.Equal(t, 0, res.Train.Windows.Len())
	assert.Equal(t, 0, res.Test.Windows.Len())
}

func TestBuildReproducible(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		writeRecord(t, dir, fmt.Sprintf("rec%d", i), dataset.Segment{Marker: "(N", Length: 1000 + 500*i})
	}

	build := func() *dataset.Result {
		builder, err := dataset.NewBuilder(dataset.NewLoader(dir, "atr", discard), defaultOptions(), discard)
		require.NoError(t, err)
		res, err := builder.Build()
		require.NoError(t, err)
		return res
	}

	first, second := build(), build()
	assert.Equal(t, first.Train.Records, second.Train.Records)
	assert.Equal(t, first.Test.Records, second.Test.Records)
	assert.Equal(t, first.Train.Windows, second.Train.Windows)
	assert.Equal(t, first.Test.Windows, second.Test.Windows)
}

func TestBuildSavesArtifact(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "normal", dataset.Segment{Marker: "(N", Length: 2000})
	writeRecord(t, dir, "afib", dataset.Segment{Marker: "(AFIB", Length: 2000})

	out := filepath.Join(t.TempDir(), "processed", "nested")
	opts := defaultOptions()
	opts.OutputDir = out

	builder, err := dataset.NewBuilder(dataset.NewLoader(dir, "atr", discard), opts, discard)
	require.NoError(t, err)

	res, err := builder.Build()
	require.NoError(t, err)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, filepath.Join(out, dataset.ArtifactName), res.Path)

	loaded, err := dataset.LoadArtifact(out)
	require.NoError(t, err)

	assert.Equal(t, res.Artifact.ID, loaded.ID)
	assert.True(t, res.Artifact.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, res.Train.Records, loaded.TrainRecords)
	assert.Equal(t, res.Test.Records, loaded.TestRecords)
	assert.Equal(t, res.Train.Windows, loaded.Train)
	assert.Equal(t, res.Test.Windows, loaded.Test)
	assert.Equal(t, opts.Window, loaded.Window)
	assert.Equal(t, int64(42), loaded.Seed)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadArtifactEmptySplits(t *testing.T) {
	dir := t.TempDir()
	a := &dataset.Artifact{
		Window:      window.DefaultParams(),
		Train:       window.NewSet(1000),
		Test:        window.NewSet(1000),
		TestRecords: []string{"lonely"},
	}
	_, err := dataset.SaveArtifact(dir, a)
	require.NoError(t, err)

	loaded, err := dataset.LoadArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Train.Len())
	assert.Equal(t, 0, loaded.Test.Len())
	assert.Equal(t, 1000, loaded.Train.Size)
	assert.Equal(t, []string{"lonely"}, loaded.TestRecords)

	_, err = dataset.LoadArtifact(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewBuilderValidates(t *testing.T) {
	loader := dataset.NewLoader(t.TempDir(), "atr", discard)

	opts := defaultOptions()
	opts.TestFraction = 0
	_, err := dataset.NewBuilder(loader, opts, discard)
	require.Error(t, err)

	opts = defaultOptions()
	opts.Window.Stride = 0
	_, err = dataset.NewBuilder(loader, opts, discard)
	require.Error(t, err)

	opts = defaultOptions()
	opts.Channel = -1
	_, err = dataset.NewBuilder(loader, opts, discard)
	require.Error(t, err)
}
