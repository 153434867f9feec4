// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rhythm_test

import (
	"testing"

	"github.com/OpenPSG/afdb/rhythm"
	"github.com/OpenPSG/afdb/wfdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boundary(sample int64, aux string) wfdb.Annotation {
	return wfdb.Annotation{Sample: sample, Code: wfdb.RhythmChange, Symbol: "+", Aux: aux}
}

func beat(sample int64) wfdb.Annotation {
	return wfdb.Annotation{Sample: sample, Code: 1, Symbol: "N"}
}

func TestExpand(t *testing.T) {
	anns := []wfdb.Annotation{
		boundary(0, "(N"),
		beat(40),
		boundary(100, "(AFIB"),
		beat(180),
		boundary(250, "(N"),
	}

	labels, err := rhythm.Expand(anns, 300)
	require.NoError(t, err)
	require.Len(t, labels, 300)

	for i, l := range labels {
		switch {
		case i < 100:
			require.Equal(t, rhythm.Normal, l, "sample %d", i)
		case i < 250:
			require.Equal(t, rhythm.AtrialFibrillation, l, "sample %d", i)
		default:
			require.Equal(t, rhythm.Normal, l, "sample %d", i)
		}
	}
}

func TestExpandNoBoundaries(t *testing.T) {
	labels, err := rhythm.Expand([]wfdb.Annotation{beat(10), beat(20)}, 50)
	require.NoError(t, err)
	require.Len(t, labels, 50)
	for _, l := range labels {
		require.Equal(t, rhythm.Unknown, l)
	}

	labels, err = rhythm.Expand(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestExpandLeadingUnknownAndOther(t *testing.T) {
	labels, err := rhythm.Expand([]wfdb.Annotation{boundary(10, "(J"), boundary(20, "(AFL")}, 30)
	require.NoError(t, err)

	assert.Equal(t, rhythm.Unknown, labels[9])
	assert.Equal(t, rhythm.Other, labels[10])
	assert.Equal(t, rhythm.Other, labels[19])
	assert.Equal(t, rhythm.AtrialFlutter, labels[20])
	assert.Equal(t, rhythm.AtrialFlutter, labels[29])
}

func TestExpandInvalidBoundaries(t *testing.T) {
	tests := []struct {
		name string
		anns []wfdb.Annotation
	}{
		{name: "out of order", anns: []wfdb.Annotation{boundary(100, "(N"), boundary(50, "(AFIB")}},
		{name: "duplicate", anns: []wfdb.Annotation{boundary(100, "(N"), boundary(100, "(AFIB")}},
		{name: "past end", anns: []wfdb.Annotation{boundary(300, "(N")}},
		{name: "negative", anns: []wfdb.Annotation{boundary(-1, "(N")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rhythm.Expand(tt.anns, 300)
			require.ErrorIs(t, err, rhythm.ErrBoundaryOrder)
		})
	}
}

func TestExpandIgnoresOutOfOrderBeats(t *testing.T) {
	// Only boundaries are validated.
	_, err := rhythm.Expand([]wfdb.Annotation{beat(200), boundary(0, "(N"), beat(5)}, 300)
	require.NoError(t, err)
}

func TestLookup(t *testing.T) {
	assert.Equal(t, rhythm.AtrialFibrillation, rhythm.Lookup("(AFIB"))
	assert.Equal(t, rhythm.Normal, rhythm.Lookup("(N"))
	assert.Equal(t, rhythm.AtrialFlutter, rhythm.Lookup("(AFL"))
	assert.Equal(t, rhythm.Other, rhythm.Lookup("(J"))
}

func TestLabelString(t *testing.T) {
	assert.Equal(t, "atrial_fibrillation", rhythm.AtrialFibrillation.String())
	assert.Equal(t, "normal", rhythm.Normal.String())
	assert.Equal(t, "atrial_flutter", rhythm.AtrialFlutter.String())
	assert.Equal(t, "other", rhythm.Other.String())
	assert.Equal(t, "unknown", rhythm.Unknown.String())
}

func TestBinary(t *testing.T) {
	labels := []rhythm.Label{rhythm.Unknown, rhythm.AtrialFibrillation, rhythm.Normal, rhythm.AtrialFibrillation}
	assert.Equal(t, []uint8{0, 1, 0, 1}, rhythm.Binary(labels, rhythm.AtrialFibrillation))
}

func TestComposition(t *testing.T) {
	labels := []rhythm.Label{rhythm.Normal, rhythm.Normal, rhythm.Normal, rhythm.AtrialFibrillation}

	assert.Equal(t, map[rhythm.Label]int{rhythm.Normal: 3, rhythm.AtrialFibrillation: 1}, rhythm.Count(labels))

	fractions := rhythm.Composition(labels)
	assert.InDelta(t, 0.75, fractions[rhythm.Normal], 1e-12)
	assert.InDelta(t, 0.25, fractions[rhythm.AtrialFibrillation], 1e-12)
	assert.Empty(t, rhythm.Composition(nil))
}
