// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package rhythm expands sparse rhythm annotations into per-sample labels.
package rhythm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OpenPSG/afdb/wfdb"
)

// ErrBoundaryOrder is returned when rhythm boundaries are not strictly
// increasing or fall outside the signal.
var ErrBoundaryOrder = errors.New("invalid rhythm boundary order")

// Label is the rhythm in effect at a sample.
type Label uint8

const (
	// Unknown labels samples preceding the first rhythm boundary.
	Unknown Label = iota
	Normal
	AtrialFibrillation
	AtrialFlutter
	// Other labels any boundary marker without a named rhythm.
	Other
)

// Labels lists every label in order.
var Labels = []Label{Unknown, Normal, AtrialFibrillation, AtrialFlutter, Other}

func (l Label) String() string {
	switch l {
	case Unknown:
		return "unknown"
	case Normal:
		return "normal"
	case AtrialFibrillation:
		return "atrial_fibrillation"
	case AtrialFlutter:
		return "atrial_flutter"
	case Other:
		return "other"
	}
	return fmt.Sprintf("label(%d)", uint8(l))
}

// BoundaryPrefix starts the auxiliary text of a rhythm boundary annotation.
const BoundaryPrefix = "("

var markers = map[string]Label{
	"(AFIB": AtrialFibrillation,
	"(N":    Normal,
	"(AFL":  AtrialFlutter,
}

// Lookup returns the label for a boundary marker such as "(AFIB".
func Lookup(marker string) Label {
	if l, ok := markers[marker]; ok {
		return l
	}
	return Other
}

// Boundary marks the start of a rhythm interval.
type Boundary struct {
	Sample int64
	Marker string
	Label  Label
}

// Boundaries returns the rhythm boundaries among the annotations, in order.
// Annotations without a boundary marker (beats, noise) are ignored.
func Boundaries(annotations []wfdb.Annotation) []Boundary {
	var boundaries []Boundary
	for _, a := range annotations {
		if !strings.HasPrefix(a.Aux, BoundaryPrefix) {
			continue
		}
		boundaries = append(boundaries, Boundary{
			Sample: a.Sample,
			Marker: a.Aux,
			Label:  Lookup(a.Aux),
		})
	}
	return boundaries
}

// Expand assigns every sample of a signal of the given length the label of
// the last rhythm boundary at or before it. Samples before the first boundary
// are Unknown. Boundaries must be strictly increasing and within the signal.
func Expand(annotations []wfdb.Annotation, length int) ([]Label, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative signal length %d", length)
	}

	boundaries := Boundaries(annotations)
	for i, b := range boundaries {
		if b.Sample < 0 || b.Sample >= int64(length) {
			return nil, fmt.Errorf("boundary %q at sample %d outside signal of %d samples: %w", b.Marker, b.Sample, length, ErrBoundaryOrder)
		}
		if i > 0 && b.Sample <= boundaries[i-1].Sample {
			return nil, fmt.Errorf("boundary %q at sample %d does not follow sample %d: %w", b.Marker, b.Sample, boundaries[i-1].Sample, ErrBoundaryOrder)
		}
	}

	labels := make([]Label, length)
	for i, b := range boundaries {
		end := int64(length)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].Sample
		}
		for s := b.Sample; s < end; s++ {
			labels[s] = b.Label
		}
	}

	return labels, nil
}

// Binary encodes labels as 1 where they equal positive and 0 elsewhere.
func Binary(labels []Label, positive Label) []uint8 {
	out := make([]uint8, len(labels))
	for i, l := range labels {
		if l == positive {
			out[i] = 1
		}
	}
	return out
}

// Count returns the number of samples carrying each label.
func Count(labels []Label) map[Label]int {
	counts := make(map[Label]int)
	for _, l := range labels {
		counts[l]++
	}
	return counts
}

// Composition returns the fraction of samples carrying each label present.
func Composition(labels []Label) map[Label]float64 {
	fractions := make(map[Label]float64)
	if len(labels) == 0 {
		return fractions
	}
	for l, n := range Count(labels) {
		fractions[l] = float64(n) / float64(len(labels))
	}
	return fractions
}
