// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package window slices labelled signals into fixed-size training windows.
package window

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned when a signal and its labels differ in length.
var ErrLengthMismatch = errors.New("signal and label lengths differ")

const (
	DefaultSize   = 1000
	DefaultStride = 500
)

// Params controls the sliding window.
type Params struct {
	Size   int `yaml:"size"`   // Samples per window, at least 1
	Stride int `yaml:"stride"` // Samples between window starts, at least 1
}

// DefaultParams returns 1000-sample windows with a 500-sample stride.
func DefaultParams() Params {
	return Params{Size: DefaultSize, Stride: DefaultStride}
}

// Validate checks the window parameters.
func (p Params) Validate() error {
	var errs []error
	if p.Size < 1 {
		errs = append(errs, fmt.Errorf("window size must be at least 1, got %d", p.Size))
	}
	if p.Stride < 1 {
		errs = append(errs, fmt.Errorf("window stride must be at least 1, got %d", p.Stride))
	}
	return errors.Join(errs...)
}

// Count returns the number of windows Slide produces for a signal of the
// given length.
func (p Params) Count(length int) int {
	if p.Size < 1 || p.Stride < 1 || length < p.Size {
		return 0
	}
	return (length-p.Size)/p.Stride + 1
}

// Set is a collection of equally sized windows and their binary labels.
type Set struct {
	Size    int       // Samples per window
	Samples []float32 // Windows laid end to end, Len()*Size values
	Labels  []uint8   // One 0/1 label per window
}

// NewSet returns an empty set of windows of the given size.
func NewSet(size int) *Set {
	return &Set{Size: size}
}

// Len returns the number of windows.
func (s *Set) Len() int {
	return len(s.Labels)
}

// Window returns the samples of the i-th window.
func (s *Set) Window(i int) []float32 {
	return s.Samples[i*s.Size : (i+1)*s.Size]
}

// Positives returns the number of windows labelled 1.
func (s *Set) Positives() int {
	n := 0
	for _, l := range s.Labels {
		n += int(l)
	}
	return n
}

// Append adds the windows of other to s.
func (s *Set) Append(other *Set) error {
	if other.Len() == 0 {
		return nil
	}
	if other.Size != s.Size {
		return fmt.Errorf("cannot append windows of %d samples to windows of %d samples", other.Size, s.Size)
	}
	s.Samples = append(s.Samples, other.Samples...)
	s.Labels = append(s.Labels, other.Labels...)
	return nil
}

// Batch returns up to n windows starting at start, laid end to end, with
// their labels. The returned slices alias the set.
func (s *Set) Batch(start, n int) ([]float32, []uint8) {
	if start < 0 || start >= s.Len() || n <= 0 {
		return nil, nil
	}
	end := start + n
	if end > s.Len() {
		end = s.Len()
	}
	return s.Samples[start*s.Size : end*s.Size], s.Labels[start:end]
}

// Slide cuts signal into windows of p.Size samples starting every p.Stride
// samples, keeping only windows that fit entirely. Each window is labelled 1
// when at least half of its labels are 1. A signal shorter than a window
// yields an empty set.
func Slide(signal []float64, labels []uint8, p Params) (*Set, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(signal) != len(labels) {
		return nil, fmt.Errorf("%d samples, %d labels: %w", len(signal), len(labels), ErrLengthMismatch)
	}

	count := p.Count(len(signal))
	set := &Set{
		Size:    p.Size,
		Samples: make([]float32, 0, count*p.Size),
		Labels:  make([]uint8, 0, count),
	}

	for k := 0; k < count; k++ {
		start := k * p.Stride
		end := start + p.Size

		positive := 0
		for i := start; i < end; i++ {
			set.Samples = append(set.Samples, float32(signal[i]))
			if labels[i] != 0 {
				positive++
			}
		}

		// Mean of the labels >= 0.5, without rounding.
		if 2*positive >= p.Size {
			set.Labels = append(set.Labels, 1)
		} else {
			set.Labels = append(set.Labels, 0)
		}
	}

	return set, nil
}
