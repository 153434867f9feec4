// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package model implements the forward pass of a residual 1-D convolutional
// network classifying ECG windows.
package model

import (
	"errors"
	"fmt"
)

// ErrShape is returned when a tensor does not have the shape a layer expects.
var ErrShape = errors.New("tensor shape mismatch")

// Tensor is a dense (batch, channels, length) array of float32 values.
type Tensor struct {
	Batch    int
	Channels int
	Length   int
	Data     []float32 // Row-major: batch, then channel, then position
}

// NewTensor allocates a zeroed tensor.
func NewTensor(batch, channels, length int) *Tensor {
	return &Tensor{
		Batch:    batch,
		Channels: channels,
		Length:   length,
		Data:     make([]float32, batch*channels*length),
	}
}

// FromData wraps data as a tensor without copying it.
func FromData(batch, channels, length int, data []float32) (*Tensor, error) {
	if batch < 0 || channels < 0 || length < 0 {
		return nil, fmt.Errorf("negative dimension in (%d, %d, %d): %w", batch, channels, length, ErrShape)
	}
	if len(data) != batch*channels*length {
		return nil, fmt.Errorf("%d values do not fill (%d, %d, %d): %w", len(data), batch, channels, length, ErrShape)
	}
	return &Tensor{Batch: batch, Channels: channels, Length: length, Data: data}, nil
}

// Shape returns the (batch, channels, length) dimensions.
func (t *Tensor) Shape() [3]int {
	return [3]int{t.Batch, t.Channels, t.Length}
}

// Row returns the values of one channel of one batch item.
func (t *Tensor) Row(b, c int) []float32 {
	offset := (b*t.Channels + c) * t.Length
	return t.Data[offset : offset+t.Length]
}

// At returns a single value.
func (t *Tensor) At(b, c, i int) float32 {
	return t.Data[(b*t.Channels+c)*t.Length+i]
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%d, %d, %d)", t.Batch, t.Channels, t.Length)
}
