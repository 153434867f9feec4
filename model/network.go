// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Params fixes the topology of the network.
type Params struct {
	InputChannels int    `yaml:"input_channels"` // Channels per input window
	OutputSize    int    `yaml:"output_size"`    // Number of classes
	StemFilters   [2]int `yaml:"stem_filters"`   // Output channels of the two stem convolutions
	StemKernels   [2]int `yaml:"stem_kernels"`   // Kernel sizes of the two stem convolutions
	StemStride    int    `yaml:"stem_stride"`    // Stride of the first stem convolution
	PoolSize      int    `yaml:"pool_size"`      // Average pooling factor after the stem
	ResBlocks     int    `yaml:"res_blocks"`     // Number of residual blocks
	ResFilters    int    `yaml:"res_filters"`    // Hidden channels inside each residual block
	ResKernel     int    `yaml:"res_kernel"`     // Kernel size of the residual convolutions
	Seed          int64  `yaml:"seed"`           // Seed for parameter initialisation
}

// DefaultParams returns the reference topology: a 64/32 filter stem with
// kernels 8 and 3, pooling by 2, eight residual blocks of kernel 50 and four
// output classes.
func DefaultParams() Params {
	return Params{
		InputChannels: 1,
		OutputSize:    4,
		StemFilters:   [2]int{64, 32},
		StemKernels:   [2]int{8, 3},
		StemStride:    1,
		PoolSize:      2,
		ResBlocks:     8,
		ResFilters:    64,
		ResKernel:     50,
		Seed:          1,
	}
}

// Validate checks every hyperparameter is in range.
func (p Params) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", name, v))
		}
	}
	positive("input_channels", p.InputChannels)
	positive("output_size", p.OutputSize)
	positive("stem_filters[0]", p.StemFilters[0])
	positive("stem_filters[1]", p.StemFilters[1])
	positive("stem_kernels[0]", p.StemKernels[0])
	positive("stem_kernels[1]", p.StemKernels[1])
	positive("stem_stride", p.StemStride)
	positive("pool_size", p.PoolSize)
	positive("res_filters", p.ResFilters)
	positive("res_kernel", p.ResKernel)
	if p.ResBlocks < 0 {
		errs = append(errs, fmt.Errorf("res_blocks must not be negative, got %d", p.ResBlocks))
	}
	return errors.Join(errs...)
}

// ConvBlock is a convolution followed by batch normalisation and ReLU.
type ConvBlock struct {
	Conv *Conv1d
	Norm *BatchNorm1d
}

func newConvBlock(in, out, kernel, stride int, same bool, rng *rand.Rand) (*ConvBlock, error) {
	conv, err := NewConv1d(in, out, kernel, stride, same, rng)
	if err != nil {
		return nil, err
	}
	return &ConvBlock{Conv: conv, Norm: NewBatchNorm1d(out)}, nil
}

func (cb *ConvBlock) layers() Sequential {
	return Sequential{cb.Conv, cb.Norm, ReLU{}}
}

func (cb *ConvBlock) Forward(x *Tensor) (*Tensor, error) { return cb.layers().Forward(x) }
func (cb *ConvBlock) OutputLength(n int) int             { return cb.Conv.OutputLength(n) }
func (cb *ConvBlock) NumParams() int                     { return cb.layers().NumParams() }
func (cb *ConvBlock) String() string                     { return cb.layers().String() }

// ResidualBlock applies two same-padded convolution blocks and adds the
// block's input to the result. Input and output shapes are identical.
type ResidualBlock struct {
	First  *ConvBlock
	Second *ConvBlock
}

// NewResidualBlock creates a block mapping channels to hidden and back.
func NewResidualBlock(channels, hidden, kernel int, rng *rand.Rand) (*ResidualBlock, error) {
	first, err := newConvBlock(channels, hidden, kernel, 1, true, rng)
	if err != nil {
		return nil, err
	}
	second, err := newConvBlock(hidden, channels, kernel, 1, true, rng)
	if err != nil {
		return nil, err
	}
	return &ResidualBlock{First: first, Second: second}, nil
}

func (rb *ResidualBlock) OutputLength(n int) int { return n }

func (rb *ResidualBlock) NumParams() int {
	return rb.First.NumParams() + rb.Second.NumParams()
}

func (rb *ResidualBlock) String() string {
	return fmt.Sprintf("Residual(%s, %s)", rb.First, rb.Second)
}

func (rb *ResidualBlock) Forward(x *Tensor) (*Tensor, error) {
	out, err := rb.First.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = rb.Second.Forward(out); err != nil {
		return nil, err
	}

	if out.Shape() != x.Shape() {
		return nil, fmt.Errorf("residual output %s does not match input %s: %w", out, x, ErrShape)
	}
	for i, v := range x.Data {
		out.Data[i] += v
	}
	return out, nil
}

// Network is the residual classifier: a two stage convolutional stem,
// average pooling, a stack of residual blocks, global average pooling and a
// fully connected head producing one logit per class.
type Network struct {
	Stem   [2]*ConvBlock
	Pool   AvgPool1d
	Blocks []*ResidualBlock
	Head   *Linear

	params Params
}

// New builds a network with freshly initialised parameters.
func New(p Params) (*Network, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(p.Seed))

	n := &Network{Pool: AvgPool1d{Kernel: p.PoolSize}, params: p}

	var err error
	if n.Stem[0], err = newConvBlock(p.InputChannels, p.StemFilters[0], p.StemKernels[0], p.StemStride, false, rng); err != nil {
		return nil, err
	}
	if n.Stem[1], err = newConvBlock(p.StemFilters[0], p.StemFilters[1], p.StemKernels[1], 1, false, rng); err != nil {
		return nil, err
	}

	// The residual stack keeps the stem's channel count throughout.
	channels := p.StemFilters[1]
	for i := 0; i < p.ResBlocks; i++ {
		block, err := NewResidualBlock(channels, p.ResFilters, p.ResKernel, rng)
		if err != nil {
			return nil, err
		}
		n.Blocks = append(n.Blocks, block)
	}

	if n.Head, err = NewLinear(channels, p.OutputSize, rng); err != nil {
		return nil, err
	}

	return n, nil
}

// Params returns the topology the network was built with.
func (n *Network) Params() Params {
	return n.params
}

func (n *Network) layers() Sequential {
	layers := Sequential{n.Stem[0], n.Stem[1], n.Pool}
	for _, block := range n.Blocks {
		layers = append(layers, block)
	}
	return append(layers, GlobalAvgPool1d{}, n.Head)
}

// NumParams returns the number of learnable parameters.
func (n *Network) NumParams() int {
	return n.layers().NumParams()
}

// MinLength returns the shortest input sequence the network accepts.
func (n *Network) MinLength() int {
	length := 1
	for n.layers().OutputLength(length) < 1 {
		length++
	}
	return length
}

// Forward computes one logit vector per window of a (batch, channels, length)
// input. No activation is applied to the logits.
func (n *Network) Forward(x *Tensor) ([][]float32, error) {
	if x.Channels != n.params.InputChannels {
		return nil, fmt.Errorf("expected %d input channels, got %d: %w", n.params.InputChannels, x.Channels, ErrShape)
	}
	if n.layers().OutputLength(x.Length) < 1 {
		return nil, fmt.Errorf("input length %d shorter than minimum %d: %w", x.Length, n.MinLength(), ErrShape)
	}

	out, err := n.layers().Forward(x)
	if err != nil {
		return nil, err
	}

	logits := make([][]float32, out.Batch)
	for b := range logits {
		logits[b] = make([]float32, out.Channels)
		for c := range logits[b] {
			logits[b][c] = out.At(b, c, 0)
		}
	}
	return logits, nil
}

// String describes the architecture, one stage per line.
func (n *Network) String() string {
	var sb strings.Builder
	sb.WriteString("Network(\n")
	fmt.Fprintf(&sb, "  (stem): %s, %s\n", n.Stem[0], n.Stem[1])
	fmt.Fprintf(&sb, "  (pool): %s\n", n.Pool)
	for i, block := range n.Blocks {
		fmt.Fprintf(&sb, "  (res%d): %s\n", i, block)
	}
	fmt.Fprintf(&sb, "  (global_pool): %s\n", GlobalAvgPool1d{})
	fmt.Fprintf(&sb, "  (fc): %s\n", n.Head)
	sb.WriteString(")")
	return sb.String()
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float32 {
	probs := make([]float32, len(logits))
	if len(logits) == 0 {
		return probs
	}

	peak := logits[0]
	for _, v := range logits[1:] {
		if v > peak {
			peak = v
		}
	}

	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - peak))
		probs[i] = float32(e)
		sum += e
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / sum)
	}
	return probs
}

// Argmax returns the index of the largest logit, or -1 for an empty vector.
func Argmax(logits []float32) int {
	best := -1
	for i, v := range logits {
		if best < 0 || v > logits[best] {
			best = i
		}
	}
	return best
}
