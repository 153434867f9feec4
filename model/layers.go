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
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// Layer transforms a (batch, channels, length) tensor.
type Layer interface {
	Forward(x *Tensor) (*Tensor, error)
	// OutputLength returns the sequence length produced from an input of
	// length n, or a value below 1 if the input is too short.
	OutputLength(n int) int
	// NumParams returns the number of learnable parameters.
	NumParams() int
	String() string
}

// Conv1d is a 1-D convolution with optional "same" padding.
type Conv1d struct {
	In, Out int
	Kernel  int
	Stride  int
	Same    bool      // Pad so the output length equals the input length
	Weight  []float32 // Out * In * Kernel
	Bias    []float32 // Out
}

// NewConv1d creates a convolution initialised like PyTorch's default
// (uniform in ±1/sqrt(fan in)).
func NewConv1d(in, out, kernel, stride int, same bool, rng *rand.Rand) (*Conv1d, error) {
	if in < 1 || out < 1 || kernel < 1 || stride < 1 {
		return nil, fmt.Errorf("invalid convolution (%d -> %d, kernel %d, stride %d)", in, out, kernel, stride)
	}
	if same && stride != 1 {
		return nil, fmt.Errorf("same padding requires stride 1, got %d", stride)
	}

	c := &Conv1d{
		In:     in,
		Out:    out,
		Kernel: kernel,
		Stride: stride,
		Same:   same,
		Weight: make([]float32, out*in*kernel),
		Bias:   make([]float32, out),
	}
	bound := 1 / math.Sqrt(float64(in*kernel))
	uniform(rng, c.Weight, bound)
	uniform(rng, c.Bias, bound)

	return c, nil
}

func (c *Conv1d) padding() (left, right int) {
	if !c.Same {
		return 0, 0
	}
	total := c.Kernel - 1
	return total / 2, total - total/2
}

func (c *Conv1d) OutputLength(n int) int {
	left, right := c.padding()
	padded := n + left + right
	if padded < c.Kernel {
		return 0
	}
	return (padded-c.Kernel)/c.Stride + 1
}

func (c *Conv1d) NumParams() int {
	return len(c.Weight) + len(c.Bias)
}

func (c *Conv1d) String() string {
	s := fmt.Sprintf("Conv1d(%d, %d, kernel_size=%d, stride=%d", c.In, c.Out, c.Kernel, c.Stride)
	if c.Same {
		s += ", padding=same"
	}
	return s + ")"
}

func (c *Conv1d) Forward(x *Tensor) (*Tensor, error) {
	if x.Channels != c.In {
		return nil, fmt.Errorf("%s: expected %d input channels, got %d: %w", c, c.In, x.Channels, ErrShape)
	}
	outLen := c.OutputLength(x.Length)
	if outLen < 1 {
		return nil, fmt.Errorf("%s: input length %d too short: %w", c, x.Length, ErrShape)
	}

	y := NewTensor(x.Batch, c.Out, outLen)
	left, _ := c.padding()

	parallel(x.Batch, func(b int) {
		for o := 0; o < c.Out; o++ {
			out := y.Row(b, o)
			for t := range out {
				out[t] = c.Bias[o]
			}

			for i := 0; i < c.In; i++ {
				in := x.Row(b, i)
				weights := c.Weight[(o*c.In+i)*c.Kernel : (o*c.In+i+1)*c.Kernel]
				for k, w := range weights {
					// out[t] += w * in[t*stride + k - left] for positions inside the input.
					offset := k - left
					lo := 0
					if offset < 0 {
						lo = (-offset + c.Stride - 1) / c.Stride
					}
					hi := outLen
					if span := x.Length - 1 - offset; span < 0 {
						hi = 0
					} else if span/c.Stride+1 < hi {
						hi = span/c.Stride + 1
					}
					for t := lo; t < hi; t++ {
						out[t] += w * in[t*c.Stride+offset]
					}
				}
			}
		}
	})

	return y, nil
}

// BatchNorm1d normalises each channel with its running statistics, as in
// inference mode.
type BatchNorm1d struct {
	Channels    int
	Eps         float32
	Gamma       []float32
	Beta        []float32
	RunningMean []float32
	RunningVar  []float32
}

// NewBatchNorm1d creates a batch normalisation with unit scale, zero shift
// and freshly initialised running statistics.
func NewBatchNorm1d(channels int) *BatchNorm1d {
	bn := &BatchNorm1d{
		Channels:    channels,
		Eps:         1e-5,
		Gamma:       make([]float32, channels),
		Beta:        make([]float32, channels),
		RunningMean: make([]float32, channels),
		RunningVar:  make([]float32, channels),
	}
	for i := 0; i < channels; i++ {
		bn.Gamma[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

func (bn *BatchNorm1d) OutputLength(n int) int { return n }

// NumParams counts the scale and shift; running statistics are not learned.
func (bn *BatchNorm1d) NumParams() int { return 2 * bn.Channels }

func (bn *BatchNorm1d) String() string {
	return fmt.Sprintf("BatchNorm1d(%d, eps=%g)", bn.Channels, bn.Eps)
}

func (bn *BatchNorm1d) Forward(x *Tensor) (*Tensor, error) {
	if x.Channels != bn.Channels {
		return nil, fmt.Errorf("%s: expected %d channels, got %d: %w", bn, bn.Channels, x.Channels, ErrShape)
	}

	y := NewTensor(x.Batch, x.Channels, x.Length)
	for c := 0; c < bn.Channels; c++ {
		scale := bn.Gamma[c] / float32(math.Sqrt(float64(bn.RunningVar[c]+bn.Eps)))
		shift := bn.Beta[c] - bn.RunningMean[c]*scale
		for b := 0; b < x.Batch; b++ {
			in, out := x.Row(b, c), y.Row(b, c)
			for i, v := range in {
				out[i] = v*scale + shift
			}
		}
	}
	return y, nil
}

// ReLU clamps negative values to zero.
type ReLU struct{}

func (ReLU) OutputLength(n int) int { return n }
func (ReLU) NumParams() int         { return 0 }
func (ReLU) String() string         { return "ReLU()" }

func (ReLU) Forward(x *Tensor) (*Tensor, error) {
	y := NewTensor(x.Batch, x.Channels, x.Length)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	return y, nil
}

// AvgPool1d averages non-overlapping runs of Kernel values.
type AvgPool1d struct {
	Kernel int
}

func (p AvgPool1d) OutputLength(n int) int {
	if p.Kernel < 1 || n < p.Kernel {
		return 0
	}
	return n / p.Kernel
}

func (p AvgPool1d) NumParams() int { return 0 }

func (p AvgPool1d) String() string {
	return fmt.Sprintf("AvgPool1d(kernel_size=%d)", p.Kernel)
}

func (p AvgPool1d) Forward(x *Tensor) (*Tensor, error) {
	outLen := p.OutputLength(x.Length)
	if outLen < 1 {
		return nil, fmt.Errorf("%s: input length %d too short: %w", p, x.Length, ErrShape)
	}

	y := NewTensor(x.Batch, x.Channels, outLen)
	for b := 0; b < x.Batch; b++ {
		for c := 0; c < x.Channels; c++ {
			in, out := x.Row(b, c), y.Row(b, c)
			for t := range out {
				var sum float32
				for _, v := range in[t*p.Kernel : (t+1)*p.Kernel] {
					sum += v
				}
				out[t] = sum / float32(p.Kernel)
			}
		}
	}
	return y, nil
}

// GlobalAvgPool1d averages each channel over the whole sequence.
type GlobalAvgPool1d struct{}

func (GlobalAvgPool1d) OutputLength(n int) int {
	if n < 1 {
		return 0
	}
	return 1
}

func (GlobalAvgPool1d) NumParams() int { return 0 }
func (GlobalAvgPool1d) String() string { return "AdaptiveAvgPool1d(output_size=1)" }

func (GlobalAvgPool1d) Forward(x *Tensor) (*Tensor, error) {
	if x.Length < 1 {
		return nil, fmt.Errorf("global average pooling of empty sequence: %w", ErrShape)
	}

	y := NewTensor(x.Batch, x.Channels, 1)
	for b := 0; b < x.Batch; b++ {
		for c := 0; c < x.Channels; c++ {
			var sum float64
			for _, v := range x.Row(b, c) {
				sum += float64(v)
			}
			y.Row(b, c)[0] = float32(sum / float64(x.Length))
		}
	}
	return y, nil
}

// Linear is a fully connected projection of length-1 sequences.
type Linear struct {
	In, Out int
	Weight  []float32 // Out * In
	Bias    []float32 // Out
}

// NewLinear creates a projection initialised like PyTorch's default.
func NewLinear(in, out int, rng *rand.Rand) (*Linear, error) {
	if in < 1 || out < 1 {
		return nil, fmt.Errorf("invalid linear layer (%d -> %d)", in, out)
	}

	l := &Linear{
		In:     in,
		Out:    out,
		Weight: make([]float32, out*in),
		Bias:   make([]float32, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	uniform(rng, l.Weight, bound)
	uniform(rng, l.Bias, bound)

	return l, nil
}

func (l *Linear) OutputLength(n int) int {
	if n != 1 {
		return 0
	}
	return 1
}

func (l *Linear) NumParams() int { return len(l.Weight) + len(l.Bias) }

func (l *Linear) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d)", l.In, l.Out)
}

func (l *Linear) Forward(x *Tensor) (*Tensor, error) {
	if x.Channels != l.In || x.Length != 1 {
		return nil, fmt.Errorf("%s: expected (%d, 1) features, got (%d, %d): %w", l, l.In, x.Channels, x.Length, ErrShape)
	}

	y := NewTensor(x.Batch, l.Out, 1)
	for b := 0; b < x.Batch; b++ {
		for o := 0; o < l.Out; o++ {
			sum := l.Bias[o]
			for i, w := range l.Weight[o*l.In : (o+1)*l.In] {
				sum += w * x.At(b, i, 0)
			}
			y.Row(b, o)[0] = sum
		}
	}
	return y, nil
}

// Sequential applies layers in order.
type Sequential []Layer

func (s Sequential) Forward(x *Tensor) (*Tensor, error) {
	var err error
	for _, layer := range s {
		if x, err = layer.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (s Sequential) OutputLength(n int) int {
	for _, layer := range s {
		if n = layer.OutputLength(n); n < 1 {
			return 0
		}
	}
	return n
}

func (s Sequential) NumParams() int {
	n := 0
	for _, layer := range s {
		n += layer.NumParams()
	}
	return n
}

func (s Sequential) String() string {
	str := "Sequential("
	for i, layer := range s {
		if i > 0 {
			str += ", "
		}
		str += layer.String()
	}
	return str + ")"
}

func uniform(rng *rand.Rand, values []float32, bound float64) {
	for i := range values {
		values[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

// parallel runs fn for each index in [0, n) across the available CPUs.
// Results must not depend on scheduling; each index owns its own outputs.
func parallel(n int, fn func(i int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
}
