// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package wfdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Reader reads interleaved sample frames from a WFDB signal file.
type Reader struct {
	r       *bufio.Reader
	format  Format
	signals []Signal // Signals stored in the file, in frame order
	frame   []int    // Scratch frame for Read
	pending int      // Second sample of a format 212 pair
	hasPair bool     // Whether pending holds a sample
}

// NewReader creates a Reader for a signal file holding the given signals.
// All signals must share one format; the byte offset of the first signal is
// skipped.
func NewReader(r io.Reader, signals []Signal) (*Reader, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("no signals to read")
	}

	format := signals[0].Format
	for _, signal := range signals[1:] {
		if signal.Format != format {
			return nil, fmt.Errorf("mixed formats %d and %d in %s: %w", format, signal.Format, signal.FileName, ErrUnsupported)
		}
	}
	if !format.Valid() {
		return nil, fmt.Errorf("format %d: %w", format, ErrUnsupported)
	}

	reader := bufio.NewReader(r)
	if offset := signals[0].ByteOffset; offset > 0 {
		if _, err := io.CopyN(io.Discard, reader, offset); err != nil {
			return nil, fmt.Errorf("error skipping byte offset: %w", err)
		}
	}

	return &Reader{
		r:       reader,
		format:  format,
		signals: signals,
		frame:   make([]int, len(signals)),
	}, nil
}

// ReadFrame reads the next frame of digital samples, one per signal.
// It returns io.EOF when no further frames are available.
func (sr *Reader) ReadFrame(frame []int) error {
	if len(frame) != len(sr.signals) {
		return fmt.Errorf("expected frame of %d samples, got %d", len(sr.signals), len(frame))
	}

	for i := range frame {
		sample, err := sr.nextSample()
		if err != nil {
			if errors.Is(err, io.EOF) && i > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		frame[i] = sample
	}

	return nil
}

// Read fills each channel slice with physical values, one frame per index.
// data must hold one slice per signal, all of equal length. It returns the
// number of frames read, and io.EOF once the file is exhausted.
func (sr *Reader) Read(data [][]float64) (int, error) {
	if len(data) != len(sr.signals) {
		return 0, fmt.Errorf("expected %d channels, got %d", len(sr.signals), len(data))
	}

	n := 0
	for n < len(data[0]) {
		if err := sr.ReadFrame(sr.frame); err != nil {
			return n, err
		}

		for i, digital := range sr.frame {
			data[i][n] = sr.toPhysical(i, digital)
		}

		n++
	}

	return n, nil
}

func (sr *Reader) nextSample() (int, error) {
	switch sr.format {
	case Format212:
		if sr.hasPair {
			sr.hasPair = false
			return sr.pending, nil
		}

		var b [3]byte
		n, err := io.ReadFull(sr.r, b[:])
		switch {
		case n == 0:
			return 0, io.EOF
		case n == 1:
			return 0, io.ErrUnexpectedEOF
		case n == 2:
			// Files with an odd sample count end with a half pair.
			return signExtend(int(b[0])|int(b[1]&0x0f)<<8, 12), nil
		case err != nil:
			return 0, err
		}

		sr.pending = signExtend(int(b[2])|int(b[1]&0xf0)<<4, 12)
		sr.hasPair = true
		return signExtend(int(b[0])|int(b[1]&0x0f)<<8, 12), nil

	case Format16:
		var b [2]byte
		if _, err := io.ReadFull(sr.r, b[:]); err != nil {
			return 0, err
		}
		return int(int16(binary.LittleEndian.Uint16(b[:]))), nil

	case Format80:
		b, err := sr.r.ReadByte()
		if err != nil {
			return 0, err
		}
		return int(b) - 128, nil
	}

	return 0, fmt.Errorf("format %d: %w", sr.format, ErrUnsupported)
}

func (sr *Reader) toPhysical(i, digital int) float64 {
	if digital == sr.format.invalidSample() {
		return math.NaN()
	}
	signal := sr.signals[i]
	return convertDigitalToPhysical(digital, signal.Baseline, signal.Gain)
}

// ReadSignals reads the physical values of the selected channels of a record
// whose files live in dir. A nil channel list selects every signal. The
// returned slices are indexed by position in channels.
func ReadSignals(dir string, hdr *Header, channels []int) ([][]float64, error) {
	if channels == nil {
		channels = make([]int, hdr.SignalCount)
		for i := range channels {
			channels[i] = i
		}
	}
	for _, c := range channels {
		if c < 0 || c >= len(hdr.Signals) {
			return nil, fmt.Errorf("signal index %d out of range", c)
		}
	}

	// Signals sharing a file are stored as one interleaved stream.
	type group struct {
		fileName string
		indices  []int
	}
	var groups []*group
	byFile := make(map[string]*group)
	for i, signal := range hdr.Signals {
		g, ok := byFile[signal.FileName]
		if !ok {
			g = &group{fileName: signal.FileName}
			byFile[signal.FileName] = g
			groups = append(groups, g)
		}
		g.indices = append(g.indices, i)
	}

	wanted := make(map[int]bool, len(channels))
	for _, c := range channels {
		wanted[c] = true
	}

	decoded := make(map[int][]float64, len(channels))
	for _, g := range groups {
		selected := false
		for _, i := range g.indices {
			selected = selected || wanted[i]
		}
		if !selected {
			continue
		}

		data, err := readGroup(filepath.Join(dir, g.fileName), hdr, g.indices)
		if err != nil {
			return nil, err
		}
		for j, i := range g.indices {
			if wanted[i] {
				decoded[i] = data[j]
			}
		}
	}

	signals := make([][]float64, len(channels))
	for i, c := range channels {
		signals[i] = decoded[c]
		if len(signals[i]) != len(signals[0]) {
			return nil, fmt.Errorf("signal %d has %d samples, signal %d has %d", c, len(signals[i]), channels[0], len(signals[0]))
		}
	}

	return signals, nil
}

func readGroup(path string, hdr *Header, indices []int) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening signal file: %w", err)
	}
	defer f.Close()

	signals := make([]Signal, len(indices))
	for j, i := range indices {
		signals[j] = hdr.Signals[i]
	}

	sr, err := NewReader(f, signals)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading signal file: %w", err)
	}
	frames := availableFrames(info.Size(), signals)
	if hdr.SampleCount > frames {
		return nil, fmt.Errorf("error reading %s: expected %d samples, file holds %d: %w", path, hdr.SampleCount, frames, io.ErrUnexpectedEOF)
	}
	if hdr.SampleCount > 0 {
		frames = hdr.SampleCount
	}

	const chunkSize = 4096
	data := make([][]float64, len(signals))
	chunk := make([][]float64, len(signals))
	for j := range signals {
		data[j] = make([]float64, 0, frames)
		chunk[j] = make([]float64, chunkSize)
	}

	var total int64
	for hdr.SampleCount == 0 || total < hdr.SampleCount {
		want := int64(chunkSize)
		if hdr.SampleCount > 0 && hdr.SampleCount-total < want {
			want = hdr.SampleCount - total
		}
		for j := range chunk {
			chunk[j] = chunk[j][:want]
		}

		n, err := sr.Read(chunk)
		for j := range chunk {
			data[j] = append(data[j], chunk[j][:n]...)
		}
		total += int64(n)

		if errors.Is(err, io.EOF) {
			if hdr.SampleCount > 0 {
				return nil, fmt.Errorf("error reading %s: expected %d samples, got %d: %w", path, hdr.SampleCount, total, io.ErrUnexpectedEOF)
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading sample data: %w", err)
		}
	}

	return data, nil
}

// availableFrames returns the number of complete frames a signal file of the
// given size can hold. A trailing format 212 half pair counts as one sample.
func availableFrames(size int64, signals []Signal) int64 {
	size -= signals[0].ByteOffset
	if size <= 0 {
		return 0
	}
	bits := signals[0].Format.bitsPerSample() * int64(len(signals))
	if bits == 0 {
		return 0
	}
	return size * 8 / bits
}

// convertDigitalToPhysical converts a stored sample to physical units using the signal's calibration.
func convertDigitalToPhysical(digital, baseline int, gain float64) float64 {
	if gain == 0 {
		gain = DefaultGain
	}
	return float64(digital-baseline) / gain
}

func signExtend(v, bits int) int {
	if v >= 1<<(bits-1) {
		return v - 1<<bits
	}
	return v
}
