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
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Writer writes interleaved sample frames to a WFDB signal file.
type Writer struct {
	w       *bufio.Writer
	format  Format
	signals []Signal
	frames  int64 // Number of frames written so far.
	pending int   // First sample of an incomplete format 212 pair.
	hasPair bool
}

// NewWriter creates a Writer for a signal file holding the given signals.
func NewWriter(w io.Writer, signals []Signal) (*Writer, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("no signals to write")
	}

	format := signals[0].Format
	for _, signal := range signals[1:] {
		if signal.Format != format {
			return nil, fmt.Errorf("mixed formats %d and %d: %w", format, signal.Format, ErrUnsupported)
		}
	}
	if !format.Valid() {
		return nil, fmt.Errorf("format %d: %w", format, ErrUnsupported)
	}

	return &Writer{w: bufio.NewWriter(w), format: format, signals: signals}, nil
}

// Close flushes any buffered samples. It does not close the underlying writer.
func (sw *Writer) Close() error {
	if sw.hasPair {
		// Odd sample count: the final pair is written as two bytes.
		if _, err := sw.w.Write([]byte{byte(sw.pending), byte(sw.pending>>8) & 0x0f}); err != nil {
			return err
		}
		sw.hasPair = false
	}

	return sw.w.Flush()
}

// Frames returns the number of frames written so far.
func (sw *Writer) Frames() int64 {
	return sw.frames
}

// WriteFrame writes a single frame of digital samples, one per signal.
func (sw *Writer) WriteFrame(frame []int) error {
	if len(frame) != len(sw.signals) {
		return fmt.Errorf("expected %d samples, got %d", len(sw.signals), len(frame))
	}

	for _, sample := range frame {
		if err := sw.writeSample(sample); err != nil {
			return err
		}
	}

	sw.frames++
	return nil
}

// WriteRecord writes physical values, one slice per signal, all of equal length.
func (sw *Writer) WriteRecord(signals [][]float64) error {
	if len(signals) != len(sw.signals) {
		return fmt.Errorf("expected %d signals, got %d", len(sw.signals), len(signals))
	}
	for _, signal := range signals {
		if len(signal) != len(signals[0]) {
			return fmt.Errorf("signals differ in length: %d and %d", len(signals[0]), len(signal))
		}
	}

	frame := make([]int, len(signals))
	for n := range signals[0] {
		for i, signal := range sw.signals {
			frame[i] = convertPhysicalToDigital(signals[i][n], signal.Baseline, signal.Gain, sw.format)
		}
		if err := sw.WriteFrame(frame); err != nil {
			return err
		}
	}

	return nil
}

func (sw *Writer) writeSample(sample int) error {
	switch sw.format {
	case Format212:
		if !sw.hasPair {
			sw.pending = sample
			sw.hasPair = true
			return nil
		}
		first, second := sw.pending&0xfff, sample&0xfff
		sw.hasPair = false
		_, err := sw.w.Write([]byte{byte(first), byte(first>>8) | byte(second>>8)<<4, byte(second)})
		return err

	case Format16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(sample)))
		_, err := sw.w.Write(b[:])
		return err

	case Format80:
		return sw.w.WriteByte(byte(sample + 128))
	}

	return fmt.Errorf("format %d: %w", sw.format, ErrUnsupported)
}

// CreateRecord writes the header and signal files of a record into dir.
// Signals are grouped into files by FileName; the sample count, initial values
// and checksums of the header are filled in from data.
func CreateRecord(dir string, hdr Header, data [][]float64) error {
	if len(data) != hdr.SignalCount || len(hdr.Signals) != hdr.SignalCount {
		return fmt.Errorf("expected %d signals, got %d", hdr.SignalCount, len(data))
	}
	if hdr.SignalCount > 0 {
		hdr.SampleCount = int64(len(data[0]))
	}

	hdr.Signals = append([]Signal(nil), hdr.Signals...)
	for i := range hdr.Signals {
		signal := &hdr.Signals[i]
		if signal.Gain == 0 {
			signal.Gain = DefaultGain
		}
		signal.Checksum = 0
		signal.InitialValue = 0
		for n, v := range data[i] {
			digital := convertPhysicalToDigital(v, signal.Baseline, signal.Gain, signal.Format)
			if n == 0 {
				signal.InitialValue = digital
			}
			signal.Checksum += digital
		}
		signal.Checksum = int(int16(signal.Checksum))
	}

	var files []string
	byFile := make(map[string][]int)
	for i, signal := range hdr.Signals {
		if _, ok := byFile[signal.FileName]; !ok {
			files = append(files, signal.FileName)
		}
		byFile[signal.FileName] = append(byFile[signal.FileName], i)
	}

	for _, name := range files {
		indices := byFile[name]
		signals := make([]Signal, len(indices))
		groupData := make([][]float64, len(indices))
		for j, i := range indices {
			signals[j] = hdr.Signals[i]
			groupData[j] = data[i]
		}

		if err := writeFile(filepath.Join(dir, name), func(w io.Writer) error {
			sw, err := NewWriter(w, signals)
			if err != nil {
				return err
			}
			if err := sw.WriteRecord(groupData); err != nil {
				return err
			}
			return sw.Close()
		}); err != nil {
			return fmt.Errorf("error writing signal file: %w", err)
		}
	}

	if err := writeFile(filepath.Join(dir, hdr.RecordName+".hea"), func(w io.Writer) error {
		return WriteHeader(w, hdr)
	}); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	return nil
}

func writeFile(path string, fn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// convertPhysicalToDigital converts a physical value to a stored sample using the calibration factors.
// NaN is stored as the format's invalid-sample marker.
func convertPhysicalToDigital(physical float64, baseline int, gain float64, format Format) int {
	invalid := format.invalidSample()
	if math.IsNaN(physical) {
		return invalid
	}
	if gain == 0 {
		gain = DefaultGain
	}

	digital := math.Round(physical*gain) + float64(baseline)

	// Clamp to the format's range, leaving the invalid marker unused.
	lo, hi := float64(invalid+1), float64(-invalid-1)
	return int(math.Max(lo, math.Min(hi, digital)))
}
