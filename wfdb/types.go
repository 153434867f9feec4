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
	"errors"
	"fmt"
)

// ErrUnsupported is returned for valid WFDB constructs this package does not
// decode (multi-segment records, oversampled signals, exotic formats).
var ErrUnsupported = errors.New("unsupported wfdb feature")

// Format is the storage format of a signal file.
type Format int

const (
	// Format212 packs pairs of 12-bit samples into 3 bytes.
	Format212 Format = 212
	// Format16 stores 16-bit little-endian samples.
	Format16 Format = 16
	// Format80 stores 8-bit offset binary samples.
	Format80 Format = 80
)

// Valid reports whether the format can be decoded.
func (f Format) Valid() bool {
	switch f {
	case Format212, Format16, Format80:
		return true
	}
	return false
}

// invalidSample is the digital value each format reserves for "no data".
func (f Format) invalidSample() int {
	switch f {
	case Format212:
		return -2048
	case Format16:
		return -32768
	case Format80:
		return -128
	}
	return 0
}

// bitsPerSample is the storage size of one sample.
func (f Format) bitsPerSample() int64 {
	switch f {
	case Format212:
		return 12
	case Format16:
		return 16
	case Format80:
		return 8
	}
	return 0
}

func (f Format) String() string {
	return fmt.Sprintf("%d", int(f))
}

const (
	// DefaultSamplingFrequency is assumed when a header omits it.
	DefaultSamplingFrequency = 250
	// DefaultGain is assumed when a signal's ADC gain is zero or absent.
	DefaultGain = 200
	// DefaultUnits is assumed when a signal omits its physical units.
	DefaultUnits = "mV"
)

// Header represents a WFDB record header (.hea) file.
type Header struct {
	RecordName        string   // Name of the record, also the stem of its files
	SignalCount       int      // Number of signals in the record
	SamplingFrequency float64  // Samples per second per signal
	SampleCount       int64    // Samples per signal, 0 if unknown
	BaseTime          string   // Time of day of the first sample, if recorded
	BaseDate          string   // Date of the first sample, if recorded
	Signals           []Signal // Details of each signal
	Comments          []string // Free-text comment lines, without the leading '#'
}

// Signal represents the characteristics of each signal in a WFDB record.
type Signal struct {
	FileName      string  // Name of the file holding the samples
	Format        Format  // Storage format of the samples
	Skew          int     // Skew in frames (parsed, not applied)
	ByteOffset    int64   // Bytes to skip at the start of the file
	Gain          float64 // ADC units per physical unit
	Baseline      int     // Digital value corresponding to 0 physical units
	Units         string  // Physical units (e.g., mV)
	ADCResolution int     // Bits of ADC resolution
	ADCZero       int     // Digital value at the middle of the ADC range
	InitialValue  int     // Value of the first sample
	Checksum      int     // 16-bit checksum of all samples
	BlockSize     int     // Block size, 0 for ordinary files
	Description   string  // Description of the signal (e.g., ECG1)
}

// Annotation is a single event from an annotation file.
type Annotation struct {
	Sample  int64  // Sample index the annotation is attached to
	Code    int    // MIT annotation code
	Symbol  string // Mnemonic of the code (e.g., N, V, +)
	SubType int    // Annotation subtype
	Chan    int    // Signal the annotation applies to
	Num     int    // Annotator-defined number
	Aux     string // Auxiliary text, e.g. a rhythm marker such as "(AFIB"
}

// RhythmChange is the annotation code carrying rhythm markers in its Aux.
const RhythmChange = 28

// symbols maps MIT annotation codes to their mnemonics.
var symbols = map[int]string{
	1: "N", 2: "L", 3: "R", 4: "a", 5: "V", 6: "F", 7: "J", 8: "A", 9: "S",
	10: "E", 11: "j", 12: "/", 13: "Q", 14: "~", 16: "|", 18: "s", 19: "T",
	20: "*", 21: "D", 22: "\"", 23: "=", 24: "p", 25: "B", 26: "^", 27: "t",
	28: "+", 29: "u", 30: "?", 31: "!", 32: "[", 33: "]", 34: "e", 35: "n",
	36: "@", 37: "x", 38: "f", 39: "(", 40: ")", 41: "r",
}

// Symbol returns the mnemonic for an annotation code, or "" if it has none.
func Symbol(code int) string {
	return symbols[code]
}

// Code returns the annotation code for a mnemonic.
func Code(symbol string) (int, bool) {
	for code, s := range symbols {
		if s == symbol {
			return code, true
		}
	}
	return 0, false
}
