// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package wfdb_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/OpenPSG/afdb/wfdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Header of record 04015 of the MIT-BIH Atrial Fibrillation Database.
const afdbHeader = `04015 2 250 9205760
04015.dat 212 200 12 0 -96 -26325 0 ECG1
04015.dat 212 200 12 0 -76 -4519 0 ECG2
# comment line
`

func TestReadHeader(t *testing.T) {
	hdr, err := wfdb.ReadHeader(strings.NewReader(afdbHeader))
	require.NoError(t, err)

	assert.Equal(t, "04015", hdr.RecordName)
	assert.Equal(t, 2, hdr.SignalCount)
	assert.Equal(t, 250.0, hdr.SamplingFrequency)
	assert.Equal(t, int64(9205760), hdr.SampleCount)
	assert.Equal(t, []string{"comment line"}, hdr.Comments)

	require.Len(t, hdr.Signals, 2)
	sig := hdr.Signals[0]
	assert.Equal(t, "04015.dat", sig.FileName)
	assert.Equal(t, wfdb.Format212, sig.Format)
	assert.Equal(t, 200.0, sig.Gain)
	assert.Equal(t, 0, sig.Baseline)
	assert.Equal(t, "mV", sig.Units)
	assert.Equal(t, 12, sig.ADCResolution)
	assert.Equal(t, -96, sig.InitialValue)
	assert.Equal(t, -26325, sig.Checksum)
	assert.Equal(t, "ECG1", sig.Description)
	assert.Equal(t, "ECG2", hdr.Signals[1].Description)
}

func TestReadHeaderFields(t *testing.T) {
	hdr, err := wfdb.ReadHeader(strings.NewReader("rec 1 360/1(0) 650000 10:30:00 01/01/1990\nrec.dat 16x1:2+24 400(1024)/uV 11 512 3 4 0 MLII lead\n"))
	require.NoError(t, err)

	assert.Equal(t, 360.0, hdr.SamplingFrequency)
	assert.Equal(t, "10:30:00", hdr.BaseTime)
	assert.Equal(t, "01/01/1990", hdr.BaseDate)

	sig := hdr.Signals[0]
	assert.Equal(t, wfdb.Format16, sig.Format)
	assert.Equal(t, 2, sig.Skew)
	assert.Equal(t, int64(24), sig.ByteOffset)
	assert.Equal(t, 400.0, sig.Gain)
	assert.Equal(t, 1024, sig.Baseline)
	assert.Equal(t, "uV", sig.Units)
	assert.Equal(t, 512, sig.ADCZero)
	assert.Equal(t, "MLII lead", sig.Description)
}

func TestReadHeaderDefaults(t *testing.T) {
	hdr, err := wfdb.ReadHeader(strings.NewReader("rec 1\nrec.dat 80\n"))
	require.NoError(t, err)

	assert.Equal(t, float64(wfdb.DefaultSamplingFrequency), hdr.SamplingFrequency)
	assert.Equal(t, int64(0), hdr.SampleCount)
	assert.Equal(t, float64(wfdb.DefaultGain), hdr.Signals[0].Gain)
	assert.Equal(t, wfdb.DefaultUnits, hdr.Signals[0].Units)
}

func TestReadHeaderBaselineDefaultsToADCZero(t *testing.T) {
	hdr, err := wfdb.ReadHeader(strings.NewReader("rec 1 250 10\nrec.dat 212 0 12 7\n"))
	require.NoError(t, err)

	assert.Equal(t, float64(wfdb.DefaultGain), hdr.Signals[0].Gain)
	assert.Equal(t, 7, hdr.Signals[0].Baseline)
}

func TestReadHeaderErrors(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		unsupported bool
	}{
		{name: "empty", header: "# only a comment\n"},
		{name: "missing signal count", header: "rec\n"},
		{name: "missing signals", header: "rec 2 250\nrec.dat 212\n"},
		{name: "bad frequency", header: "rec 1 fast\nrec.dat 212\n"},
		{name: "bad gain", header: "rec 1 250\nrec.dat 212 high\n"},
		{name: "multi-segment", header: "rec/2 1 250\n", unsupported: true},
		{name: "unknown format", header: "rec 1 250\nrec.dat 311\n", unsupported: true},
		{name: "oversampled", header: "rec 1 250\nrec.dat 212x4\n", unsupported: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wfdb.ReadHeader(strings.NewReader(tt.header))
			require.Error(t, err)
			if tt.unsupported {
				assert.ErrorIs(t, err, wfdb.ErrUnsupported)
			}
		})
	}
}

func TestWriteHeader(t *testing.T) {
	hdr := wfdb.Header{
		RecordName:        "00735",
		SignalCount:       2,
		SamplingFrequency: 250,
		SampleCount:       1000,
		BaseTime:          "08:00:00",
		Signals: []wfdb.Signal{
			{FileName: "00735.dat", Format: wfdb.Format212, Gain: 200, Units: "mV", ADCResolution: 12, InitialValue: -12, Checksum: 321, Description: "ECG1"},
			{FileName: "00735.dat", Format: wfdb.Format212, Gain: 200, Baseline: 5, Units: "mV", ADCResolution: 12, Description: "ECG2"},
		},
		Comments: []string{"synthetic"},
	}

	var buf bytes.Buffer
	require.NoError(t, wfdb.WriteHeader(&buf, hdr))

	parsed, err := wfdb.ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, &hdr, parsed)
}

func TestWriteHeaderSignalCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := wfdb.WriteHeader(&buf, wfdb.Header{RecordName: "x", SignalCount: 2, Signals: []wfdb.Signal{{FileName: "x.dat", Format: wfdb.Format16}}})
	require.Error(t, err)
}
