// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/OpenPSG/afdb/wfdb"
)

// Segment is a run of samples in one rhythm. An empty Marker leaves the run
// without a boundary annotation.
type Segment struct {
	Marker string // Rhythm marker, e.g. "(N" or "(AFIB"
	Length int    // Samples in the run
}

// Synthetic describes a generated two-lead record.
type Synthetic struct {
	Name              string
	SamplingFrequency float64
	Segments          []Segment
	Seed              int64
	Annotator         string // Annotation file extension, empty for no annotation file
}

// WriteSynthetic writes a generated record into dir: a format 212 header and
// signal file with two ECG-like leads and, when an annotator is set, beat and
// rhythm annotations matching the segments.
func WriteSynthetic(dir string, s Synthetic) error {
	fs := s.SamplingFrequency
	if fs <= 0 {
		fs = wfdb.DefaultSamplingFrequency
	}

	length := 0
	for _, seg := range s.Segments {
		if seg.Length < 0 {
			return fmt.Errorf("negative segment length %d", seg.Length)
		}
		length += seg.Length
	}

	rng := rand.New(rand.NewSource(s.Seed))

	var (
		leads       = [][]float64{make([]float64, length), make([]float64, length)}
		annotations []wfdb.Annotation
		start       int
	)
	for _, seg := range s.Segments {
		if seg.Marker != "" && seg.Length > 0 {
			annotations = append(annotations, wfdb.Annotation{
				Sample: int64(start),
				Code:   wfdb.RhythmChange,
				Aux:    seg.Marker,
			})
		}

		// Regular beats in sinus rhythm, irregular ones otherwise.
		irregular := seg.Marker == "(AFIB"
		next := start
		for next < start+seg.Length {
			if next > start {
				annotations = append(annotations, wfdb.Annotation{Sample: int64(next), Symbol: "N"})
			}
			rr := 0.8
			if irregular {
				rr = 0.4 + 0.5*rng.Float64()
			}
			next += max(1, int(rr*fs))
		}

		for i := start; i < start+seg.Length; i++ {
			phase := 2 * math.Pi * 1.25 * float64(i) / fs
			leads[0][i] = math.Pow(math.Sin(phase), 15) + 0.02*rng.NormFloat64()
			leads[1][i] = 0.5*math.Sin(phase) + 0.02*rng.NormFloat64()
		}

		start += seg.Length
	}

	hdr := wfdb.Header{
		RecordName:        s.Name,
		SignalCount:       2,
		SamplingFrequency: fs,
		Signals: []wfdb.Signal{
			{FileName: s.Name + ".dat", Format: wfdb.Format212, Gain: wfdb.DefaultGain, Units: "mV", ADCResolution: 12, Description: "ECG1"},
			{FileName: s.Name + ".dat", Format: wfdb.Format212, Gain: wfdb.DefaultGain, Units: "mV", ADCResolution: 12, Description: "ECG2"},
		},
		Comments: []string{"synthetic record"},
	}
	if err := wfdb.CreateRecord(dir, hdr, leads); err != nil {
		return err
	}

	if s.Annotator == "" {
		return nil
	}

	f, err := os.Create(filepath.Join(dir, s.Name+"."+s.Annotator))
	if err != nil {
		return fmt.Errorf("error creating annotations: %w", err)
	}
	defer f.Close()

	aw := wfdb.NewAnnotationWriter(f)
	for _, a := range annotations {
		if err := aw.Write(a); err != nil {
			return fmt.Errorf("error writing annotations: %w", err)
		}
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("error writing annotations: %w", err)
	}

	return f.Close()
}
