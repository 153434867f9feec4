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
	"log/slog"
	"time"

	"github.com/OpenPSG/afdb/rhythm"
)

// RecordStats summarises the rhythm content of one record.
type RecordStats struct {
	Record      string
	AF          time.Duration // Time in atrial fibrillation
	Normal      time.Duration // Time in normal sinus rhythm
	Composition map[rhythm.Label]float64
}

// AFPercent returns the share of AF in the AF plus normal time.
func (s RecordStats) AFPercent() float64 {
	return afPercent(s.AF, s.Normal)
}

// Stats summarises the rhythm content of a directory of records.
type Stats struct {
	Records []RecordStats
	Skipped []Outcome // Records that could not be summarised
}

// TotalAF returns the AF time over all records.
func (s *Stats) TotalAF() time.Duration {
	var total time.Duration
	for _, r := range s.Records {
		total += r.AF
	}
	return total
}

// TotalNormal returns the normal rhythm time over all records.
func (s *Stats) TotalNormal() time.Duration {
	var total time.Duration
	for _, r := range s.Records {
		total += r.Normal
	}
	return total
}

// AFPercent returns the overall share of AF in the AF plus normal time.
func (s *Stats) AFPercent() float64 {
	return afPercent(s.TotalAF(), s.TotalNormal())
}

// ComputeStats summarises every cataloged record with rhythm labels, reading
// only the given channel. Records with neither AF nor normal rhythm are left
// out; records that fail to load are skipped and logged.
func ComputeStats(loader *Loader, channel int, logger *slog.Logger) (*Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	names, err := loader.Records()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, name := range names {
		rec, err := loader.Load(name, []int{channel})
		if err != nil {
			logger.Warn("Skipping record", slog.String("record", name), slog.Any("reason", err))
			stats.Skipped = append(stats.Skipped, Outcome{Record: name, Err: err})
			continue
		}

		labels, ok := rec.Labels.Get()
		if !ok {
			logger.Warn("Skipping record", slog.String("record", name), slog.Any("reason", rec.Labels.Reason()))
			stats.Skipped = append(stats.Skipped, Outcome{Record: name, Err: rec.Labels.Reason()})
			continue
		}

		counts := rhythm.Count(labels)
		rs := RecordStats{
			Record:      name,
			AF:          samplesToDuration(counts[rhythm.AtrialFibrillation], rec.SamplingFrequency),
			Normal:      samplesToDuration(counts[rhythm.Normal], rec.SamplingFrequency),
			Composition: rhythm.Composition(labels),
		}
		if rs.AF+rs.Normal == 0 {
			continue
		}
		stats.Records = append(stats.Records, rs)
	}

	return stats, nil
}

func samplesToDuration(n int, fs float64) time.Duration {
	if fs <= 0 {
		return 0
	}
	return time.Duration(float64(n) / fs * float64(time.Second))
}

func afPercent(af, normal time.Duration) float64 {
	if af+normal == 0 {
		return 0
	}
	return float64(af) / float64(af+normal) * 100
}
