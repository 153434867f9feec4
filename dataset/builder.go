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
	"errors"
	"fmt"
	"log/slog"

	"github.com/OpenPSG/afdb/rhythm"
	"github.com/OpenPSG/afdb/window"
	"github.com/dustin/go-humanize"
)

// Options controls how datasets are built.
type Options struct {
	Window       window.Params
	Channel      int     // Signal windowed from each record
	TestFraction float64 // Fraction of records held out for testing
	Seed         int64   // Seed of the train/test shuffle
	OutputDir    string  // Where to save the artifact, empty to skip saving
}

// Outcome is the result of processing one record: its windows, or the
// reason it was skipped.
type Outcome struct {
	Record  string
	Windows *window.Set
	Err     error
}

// Skipped reports whether the record contributed no windows because of an
// error.
func (o Outcome) Skipped() bool {
	return o.Err != nil
}

// Split is one partition of a built dataset.
type Split struct {
	Records  []string    // Records assigned to the split, in processing order
	Windows  *window.Set // Windows of every processed record, concatenated in record order
	Outcomes []Outcome   // Per-record results, including skipped records
}

// Skipped returns the outcomes of the records that were skipped.
func (s *Split) Skipped() []Outcome {
	var skipped []Outcome
	for _, o := range s.Outcomes {
		if o.Skipped() {
			skipped = append(skipped, o)
		}
	}
	return skipped
}

// Result holds both partitions of a built dataset.
type Result struct {
	Train      Split
	Test       Split
	Incomplete []Outcome // Cataloged records excluded for missing signal data
	Artifact   *Artifact // Set when the dataset was saved
	Path       string    // Artifact file, when saved
}

// Builder builds train/test window datasets from a directory of records.
type Builder struct {
	loader *Loader
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a builder reading records through loader.
// A nil logger uses slog.Default().
func NewBuilder(loader *Loader, opts Options, logger *slog.Logger) (*Builder, error) {
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}
	if opts.Channel < 0 {
		return nil, fmt.Errorf("negative channel %d", opts.Channel)
	}
	if !(opts.TestFraction > 0 && opts.TestFraction < 1) {
		return nil, fmt.Errorf("test fraction must be in (0, 1), got %g", opts.TestFraction)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{loader: loader, opts: opts, logger: logger}, nil
}

// Build catalogs the complete records, splits them into train and test
// records, windows every record and optionally saves the result. A split
// with no usable records has an empty window set.
func (b *Builder) Build() (*Result, error) {
	names, err := b.loader.Records()
	if err != nil {
		return nil, err
	}

	res := &Result{}

	var records []string
	for _, name := range names {
		if err := b.loader.CheckComplete(name); err != nil {
			b.logger.Warn("Skipping incomplete record", slog.String("record", name), slog.Any("reason", err))
			res.Incomplete = append(res.Incomplete, Outcome{Record: name, Err: err})
			continue
		}
		records = append(records, name)
	}

	trainRecords, testRecords, err := SplitRecords(records, b.opts.TestFraction, b.opts.Seed)
	if err != nil {
		return nil, err
	}
	b.logger.Info("Split records",
		slog.Int("train", len(trainRecords)), slog.Int("test", len(testRecords)))

	res.Train = b.Process("train", trainRecords)
	res.Test = b.Process("test", testRecords)

	if b.opts.OutputDir != "" {
		res.Artifact = NewArtifact(b.opts, res)
		if res.Path, err = SaveArtifact(b.opts.OutputDir, res.Artifact); err != nil {
			return nil, err
		}
		b.logger.Info("Saved datasets", slog.String("path", res.Path), slog.String("id", res.Artifact.ID.String()))
	}

	return res, nil
}

// Process windows each record in turn and concatenates the windows in record
// order. Records that fail are recorded as skipped and do not stop the
// others.
func (b *Builder) Process(name string, records []string) Split {
	split := Split{
		Records: records,
		Windows: window.NewSet(b.opts.Window.Size),
	}

	for _, record := range records {
		outcome := b.ProcessRecord(record)
		if !outcome.Skipped() {
			if err := split.Windows.Append(outcome.Windows); err != nil {
				outcome = Outcome{Record: record, Err: err}
			}
		}
		split.Outcomes = append(split.Outcomes, outcome)

		if outcome.Skipped() {
			b.logger.Warn("Skipping record", slog.String("split", name), slog.String("record", record), slog.Any("reason", outcome.Err))
			continue
		}

		b.logger.Info("Windowed record",
			slog.String("split", name),
			slog.String("record", record),
			slog.String("windows", humanize.Comma(int64(outcome.Windows.Len()))),
			slog.String("af", humanize.Comma(int64(outcome.Windows.Positives()))))
	}

	windows := split.Windows
	b.logger.Info("Built split",
		slog.String("split", name),
		slog.String("windows", humanize.Comma(int64(windows.Len()))),
		slog.String("af", humanize.Comma(int64(windows.Positives()))),
		slog.String("af_percent", fmt.Sprintf("%.1f", percent(windows.Positives(), windows.Len()))),
		slog.Int("skipped", len(split.Skipped())))

	return split
}

// ProcessRecord loads one record, labels each sample as atrial fibrillation
// or not, and windows it.
func (b *Builder) ProcessRecord(name string) Outcome {
	rec, err := b.loader.Load(name, []int{b.opts.Channel})
	if err != nil {
		return Outcome{Record: name, Err: err}
	}

	labels, ok := rec.Labels.Get()
	if !ok {
		reason := rec.Labels.Reason()
		if !errors.Is(reason, ErrNoLabels) {
			reason = fmt.Errorf("%w: %w", ErrNoLabels, reason)
		}
		return Outcome{Record: name, Err: reason}
	}

	windows, err := window.Slide(rec.Signals[0], rhythm.Binary(labels, rhythm.AtrialFibrillation), b.opts.Window)
	if err != nil {
		return Outcome{Record: name, Err: err}
	}

	return Outcome{Record: name, Windows: windows}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
