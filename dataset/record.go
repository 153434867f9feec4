// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package dataset turns a directory of annotated WFDB records into labelled
// training windows.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/OpenPSG/afdb/rhythm"
	"github.com/OpenPSG/afdb/wfdb"
)

// ErrNoLabels is returned for records without usable rhythm labels.
var ErrNoLabels = errors.New("no rhythm labels")

// placeholderSuffix marks header entries that are not real records.
const placeholderSuffix = "-"

// Catalog returns the sorted names of the records in dir that have a header
// file. Names ending in "-" are placeholders and are skipped. A directory
// that does not exist holds no records.
func Catalog(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), ".hea")
		if !ok || name == "" || strings.HasSuffix(name, placeholderSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// Labels is the outcome of reading a record's rhythm annotations: either a
// dense label array, or the reason there is none.
type Labels struct {
	values []rhythm.Label
	reason error
}

// LabelsOf wraps a dense label array.
func LabelsOf(values []rhythm.Label) Labels {
	return Labels{values: values}
}

// NoLabels records why a record has no label array.
func NoLabels(reason error) Labels {
	if reason == nil {
		reason = ErrNoLabels
	}
	return Labels{reason: reason}
}

// Get returns the label array and whether it is present.
func (l Labels) Get() ([]rhythm.Label, bool) {
	return l.values, l.reason == nil
}

// Reason returns why labels are absent, or nil if they are present.
func (l Labels) Reason() error {
	return l.reason
}

// Record is a single loaded recording.
type Record struct {
	Name              string
	SamplingFrequency float64
	Length            int         // Samples per signal
	Channels          []int       // Signal indices loaded, in order
	Signals           [][]float64 // One slice of Length values per loaded channel
	Labels            Labels
}

// Duration returns the length of the recording.
func (r *Record) Duration() time.Duration {
	if r.SamplingFrequency <= 0 {
		return 0
	}
	return time.Duration(float64(r.Length) / r.SamplingFrequency * float64(time.Second))
}

// Loader reads records from a directory.
type Loader struct {
	dir       string
	annotator string
	logger    *slog.Logger
}

// NewLoader creates a loader for the records in dir whose rhythm annotations
// use the given annotator extension (usually "atr"). A nil logger uses
// slog.Default().
func NewLoader(dir, annotator string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, annotator: annotator, logger: logger}
}

// Dir returns the directory records are read from.
func (l *Loader) Dir() string {
	return l.dir
}

// Records lists the records with a header file.
func (l *Loader) Records() ([]string, error) {
	return Catalog(l.dir)
}

// Header reads the header of a record.
func (l *Loader) Header(name string) (*wfdb.Header, error) {
	f, err := os.Open(filepath.Join(l.dir, name+".hea"))
	if err != nil {
		return nil, fmt.Errorf("error opening header: %w", err)
	}
	defer f.Close()

	hdr, err := wfdb.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("error reading header of %s: %w", name, err)
	}
	return hdr, nil
}

// CheckComplete returns an error unless every signal file named by the
// record's header exists.
func (l *Loader) CheckComplete(name string) error {
	hdr, err := l.Header(name)
	if err != nil {
		return err
	}
	if hdr.SignalCount == 0 {
		return fmt.Errorf("record %s has no signals", name)
	}

	for _, signal := range hdr.Signals {
		info, err := os.Stat(filepath.Join(l.dir, signal.FileName))
		if err != nil {
			return fmt.Errorf("signal file of %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("signal file %s of %s is not a regular file", signal.FileName, name)
		}
	}
	return nil
}

// Load reads the selected channels of a record (all channels when channels is
// nil) and its rhythm labels. A record whose annotations cannot be read is
// still returned, with absent labels.
func (l *Loader) Load(name string, channels []int) (*Record, error) {
	hdr, err := l.Header(name)
	if err != nil {
		return nil, err
	}

	signals, err := wfdb.ReadSignals(l.dir, hdr, channels)
	if err != nil {
		return nil, fmt.Errorf("error reading signals of %s: %w", name, err)
	}
	if channels == nil {
		channels = make([]int, hdr.SignalCount)
		for i := range channels {
			channels[i] = i
		}
	}

	length := int(hdr.SampleCount)
	if len(signals) > 0 {
		length = len(signals[0])
	}

	rec := &Record{
		Name:              name,
		SamplingFrequency: hdr.SamplingFrequency,
		Length:            length,
		Channels:          channels,
		Signals:           signals,
	}

	rec.Labels = l.loadLabels(name, length)
	if reason := rec.Labels.Reason(); reason != nil {
		l.logger.Debug("Record has no rhythm labels", slog.String("record", name), slog.Any("reason", reason))
	}

	return rec, nil
}

func (l *Loader) loadLabels(name string, length int) Labels {
	f, err := os.Open(filepath.Join(l.dir, name+"."+l.annotator))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoLabels(fmt.Errorf("%w: no %s annotations", ErrNoLabels, l.annotator))
		}
		return NoLabels(fmt.Errorf("error opening annotations: %w", err))
	}
	defer f.Close()

	annotations, err := wfdb.ReadAnnotations(f)
	if err != nil {
		return NoLabels(fmt.Errorf("error reading annotations: %w", err))
	}

	labels, err := rhythm.Expand(annotations, length)
	if err != nil {
		return NoLabels(err)
	}

	return LabelsOf(labels)
}
