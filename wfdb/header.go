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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadHeader parses a WFDB header (.hea) file.
func ReadHeader(r io.Reader) (*Header, error) {
	scanner := bufio.NewScanner(r)

	hdr := &Header{}
	recordLine := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			hdr.Comments = append(hdr.Comments, strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}

		if recordLine {
			if err := parseRecordLine(hdr, strings.Fields(line)); err != nil {
				return nil, err
			}
			recordLine = false
			continue
		}

		if len(hdr.Signals) == hdr.SignalCount {
			// Anything after the signal specifications is ignored.
			continue
		}

		signal, err := parseSignalLine(line)
		if err != nil {
			return nil, fmt.Errorf("error parsing signal %d: %w", len(hdr.Signals), err)
		}
		hdr.Signals = append(hdr.Signals, signal)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}

	if recordLine {
		return nil, fmt.Errorf("error reading header: missing record line")
	}
	if len(hdr.Signals) != hdr.SignalCount {
		return nil, fmt.Errorf("expected %d signal specifications, got %d", hdr.SignalCount, len(hdr.Signals))
	}

	return hdr, nil
}

func parseRecordLine(hdr *Header, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("error parsing record line: expected name and signal count")
	}

	if strings.Contains(fields[0], "/") {
		return fmt.Errorf("multi-segment record %q: %w", fields[0], ErrUnsupported)
	}
	hdr.RecordName = fields[0]

	signalCount, err := strconv.Atoi(fields[1])
	if err != nil || signalCount < 0 {
		return fmt.Errorf("error parsing signal count %q", fields[1])
	}
	hdr.SignalCount = signalCount

	hdr.SamplingFrequency = DefaultSamplingFrequency
	if len(fields) > 2 {
		// fs[/counterfreq[(base)]]
		freq, _, _ := strings.Cut(fields[2], "/")
		fs, err := strconv.ParseFloat(freq, 64)
		if err != nil {
			return fmt.Errorf("error parsing sampling frequency %q: %w", fields[2], err)
		}
		if fs > 0 {
			hdr.SamplingFrequency = fs
		}
	}

	if len(fields) > 3 {
		sampleCount, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil || sampleCount < 0 {
			return fmt.Errorf("error parsing sample count %q", fields[3])
		}
		hdr.SampleCount = sampleCount
	}

	if len(fields) > 4 {
		hdr.BaseTime = fields[4]
	}
	if len(fields) > 5 {
		hdr.BaseDate = fields[5]
	}

	return nil
}

func parseSignalLine(line string) (Signal, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Signal{}, fmt.Errorf("expected file name and format")
	}

	signal := Signal{
		FileName: fields[0],
		Gain:     DefaultGain,
		Units:    DefaultUnits,
	}

	// format[xsamp][:skew][+offset]
	spec := fields[1]
	if before, after, ok := strings.Cut(spec, "+"); ok {
		offset, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			return Signal{}, fmt.Errorf("error parsing byte offset %q: %w", spec, err)
		}
		signal.ByteOffset = offset
		spec = before
	}
	if before, after, ok := strings.Cut(spec, ":"); ok {
		skew, err := strconv.Atoi(after)
		if err != nil {
			return Signal{}, fmt.Errorf("error parsing skew %q: %w", spec, err)
		}
		signal.Skew = skew
		spec = before
	}
	if before, after, ok := strings.Cut(spec, "x"); ok {
		if samplesPerFrame, err := strconv.Atoi(after); err != nil || samplesPerFrame != 1 {
			return Signal{}, fmt.Errorf("samples per frame %q: %w", after, ErrUnsupported)
		}
		spec = before
	}
	format, err := strconv.Atoi(spec)
	if err != nil {
		return Signal{}, fmt.Errorf("error parsing format %q: %w", fields[1], err)
	}
	signal.Format = Format(format)
	if !signal.Format.Valid() {
		return Signal{}, fmt.Errorf("format %d: %w", format, ErrUnsupported)
	}

	baselineSet := false
	if len(fields) > 2 {
		// gain[(baseline)][/units]
		gainSpec := fields[2]
		if before, after, ok := strings.Cut(gainSpec, "/"); ok {
			signal.Units = after
			gainSpec = before
		}
		if before, after, ok := strings.Cut(gainSpec, "("); ok {
			baseline, err := strconv.Atoi(strings.TrimSuffix(after, ")"))
			if err != nil {
				return Signal{}, fmt.Errorf("error parsing baseline %q: %w", fields[2], err)
			}
			signal.Baseline = baseline
			baselineSet = true
			gainSpec = before
		}
		gain, err := strconv.ParseFloat(gainSpec, 64)
		if err != nil {
			return Signal{}, fmt.Errorf("error parsing gain %q: %w", fields[2], err)
		}
		if gain != 0 {
			signal.Gain = gain
		}
	}

	ints := []*int{&signal.ADCResolution, &signal.ADCZero, &signal.InitialValue, &signal.Checksum, &signal.BlockSize}
	for i, dst := range ints {
		if len(fields) <= 3+i {
			break
		}
		v, err := strconv.Atoi(fields[3+i])
		if err != nil {
			return Signal{}, fmt.Errorf("error parsing field %d %q: %w", 3+i, fields[3+i], err)
		}
		*dst = v
	}

	if !baselineSet {
		signal.Baseline = signal.ADCZero
	}

	if len(fields) > 8 {
		signal.Description = strings.Join(fields[8:], " ")
	}

	return signal, nil
}

// WriteHeader writes a WFDB header (.hea) file.
func WriteHeader(w io.Writer, hdr Header) error {
	if len(hdr.Signals) != hdr.SignalCount {
		return fmt.Errorf("expected %d signals, got %d", hdr.SignalCount, len(hdr.Signals))
	}

	writer := bufio.NewWriter(w)

	fs := hdr.SamplingFrequency
	if fs <= 0 {
		fs = DefaultSamplingFrequency
	}
	line := fmt.Sprintf("%s %d %s %d", hdr.RecordName, hdr.SignalCount, strconv.FormatFloat(fs, 'f', -1, 64), hdr.SampleCount)
	if hdr.BaseTime != "" {
		line += " " + hdr.BaseTime
		if hdr.BaseDate != "" {
			line += " " + hdr.BaseDate
		}
	}
	if _, err := fmt.Fprintln(writer, line); err != nil {
		return err
	}

	for _, signal := range hdr.Signals {
		if !signal.Format.Valid() {
			return fmt.Errorf("format %d: %w", signal.Format, ErrUnsupported)
		}

		spec := signal.Format.String()
		if signal.Skew != 0 {
			spec += fmt.Sprintf(":%d", signal.Skew)
		}
		if signal.ByteOffset != 0 {
			spec += fmt.Sprintf("+%d", signal.ByteOffset)
		}

		gain := signal.Gain
		if gain == 0 {
			gain = DefaultGain
		}
		units := signal.Units
		if units == "" {
			units = DefaultUnits
		}

		_, err := fmt.Fprintf(writer, "%s %s %s(%d)/%s %d %d %d %d %d",
			signal.FileName, spec, strconv.FormatFloat(gain, 'f', -1, 64), signal.Baseline, units,
			signal.ADCResolution, signal.ADCZero, signal.InitialValue, signal.Checksum, signal.BlockSize)
		if err != nil {
			return err
		}
		if signal.Description != "" {
			if _, err := fmt.Fprintf(writer, " %s", signal.Description); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(writer); err != nil {
			return err
		}
	}

	for _, comment := range hdr.Comments {
		if _, err := fmt.Fprintf(writer, "# %s\n", comment); err != nil {
			return err
		}
	}

	return writer.Flush()
}
