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
	"strings"
)

// Pseudo-annotation codes of the MIT annotation format.
const (
	codeSkip = 59
	codeNum  = 60
	codeSub  = 61
	codeChan = 62
	codeAux  = 63

	maxCode = 49
)

// ReadAnnotations decodes an MIT format annotation file.
func ReadAnnotations(r io.Reader) ([]Annotation, error) {
	reader := bufio.NewReader(r)

	var (
		annotations []Annotation
		sample      int64
		num, chn    int // Carried over to following annotations, as in the format.
		pendingSkip int64
	)

	current := func() (*Annotation, error) {
		if len(annotations) == 0 {
			return nil, fmt.Errorf("modifier before first annotation")
		}
		return &annotations[len(annotations)-1], nil
	}

	for {
		word, err := readWord(reader)
		if errors.Is(err, io.EOF) {
			// Tolerate files missing the terminating word.
			return annotations, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading annotation: %w", err)
		}

		code := int(word >> 10)
		value := int(word & 0x3ff)

		switch code {
		case 0:
			if value == 0 {
				return annotations, nil
			}
			// Code 0 with a non-zero interval is a placeholder advancing time.
			sample += int64(value)

		case codeSkip:
			hi, err := readWord(reader)
			if err != nil {
				return nil, fmt.Errorf("error reading skip interval: %w", unexpected(err))
			}
			lo, err := readWord(reader)
			if err != nil {
				return nil, fmt.Errorf("error reading skip interval: %w", unexpected(err))
			}
			pendingSkip += int64(int32(uint32(hi)<<16 | uint32(lo)))

		case codeNum:
			a, err := current()
			if err != nil {
				return nil, err
			}
			num = signExtend(value, 10)
			a.Num = num

		case codeSub:
			a, err := current()
			if err != nil {
				return nil, err
			}
			a.SubType = signExtend(value, 10)

		case codeChan:
			a, err := current()
			if err != nil {
				return nil, err
			}
			chn = value
			a.Chan = chn

		case codeAux:
			a, err := current()
			if err != nil {
				return nil, err
			}
			buf := make([]byte, value+value%2)
			if _, err := io.ReadFull(reader, buf); err != nil {
				return nil, fmt.Errorf("error reading auxiliary text: %w", unexpected(err))
			}
			a.Aux = strings.TrimRight(string(buf[:value]), "\x00")

		default:
			if code > maxCode {
				return nil, fmt.Errorf("annotation code %d: %w", code, ErrUnsupported)
			}
			sample += pendingSkip + int64(value)
			pendingSkip = 0
			annotations = append(annotations, Annotation{
				Sample: sample,
				Code:   code,
				Symbol: Symbol(code),
				Chan:   chn,
				Num:    num,
			})
		}
	}
}

func readWord(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// AnnotationWriter encodes annotations in the MIT format.
type AnnotationWriter struct {
	w      *bufio.Writer
	sample int64 // Sample of the last annotation written.
	num    int
	chn    int
}

// NewAnnotationWriter creates an AnnotationWriter writing to w.
func NewAnnotationWriter(w io.Writer) *AnnotationWriter {
	return &AnnotationWriter{w: bufio.NewWriter(w)}
}

// Write encodes a single annotation. Annotations must be written in
// non-decreasing sample order.
func (aw *AnnotationWriter) Write(a Annotation) error {
	if a.Sample < aw.sample {
		return fmt.Errorf("annotation at sample %d precedes sample %d", a.Sample, aw.sample)
	}

	code := a.Code
	if code == 0 && a.Symbol != "" {
		var ok bool
		if code, ok = Code(a.Symbol); !ok {
			return fmt.Errorf("unknown annotation symbol %q", a.Symbol)
		}
	}
	if code < 1 || code > maxCode {
		return fmt.Errorf("annotation code %d out of range", code)
	}

	interval := a.Sample - aw.sample
	if interval > 0x3ff {
		if interval > 1<<31-1 {
			return fmt.Errorf("annotation interval %d too large", interval)
		}
		if err := aw.writeWord(codeSkip, 0); err != nil {
			return err
		}
		// The 32-bit interval is stored high word first.
		if err := aw.writeRaw(uint16(interval >> 16)); err != nil {
			return err
		}
		if err := aw.writeRaw(uint16(interval)); err != nil {
			return err
		}
		interval = 0
	}
	if err := aw.writeWord(code, int(interval)); err != nil {
		return err
	}
	aw.sample = a.Sample

	if a.SubType != 0 {
		if err := aw.writeWord(codeSub, a.SubType&0x3ff); err != nil {
			return err
		}
	}
	if a.Chan != aw.chn {
		if err := aw.writeWord(codeChan, a.Chan&0x3ff); err != nil {
			return err
		}
		aw.chn = a.Chan
	}
	if a.Num != aw.num {
		if err := aw.writeWord(codeNum, a.Num&0x3ff); err != nil {
			return err
		}
		aw.num = a.Num
	}
	if a.Aux != "" {
		if len(a.Aux) > 0x3ff {
			return fmt.Errorf("auxiliary text too long: %d bytes", len(a.Aux))
		}
		if err := aw.writeWord(codeAux, len(a.Aux)); err != nil {
			return err
		}
		buf := []byte(a.Aux)
		if len(buf)%2 == 1 {
			buf = append(buf, 0)
		}
		if _, err := aw.w.Write(buf); err != nil {
			return err
		}
	}

	return nil
}

// Close writes the terminating word and flushes. It does not close the
// underlying writer.
func (aw *AnnotationWriter) Close() error {
	if err := aw.writeWord(0, 0); err != nil {
		return err
	}
	return aw.w.Flush()
}

func (aw *AnnotationWriter) writeWord(code, value int) error {
	return aw.writeRaw(uint16(code)<<10 | uint16(value&0x3ff))
}

func (aw *AnnotationWriter) writeRaw(word uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], word)
	_, err := aw.w.Write(b[:])
	return err
}
