// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the server-sent event body of a streamed chat reply.
//
// The body is a sequence of lines; each line starting with "data: " carries
// one JSON StreamEvent. Bytes are decoded as UTF-8 through a transformer, so
// a multi-byte character split across network reads is reassembled before
// any line is parsed. Malformed frames are logged and skipped.
//
// # Usage
//
//	dec := sse.NewDecoder(resp.Body, sse.WithLogger(logger))
//	for ev, err := range dec.All() {
//	    if err != nil {
//	        return err
//	    }
//	    handle(ev)
//	}
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/util"
)

// DataPrefix starts every line that carries an event payload.
const DataPrefix = "data: "

// Decoder reads StreamEvents from a byte stream.
//
// The sequence ends at end of input or after the first event with done or
// error set. A Decoder is not safe for concurrent use and cannot be
// restarted.
type Decoder struct {
	reader  *bufio.Reader
	logger  zerolog.Logger
	dropped int
	events  int
	closed  bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used to report skipped frames.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		reader: bufio.NewReader(transform.NewReader(r, unicode.UTF8.NewDecoder())),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next event. It returns io.EOF once the stream is
// exhausted or a terminal event has been returned. Any other error is a
// read failure; the Decoder is finished after it.
//
// A final line without a trailing newline is still decoded.
func (d *Decoder) Next() (model.StreamEvent, error) {
	for !d.closed {
		line, err := d.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			d.closed = true
			return model.StreamEvent{}, fmt.Errorf("read stream: %w", err)
		}
		atEOF := err != nil

		if ev, ok := d.parseLine(line); ok {
			d.events++
			if ev.Terminal() || atEOF {
				d.closed = true
			}
			return ev, nil
		}
		if atEOF {
			d.closed = true
		}
	}
	return model.StreamEvent{}, io.EOF
}

// All returns an iterator over the remaining events. A read failure is
// yielded once as the final pair.
func (d *Decoder) All() iter.Seq2[model.StreamEvent, error] {
	return func(yield func(model.StreamEvent, error) bool) {
		for {
			ev, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Dropped returns the number of malformed frames skipped so far.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Events returns the number of events decoded so far.
func (d *Decoder) Events() int {
	return d.events
}

func (d *Decoder) parseLine(line string) (model.StreamEvent, bool) {
	line = strings.TrimRight(line, "\r\n")
	payload, ok := strings.CutPrefix(line, DataPrefix)
	if !ok || strings.TrimSpace(payload) == "" {
		return model.StreamEvent{}, false
	}

	var ev model.StreamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		d.dropped++
		d.logger.Warn().
			Err(err).
			Str("payload", util.TruncateRunes(payload, 120)).
			Msg("skipping malformed stream frame")
		return model.StreamEvent{}, false
	}
	return ev, true
}
