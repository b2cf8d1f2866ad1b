// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/formchat/internal/model"
)

func collect(t *testing.T, d *Decoder) ([]model.StreamEvent, error) {
	t.Helper()
	var events []model.StreamEvent
	for ev, err := range d.All() {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func TestDecoder_ChunksThenDone(t *testing.T) {
	body := "data: {\"chunk\":\"Hel\"}\n\n" +
		"data: {\"chunk\":\"lo\"}\n\n" +
		"data: {\"done\":true,\"full_response\":\"Hello\",\"interaction_id\":5}\n\n"

	events, err := collect(t, NewDecoder(strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Chunk)
	assert.Equal(t, "lo", events[1].Chunk)
	assert.True(t, events[2].Done)
	assert.Equal(t, int64(5), events[2].InteractionID)
}

func TestDecoder_StopsAtDone(t *testing.T) {
	body := "data: {\"done\":true}\n" +
		"data: {\"chunk\":\"late\"}\n"

	d := NewDecoder(strings.NewReader(body))
	events, err := collect(t, d)
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_StopsAtError(t *testing.T) {
	body := "data: {\"chunk\":\"a\"}\n" +
		"data: {\"error\":true}\n" +
		"data: {\"chunk\":\"b\"}\n"

	events, err := collect(t, NewDecoder(strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].Error)
}

func TestDecoder_SkipsMalformedFrames(t *testing.T) {
	var logs bytes.Buffer
	body := "data: {\"chunk\":\"a\"}\n" +
		"data: {not json\n" +
		"data: {\"chunk\":\"b\"}\n" +
		"data: {\"done\":true}\n"

	d := NewDecoder(strings.NewReader(body), WithLogger(zerolog.New(&logs)))
	events, err := collect(t, d)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "b", events[1].Chunk)
	assert.Equal(t, 1, d.Dropped())
	assert.Equal(t, 3, d.Events())
	assert.Contains(t, logs.String(), "skipping malformed stream frame")
}

func TestDecoder_IgnoresNonDataLines(t *testing.T) {
	body := ": keep-alive\n" +
		"event: message\n" +
		"id: 3\n" +
		"data:\n" +
		"data: \n" +
		"data: {\"chunk\":\"x\"}\r\n"

	events, err := collect(t, NewDecoder(strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Chunk)
}

func TestDecoder_EOFWithoutDone(t *testing.T) {
	body := "data: {\"chunk\":\"a\"}\n"

	d := NewDecoder(strings.NewReader(body))
	events, err := collect(t, d)
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_TrailingLineWithoutNewline(t *testing.T) {
	body := "data: {\"chunk\":\"a\"}\ndata: {\"done\":true}"

	events, err := collect(t, NewDecoder(strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].Done)
}

func TestDecoder_MultiByteAcrossReads(t *testing.T) {
	body := "data: {\"chunk\":\"viscosité ≈ 5 µPa·s 🧪\"}\n"

	d := NewDecoder(iotest.OneByteReader(strings.NewReader(body)))
	events, err := collect(t, d)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "viscosité ≈ 5 µPa·s 🧪", events[0].Chunk)
}

func TestDecoder_HalfReads(t *testing.T) {
	var body strings.Builder
	for _, c := range []string{"α", "β", "γ"} {
		body.WriteString("data: {\"chunk\":\"" + c + "\"}\n")
	}
	body.WriteString("data: {\"done\":true}\n")

	events, err := collect(t, NewDecoder(iotest.HalfReader(strings.NewReader(body.String()))))
	require.NoError(t, err)
	require.Len(t, events, 4)

	var got strings.Builder
	for _, ev := range events {
		got.WriteString(ev.Chunk)
	}
	assert.Equal(t, "αβγ", got.String())
}

func TestDecoder_InvalidUTF8Replaced(t *testing.T) {
	body := "data: {\"chunk\":\"a\xffb\"}\n"

	events, err := collect(t, NewDecoder(strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a�b", events[0].Chunk)
}

func TestDecoder_ReadFailure(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"chunk\":\"a\"}\n"),
		iotest.ErrReader(boom),
	)

	d := NewDecoder(r)
	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Chunk)

	_, err = d.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_AllYieldsReadFailure(t *testing.T) {
	boom := errors.New("reset")
	d := NewDecoder(io.MultiReader(strings.NewReader("data: {\"chunk\":\"a\"}\n"), iotest.ErrReader(boom)))

	events, err := collect(t, d)
	assert.Len(t, events, 1)
	assert.ErrorIs(t, err, boom)
}

func TestDecoder_AllStopsWhenConsumerBreaks(t *testing.T) {
	body := "data: {\"chunk\":\"a\"}\ndata: {\"chunk\":\"b\"}\ndata: {\"done\":true}\n"
	d := NewDecoder(strings.NewReader(body))

	for ev := range d.All() {
		assert.Equal(t, "a", ev.Chunk)
		break
	}

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Chunk)
}
