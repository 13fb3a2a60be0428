// Package stream reassembles chat completion events from an arbitrarily
// chunked event-stream transport and folds them into a running content
// accumulator.
package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
)

const dataPrefix = "data: "

// Decoder accumulates the content of one chat completion stream. Event
// boundaries may be split anywhere across feeds; partial events stay
// buffered until their terminating blank line arrives. A Decoder serves
// exactly one stream; each new request needs a fresh one.
type Decoder struct {
	buf     []byte
	content strings.Builder

	onUpdate func(string)

	logger *slog.Logger
}

// NewDecoder creates a decoder that invokes onUpdate with the new cumulative
// content after every applied fragment. onUpdate may be nil.
func NewDecoder(onUpdate func(string), logger *slog.Logger) *Decoder {
	return &Decoder{
		onUpdate: onUpdate,
		logger:   logger.With(slog.String("module", "stream")),
	}
}

// Feed appends p to the internal buffer and applies every complete event
// found in it. Fragments are applied strictly in arrival order. Both LF and
// CRLF event framing are recognized.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
	for {
		idx := bytes.Index(d.buf, []byte("\n\n"))
		cut := 2
		if cr := bytes.Index(d.buf, []byte("\r\n\r\n")); cr >= 0 && (idx < 0 || cr < idx) {
			idx = cr
			cut = 4
		}
		if idx < 0 {
			return
		}
		event := string(d.buf[:idx])
		d.buf = d.buf[idx+cut:]
		d.applyEvent(event)
	}
}

// Flush applies any residual buffered text. The transport may close without
// a trailing blank line on the final event.
func (d *Decoder) Flush() {
	if len(d.buf) == 0 {
		return
	}
	event := string(d.buf)
	d.buf = nil
	d.applyEvent(event)
}

// applyEvent parses the payload lines of one event. Lines without the data
// prefix, and payloads that fail to parse, are control noise (heartbeats,
// comments) and never abort the stream.
func (d *Decoder) applyEvent(event string) {
	for _, line := range strings.Split(event, "\n") {
		line = strings.TrimSuffix(line, "\r")
		payload, ok := strings.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}

		var chunk models.ChatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			d.logger.Debug("Skipping undecodable payload line",
				slog.String("line", line),
			)
			continue
		}
		if chunk.Content == "" {
			continue
		}

		d.content.WriteString(chunk.Content)
		if d.onUpdate != nil {
			d.onUpdate(d.content.String())
		}
	}
}

// Content returns the cumulative content accumulated so far.
func (d *Decoder) Content() string {
	return d.content.String()
}

// Consume drains r through the decoder until EOF, flushing the residual
// buffer afterwards. A read error is returned after the flush so that
// content received before the failure is preserved.
func (d *Decoder) Consume(r io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
		}
		if err != nil {
			d.Flush()
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
