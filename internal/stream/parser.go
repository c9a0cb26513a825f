// Package stream parses server-sent event responses from the chat
// streaming endpoint. The wire format is one event per "data: <payload>"
// line, events separated by a blank line. Payloads have literal newlines
// escaped as \n and carriage returns as \r; the terminator payload is
// [DONE], and server-side failures arrive as a {"error":"..."} payload.
package stream

import (
	"encoding/json"
	"io"
	"strings"

	"chatbycard/internal/errors"
)

const doneMarker = "[DONE]"

// Handlers receive parsed stream events. All fields are optional.
// After OnComplete or OnError fires the parser is terminal and ignores
// further input; neither fires more than once.
type Handlers struct {
	OnChunk    func(text string)
	OnComplete func()
	OnError    func(err error)
}

// Parser is an incremental SSE parser. Feed it raw bytes in whatever
// chunks the transport delivers; lines split across chunk boundaries
// are buffered until their newline arrives.
type Parser struct {
	handlers Handlers
	partial  string
	done     bool
}

// NewParser creates a parser delivering events to the given handlers.
func NewParser(handlers Handlers) *Parser {
	return &Parser{handlers: handlers}
}

var payloadUnescaper = strings.NewReplacer(`\n`, "\n", `\r`, "\r")

// Feed consumes the next chunk of raw stream bytes. Safe to call with
// chunks of any size, including mid-line and mid-escape splits; escape
// sequences are only interpreted once a full line is available.
func (p *Parser) Feed(chunk string) {
	if p.done {
		return
	}
	p.partial += chunk
	for {
		i := strings.IndexByte(p.partial, '\n')
		if i < 0 {
			return
		}
		line := strings.TrimSuffix(p.partial[:i], "\r")
		p.partial = p.partial[i+1:]
		p.handleLine(line)
		if p.done {
			return
		}
	}
}

// Terminated reports whether the stream reached a terminal event
// ([DONE] or an error payload).
func (p *Parser) Terminated() bool {
	return p.done
}

func (p *Parser) handleLine(line string) {
	if line == "" {
		return // event separator
	}
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return // comment or unknown field, skipped
	}
	payload = strings.TrimPrefix(payload, " ")

	if payload == doneMarker {
		p.done = true
		if p.handlers.OnComplete != nil {
			p.handlers.OnComplete()
		}
		return
	}

	if msg, ok := errorPayload(payload); ok {
		p.done = true
		if p.handlers.OnError != nil {
			p.handlers.OnError(errors.New(msg))
		}
		return
	}

	if p.handlers.OnChunk != nil {
		p.handlers.OnChunk(payloadUnescaper.Replace(payload))
	}
}

// errorPayload reports whether the payload is a server error event and
// extracts its message.
func errorPayload(payload string) (string, bool) {
	if !strings.HasPrefix(payload, "{") {
		return "", false
	}
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &e); err != nil || e.Error == "" {
		return "", false
	}
	return payloadUnescaper.Replace(e.Error), true
}

// Consume reads r to completion, feeding the parser as bytes arrive.
// Returns ErrStreamTerminated when the reader ends before a terminal
// event, and the read error if the transport fails mid-stream.
func Consume(r io.Reader, handlers Handlers) error {
	p := NewParser(handlers)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.Feed(string(buf[:n]))
		}
		if p.done {
			return nil
		}
		if err == io.EOF {
			return errors.Wrap(errors.ErrStreamTerminated, "stream ended without [DONE]")
		}
		if err != nil {
			return err
		}
	}
}
