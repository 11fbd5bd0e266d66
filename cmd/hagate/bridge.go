// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/hagate/internal/gate"
)

// maxLineSize bounds one JSON-lines record.
const maxLineSize = 1 << 20

// wireContext is the JSON form of gate.Context.
type wireContext struct {
	ID       string `json:"id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// wireCall is the JSON form of gate.ServiceCall.
type wireCall struct {
	Domain    string         `json:"domain"`
	Service   string         `json:"service"`
	EntityIDs []string       `json:"entity_ids,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Context   wireContext    `json:"context"`
}

func (w wireCall) toCall() gate.ServiceCall {
	return gate.ServiceCall{
		Domain:    w.Domain,
		Service:   w.Service,
		EntityIDs: w.EntityIDs,
		Data:      w.Data,
		Context:   gate.Context(w.Context),
	}
}

func fromCall(c gate.ServiceCall) wireCall {
	return wireCall{
		Domain:    c.Domain,
		Service:   c.Service,
		EntityIDs: c.EntityIDs,
		Data:      c.Data,
		Context:   wireContext(c.Context),
	}
}

// inbound is one input line. Type is empty or "call" for a service call,
// and "done" when the script or automation run with Context.ID finished.
type inbound struct {
	Type string `json:"type,omitempty"`
	wireCall
}

// record is one output line.
type record struct {
	Type  string         `json:"type"` // "call", "denied", "event" or "error"
	Call  *wireCall      `json:"call,omitempty"`
	Event map[string]any `json:"event,omitempty"`
	Error string         `json:"error,omitempty"`
}

// lineWriter serializes records onto one output stream. Forwarded script
// and automation runs keep their chain registration in running until the
// host reports them done.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder

	runMu   sync.Mutex
	running map[string][]func()
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{
		enc:     json.NewEncoder(w),
		running: make(map[string][]func()),
	}
}

func (l *lineWriter) write(r record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(r); err != nil {
		return oops.With("operation", "write bridge record").Wrap(err)
	}
	return nil
}

// Call implements gate.Caller by emitting the forwarded call. The host
// runs it after Call returns, so a chained run is held open until finish.
func (l *lineWriter) Call(ctx context.Context, call gate.ServiceCall) error {
	wc := fromCall(call)
	if err := l.write(record{Type: "call", Call: &wc}); err != nil {
		return err
	}
	if release, ok := gate.DetachChain(ctx); ok {
		l.runMu.Lock()
		l.running[call.Context.ID] = append(l.running[call.Context.ID], release)
		l.runMu.Unlock()
	}
	return nil
}

// finish releases the oldest held run of contextID.
func (l *lineWriter) finish(contextID string) bool {
	l.runMu.Lock()
	releases := l.running[contextID]
	if len(releases) == 0 {
		l.runMu.Unlock()
		return false
	}
	release := releases[0]
	if len(releases) == 1 {
		delete(l.running, contextID)
	} else {
		l.running[contextID] = releases[1:]
	}
	l.runMu.Unlock()

	release()
	return true
}

// finishAll releases every held run.
func (l *lineWriter) finishAll() {
	l.runMu.Lock()
	running := l.running
	l.running = make(map[string][]func())
	l.runMu.Unlock()

	for _, releases := range running {
		for _, release := range releases {
			release()
		}
	}
}

// Fire implements gate.EventBus.
func (l *lineWriter) Fire(_ context.Context, event gate.Event) error {
	data := make(map[string]any, len(event.Data)+1)
	for k, v := range event.Data {
		data[k] = v
	}
	data["event_type"] = event.Type
	return l.write(record{Type: "event", Event: data})
}

// bridge reads JSON-lines service calls from in and pushes each through g.
// Forwarded calls, denials and events are written to out. It returns when
// in is exhausted or ctx is cancelled; runs still held are released then.
func bridge(ctx context.Context, in io.Reader, out *lineWriter, g *gate.Gate) error {
	defer out.finishAll()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg inbound
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.WarnContext(ctx, "skipping malformed service call", "error", err)
			if werr := out.write(record{Type: "error", Error: err.Error()}); werr != nil {
				return werr
			}
			continue
		}

		switch msg.Type {
		case "", "call":
		case "done":
			if !out.finish(msg.Context.ID) {
				if werr := out.write(record{Type: "error", Error: "no running context " + strconv.Quote(msg.Context.ID)}); werr != nil {
					return werr
				}
			}
			continue
		default:
			if werr := out.write(record{Type: "error", Error: "unknown record type " + strconv.Quote(msg.Type)}); werr != nil {
				return werr
			}
			continue
		}

		wc := msg.wireCall
		err := g.Call(ctx, wc.toCall())
		switch {
		case err == nil:
		case gate.IsAccessDenied(err):
			if werr := out.write(record{Type: "denied", Call: &wc, Error: err.Error()}); werr != nil {
				return werr
			}
		default:
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return oops.With("operation", "read service calls").Wrap(err)
	}
	return nil
}

var (
	_ gate.Caller   = (*lineWriter)(nil)
	_ gate.EventBus = (*lineWriter)(nil)
)
