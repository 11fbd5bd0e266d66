// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package accesstest

import (
	"context"
	"sync"

	"github.com/holomush/hagate/internal/gate"
)

// RecordingCaller is a gate.Caller that records every call it receives.
type RecordingCaller struct {
	mu    sync.Mutex
	calls []gate.ServiceCall

	// OnCall, when set, runs for every call and its error is returned.
	OnCall func(ctx context.Context, call gate.ServiceCall) error
}

// Call implements gate.Caller.
func (r *RecordingCaller) Call(ctx context.Context, call gate.ServiceCall) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	fn := r.OnCall
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, call)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (r *RecordingCaller) Calls() []gate.ServiceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gate.ServiceCall(nil), r.calls...)
}

// Actions returns the recorded calls as "domain.service" strings.
func (r *RecordingCaller) Actions() []string {
	calls := r.Calls()
	actions := make([]string, len(calls))
	for i, c := range calls {
		actions[i] = c.Domain + "." + c.Service
	}
	return actions
}

// RecordingBus is a gate.EventBus that records fired events.
type RecordingBus struct {
	mu     sync.Mutex
	events []gate.Event
}

// Fire implements gate.EventBus.
func (b *RecordingBus) Fire(_ context.Context, event gate.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

// Events returns a copy of the fired events.
func (b *RecordingBus) Events() []gate.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gate.Event(nil), b.events...)
}

var (
	_ gate.Caller   = (*RecordingCaller)(nil)
	_ gate.EventBus = (*RecordingBus)(nil)
)
