// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate intercepts a host's service-call dispatch and enforces the
// authorization engine's decision before the call reaches its handler.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/hagate/internal/access/audit"
	"github.com/holomush/hagate/internal/access/chain"
	"github.com/holomush/hagate/internal/access/engine"
	"github.com/holomush/hagate/internal/access/policy"
	"github.com/holomush/hagate/internal/access/policy/types"
	"github.com/holomush/hagate/pkg/errutil"
)

var tracer = otel.Tracer("hagate/gate")

// DeniedEventType is the event fired for a denied call when send_event is on.
const DeniedEventType = "rbac_access_denied"

// Context identifies the execution a call belongs to.
type Context struct {
	ID       string
	ParentID string
	UserID   string // empty for system-originated calls
}

// ServiceCall is one call into the host's service registry.
type ServiceCall struct {
	Domain    string
	Service   string
	EntityIDs []string
	Data      map[string]any
	Context   Context
}

// Caller dispatches a service call.
type Caller interface {
	Call(ctx context.Context, call ServiceCall) error
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, call ServiceCall) error

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, call ServiceCall) error {
	return f(ctx, call)
}

// Event is a host bus event.
type Event struct {
	Type    string
	Data    map[string]any
	Context Context
}

// EventBus publishes host events.
type EventBus interface {
	Fire(ctx context.Context, event Event) error
}

// Option configures a Gate.
type Option func(*Gate)

// WithAudit records every decision through l.
func WithAudit(l *audit.Logger) Option {
	return func(g *Gate) {
		g.audit = l
	}
}

// WithEventBus enables denied-call events when the policy sets send_event.
func WithEventBus(bus EventBus) Option {
	return func(g *Gate) {
		g.events = bus
	}
}

// WithEnforcement turns blocking on or off. With enforcement off the gate
// still evaluates, audits and notifies, but lets every call through.
func WithEnforcement(enforce bool) Option {
	return func(g *Gate) {
		g.enforce = enforce
	}
}

// Gate is a Caller that authorizes each call before forwarding it.
type Gate struct {
	next    Caller
	engine  *engine.Engine
	audit   *audit.Logger
	events  EventBus
	enforce bool
}

// New wraps next with authorization by eng.
func New(next Caller, eng *engine.Engine, opts ...Option) *Gate {
	g := &Gate{
		next:    next,
		engine:  eng,
		enforce: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call evaluates call and forwards it when allowed. Denied calls return an
// ACCESS_DENIED error and never reach the wrapped caller. Allowed calls in
// chainable domains pre-authorize their sub-calls until they return, or
// until DetachChain's release runs.
func (g *Gate) Call(ctx context.Context, call ServiceCall) (err error) {
	ctx, span := tracer.Start(ctx, "gate.call",
		trace.WithAttributes(
			attribute.String("gate.domain", call.Domain),
			attribute.String("gate.service", call.Service),
			attribute.String("gate.subject", call.Context.UserID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if call.Context.ID == "" {
		call.Context.ID = chain.NewContextID()
	}
	if len(call.EntityIDs) == 0 {
		call.EntityIDs = EntityIDsFromData(call.Data)
	}

	req := types.Request{
		Subject:      call.Context.UserID,
		Domain:       call.Domain,
		Service:      call.Service,
		EntityIDs:    call.EntityIDs,
		ContextChain: []string{call.Context.ID, call.Context.ParentID},
	}

	doc := g.engine.Store().Snapshot()
	start := time.Now()
	decision := g.engine.EvaluateWith(ctx, doc, req)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("gate.effect", decision.Effect.String()),
		attribute.String("gate.role", decision.Role),
	)
	g.record(ctx, req, call.Context.ID, decision, elapsed)

	if !decision.IsAllowed() {
		denyErr := g.denied(ctx, doc, call, decision)
		if g.enforce {
			return denyErr
		}
		span.SetAttributes(attribute.Bool("gate.enforced", false))
	}

	if !decision.IsAllowed() || !doc.AllowChainedActions || !engine.IsChainable(call.Domain) {
		// Nested calls must not see an enclosing run's registration.
		return g.next.Call(context.WithValue(ctx, chainHoldKey{}, (*chainHold)(nil)), call)
	}

	h := &chainHold{release: g.engine.Guard().Begin(call.Context.ID)}
	defer func() {
		if r := recover(); r != nil {
			h.release()
			panic(r)
		}
		if err != nil || !h.detached {
			h.release()
		}
	}()
	return g.next.Call(context.WithValue(ctx, chainHoldKey{}, h), call)
}

type chainHoldKey struct{}

// chainHold is the chain registration of the call being forwarded.
// It is only touched by the goroutine running the wrapped Caller.
type chainHold struct {
	release  func()
	detached bool
}

// DetachChain hands the chain registration of the script or automation
// call being forwarded to the wrapped Caller, for hosts whose Call returns
// before the run finishes. The registration then outlives Call until the
// returned release runs. ok is false outside a chained call; the returned
// release is then a no-op. If Call fails, the gate releases regardless.
func DetachChain(ctx context.Context) (release func(), ok bool) {
	h, _ := ctx.Value(chainHoldKey{}).(*chainHold)
	if h == nil || h.detached {
		return func() {}, false
	}
	h.detached = true
	return h.release, true
}

func (g *Gate) record(ctx context.Context, req types.Request, contextID string, d types.Decision, elapsed time.Duration) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(ctx, audit.NewEntry(req, contextID, d, elapsed)); err != nil {
		errutil.LogErrorContext(ctx, slog.Default(), "audit log failed", err)
	}
}

// denied runs the policy's side effects for a refused call and returns the
// error the caller sees.
func (g *Gate) denied(ctx context.Context, doc *policy.Document, call ServiceCall, d types.Decision) error {
	subject := call.Context.UserID
	if doc.LogDenyList {
		slog.WarnContext(ctx, "service call denied",
			"subject", subject,
			"domain", call.Domain,
			"service", call.Service,
			"entities", call.EntityIDs,
			"role", d.Role,
			"reason", d.Reason)
	}

	if doc.ShowNotifications {
		notify := ServiceCall{
			Domain:  "persistent_notification",
			Service: "create",
			Data: map[string]any{
				"title":           "Access Denied",
				"message":         fmt.Sprintf("Access denied: %s cannot call %s.%s", subject, call.Domain, call.Service),
				"notification_id": fmt.Sprintf("hagate_denied_%s_%s", call.Domain, call.Service),
			},
			Context: Context{ID: chain.NewContextID(), ParentID: call.Context.ID},
		}
		if err := g.next.Call(ctx, notify); err != nil {
			errutil.LogErrorContext(ctx, slog.Default(), "denied-call notification failed", err)
		}
	}

	if doc.SendEvent && g.events != nil {
		event := Event{
			Type: DeniedEventType,
			Data: map[string]any{
				"user_id":      subject,
				"domain":       call.Domain,
				"service":      call.Service,
				"entity_ids":   call.EntityIDs,
				"service_data": call.Data,
				"role":         d.Role,
				"reason":       d.Reason,
			},
			Context: call.Context,
		}
		if err := g.events.Fire(ctx, event); err != nil {
			errutil.LogErrorContext(ctx, slog.Default(), "denied-call event failed", err)
		}
	}

	return ErrAccessDenied(subject, call.Domain, call.Service, d.Reason)
}
