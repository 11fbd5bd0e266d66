// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package engine decides whether a subject may make a service call.
//
// Evaluation walks a fixed precedence ladder and stops at the first
// conclusive step:
//
//  0. policy disabled
//  1. excluded system domains
//  2. chained from a pre-authorized execution context
//  3. no subject (system-originated call)
//  4. role resolution
//  5. admin role
//  6. entity scope: subject, role, default (every target must be allowed)
//  7. domain scope: subject, role, default
//  8. deny_all role: deny unless excepted or explicitly allowed per entity
//  9. allow
//
// Entity scope always precedes domain scope. The engine never returns an
// error: every failure inside it degrades to a definite decision.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/holomush/hagate/internal/access/chain"
	"github.com/holomush/hagate/internal/access/policy"
	"github.com/holomush/hagate/internal/access/policy/types"
	"github.com/holomush/hagate/internal/access/role"
)

// systemDomains carry the platform's own plumbing (HTTP, auth, logging,
// notifications). Restricting them would let a policy lock everyone out,
// including the notifications the gate itself sends.
var systemDomains = map[string]struct{}{
	"http":                    {},
	"auth":                    {},
	"system_log":              {},
	"persistent_notification": {},
}

// chainableDomains start executions whose sub-calls inherit authorization.
var chainableDomains = map[string]struct{}{
	"script":     {},
	"automation": {},
}

// IsSystemDomain reports whether domain is excluded from evaluation.
func IsSystemDomain(domain string) bool {
	_, ok := systemDomains[domain]
	return ok
}

// IsChainable reports whether calls in domain register their context with
// the chain guard once allowed.
func IsChainable(domain string) bool {
	_, ok := chainableDomains[domain]
	return ok
}

// Engine evaluates requests against the current policy snapshot.
// It is safe for concurrent use.
type Engine struct {
	store *Store
	roles *role.Resolver
	guard *chain.Guard
}

// New creates an Engine. A nil resolver resolves templated roles to their
// fallback; a nil guard creates a private one.
func New(store *Store, roles *role.Resolver, guard *chain.Guard) *Engine {
	if store == nil {
		store = NewStore(nil)
	}
	if roles == nil {
		roles = role.NewResolver(nil, nil)
	}
	if guard == nil {
		guard = chain.NewGuard()
	}
	return &Engine{
		store: store,
		roles: roles,
		guard: guard,
	}
}

// Store returns the snapshot store the engine reads.
func (e *Engine) Store() *Store {
	return e.store
}

// Guard returns the chain guard the engine consults.
func (e *Engine) Guard() *chain.Guard {
	return e.guard
}

// Evaluate decides req against the current snapshot.
func (e *Engine) Evaluate(ctx context.Context, req types.Request) types.Decision {
	return e.EvaluateWith(ctx, e.store.Snapshot(), req)
}

// EvaluateWith decides req against doc.
func (e *Engine) EvaluateWith(ctx context.Context, doc *policy.Document, req types.Request) types.Decision {
	start := time.Now()

	decision := e.decide(ctx, doc, req)
	decision.Revision = doc.Revision()
	if err := decision.Validate(); err != nil {
		slog.ErrorContext(ctx, "decision invariant violated", "error", err)
	}

	RecordEvaluationMetrics(time.Since(start), decision.Effect)
	slog.DebugContext(ctx, "service call evaluated",
		"subject", req.Subject,
		"action", req.Action(),
		"entities", req.EntityIDs,
		"effect", decision.Effect.String(),
		"reason", decision.Reason)
	return decision
}

func (e *Engine) decide(ctx context.Context, doc *policy.Document, req types.Request) types.Decision {
	// Step 0: policy disabled
	if !doc.Enabled {
		return types.NewDecision(types.EffectSystemBypass, "access control disabled")
	}
	if strings.TrimSpace(req.Domain) == "" || strings.TrimSpace(req.Service) == "" {
		return types.NewDecision(types.EffectDeny, "malformed request: domain and service are required")
	}

	// Step 1: system exclusions
	if IsSystemDomain(req.Domain) {
		return types.NewDecision(types.EffectSystemBypass, "excluded domain "+req.Domain)
	}

	// Step 2: chain exemption
	if doc.AllowChainedActions && e.guard.IsPreauthorized(req.ContextChain) {
		return types.NewDecision(types.EffectChainBypass, "chained from pre-authorized context")
	}

	// Step 3: system call
	if req.Subject == "" {
		return types.NewDecision(types.EffectSystemBypass, "system call (no user_id)")
	}

	// Step 4: role resolution
	res := e.roles.Resolve(ctx, doc, req.Subject)
	decision := e.decideForRole(doc, res, req)
	decision.Role = res.Name
	decision.RoleOutcome = string(res.Outcome)
	return decision
}

// decideForRole runs steps 5 through 9.
func (e *Engine) decideForRole(doc *policy.Document, res role.Resolution, req types.Request) types.Decision {
	// Step 5: admin
	if res.Role != nil && res.Role.Admin {
		return types.NewDecision(types.EffectAdminBypass, "role "+res.Name+" is admin")
	}

	ladder := newLadder(doc, res)

	// Step 6: entity scope
	if d, ok := ladder.entityDecision(req); ok {
		return d
	}

	// Step 7: domain scope
	if m := ladder.first(types.ScopeDomain, req.Domain, req.Service); m.outcome.Conclusive() {
		reason := "domain restriction: " + m.reason(req.Service)
		if m.outcome == types.Allow {
			return types.NewRuleDecision(types.EffectAllow, reason, m.ref)
		}
		return types.NewRuleDecision(types.EffectDeny, reason, m.ref)
	}

	// Step 8: deny-all
	if res.Role != nil && res.Role.DenyAll {
		return ladder.denyAllDecision(doc, res.Name, req)
	}

	// Step 9: default
	return types.NewDecision(types.EffectDefaultAllow, "no applicable restriction")
}

// layer is one rung of the precedence ladder.
type layer struct {
	level types.Level
	owner string
	rules policy.ScopeRuleSet
}

// match is the result of walking the ladder for one scope key.
type match struct {
	outcome types.Outcome
	rule    *policy.Rule
	ref     types.RuleRef
	owner   string
}

func (m match) reason(service string) string {
	return policy.MatchReason(m.rule, m.outcome, m.ref, m.owner, service)
}

type ladder []layer

// newLadder builds subject, role, default layers. Unknown subjects have no
// subject layer; role-less subjects have no role layer.
func newLadder(doc *policy.Document, res role.Resolution) ladder {
	l := make(ladder, 0, len(types.Levels))
	if res.Subject != nil {
		l = append(l, layer{level: types.LevelSubject, rules: res.Subject.Restrictions})
	}
	if res.Role != nil {
		l = append(l, layer{level: types.LevelRole, owner: res.Name, rules: res.Role.Permissions})
	}
	l = append(l, layer{level: types.LevelDefault, rules: doc.DefaultRestrictions})
	return l
}

// first returns the first conclusive match for key, or NotApplicable.
func (l ladder) first(scope types.Scope, key, service string) match {
	for _, ly := range l {
		var rule *policy.Rule
		if scope == types.ScopeEntity {
			rule = ly.rules.Entity(key)
		} else {
			rule = ly.rules.Domain(key)
		}
		if out := policy.Match(rule, service); out.Conclusive() {
			return match{
				outcome: out,
				rule:    rule,
				ref:     types.RuleRef{Level: ly.level, Scope: scope, Key: key},
				owner:   ly.owner,
			}
		}
	}
	return match{outcome: types.NotApplicable}
}

// entityDecision applies step 6. Any blocked entity blocks the request;
// the request is conclusively allowed only when every entity is allowed.
func (l ladder) entityDecision(req types.Request) (types.Decision, bool) {
	if len(req.EntityIDs) == 0 {
		return types.Decision{}, false
	}

	var allowed *match
	unanimous := true
	for _, id := range req.EntityIDs {
		m := l.first(types.ScopeEntity, id, req.Service)
		switch m.outcome {
		case types.Block:
			return types.NewRuleDecision(types.EffectDeny, "entity restriction: "+m.reason(req.Service), m.ref), true
		case types.Allow:
			if allowed == nil {
				allowed = &m
			}
		default:
			unanimous = false
		}
	}
	if !unanimous || allowed == nil {
		return types.Decision{}, false
	}
	return types.NewRuleDecision(types.EffectAllow, "entity restriction: "+allowed.reason(req.Service), allowed.ref), true
}

// denyAllDecision applies step 8. Deny-all only covers the absence of a
// rule: an exception pattern, an explicit allow of the script or automation
// itself, or an explicit allow of every target entity still wins.
func (l ladder) denyAllDecision(doc *policy.Document, roleName string, req types.Request) types.Decision {
	if doc.DenyAllException(req.Domain, req.Service) {
		return types.NewDecision(types.EffectAllow, "deny-all exception for "+req.Action())
	}

	if IsChainable(req.Domain) {
		id := req.Action()
		if m := l.first(types.ScopeEntity, id, req.Service); m.outcome == types.Allow {
			return types.NewRuleDecision(types.EffectAllow,
				"entity "+id+" explicitly allowed under deny_all of role "+roleName, m.ref)
		}
	}

	var first *match
	missing := ""
	for _, id := range req.EntityIDs {
		m := l.first(types.ScopeEntity, id, req.Service)
		switch {
		case m.outcome != types.Allow:
			if missing == "" {
				missing = id
			}
		case first == nil:
			first = &m
		}
	}
	switch {
	case first != nil && missing == "":
		return types.NewRuleDecision(types.EffectAllow,
			"entities explicitly allowed under deny_all of role "+roleName, first.ref)
	case first != nil:
		return types.NewDecision(types.EffectDefaultDeny,
			"role "+roleName+" denies all: entity "+missing+" is not explicitly allowed")
	}

	return types.NewDecision(types.EffectDefaultDeny,
		"role "+roleName+" denies all: no rule allows "+req.Action())
}
