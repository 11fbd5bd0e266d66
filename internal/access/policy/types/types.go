// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package types defines the value types shared by the service-call
// authorization engine: requests, decisions, and rule outcomes.
package types

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// CodeInvalidRequest is the oops error code for malformed requests.
const CodeInvalidRequest = "INVALID_REQUEST"

// Effect represents the evaluated outcome of an authorization decision.
type Effect int

// Effect constants define the possible outcomes of evaluation.
const (
	EffectDefaultAllow Effect = iota // default_allow
	EffectAllow                      // allow
	EffectDeny                       // deny
	EffectDefaultDeny                // default_deny
	EffectSystemBypass               // system_bypass
	EffectChainBypass                // chain_bypass
	EffectAdminBypass                // admin_bypass
)

var effectStrings = [...]string{
	"default_allow",
	"allow",
	"deny",
	"default_deny",
	"system_bypass",
	"chain_bypass",
	"admin_bypass",
}

func (e Effect) String() string {
	if e >= 0 && int(e) < len(effectStrings) {
		return effectStrings[e]
	}
	return fmt.Sprintf("unknown(%d)", int(e))
}

// ParseEffect returns the Effect named by s.
func ParseEffect(s string) (Effect, bool) {
	for i, name := range effectStrings {
		if name == s {
			return Effect(i), true
		}
	}
	return 0, false
}

// Allows reports whether the effect grants access.
func (e Effect) Allows() bool {
	return e != EffectDeny && e != EffectDefaultDeny
}

// Outcome is the tri-state result of matching a single rule against a service.
type Outcome int

// Outcome constants.
const (
	NotApplicable Outcome = iota // not_applicable
	Allow                        // allow
	Block                        // block
)

var outcomeStrings = [...]string{
	"not_applicable",
	"allow",
	"block",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeStrings) {
		return outcomeStrings[o]
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// Conclusive reports whether the outcome ends evaluation at its precedence level.
func (o Outcome) Conclusive() bool {
	return o == Allow || o == Block
}

// Level identifies which rule table produced a match.
type Level string

// Precedence levels, highest first.
const (
	LevelSubject Level = "subject"
	LevelRole    Level = "role"
	LevelDefault Level = "default"
)

// Levels lists the precedence ladder in evaluation order.
var Levels = [...]Level{LevelSubject, LevelRole, LevelDefault}

// Scope identifies whether a rule is keyed by entity id or by domain.
type Scope string

// Scope constants.
const (
	ScopeEntity Scope = "entity"
	ScopeDomain Scope = "domain"
)

// RuleRef points at the rule that produced a decision.
type RuleRef struct {
	Level Level
	Scope Scope
	Key   string // entity id or domain name
}

func (r RuleRef) String() string {
	return fmt.Sprintf("%s %s %s", r.Scope, r.Key, r.Level)
}

// Request is one inbound service call to authorize.
type Request struct {
	Subject   string   // empty for system-originated calls
	Domain    string   // "light", "script", ...
	Service   string   // "turn_on", "trigger", ...
	EntityIDs []string // zero, one, or many target entities

	// ContextChain holds the caller's execution context id followed by its
	// parent's id. Either may be empty.
	ContextChain []string
}

// NewRequest creates a validated Request. Domain and service must be
// non-empty; the subject may be empty for system calls.
func NewRequest(subject, domain, service string, entityIDs ...string) (Request, error) {
	if strings.TrimSpace(domain) == "" {
		return Request{}, oops.In("request").Code(CodeInvalidRequest).Errorf("domain must not be empty")
	}
	if strings.TrimSpace(service) == "" {
		return Request{}, oops.In("request").Code(CodeInvalidRequest).With("domain", domain).Errorf("service must not be empty")
	}
	return Request{
		Subject:   subject,
		Domain:    domain,
		Service:   service,
		EntityIDs: entityIDs,
	}, nil
}

// Action returns the "domain.service" form of the request.
func (r Request) Action() string {
	return r.Domain + "." + r.Service
}

// Decision is the result of evaluating a Request.
// The allowed field is unexported to prevent invariant bypass.
type Decision struct {
	allowed     bool
	Effect      Effect
	Reason      string
	Rule        *RuleRef
	Role        string
	RoleOutcome string
	Revision    string
}

// NewDecision creates a Decision with the allowed field derived from the effect.
func NewDecision(effect Effect, reason string) Decision {
	return Decision{
		allowed: effect.Allows(),
		Effect:  effect,
		Reason:  reason,
	}
}

// NewRuleDecision creates a Decision attributed to a specific rule.
func NewRuleDecision(effect Effect, reason string, ref RuleRef) Decision {
	d := NewDecision(effect, reason)
	d.Rule = &ref
	return d
}

// IsAllowed returns whether the decision grants access.
func (d Decision) IsAllowed() bool {
	return d.allowed
}

// Validate checks that the allowed field is consistent with the Effect.
func (d Decision) Validate() error {
	if d.allowed != d.Effect.Allows() {
		return fmt.Errorf(
			"decision invariant violated: allowed=%v but effect=%s",
			d.allowed, d.Effect,
		)
	}
	return nil
}
