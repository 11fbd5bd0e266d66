// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package policy

import "github.com/holomush/hagate/internal/access/policy/types"

// Match evaluates one rule against one service.
//
// A nil rule is NotApplicable. A block-all rule blocks everything. An allow
// rule permits the listed services (or all when the list is empty) and
// blocks every other service in its scope. A non-allow rule blocks the
// listed services (or all when the list is empty) and is NotApplicable for
// anything it does not mention.
func Match(rule *Rule, service string) types.Outcome {
	if rule == nil {
		return types.NotApplicable
	}
	if rule.Blocks() {
		return types.Block
	}
	if rule.Allow {
		if len(rule.Services) == 0 || rule.Covers(service) {
			return types.Allow
		}
		return types.Block
	}
	if len(rule.Services) == 0 || rule.Covers(service) {
		return types.Block
	}
	return types.NotApplicable
}

// MatchReason describes a conclusive match in the wording audit logs use,
// e.g. "entity light.bedroom service turn_on not in allow list of role guest".
func MatchReason(rule *Rule, outcome types.Outcome, ref types.RuleRef, owner, service string) string {
	where := levelOwner(ref.Level, owner)
	switch outcome {
	case types.Allow:
		return string(ref.Scope) + " " + ref.Key + " allowed by " + where
	case types.Block:
		switch {
		case rule.Blocks():
			return string(ref.Scope) + " " + ref.Key + " blocked by " + where
		case rule.Allow:
			return string(ref.Scope) + " " + ref.Key + " service " + service + " not in allow list of " + where
		case len(rule.Services) == 0:
			return string(ref.Scope) + " " + ref.Key + " blocked by " + where
		default:
			return string(ref.Scope) + " " + ref.Key + " service " + service + " blocked by " + where
		}
	default:
		return string(ref.Scope) + " " + ref.Key + " not restricted"
	}
}

func levelOwner(level types.Level, owner string) string {
	switch level {
	case types.LevelSubject:
		return "user restriction"
	case types.LevelRole:
		return "role " + owner
	default:
		return "default"
	}
}
