// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"context"
	"strings"

	"github.com/holomush/hagate/internal/access/policy/types"
)

// VisibleServices filters services of domain down to those subject may call
// when no entity is targeted. The input order is preserved.
func (e *Engine) VisibleServices(ctx context.Context, subject, domain string, services []string) []string {
	doc := e.store.Snapshot()
	visible := make([]string, 0, len(services))
	for _, service := range services {
		d := e.decide(ctx, doc, types.Request{
			Subject: subject,
			Domain:  domain,
			Service: service,
		})
		if d.Effect.Allows() {
			visible = append(visible, service)
		}
	}
	return visible
}

// EntityHidden reports whether entityID should be hidden from subject in
// listings. The most specific rule that mentions the entity decides; then
// the entity's domain; a deny_all role hides everything nothing allows.
func (e *Engine) EntityHidden(ctx context.Context, subject, entityID string) bool {
	doc := e.store.Snapshot()
	if !doc.Enabled || subject == "" {
		return false
	}
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok || IsSystemDomain(domain) {
		return false
	}

	res := e.roles.Resolve(ctx, doc, subject)
	if res.Role != nil && res.Role.Admin {
		return false
	}

	for _, ly := range newLadder(doc, res) {
		if rule := ly.rules.Entity(entityID); rule != nil {
			return rule.Blocks()
		}
	}
	for _, ly := range newLadder(doc, res) {
		if rule := ly.rules.Domain(domain); rule != nil {
			return rule.Blocks()
		}
	}
	return res.Role != nil && res.Role.DenyAll
}
