// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package accesstest provides test helpers for service-call authorization.
package accesstest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/hagate/internal/access/policy"
)

// AllowAll permits every service in scope.
func AllowAll() policy.Rule {
	return policy.Rule{Allow: true}
}

// AllowOnly permits the listed services and blocks the rest of the scope.
func AllowOnly(services ...string) policy.Rule {
	return policy.Rule{Allow: true, Services: services}
}

// BlockAll blocks every service in scope.
func BlockAll() policy.Rule {
	return policy.Rule{BlockAll: true}
}

// BlockOnly blocks the listed services and leaves the rest undecided.
func BlockOnly(services ...string) policy.Rule {
	return policy.Rule{Services: services}
}

// PolicyBuilder assembles a policy document for tests.
type PolicyBuilder struct {
	doc *policy.Document
}

// NewPolicy starts from an empty document with loader defaults.
func NewPolicy() *PolicyBuilder {
	return &PolicyBuilder{doc: &policy.Document{
		Enabled:             true,
		ShowNotifications:   true,
		AllowChainedActions: true,
		Roles:               make(map[string]*policy.RoleDef),
		Users:               make(map[string]*policy.SubjectRecord),
	}}
}

// With applies fn to the document, for toggles without a dedicated method.
func (b *PolicyBuilder) With(fn func(doc *policy.Document)) *PolicyBuilder {
	fn(b.doc)
	return b
}

// Disabled turns access control off.
func (b *PolicyBuilder) Disabled() *PolicyBuilder {
	b.doc.Enabled = false
	return b
}

// Exceptions sets the deny-all exception patterns.
func (b *PolicyBuilder) Exceptions(patterns ...string) *PolicyBuilder {
	b.doc.DenyAllExceptions = patterns
	return b
}

// Role defines a role.
func (b *PolicyBuilder) Role(name string, def policy.RoleDef) *PolicyBuilder {
	b.doc.Roles[name] = &def
	return b
}

// RoleEntity adds an entity rule to a role, creating the role if needed.
func (b *PolicyBuilder) RoleEntity(role, entityID string, rule policy.Rule) *PolicyBuilder {
	def := b.role(role)
	def.Permissions.Entities = put(def.Permissions.Entities, entityID, rule)
	return b
}

// RoleDomain adds a domain rule to a role, creating the role if needed.
func (b *PolicyBuilder) RoleDomain(role, domain string, rule policy.Rule) *PolicyBuilder {
	def := b.role(role)
	def.Permissions.Domains = put(def.Permissions.Domains, domain, rule)
	return b
}

// User assigns a role to a subject.
func (b *PolicyBuilder) User(id, role string) *PolicyBuilder {
	b.user(id).Role = role
	return b
}

// UserEntity adds an entity restriction to a subject.
func (b *PolicyBuilder) UserEntity(id, entityID string, rule policy.Rule) *PolicyBuilder {
	rec := b.user(id)
	rec.Restrictions.Entities = put(rec.Restrictions.Entities, entityID, rule)
	return b
}

// UserDomain adds a domain restriction to a subject.
func (b *PolicyBuilder) UserDomain(id, domain string, rule policy.Rule) *PolicyBuilder {
	rec := b.user(id)
	rec.Restrictions.Domains = put(rec.Restrictions.Domains, domain, rule)
	return b
}

// DefaultEntity adds a default entity restriction.
func (b *PolicyBuilder) DefaultEntity(entityID string, rule policy.Rule) *PolicyBuilder {
	b.doc.DefaultRestrictions.Entities = put(b.doc.DefaultRestrictions.Entities, entityID, rule)
	return b
}

// DefaultDomain adds a default domain restriction.
func (b *PolicyBuilder) DefaultDomain(domain string, rule policy.Rule) *PolicyBuilder {
	b.doc.DefaultRestrictions.Domains = put(b.doc.DefaultRestrictions.Domains, domain, rule)
	return b
}

// Build normalizes and returns the document.
func (b *PolicyBuilder) Build(t testing.TB) *policy.Document {
	t.Helper()
	require.NoError(t, b.doc.Normalize())
	return b.doc
}

func (b *PolicyBuilder) role(name string) *policy.RoleDef {
	def, ok := b.doc.Roles[name]
	if !ok {
		def = &policy.RoleDef{}
		b.doc.Roles[name] = def
	}
	return def
}

func (b *PolicyBuilder) user(id string) *policy.SubjectRecord {
	rec, ok := b.doc.Users[id]
	if !ok {
		rec = &policy.SubjectRecord{}
		b.doc.Users[id] = rec
	}
	return rec
}

func put(m map[string]*policy.Rule, key string, rule policy.Rule) map[string]*policy.Rule {
	if m == nil {
		m = make(map[string]*policy.Rule)
	}
	m[key] = &rule
	return m
}
