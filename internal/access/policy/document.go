// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package policy defines the policy document that governs service-call
// authorization, and the pure rule matcher evaluated against it.
//
// A Document is an immutable snapshot: loaders build a fresh Document on
// every reload and swap the reference. Nothing in this package mutates a
// Document after Normalize has run.
package policy

import (
	"fmt"
	"sort"
)

// Rule is one allow/block clause attached to an entity or a domain.
//
// An empty Services list means the rule covers every service in scope.
type Rule struct {
	Allow    bool     `json:"allow,omitempty" jsonschema:"description=Permit the listed services (or all when services is empty)"`
	BlockAll bool     `json:"block_all,omitempty" jsonschema:"description=Block every service in scope"`
	Hide     bool     `json:"hide,omitempty" jsonschema:"description=Legacy alias for block_all"`
	Services []string `json:"services,omitempty" jsonschema:"description=Services the rule applies to"`
}

// Blocks reports whether the rule blocks its whole scope: block_all, hide,
// or a non-allow rule with no service list.
func (r *Rule) Blocks() bool {
	return r != nil && (r.BlockAll || r.Hide || (!r.Allow && len(r.Services) == 0))
}

// Covers reports whether service is named by the rule's service list.
func (r *Rule) Covers(service string) bool {
	for _, s := range r.Services {
		if s == service {
			return true
		}
	}
	return false
}

// ScopeRuleSet holds the two rule tables attached to a subject, a role, or
// the platform defaults.
type ScopeRuleSet struct {
	Domains  map[string]*Rule `json:"domains,omitempty"`
	Entities map[string]*Rule `json:"entities,omitempty"`
}

// Domain returns the rule for a domain, or nil.
func (s ScopeRuleSet) Domain(domain string) *Rule {
	return s.Domains[domain]
}

// Entity returns the rule for an entity id, or nil.
func (s ScopeRuleSet) Entity(entityID string) *Rule {
	return s.Entities[entityID]
}

// RoleDef is a named permission bundle.
type RoleDef struct {
	Description  string       `json:"description,omitempty"`
	Admin        bool         `json:"admin,omitempty"`
	DenyAll      bool         `json:"deny_all,omitempty"`
	Permissions  ScopeRuleSet `json:"permissions,omitempty"`
	Template     string       `json:"template,omitempty" jsonschema:"description=Predicate deciding whether the role applies (for example {{ person_home }})"`
	FallbackRole string       `json:"fallbackRole,omitempty" jsonschema:"description=Role used when the template is false or fails"`
}

// HasTemplate reports whether the role is conditioned on a template.
func (r *RoleDef) HasTemplate() bool {
	return r != nil && r.Template != ""
}

// SubjectRecord is the per-subject override.
type SubjectRecord struct {
	Role         string       `json:"role,omitempty"`
	Restrictions ScopeRuleSet `json:"restrictions,omitempty"`
}

// Document is one loaded policy snapshot.
type Document struct {
	Version     string `json:"version,omitempty" jsonschema:"oneof_type=string;number,description=Document format version (2.0 when absent)"`
	Description string `json:"description,omitempty"`

	Enabled             bool `json:"enabled"`
	ShowNotifications   bool `json:"show_notifications"`
	SendEvent           bool `json:"send_event"`
	LogDenyList         bool `json:"log_deny_list"`
	AllowChainedActions bool `json:"allow_chained_actions"`

	// DenyAllExceptions lists "domain.service" patterns that deny-all roles
	// may still call. Glob syntax is accepted per segment.
	DenyAllExceptions []string `json:"deny_all_exceptions,omitempty"`

	DefaultRestrictions ScopeRuleSet              `json:"default_restrictions,omitempty"`
	Roles               map[string]*RoleDef       `json:"roles,omitempty"`
	Users               map[string]*SubjectRecord `json:"users,omitempty"`

	exceptions *exceptionSet
	revision   string
}

// New returns an empty, enabled document with the same toggle defaults a
// loader applies to absent keys.
func New() *Document {
	doc := &Document{
		Enabled:             true,
		ShowNotifications:   true,
		AllowChainedActions: true,
	}
	if err := doc.Normalize(); err != nil {
		panic("policy: empty document failed to normalize: " + err.Error())
	}
	return doc
}

// Normalize fills nil maps, compiles deny-all exception patterns, and
// computes the revision. It must be called once, before the document is
// published to concurrent readers.
func (d *Document) Normalize() error {
	d.DefaultRestrictions = normalizeRuleSet(d.DefaultRestrictions)
	if d.Roles == nil {
		d.Roles = make(map[string]*RoleDef)
	}
	if d.Users == nil {
		d.Users = make(map[string]*SubjectRecord)
	}
	for name, role := range d.Roles {
		if role == nil {
			role = &RoleDef{}
			d.Roles[name] = role
		}
		role.Permissions = normalizeRuleSet(role.Permissions)
	}
	for id, user := range d.Users {
		if user == nil {
			user = &SubjectRecord{}
			d.Users[id] = user
		}
		user.Restrictions = normalizeRuleSet(user.Restrictions)
	}

	exceptions, err := compileExceptions(d.DenyAllExceptions)
	if err != nil {
		return err
	}
	d.exceptions = exceptions

	rev, err := computeRevision(d)
	if err != nil {
		return err
	}
	d.revision = rev
	return nil
}

// normalizeRuleSet replaces nil maps and nil rules so lookups never need
// nil checks beyond the rule pointer itself.
func normalizeRuleSet(s ScopeRuleSet) ScopeRuleSet {
	if s.Domains == nil {
		s.Domains = make(map[string]*Rule)
	}
	if s.Entities == nil {
		s.Entities = make(map[string]*Rule)
	}
	for k, r := range s.Domains {
		if r == nil {
			s.Domains[k] = &Rule{}
		}
	}
	for k, r := range s.Entities {
		if r == nil {
			s.Entities[k] = &Rule{}
		}
	}
	return s
}

// Revision returns the content fingerprint computed by Normalize.
func (d *Document) Revision() string {
	return d.revision
}

// Subject returns the record for a subject id, or nil.
func (d *Document) Subject(id string) *SubjectRecord {
	return d.Users[id]
}

// Role returns the definition for a role name, or nil.
func (d *Document) Role(name string) *RoleDef {
	if name == "" {
		return nil
	}
	return d.Roles[name]
}

// DenyAllException reports whether domain.service matches one of the
// document's deny-all exception patterns.
func (d *Document) DenyAllException(domain, service string) bool {
	return d.exceptions.match(domain + "." + service)
}

// Validate returns human-readable warnings for references the engine will
// degrade around at evaluation time. Warnings never make a document invalid.
func (d *Document) Validate() []string {
	var warnings []string

	userIDs := make([]string, 0, len(d.Users))
	for id := range d.Users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	for _, id := range userIDs {
		role := d.Users[id].Role
		if role != "" && d.Role(role) == nil {
			warnings = append(warnings, fmt.Sprintf("user %s references unknown role %q", id, role))
		}
	}

	roleNames := make([]string, 0, len(d.Roles))
	for name := range d.Roles {
		roleNames = append(roleNames, name)
	}
	sort.Strings(roleNames)
	for _, name := range roleNames {
		role := d.Roles[name]
		switch {
		case role.HasTemplate() && role.FallbackRole == "":
			warnings = append(warnings, fmt.Sprintf("role %s has a template but no fallbackRole; template is ignored", name))
		case role.FallbackRole != "" && d.Role(role.FallbackRole) == nil:
			warnings = append(warnings, fmt.Sprintf("role %s falls back to unknown role %q", name, role.FallbackRole))
		}
		if role.Admin && role.DenyAll {
			warnings = append(warnings, fmt.Sprintf("role %s sets both admin and deny_all; admin wins", name))
		}
	}
	return warnings
}
