// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package role resolves the effective role of a subject, including roles
// conditioned on a template predicate with a fallback role.
package role

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/hagate/internal/access/policy"
	"github.com/holomush/hagate/internal/access/template"
)

// Outcome classifies how a role was resolved.
type Outcome string

// Resolution outcomes.
const (
	OutcomeUnknownSubject     Outcome = "unknown_subject"
	OutcomeNoRole             Outcome = "no_role"
	OutcomeStatic             Outcome = "static"
	OutcomeTemplateTrue       Outcome = "template_true"
	OutcomeTemplateNoFallback Outcome = "template_no_fallback"
	OutcomeFallbackFalse      Outcome = "fallback_false"
	OutcomeFallbackError      Outcome = "fallback_error"
	OutcomeFallbackMissing    Outcome = "fallback_missing"
)

// Resolution is the effective role of one subject for one evaluation.
type Resolution struct {
	// Subject is the subject's record, nil for unknown subjects.
	Subject *policy.SubjectRecord
	// Name is the effective role name, empty when the subject is role-less.
	Name string
	// Role is the effective role definition, nil when role-less.
	Role      *policy.RoleDef
	Outcome   Outcome
	Rationale string
}

// Known reports whether the subject has a record in the document.
func (r Resolution) Known() bool {
	return r.Subject != nil
}

// TemplateEvaluator evaluates a role template to a boolean.
type TemplateEvaluator interface {
	Evaluate(ctx context.Context, src string, states template.StateProvider) (bool, error)
}

// Resolver determines effective roles. It holds no per-document state and
// is safe for concurrent use.
type Resolver struct {
	templates TemplateEvaluator
	states    template.StateProvider
}

// NewResolver creates a Resolver. If templates is nil, every templated role
// resolves to its fallback as though its template had failed.
func NewResolver(templates TemplateEvaluator, states template.StateProvider) *Resolver {
	return &Resolver{
		templates: templates,
		states:    states,
	}
}

// Resolve returns the effective role for subject under doc.
func (r *Resolver) Resolve(ctx context.Context, doc *policy.Document, subject string) Resolution {
	record := doc.Subject(subject)
	if record == nil {
		return Resolution{
			Outcome:   OutcomeUnknownSubject,
			Rationale: "subject not configured",
		}
	}

	res := Resolution{Subject: record, Name: record.Role}
	configured := doc.Role(record.Role)
	if configured == nil {
		res.Name = ""
		res.Outcome = OutcomeNoRole
		if record.Role == "" {
			res.Rationale = "no role assigned"
		} else {
			res.Rationale = fmt.Sprintf("role %q not defined", record.Role)
			slog.WarnContext(ctx, "subject references undefined role",
				"subject", subject,
				"role", record.Role)
		}
		return res
	}

	res.Role = configured
	if !configured.HasTemplate() {
		res.Outcome = OutcomeStatic
		res.Rationale = "role " + record.Role
		return res
	}
	if configured.FallbackRole == "" {
		res.Outcome = OutcomeTemplateNoFallback
		res.Rationale = "role " + record.Role + " (template ignored without fallbackRole)"
		return res
	}

	ok, err := r.evaluate(ctx, configured.Template)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "role template evaluation failed, using fallback role",
			"subject", subject,
			"role", record.Role,
			"fallback_role", configured.FallbackRole,
			"error", err)
		return r.fallback(doc, res, OutcomeFallbackError,
			fmt.Sprintf("template of role %s failed", record.Role))
	case !ok:
		return r.fallback(doc, res, OutcomeFallbackFalse,
			fmt.Sprintf("template of role %s is false", record.Role))
	default:
		res.Outcome = OutcomeTemplateTrue
		res.Rationale = fmt.Sprintf("template of role %s is true", record.Role)
		return res
	}
}

func (r *Resolver) evaluate(ctx context.Context, src string) (bool, error) {
	if r.templates == nil {
		return false, oops.In("role").Code(template.CodeEval).Errorf("no template evaluator configured")
	}
	return r.templates.Evaluate(ctx, src, r.states)
}

// fallback substitutes the configured role's fallbackRole. A fallback that
// is itself undefined leaves the subject role-less.
func (r *Resolver) fallback(doc *policy.Document, res Resolution, outcome Outcome, why string) Resolution {
	configured := res.Role
	recordFallback(outcome)

	fb := doc.Role(configured.FallbackRole)
	if fb == nil {
		recordFallback(OutcomeFallbackMissing)
		res.Name = ""
		res.Role = nil
		res.Outcome = OutcomeFallbackMissing
		res.Rationale = fmt.Sprintf("%s; fallback role %q not defined", why, configured.FallbackRole)
		return res
	}

	res.Name = configured.FallbackRole
	res.Role = fb
	res.Outcome = outcome
	res.Rationale = fmt.Sprintf("%s; using fallback role %s", why, configured.FallbackRole)
	return res
}
