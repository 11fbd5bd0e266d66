// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/hagate/internal/access/accesstest"
	"github.com/holomush/hagate/internal/access/chain"
	"github.com/holomush/hagate/internal/access/engine"
	"github.com/holomush/hagate/internal/access/policy"
	"github.com/holomush/hagate/internal/access/policy/types"
	"github.com/holomush/hagate/internal/access/role"
	"github.com/holomush/hagate/internal/access/template"
)

// createTestEngine builds an engine over doc with real templates backed by states.
func createTestEngine(t *testing.T, doc *policy.Document, states *template.StaticState) *engine.Engine {
	t.Helper()
	if states == nil {
		states = template.NewStaticState()
	}
	resolver := role.NewResolver(template.NewEvaluator(), states)
	return engine.New(engine.NewStore(doc), resolver, chain.NewGuard())
}

func request(subject, domain, service string, entities ...string) types.Request {
	return types.Request{Subject: subject, Domain: domain, Service: service, EntityIDs: entities}
}

func household(t *testing.T) *policy.Document {
	t.Helper()
	return accesstest.NewPolicy().
		Role("admin", policy.RoleDef{Admin: true}).
		RoleDomain("guest", "light", accesstest.BlockAll()).
		RoleEntity("guest", "light.kitchen", accesstest.AllowAll()).
		RoleDomain("family", "light", accesstest.AllowOnly("turn_on")).
		Role("locked", policy.RoleDef{DenyAll: true}).
		DefaultDomain("lock", accesstest.BlockOnly("unlock")).
		DefaultEntity("switch.siren", accesstest.BlockAll()).
		User("user-alice", "admin").
		User("user-gus", "guest").
		User("user-fran", "family").
		User("user-lou", "locked").
		UserEntity("user-fran", "light.office", accesstest.BlockAll()).
		Build(t)
}

func TestEvaluate_Ladder(t *testing.T) {
	tests := []struct {
		name       string
		req        types.Request
		wantEffect types.Effect
		wantReason string
	}{
		{
			name:       "system domain bypasses",
			req:        request("user-gus", "persistent_notification", "create"),
			wantEffect: types.EffectSystemBypass,
			wantReason: "excluded domain persistent_notification",
		},
		{
			name:       "system call",
			req:        request("", "lock", "unlock", "lock.front"),
			wantEffect: types.EffectSystemBypass,
			wantReason: "system call (no user_id)",
		},
		{
			name:       "admin",
			req:        request("user-alice", "switch", "turn_on", "switch.siren"),
			wantEffect: types.EffectAdminBypass,
			wantReason: "role admin is admin",
		},
		{
			name:       "entity allow beats domain block",
			req:        request("user-gus", "light", "turn_on", "light.kitchen"),
			wantEffect: types.EffectAllow,
			wantReason: "entity restriction: entity light.kitchen allowed by role guest",
		},
		{
			name:       "domain block without entity rule",
			req:        request("user-gus", "light", "turn_on", "light.bedroom"),
			wantEffect: types.EffectDeny,
			wantReason: "domain restriction: domain light blocked by role guest",
		},
		{
			name:       "allow list permits listed service",
			req:        request("user-fran", "light", "turn_on", "light.hall"),
			wantEffect: types.EffectAllow,
			wantReason: "domain restriction: domain light allowed by role family",
		},
		{
			name:       "allow list blocks other services",
			req:        request("user-fran", "light", "turn_off", "light.hall"),
			wantEffect: types.EffectDeny,
			wantReason: "domain restriction: domain light service turn_off not in allow list of role family",
		},
		{
			name:       "subject restriction beats role",
			req:        request("user-fran", "light", "turn_on", "light.office"),
			wantEffect: types.EffectDeny,
			wantReason: "entity restriction: entity light.office blocked by user restriction",
		},
		{
			name:       "default entity restriction",
			req:        request("user-gus", "switch", "turn_on", "switch.siren"),
			wantEffect: types.EffectDeny,
			wantReason: "entity restriction: entity switch.siren blocked by default",
		},
		{
			name:       "default domain service restriction",
			req:        request("user-fran", "lock", "unlock", "lock.front"),
			wantEffect: types.EffectDeny,
			wantReason: "domain restriction: domain lock service unlock blocked by default",
		},
		{
			name:       "default domain restriction ignores other services",
			req:        request("user-fran", "lock", "lock", "lock.front"),
			wantEffect: types.EffectDefaultAllow,
			wantReason: "no applicable restriction",
		},
		{
			name:       "unknown subject gets defaults",
			req:        request("user-stranger", "switch", "turn_on", "switch.siren"),
			wantEffect: types.EffectDeny,
			wantReason: "entity restriction: entity switch.siren blocked by default",
		},
		{
			name:       "unknown subject otherwise allowed",
			req:        request("user-stranger", "light", "turn_on", "light.bedroom"),
			wantEffect: types.EffectDefaultAllow,
			wantReason: "no applicable restriction",
		},
		{
			name:       "deny all",
			req:        request("user-lou", "switch", "turn_on", "switch.unlisted"),
			wantEffect: types.EffectDefaultDeny,
			wantReason: "role locked denies all: no rule allows switch.turn_on",
		},
		{
			name:       "malformed request",
			req:        request("user-gus", "", "turn_on"),
			wantEffect: types.EffectDeny,
			wantReason: "malformed request: domain and service are required",
		},
	}

	e := createTestEngine(t, household(t), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(context.Background(), tt.req)
			assert.Equal(t, tt.wantEffect, d.Effect, d.Reason)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, tt.wantEffect.Allows(), d.IsAllowed())
			assert.NoError(t, d.Validate())
		})
	}
}

func TestEvaluate_DisabledAllowsEverything(t *testing.T) {
	doc := accesstest.NewPolicy().
		Disabled().
		Role("locked", policy.RoleDef{DenyAll: true}).
		User("user-lou", "locked").
		Build(t)

	d := createTestEngine(t, doc, nil).Evaluate(context.Background(), request("user-lou", "lock", "unlock"))
	assert.True(t, d.IsAllowed())
	assert.Equal(t, "access control disabled", d.Reason)
}

func TestEvaluate_EntityPrecedesDomain(t *testing.T) {
	doc := accesstest.NewPolicy().
		RoleDomain("guest", "light", accesstest.BlockAll()).
		RoleEntity("guest", "light.kitchen", accesstest.AllowAll()).
		User("user-gus", "guest").
		Build(t)
	e := createTestEngine(t, doc, nil)

	assert.True(t, e.Evaluate(context.Background(), request("user-gus", "light", "turn_on", "light.kitchen")).IsAllowed())
	assert.False(t, e.Evaluate(context.Background(), request("user-gus", "light", "turn_on", "light.bedroom")).IsAllowed())
}

func TestEvaluate_AllowListNarrows(t *testing.T) {
	doc := accesstest.NewPolicy().
		RoleDomain("guest", "light", accesstest.AllowOnly("turn_on")).
		User("user-gus", "guest").
		Build(t)
	e := createTestEngine(t, doc, nil)

	assert.True(t, e.Evaluate(context.Background(), request("user-gus", "light", "turn_on")).IsAllowed())

	d := e.Evaluate(context.Background(), request("user-gus", "light", "turn_off"))
	assert.False(t, d.IsAllowed())
	assert.Contains(t, d.Reason, "not in allow list")
}

func TestEvaluate_DenyAllFlipsWithExplicitEntityAllow(t *testing.T) {
	req := request("user-lou", "switch", "turn_on", "switch.unlisted")

	base := accesstest.NewPolicy().
		Role("locked", policy.RoleDef{DenyAll: true}).
		User("user-lou", "locked")
	denied := createTestEngine(t, base.Build(t), nil).Evaluate(context.Background(), req)
	assert.Equal(t, types.EffectDefaultDeny, denied.Effect)

	flipped := accesstest.NewPolicy().
		Role("locked", policy.RoleDef{DenyAll: true}).
		RoleEntity("locked", "switch.unlisted", accesstest.AllowAll()).
		User("user-lou", "locked").
		Build(t)
	allowed := createTestEngine(t, flipped, nil).Evaluate(context.Background(), req)
	assert.True(t, allowed.IsAllowed())
}

func TestEvaluate_DenyAllPartialEntityAllow(t *testing.T) {
	doc := accesstest.NewPolicy().
		Role("locked", policy.RoleDef{DenyAll: true}).
		RoleEntity("locked", "switch.porch", accesstest.AllowAll()).
		User("user-lou", "locked").
		Build(t)
	e := createTestEngine(t, doc, nil)

	// porch is explicitly allowed, garage is not mentioned: deny_all still
	// covers garage, so the call is refused as a whole.
	d := e.Evaluate(context.Background(), request("user-lou", "switch", "turn_on", "switch.porch", "switch.garage"))
	assert.False(t, d.IsAllowed())
	assert.Equal(t, types.EffectDefaultDeny, d.Effect)
	assert.Equal(t, "role locked denies all: entity switch.garage is not explicitly allowed", d.Reason)

	assert.True(t, e.Evaluate(context.Background(), request("user-lou", "switch", "turn_on", "switch.porch")).IsAllowed())
}

func TestEvaluate_DenyAllScriptWithUnlistedTargets(t *testing.T) {
	doc := accesstest.NewPolicy().
		Role("locked", policy.RoleDef{DenyAll: true}).
		RoleEntity("locked", "script.bedtime", accesstest.AllowAll()).
		User("user-lou", "locked").
		Build(t)
	e := createTestEngine(t, doc, nil)

	d := e.Evaluate(context.Background(), request("user-lou", "script", "bedtime", "light.unlisted"))
	assert.True(t, d.IsAllowed())
	assert.Equal(t, "entity script.bedtime explicitly allowed under deny_all of role locked", d.Reason)
}

func TestEvaluate_DenyAllSyntheticScriptEntity(t *testing.T) {
	doc := accesstest.NewPolicy().
		Role("locked", policy.RoleDef{DenyAll: true}).
		RoleEntity("locked", "script.bedtime", accesstest.AllowAll()).
		User("user-lou", "locked").
		Build(t)
	e := createTestEngine(t, doc, nil)

	assert.True(t, e.Evaluate(context.Background(), request("user-lou", "script", "bedtime")).IsAllowed())
	assert.False(t, e.Evaluate(context.Background(), request("user-lou", "script", "wake_up")).IsAllowed())
}

func TestEvaluate_DenyAllExceptions(t *testing.T) {
	doc := accesstest.NewPolicy().
		Exceptions("light.*", "scene.turn_on").
		Role("locked", policy.RoleDef{DenyAll: true}).
		User("user-lou", "locked").
		Build(t)
	e := createTestEngine(t, doc, nil)

	assert.True(t, e.Evaluate(context.Background(), request("user-lou", "light", "toggle")).IsAllowed())
	assert.True(t, e.Evaluate(context.Background(), request("user-lou", "scene", "turn_on")).IsAllowed())
	assert.False(t, e.Evaluate(context.Background(), request("user-lou", "scene", "apply")).IsAllowed())
}

func TestEvaluate_MultiEntity(t *testing.T) {
	doc := accesstest.NewPolicy().
		RoleEntity("guest", "light.kitchen", accesstest.AllowAll()).
		RoleEntity("guest", "light.hall", accesstest.AllowAll()).
		RoleEntity("guest", "light.bedroom", accesstest.BlockAll()).
		RoleDomain("guest", "light", accesstest.BlockAll()).
		User("user-gus", "guest").
		Build(t)
	e := createTestEngine(t, doc, nil)

	tests := []struct {
		name     string
		entities []string
		allowed  bool
	}{
		{"all allowed", []string{"light.kitchen", "light.hall"}, true},
		{"one blocked", []string{"light.kitchen", "light.bedroom"}, false},
		{"one unmentioned falls to domain", []string{"light.kitchen", "light.porch"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(context.Background(), request("user-gus", "light", "turn_on", tt.entities...))
			assert.Equal(t, tt.allowed, d.IsAllowed(), d.Reason)
		})
	}
}

func TestEvaluate_TemplateFallback(t *testing.T) {
	doc := accesstest.NewPolicy().
		Role("family", policy.RoleDef{Template: "{{ person_home }}", FallbackRole: "guest"}).
		RoleDomain("family", "lock", accesstest.AllowAll()).
		RoleDomain("guest", "lock", accesstest.BlockAll()).
		User("user-kim", "family").
		Build(t)
	states := template.NewStaticState()
	e := createTestEngine(t, doc, states)
	req := request("user-kim", "lock", "unlock", "lock.front")

	states.SetVariable("person_home", false)
	d := e.Evaluate(context.Background(), req)
	assert.False(t, d.IsAllowed())
	assert.Equal(t, "guest", d.Role)
	assert.Equal(t, string(role.OutcomeFallbackFalse), d.RoleOutcome)

	states.SetVariable("person_home", true)
	d = e.Evaluate(context.Background(), req)
	assert.True(t, d.IsAllowed())
	assert.Equal(t, "family", d.Role)
}

func TestEvaluate_MissingFallbackKeepsSubjectRules(t *testing.T) {
	doc := accesstest.NewPolicy().
		Role("family", policy.RoleDef{Template: "{{ broken( }}", FallbackRole: "nobody"}).
		RoleDomain("family", "lock", accesstest.AllowAll()).
		User("user-kim", "family").
		UserDomain("user-kim", "alarm", accesstest.BlockAll()).
		Build(t)
	e := createTestEngine(t, doc, nil)

	d := e.Evaluate(context.Background(), request("user-kim", "lock", "unlock"))
	assert.Equal(t, types.EffectDefaultAllow, d.Effect, "role-less subject falls through to allow")
	assert.Empty(t, d.Role)

	d = e.Evaluate(context.Background(), request("user-kim", "alarm", "disarm"))
	assert.False(t, d.IsAllowed(), "subject restrictions still apply")
}

func TestEvaluate_ChainExemption(t *testing.T) {
	doc := accesstest.NewPolicy().
		RoleDomain("guest", "light", accesstest.BlockAll()).
		RoleEntity("guest", "automation.evening", accesstest.AllowAll()).
		User("user-gus", "guest").
		Build(t)
	e := createTestEngine(t, doc, nil)
	ctx := context.Background()

	trigger := request("user-gus", "automation", "trigger", "automation.evening")
	require.True(t, e.Evaluate(ctx, trigger).IsAllowed())

	nested := request("user-gus", "light", "turn_on", "light.bedroom")
	nested.ContextChain = []string{"ctx-child", "ctx-auto"}

	release := e.Guard().Begin("ctx-auto")
	d := e.Evaluate(ctx, nested)
	assert.Equal(t, types.EffectChainBypass, d.Effect)
	release()

	d = e.Evaluate(ctx, nested)
	assert.False(t, d.IsAllowed(), "evaluated normally once the chain ended")
}

func TestEvaluate_ChainExemptionDisabled(t *testing.T) {
	doc := accesstest.NewPolicy().
		With(func(doc *policy.Document) { doc.AllowChainedActions = false }).
		RoleDomain("guest", "light", accesstest.BlockAll()).
		User("user-gus", "guest").
		Build(t)
	e := createTestEngine(t, doc, nil)

	release := e.Guard().Begin("ctx-auto")
	defer release()

	nested := request("user-gus", "light", "turn_on")
	nested.ContextChain = []string{"ctx-auto"}
	assert.False(t, e.Evaluate(context.Background(), nested).IsAllowed())
}

func TestEvaluate_IdempotentAcrossReload(t *testing.T) {
	e := createTestEngine(t, household(t), nil)
	req := request("user-fran", "light", "turn_off", "light.hall")

	first := e.Evaluate(context.Background(), req)
	assert.False(t, e.Store().Swap(household(t)), "unchanged document is not swapped")
	second := e.Evaluate(context.Background(), req)

	assert.Equal(t, first, second)
}

func TestEvaluate_DecisionCarriesRuleAndRevision(t *testing.T) {
	doc := household(t)
	d := createTestEngine(t, doc, nil).Evaluate(context.Background(), request("user-gus", "light", "turn_on", "light.kitchen"))

	require.NotNil(t, d.Rule)
	assert.Equal(t, types.RuleRef{Level: types.LevelRole, Scope: types.ScopeEntity, Key: "light.kitchen"}, *d.Rule)
	assert.Equal(t, doc.Revision(), d.Revision)
	assert.Equal(t, "guest", d.Role)
	assert.Equal(t, string(role.OutcomeStatic), d.RoleOutcome)
}

func TestNew_Defaults(t *testing.T) {
	e := engine.New(nil, nil, nil)
	require.NotNil(t, e.Store())
	require.NotNil(t, e.Guard())

	d := e.Evaluate(context.Background(), request("user-any", "light", "turn_on"))
	assert.Equal(t, types.EffectDefaultAllow, d.Effect)
}
