// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/holomush/hagate/internal/access/accesstest"
	"github.com/holomush/hagate/internal/access/policy"
)

func TestVisibleServices(t *testing.T) {
	doc := accesstest.NewPolicy().
		RoleDomain("family", "light", accesstest.AllowOnly("turn_on", "toggle")).
		DefaultDomain("lock", accesstest.BlockOnly("unlock")).
		User("user-fran", "family").
		Build(t)
	e := createTestEngine(t, doc, nil)
	ctx := context.Background()

	assert.Equal(t, []string{"turn_on", "toggle"},
		e.VisibleServices(ctx, "user-fran", "light", []string{"turn_on", "turn_off", "toggle"}))
	assert.Equal(t, []string{"lock"},
		e.VisibleServices(ctx, "user-fran", "lock", []string{"lock", "unlock"}))
	assert.Equal(t, []string{"turn_on", "turn_off"},
		e.VisibleServices(ctx, "", "light", []string{"turn_on", "turn_off"}), "system calls see everything")
	assert.Empty(t, e.VisibleServices(ctx, "user-fran", "light", nil))
}

func TestEntityHidden(t *testing.T) {
	doc := accesstest.NewPolicy().
		Role("admin", policy.RoleDef{Admin: true}).
		RoleDomain("guest", "camera", accesstest.BlockAll()).
		RoleEntity("guest", "camera.porch", accesstest.AllowAll()).
		RoleEntity("guest", "light.safe", policy.Rule{Hide: true}).
		RoleEntity("guest", "light.vault", policy.Rule{}).
		RoleEntity("guest", "light.desk", accesstest.BlockOnly("turn_off")).
		Role("locked", policy.RoleDef{DenyAll: true}).
		RoleEntity("locked", "switch.porch", accesstest.AllowAll()).
		User("user-alice", "admin").
		User("user-gus", "guest").
		User("user-lou", "locked").
		UserEntity("user-gus", "camera.garage", accesstest.AllowAll()).
		DefaultEntity("switch.siren", accesstest.BlockAll()).
		Build(t)
	e := createTestEngine(t, doc, nil)

	tests := []struct {
		name    string
		subject string
		entity  string
		hidden  bool
	}{
		{"system caller", "", "switch.siren", false},
		{"admin sees everything", "user-alice", "switch.siren", false},
		{"entity allow beats domain block", "user-gus", "camera.porch", false},
		{"domain block hides", "user-gus", "camera.nursery", true},
		{"subject entity allow", "user-gus", "camera.garage", false},
		{"hide flag", "user-gus", "light.safe", true},
		{"empty rule blocks every service", "user-gus", "light.vault", true},
		{"partial block stays visible", "user-gus", "light.desk", false},
		{"default entity block", "user-gus", "switch.siren", true},
		{"unrestricted", "user-gus", "light.kitchen", false},
		{"deny_all hides unlisted", "user-lou", "light.kitchen", true},
		{"deny_all shows allowed", "user-lou", "switch.porch", false},
		{"system domain never hidden", "user-lou", "persistent_notification.x", false},
		{"malformed id", "user-lou", "nodot", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.hidden, e.EntityHidden(context.Background(), tt.subject, tt.entity))
		})
	}
}

func TestEntityHidden_Disabled(t *testing.T) {
	doc := accesstest.NewPolicy().
		Disabled().
		Role("locked", policy.RoleDef{DenyAll: true}).
		User("user-lou", "locked").
		Build(t)
	assert.False(t, createTestEngine(t, doc, nil).EntityHidden(context.Background(), "user-lou", "light.kitchen"))
}
