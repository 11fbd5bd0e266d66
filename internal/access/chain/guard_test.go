// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package chain

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGuard_BeginRelease(t *testing.T) {
	g := NewGuard()

	release := g.Begin("ctx-1")
	assert.True(t, g.IsPreauthorized([]string{"ctx-1"}))
	assert.True(t, g.IsPreauthorized([]string{"", "ctx-1"}), "parent id matches")
	assert.False(t, g.IsPreauthorized([]string{"ctx-2"}))
	assert.False(t, g.IsPreauthorized(nil))

	release()
	assert.False(t, g.IsPreauthorized([]string{"ctx-1"}))
	assert.Equal(t, 0, g.Active())
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	g := NewGuard()

	outer := g.Begin("ctx-1")
	inner := g.Begin("ctx-1")
	assert.Equal(t, 1, g.Active())

	inner()
	inner()
	assert.True(t, g.IsPreauthorized([]string{"ctx-1"}), "outer registration still held")

	outer()
	assert.False(t, g.IsPreauthorized([]string{"ctx-1"}))
}

func TestGuard_EmptyIDRegistersNothing(t *testing.T) {
	g := NewGuard()
	release := g.Begin("")
	assert.Equal(t, 0, g.Active())
	release()
	assert.False(t, g.IsPreauthorized([]string{""}))
}

func TestGuard_EndUnregisteredDoesNotPanic(t *testing.T) {
	g := NewGuard()
	assert.NotPanics(t, func() { g.End("never-begun") })
	assert.Equal(t, 0, g.Active())
}

func TestGuard_MaxAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	g := NewGuard(WithMaxAge(time.Minute), WithClock(clock))

	release := g.Begin("ctx-old")
	defer release()
	assert.True(t, g.IsPreauthorized([]string{"ctx-old"}))

	now = now.Add(2 * time.Minute)
	assert.False(t, g.IsPreauthorized([]string{"ctx-old"}), "expired registration no longer authorizes")

	fresh := g.Begin("ctx-new")
	defer fresh()
	assert.Equal(t, 1, g.Active(), "expired registration swept on Begin")
}

func TestGuard_LateReleaseKeepsNewerRegistration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	g := NewGuard(WithMaxAge(time.Minute), WithClock(clock))
	errorsBefore := testutil.ToFloat64(releaseErrors)

	stale := g.Begin("ctx-1")
	now = now.Add(2 * time.Minute)
	current := g.Begin("ctx-1")
	require.True(t, g.IsPreauthorized([]string{"ctx-1"}))

	stale()
	assert.True(t, g.IsPreauthorized([]string{"ctx-1"}), "expired release must not end the newer run")
	assert.Equal(t, 1, g.Active())
	assert.InDelta(t, errorsBefore, testutil.ToFloat64(releaseErrors), 0)

	current()
	assert.False(t, g.IsPreauthorized([]string{"ctx-1"}))
	assert.Equal(t, 0, g.Active())
}

func TestGuard_RunReleasesOnPanic(t *testing.T) {
	g := NewGuard()

	assert.Panics(t, func() {
		_ = g.Run(context.Background(), "ctx-1", func(context.Context) error {
			require.True(t, g.IsPreauthorized([]string{"ctx-1"}))
			panic("boom")
		})
	})
	assert.False(t, g.IsPreauthorized([]string{"ctx-1"}))
}

func TestGuard_RunReturnsError(t *testing.T) {
	g := NewGuard()
	err := g.Run(context.Background(), "ctx-1", func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, g.Active())
}

func TestGuard_Concurrent(t *testing.T) {
	g := NewGuard()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ctx-%d", i%4)
			for j := 0; j < 100; j++ {
				release := g.Begin(id)
				assert.True(t, g.IsPreauthorized([]string{id}))
				release()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, g.Active())
}

func TestNewContextID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewContextID()
		require.Len(t, id, 26)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
