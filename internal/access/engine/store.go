// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"sync/atomic"
	"time"

	"github.com/holomush/hagate/internal/access/policy"
)

// Store holds the current policy snapshot. Readers always observe one
// complete document; Swap replaces the reference and never mutates the
// document a concurrent evaluation may be reading.
type Store struct {
	current atomic.Pointer[policy.Document]

	// lastSwap stores the Unix timestamp in nanoseconds of the last
	// successful swap. Zero means nothing was loaded yet.
	lastSwap atomic.Int64
}

// NewStore creates a Store holding doc. A nil doc installs an empty,
// enabled document until the first Swap.
func NewStore(doc *policy.Document) *Store {
	s := &Store{}
	if doc == nil {
		s.current.Store(policy.New())
		return s
	}
	s.current.Store(doc)
	s.markSwapped()
	return s
}

// Snapshot returns the current document. Callers must treat it as read-only.
func (s *Store) Snapshot() *policy.Document {
	return s.current.Load()
}

// Swap installs doc and reports whether its revision differs from the
// document it replaced. Swapping in an identical revision is a no-op.
func (s *Store) Swap(doc *policy.Document) bool {
	if doc == nil {
		return false
	}
	for {
		old := s.current.Load()
		if old != nil && old.Revision() != "" && old.Revision() == doc.Revision() {
			s.markSwapped()
			return false
		}
		if s.current.CompareAndSwap(old, doc) {
			s.markSwapped()
			return true
		}
	}
}

// Loaded reports whether a document was ever installed explicitly.
func (s *Store) Loaded() bool {
	return s.lastSwap.Load() != 0
}

// LastSwap returns when a document was last installed or confirmed unchanged.
func (s *Store) LastSwap() time.Time {
	last := s.lastSwap.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}

func (s *Store) markSwapped() {
	now := time.Now()
	s.lastSwap.Store(now.UnixNano())
	policyLastReload.Set(float64(now.Unix()))
}
