// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package audit records service-call authorization decisions.
//
// The Logger routes entries based on effect and mode:
//
//	deny, default_deny → sync write → WAL fallback on failure
//	allows and bypasses (ModeAll) → async write via buffered channel
//
// ModeMinimal also writes admin and chain bypasses synchronously, since
// those are the decisions that skip rule evaluation for a real subject.
//
// When a sync write fails, the entry is appended to a JSON-lines WAL at
// $XDG_STATE_HOME/hagate/audit-wal.jsonl. ReplayWAL re-submits those entries
// once the writer recovers.
//
// Example:
//
//	logger := audit.NewLogger(audit.ModeMinimal, audit.NewSlogWriter(nil), "")
//	defer logger.Close()
//	_ = logger.Log(ctx, audit.NewEntry(req, contextID, decision, elapsed))
package audit
