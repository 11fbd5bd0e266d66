// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package audit

import (
	"context"
	"log/slog"
)

// SlogWriter writes audit entries as structured log records.
type SlogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter creates a SlogWriter. A nil logger uses slog.Default with
// an "audit" group.
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger.WithGroup("audit")}
}

// WriteSync writes entry immediately.
func (w *SlogWriter) WriteSync(ctx context.Context, entry Entry) error {
	w.write(ctx, entry)
	return nil
}

// WriteAsync writes entry without a request context.
func (w *SlogWriter) WriteAsync(entry Entry) error {
	w.write(context.Background(), entry)
	return nil
}

// Close is a no-op.
func (w *SlogWriter) Close() error {
	return nil
}

func (w *SlogWriter) write(ctx context.Context, entry Entry) {
	level := slog.LevelInfo
	if entry.Effect == "deny" || entry.Effect == "default_deny" {
		level = slog.LevelWarn
	}
	w.logger.LogAttrs(ctx, level, "service call decision",
		slog.String("subject", entry.Subject),
		slog.String("action", entry.Action),
		slog.Any("entities", entry.Entities),
		slog.String("context_id", entry.ContextID),
		slog.String("effect", entry.Effect),
		slog.String("reason", entry.Reason),
		slog.String("rule", entry.Rule),
		slog.String("role", entry.Role),
		slog.String("role_outcome", entry.RoleOutcome),
		slog.String("revision", entry.Revision),
		slog.Int64("duration_us", entry.DurationUS),
	)
}
