// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/hagate/internal/access/policy/types"
	"github.com/holomush/hagate/internal/xdg"
)

// Mode controls which decisions are logged.
type Mode string

// Audit logging modes.
const (
	ModeOff         Mode = "off"          // nothing
	ModeDenialsOnly Mode = "denials_only" // deny + default_deny
	ModeMinimal     Mode = "minimal"      // denials + admin and chain bypasses
	ModeAll         Mode = "all"          // everything
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeOff, ModeDenialsOnly, ModeMinimal, ModeAll:
		return m, nil
	case "":
		return ModeMinimal, nil
	default:
		return "", oops.Code("CONFIG_INVALID").With("audit_mode", s).
			Errorf("unknown audit mode %q (want off, denials_only, minimal or all)", s)
	}
}

// Entry represents a single service-call decision to be logged.
type Entry struct {
	Subject     string    `json:"subject"`
	Action      string    `json:"action"`
	Entities    []string  `json:"entities,omitempty"`
	ContextID   string    `json:"context_id,omitempty"`
	Effect      string    `json:"effect"`
	Reason      string    `json:"reason"`
	Rule        string    `json:"rule,omitempty"`
	Role        string    `json:"role,omitempty"`
	RoleOutcome string    `json:"role_outcome,omitempty"`
	Revision    string    `json:"revision,omitempty"`
	DurationUS  int64     `json:"duration_us"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEntry builds an entry from a request and the decision made for it.
func NewEntry(req types.Request, contextID string, d types.Decision, duration time.Duration) Entry {
	e := Entry{
		Subject:     req.Subject,
		Action:      req.Action(),
		Entities:    req.EntityIDs,
		ContextID:   contextID,
		Effect:      d.Effect.String(),
		Reason:      d.Reason,
		Role:        d.Role,
		RoleOutcome: d.RoleOutcome,
		Revision:    d.Revision,
		DurationUS:  duration.Microseconds(),
		Timestamp:   time.Now().UTC(),
	}
	if d.Rule != nil {
		e.Rule = d.Rule.String()
	}
	return e
}

// Writer is the interface for writing audit entries to a backend.
type Writer interface {
	WriteSync(ctx context.Context, entry Entry) error
	WriteAsync(entry Entry) error
	Close() error
}

var (
	channelFullCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hagate_audit_channel_full_total",
		Help: "Total number of times async audit channel was full",
	})

	failuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hagate_audit_failures_total",
		Help: "Total number of audit logging failures",
	}, []string{"reason"})

	walEntriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hagate_audit_wal_entries",
		Help: "Current number of entries in the WAL",
	})
)

// RegisterMetrics registers audit metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(channelFullCounter, failuresCounter, walEntriesGauge)
}

// Logger routes audit entries based on mode and effect.
type Logger struct {
	mode      Mode
	writer    Writer
	walPath   string
	walFile   *os.File
	walMu     sync.Mutex
	asyncChan chan Entry
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLogger creates a Logger with the given mode, writer, and WAL path.
// If walPath is empty, a default path in the XDG state directory will be used.
func NewLogger(mode Mode, writer Writer, walPath string) *Logger {
	if walPath == "" {
		walPath = defaultWALPath()
	}

	logger := &Logger{
		mode:      mode,
		writer:    writer,
		walPath:   walPath,
		asyncChan: make(chan Entry, 1000),
		stopChan:  make(chan struct{}),
	}

	logger.wg.Add(1)
	go logger.asyncConsumer()

	return logger
}

func defaultWALPath() string {
	stateDir, err := xdg.StateDir()
	if err != nil {
		slog.Error("failed to get state directory for WAL", "error", err)
		return filepath.Join(os.TempDir(), "hagate-audit-wal.jsonl")
	}
	if err := xdg.EnsureDir(stateDir); err != nil {
		slog.Error("failed to ensure state directory", "error", err)
	}
	return filepath.Join(stateDir, "audit-wal.jsonl")
}

// Mode returns the configured mode.
func (l *Logger) Mode() Mode {
	return l.mode
}

// Log routes an audit entry based on the configured mode and effect.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	effect, ok := types.ParseEffect(entry.Effect)
	if !ok {
		failuresCounter.WithLabelValues("unknown_effect").Inc()
		return oops.Code("AUDIT_INVALID_ENTRY").With("effect", entry.Effect).Errorf("unknown effect %q", entry.Effect)
	}
	shouldLog, useSync := l.shouldLog(effect)
	if !shouldLog {
		return nil
	}

	if useSync {
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			if walErr := l.writeToWAL(entry); walErr != nil {
				slog.ErrorContext(ctx, "audit write failed: both writer and WAL failed",
					"writer_error", err,
					"wal_error", walErr,
					"subject", entry.Subject,
					"action", entry.Action,
					"effect", entry.Effect,
				)
				failuresCounter.WithLabelValues("wal_failed").Inc()
			}
		}
		return nil
	}

	select {
	case l.asyncChan <- entry:
	default:
		channelFullCounter.Inc()
	}
	return nil
}

// shouldLog determines if an entry should be logged based on mode and effect.
// Denials are always written synchronously; allows and bypasses in ModeAll
// go through the async channel.
func (l *Logger) shouldLog(effect types.Effect) (shouldLog, useSync bool) {
	denial := !effect.Allows()
	switch l.mode {
	case ModeDenialsOnly:
		return denial, true
	case ModeMinimal:
		switch effect {
		case types.EffectDeny, types.EffectDefaultDeny, types.EffectAdminBypass, types.EffectChainBypass:
			return true, true
		}
		return false, false
	case ModeAll:
		return true, denial
	default:
		return false, false
	}
}

func (l *Logger) asyncConsumer() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.asyncChan:
			l.writeAsync(entry)
		case <-l.stopChan:
			l.drainAsync()
			return
		}
	}
}

func (l *Logger) drainAsync() {
	for {
		select {
		case entry := <-l.asyncChan:
			l.writeAsync(entry)
		default:
			return
		}
	}
}

func (l *Logger) writeAsync(entry Entry) {
	if err := l.writer.WriteAsync(entry); err != nil {
		slog.Error("async audit write failed",
			"error", err,
			"subject", entry.Subject,
			"action", entry.Action,
		)
		failuresCounter.WithLabelValues("async_write_failed").Inc()
	}
}

// writeToWAL appends an entry to the write-ahead log.
func (l *Logger) writeToWAL(entry Entry) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if l.walFile == nil {
		file, err := os.OpenFile(l.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", l.walPath).Wrap(err)
		}
		l.walFile = file
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return oops.Wrap(err)
	}
	if _, err := fmt.Fprintf(l.walFile, "%s\n", data); err != nil {
		return oops.Wrap(err)
	}

	walEntriesGauge.Inc()
	return nil
}

// ReplayWAL writes every WAL entry to the writer, then truncates the WAL.
func (l *Logger) ReplayWAL(ctx context.Context) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	data, err := os.ReadFile(l.walPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}
	if len(data) == 0 {
		return nil
	}

	replayed := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			slog.ErrorContext(ctx, "failed to unmarshal WAL entry", "error", err, "line", string(line))
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			continue
		}
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "failed to replay WAL entry", "error", err, "action", entry.Action)
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}

	if err := os.Truncate(l.walPath, 0); err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}

	walEntriesGauge.Set(0)
	slog.InfoContext(ctx, "replayed WAL entries", "count", replayed)
	return nil
}

// Close drains pending async entries and closes the writer and WAL.
// It is safe to call more than once.
func (l *Logger) Close() error {
	var closeErr error
	l.stopOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()

		if err := l.writer.Close(); err != nil {
			closeErr = oops.Wrap(err)
			return
		}

		l.walMu.Lock()
		defer l.walMu.Unlock()
		if l.walFile != nil {
			if err := l.walFile.Close(); err != nil {
				closeErr = oops.Wrap(err)
			}
			l.walFile = nil
		}
	})
	return closeErr
}
