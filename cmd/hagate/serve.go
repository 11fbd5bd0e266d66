// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/hagate/internal/access/audit"
	"github.com/holomush/hagate/internal/access/chain"
	"github.com/holomush/hagate/internal/access/engine"
	"github.com/holomush/hagate/internal/access/policy"
	"github.com/holomush/hagate/internal/access/policy/source"
	"github.com/holomush/hagate/internal/access/role"
	"github.com/holomush/hagate/internal/access/template"
	"github.com/holomush/hagate/internal/gate"
	"github.com/holomush/hagate/internal/observability"
	"github.com/holomush/hagate/internal/xdg"
	"github.com/holomush/hagate/pkg/errutil"
)

// serveFlags holds flags that only affect the serve command's lifetime.
type serveFlags struct {
	exitOnEOF bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gate over a JSON-lines service-call stream",
		Long: `Load and watch the policy document, then read service calls as JSON
lines on stdin and write forwarded calls, denials and events as JSON lines on
stdout. Metrics and health probes are served on --metrics-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cfg, cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg, flags)
		},
	}

	cmd.Flags().String("policy", "", "policy document path (default: $XDG_CONFIG_HOME/hagate/policy.yaml)")
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("audit-mode", defaultAuditMode, "audit mode (off, denials_only, minimal or all)")
	cmd.Flags().String("audit-wal", "", "audit write-ahead log (default: $XDG_STATE_HOME/hagate/audit-wal.jsonl)")
	cmd.Flags().Duration("chain-max-age", 0, "maximum lifetime of a pre-authorized execution context (0 = unbounded)")
	cmd.Flags().Bool("enforce", true, "block denied calls (false = log and notify only)")
	cmd.Flags().BoolVar(&flags.exitOnEOF, "exit-on-eof", false, "exit when stdin is exhausted instead of waiting for a signal")

	return cmd
}

// status is served at /status.
type status struct {
	Revision     string    `json:"revision"`
	Enabled      bool      `json:"enabled"`
	LastReload   time.Time `json:"last_reload"`
	ActiveChains int       `json:"active_chains"`
	AuditMode    string    `json:"audit_mode"`
	Enforcing    bool      `json:"enforcing"`
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config, flags *serveFlags) error {
	policyPath := cfg.PolicyPath
	if policyPath == "" {
		var err error
		if policyPath, err = xdg.PolicyFile(); err != nil {
			return err
		}
	}

	doc, err := source.Load(policyPath)
	if err != nil {
		return err
	}
	for _, w := range doc.Validate() {
		slog.Warn("policy warning", "path", policyPath, "warning", w)
	}
	store := engine.NewStore(doc)

	states, err := loadStates(cfg.StatePath)
	if err != nil {
		return err
	}
	resolver := role.NewResolver(template.NewEvaluator(template.WithTimeout(cfg.TemplateTimeout)), states)
	guard := chain.NewGuard(chain.WithMaxAge(cfg.ChainMaxAge))
	eng := engine.New(store, resolver, guard)

	mode, err := audit.ParseMode(cfg.AuditMode)
	if err != nil {
		return err
	}
	auditLogger := audit.NewLogger(mode, audit.NewSlogWriter(slog.Default()), cfg.AuditWAL)
	defer func() {
		if closeErr := auditLogger.Close(); closeErr != nil {
			errutil.LogError(slog.Default(), "audit logger close failed", closeErr)
		}
	}()
	if replayErr := auditLogger.ReplayWAL(ctx); replayErr != nil {
		errutil.LogError(slog.Default(), "audit WAL replay failed", replayErr)
	}

	watcher := source.NewWatcher(policyPath, store, source.WithOnReload(func(doc *policy.Document, changed bool) {
		if changed {
			slog.Info("policy reloaded", "path", policyPath, "revision", doc.Revision())
		}
	}))
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := watcher.Stop(); stopErr != nil {
			errutil.LogError(slog.Default(), "policy watcher stop failed", stopErr)
		}
	}()

	var obsServer *observability.Server
	var obsErrCh <-chan error
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, store.Loaded,
			observability.WithMetrics(
				engine.RegisterMetrics,
				role.RegisterMetrics,
				chain.RegisterMetrics,
				source.RegisterMetrics,
				audit.RegisterMetrics,
			),
			observability.WithStatus(func() any {
				snap := store.Snapshot()
				return status{
					Revision:     snap.Revision(),
					Enabled:      snap.Enabled,
					LastReload:   store.LastSwap(),
					ActiveChains: guard.Active(),
					AuditMode:    string(mode),
					Enforcing:    cfg.Enforce,
				}
			}),
		)
		if obsErrCh, err = obsServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
				errutil.LogError(slog.Default(), "observability server stop failed", stopErr)
			}
		}()
	}

	out := newLineWriter(cmd.OutOrStdout())
	g := gate.New(out, eng,
		gate.WithAudit(auditLogger),
		gate.WithEventBus(out),
		gate.WithEnforcement(cfg.Enforce),
	)

	slog.Info("gate serving",
		"policy", policyPath,
		"revision", doc.Revision(),
		"audit_mode", string(mode),
		"enforce", cfg.Enforce)

	bridgeErr := make(chan error, 1)
	go func() {
		bridgeErr <- bridge(ctx, cmd.InOrStdin(), out, g)
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return nil
		case err := <-obsErrCh:
			if err != nil {
				return err
			}
			obsErrCh = nil
		case err := <-bridgeErr:
			if err != nil {
				return err
			}
			if flags.exitOnEOF {
				return nil
			}
			bridgeErr = nil
			slog.Info("service-call input closed, waiting for signal")
		}
	}
}
