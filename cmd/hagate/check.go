// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/hagate/internal/access/chain"
	"github.com/holomush/hagate/internal/access/engine"
	"github.com/holomush/hagate/internal/access/policy/source"
	"github.com/holomush/hagate/internal/access/policy/types"
	"github.com/holomush/hagate/internal/access/role"
	"github.com/holomush/hagate/internal/access/template"
	"github.com/holomush/hagate/internal/gate"
)

// checkConfig holds configuration for the check command.
type checkConfig struct {
	subject       string
	domain        string
	service       string
	entities      []string
	contextChain  []string
	preauthorized []string
	jsonOutput    bool
	failOnDeny    bool
}

// CheckResult is the printed outcome of one check.
type CheckResult struct {
	Subject     string   `json:"subject"`
	Action      string   `json:"action"`
	Entities    []string `json:"entities,omitempty"`
	Allowed     bool     `json:"allowed"`
	Effect      string   `json:"effect"`
	Reason      string   `json:"reason"`
	Rule        string   `json:"rule,omitempty"`
	Role        string   `json:"role,omitempty"`
	RoleOutcome string   `json:"role_outcome,omitempty"`
	Revision    string   `json:"revision"`
}

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	cfg := &checkConfig{}

	cmd := &cobra.Command{
		Use:   "check <policy>",
		Short: "Evaluate one service call against a policy",
		Long: `Evaluate a single service call against a policy document and print the
decision, the rule that produced it, and how the subject's role resolved.
Role templates read platform state from the --state fixture.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args[0], cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.subject, "subject", "", "user id making the call (empty for a system call)")
	cmd.Flags().StringVar(&cfg.domain, "domain", "", "service domain, e.g. light")
	cmd.Flags().StringVar(&cfg.service, "service", "", "service name, e.g. turn_on")
	cmd.Flags().StringSliceVar(&cfg.entities, "entity", nil, "target entity id (repeatable or comma-separated)")
	cmd.Flags().StringSliceVar(&cfg.contextChain, "context-chain", nil, "caller context id followed by its parent id")
	cmd.Flags().StringSliceVar(&cfg.preauthorized, "preauthorized", nil, "context ids to register as running scripts or automations")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output the decision as JSON")
	cmd.Flags().BoolVar(&cfg.failOnDeny, "fail-on-deny", false, "exit non-zero when the call is denied")

	return cmd
}

func runCheck(cmd *cobra.Command, path string, cfg *checkConfig) error {
	appCfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	setupLogging(appCfg, cmd)

	req, err := types.NewRequest(cfg.subject, cfg.domain, cfg.service, cfg.entities...)
	if err != nil {
		return err
	}
	req.ContextChain = cfg.contextChain

	doc, err := source.Load(path)
	if err != nil {
		return err
	}
	states, err := loadStates(appCfg.StatePath)
	if err != nil {
		return err
	}

	guard := chain.NewGuard()
	for _, id := range cfg.preauthorized {
		release := guard.Begin(id)
		defer release()
	}

	resolver := role.NewResolver(template.NewEvaluator(template.WithTimeout(appCfg.TemplateTimeout)), states)
	eng := engine.New(engine.NewStore(doc), resolver, guard)
	d := eng.Evaluate(cmd.Context(), req)

	result := CheckResult{
		Subject:     req.Subject,
		Action:      req.Action(),
		Entities:    req.EntityIDs,
		Allowed:     d.IsAllowed(),
		Effect:      d.Effect.String(),
		Reason:      d.Reason,
		Role:        d.Role,
		RoleOutcome: d.RoleOutcome,
		Revision:    d.Revision,
	}
	if d.Rule != nil {
		result.Rule = d.Rule.String()
	}

	if err := printCheckResult(cmd, result, cfg.jsonOutput); err != nil {
		return err
	}
	if cfg.failOnDeny && !d.IsAllowed() {
		return gate.ErrAccessDenied(req.Subject, req.Domain, req.Service, d.Reason)
	}
	return nil
}

// loadStates returns the state fixture at path, or an empty state.
func loadStates(path string) (*template.StaticState, error) {
	if path == "" {
		return template.NewStaticState(), nil
	}
	return template.LoadStaticState(path)
}

func printCheckResult(cmd *cobra.Command, r CheckResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return oops.With("operation", "encode check result").Wrap(err)
		}
		return nil
	}

	verdict := "DENIED"
	if r.Allowed {
		verdict = "ALLOWED"
	}
	subject := r.Subject
	if subject == "" {
		subject = "(system)"
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DECISION\t%s (%s)\n", verdict, r.Effect)
	fmt.Fprintf(w, "SUBJECT\t%s\n", subject)
	fmt.Fprintf(w, "ACTION\t%s\n", r.Action)
	if len(r.Entities) > 0 {
		fmt.Fprintf(w, "ENTITIES\t%v\n", r.Entities)
	}
	fmt.Fprintf(w, "REASON\t%s\n", r.Reason)
	if r.Rule != "" {
		fmt.Fprintf(w, "RULE\t%s\n", r.Rule)
	}
	if r.Role != "" || r.RoleOutcome != "" {
		fmt.Fprintf(w, "ROLE\t%s (%s)\n", r.Role, r.RoleOutcome)
	}
	fmt.Fprintf(w, "REVISION\t%s\n", r.Revision)
	if err := w.Flush(); err != nil {
		return oops.With("operation", "write check result").Wrap(err)
	}
	return nil
}
