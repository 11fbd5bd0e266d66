// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/hagate/internal/access/policy/source"
)

// validateConfig holds configuration for the validate command.
type validateConfig struct {
	strict bool
}

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	cfg := &validateConfig{}

	cmd := &cobra.Command{
		Use:   "validate <policy>",
		Short: "Check a policy document without enforcing it",
		Long: `Parse a policy document, validate it against the schema and the
supported version range, and print the warnings the engine would degrade
around at evaluation time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.strict, "strict", false, "treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, cfg *validateConfig) error {
	doc, err := source.Load(path)
	if err != nil {
		if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == source.CodeSchema {
			cmd.PrintErrf("%s: schema violation\n%s\n", path, source.FormatSchemaError(err))
		}
		return err
	}

	warnings := doc.Validate()
	for _, w := range warnings {
		cmd.PrintErrf("warning: %s\n", w)
	}
	cmd.Printf("%s: ok (version %s, revision %s, %d roles, %d users)\n",
		path, doc.Version, doc.Revision(), len(doc.Roles), len(doc.Users))

	if cfg.strict && len(warnings) > 0 {
		return oops.Code(source.CodeSchema).With("warnings", len(warnings)).
			Errorf("%d warning(s) in strict mode", len(warnings))
	}
	return nil
}
