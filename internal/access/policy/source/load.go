// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package source loads policy documents from YAML, JSON or JSONC files,
// validates them, and watches them for changes.
package source

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"

	"github.com/holomush/hagate/internal/access/policy"
)

// Error codes returned by the loader.
const (
	CodeParse   = "POLICY_PARSE"
	CodeSchema  = "POLICY_SCHEMA"
	CodeVersion = "POLICY_VERSION"
	CodeRead    = "POLICY_READ"
)

// Delim separates koanf key paths. Entity ids contain dots, so the usual
// "." delimiter would split them.
const Delim = "/"

// DefaultVersion is assumed for documents without a version key.
const DefaultVersion = "2.0"

// SupportedVersions is the document version range this loader understands.
const SupportedVersions = ">= 1.0, < 3.0"

var (
	errReadBytes = errors.New("mapProvider does not support ReadBytes")

	supported = mustConstraint(SupportedVersions)
)

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("invalid version constraint %q: %v", c, err))
	}
	return constraint
}

// defaults are applied for toggles a document omits.
func defaults() map[string]any {
	return map[string]any{
		"version":               DefaultVersion,
		"enabled":               true,
		"show_notifications":    true,
		"send_event":            false,
		"log_deny_list":         false,
		"allow_chained_actions": true,
	}
}

// Load reads, validates and normalizes the policy document at path.
func Load(path string) (*policy.Document, error) {
	data, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, oops.In("policy").Code(CodeRead).With("path", path).Wrapf(err, "read policy")
	}
	doc, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return doc, nil
}

// Parse decodes a policy document from data.
func Parse(data []byte, format Format) (*policy.Document, error) {
	raw, err := format.Parser().Unmarshal(data)
	if err != nil {
		return nil, oops.In("policy").Code(CodeParse).With("format", format.String()).Wrapf(err, "parse policy")
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}

	k := koanf.New(Delim)
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, oops.In("policy").Code(CodeParse).Wrapf(err, "load defaults")
	}
	if err := k.Load(mapProvider(raw), nil); err != nil {
		return nil, oops.In("policy").Code(CodeParse).Wrapf(err, "load policy")
	}

	if err := checkVersion(k.String("version")); err != nil {
		return nil, err
	}

	doc := &policy.Document{}
	if err := k.UnmarshalWithConf("", doc, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, oops.In("policy").Code(CodeParse).Wrapf(err, "decode policy")
	}
	if err := doc.Normalize(); err != nil {
		return nil, oops.In("policy").Code(CodeParse).Wrap(err)
	}
	return doc, nil
}

func checkVersion(v string) error {
	if v == "" {
		v = DefaultVersion
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return oops.In("policy").Code(CodeVersion).With("version", v).Wrapf(err, "invalid policy version")
	}
	if !supported.Check(version) {
		return oops.In("policy").Code(CodeVersion).
			With("version", v).
			With("supported", SupportedVersions).
			Errorf("unsupported policy version %s", v)
	}
	return nil
}
