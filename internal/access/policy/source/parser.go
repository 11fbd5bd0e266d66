// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package source

import (
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
	"github.com/tidwall/jsonc"
)

// Format is the on-disk encoding of a policy document.
type Format int

// Supported formats.
const (
	FormatYAML Format = iota
	FormatJSON        // JSON with optional comments and trailing commas
)

// FormatFor picks a format from the file extension. Anything that is not
// .json or .jsonc is read as YAML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Parser returns the koanf parser for f.
func (f Format) Parser() koanf.Parser {
	if f == FormatJSON {
		return jsoncParser{}
	}
	return yaml.Parser()
}

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "yaml"
}

// jsoncParser strips comments and trailing commas, then parses the result
// as YAML, of which JSON is a subset.
type jsoncParser struct{}

func (jsoncParser) Unmarshal(b []byte) (map[string]any, error) {
	return yaml.Parser().Unmarshal(jsonc.ToJSON(b))
}

func (jsoncParser) Marshal(m map[string]any) ([]byte, error) {
	return yaml.Parser().Marshal(m)
}

// mapProvider feeds an already-parsed map into koanf.
type mapProvider map[string]any

func (p mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytes
}

func (p mapProvider) Read() (map[string]any, error) {
	return p, nil
}
