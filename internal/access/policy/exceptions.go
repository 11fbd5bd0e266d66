// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package policy

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// exceptionSet holds compiled deny-all exception patterns.
// Patterns use '.' as the segment separator, so "light.*" matches
// "light.turn_on" and "*.reload" matches "group.reload".
type exceptionSet struct {
	exact    map[string]struct{}
	patterns []glob.Glob
}

func compileExceptions(raw []string) (*exceptionSet, error) {
	set := &exceptionSet{exact: make(map[string]struct{}, len(raw))}
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Count(p, ".") != 1 {
			return nil, oops.In("policy").
				Code("POLICY_PARSE").
				With("pattern", p).
				Errorf("deny_all_exceptions entries must have the form domain.service")
		}
		if !strings.ContainsAny(p, "*?[{") {
			set.exact[p] = struct{}{}
			continue
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, oops.In("policy").
				Code("POLICY_PARSE").
				With("pattern", p).
				Wrap(err)
		}
		set.patterns = append(set.patterns, g)
	}
	return set, nil
}

func (s *exceptionSet) match(action string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.exact[action]; ok {
		return true
	}
	for _, g := range s.patterns {
		if g.Match(action) {
			return true
		}
	}
	return false
}
