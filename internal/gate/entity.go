// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import "strings"

// EntityIDsFromData extracts target entities from a call's "entity_id"
// field, which hosts send as a single id, a list, or a comma-separated string.
func EntityIDsFromData(data map[string]any) []string {
	raw, ok := data["entity_id"]
	if !ok {
		return nil
	}
	var ids []string
	switch v := raw.(type) {
	case string:
		ids = splitIDs(v)
	case []string:
		for _, s := range v {
			ids = append(ids, splitIDs(s)...)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, splitIDs(s)...)
			}
		}
	}
	return ids
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
