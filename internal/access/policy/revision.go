// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package policy

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/oops"
	"github.com/zeebo/blake3"
)

// revisionEncMode uses Core Deterministic Encoding (RFC 8949 §4.2): map
// keys are sorted, so the same logical document always encodes to the
// same bytes regardless of Go map iteration order.
var revisionEncMode cbor.EncMode

func init() {
	var err error
	revisionEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("policy: CBOR encoder initialization failed: " + err.Error())
	}
}

// revisionSize is the number of digest bytes kept in a revision string.
const revisionSize = 16

// computeRevision fingerprints the exported content of a document.
func computeRevision(d *Document) (string, error) {
	data, err := revisionEncMode.Marshal(d)
	if err != nil {
		return "", oops.In("policy").Code("POLICY_PARSE").Hint("encode revision").Wrap(err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:revisionSize]), nil
}
