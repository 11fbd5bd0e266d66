// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/hagate/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	// Should not fail
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("user_id", "123").Errorf("test error")
	// Should not fail
	errutil.AssertErrorContext(t, err, "user_id", "123")
}

func TestAssertDenied_MatchingDecision(t *testing.T) {
	err := oops.In("gate").Code("ACCESS_DENIED").
		With("domain", "lock").
		With("service", "unlock").
		With("reason", "domain restriction: domain lock blocked by default").
		Errorf("access denied")
	errutil.AssertDenied(t, err, "lock", "unlock", "domain restriction: domain lock blocked by default")
}
