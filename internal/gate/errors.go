// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import "github.com/samber/oops"

// CodeAccessDenied is the error code returned for a refused service call.
const CodeAccessDenied = "ACCESS_DENIED"

// ErrAccessDenied creates the error returned to callers of a denied call.
func ErrAccessDenied(subject, domain, service, reason string) error {
	return oops.In("gate").
		Code(CodeAccessDenied).
		With("subject", subject).
		With("domain", domain).
		With("service", service).
		With("reason", reason).
		Errorf("access denied: %s cannot call %s.%s - %s", subject, domain, service, reason)
}

// IsAccessDenied reports whether err is a denied-call error.
func IsAccessDenied(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == CodeAccessDenied
}
