// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package store

import (
	"github.com/samber/oops"
)

// IsNotFound returns true if the error is a NOT_FOUND error from the
// authz store (unknown principal or role — fatal to that call only).
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "NOT_FOUND"
}
