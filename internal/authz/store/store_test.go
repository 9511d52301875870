// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loanguard/loanguard/internal/authz/types"
	"github.com/loanguard/loanguard/pkg/errutil"
)

func validRule() *SoDRule {
	return &SoDRule{
		Name:                   "approve-disburse",
		TenantID:               "tenant-1",
		ConflictingPermissions: []string{"loans:approve", "loans:disburse"},
		Enforcement:            types.EnforcementStrict,
		Active:                 true,
	}
}

func TestValidateSoDRule(t *testing.T) {
	t.Run("valid rule passes", func(t *testing.T) {
		require.NoError(t, ValidateSoDRule(validRule()))
	})

	t.Run("warning enforcement passes", func(t *testing.T) {
		r := validRule()
		r.Enforcement = types.EnforcementWarning
		require.NoError(t, ValidateSoDRule(r))
	})

	t.Run("empty name rejected", func(t *testing.T) {
		r := validRule()
		r.Name = ""
		err := ValidateSoDRule(r)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SOD_RULE_INVALID")
	})

	t.Run("single permission rejected", func(t *testing.T) {
		r := validRule()
		r.ConflictingPermissions = []string{"loans:approve"}
		err := ValidateSoDRule(r)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SOD_RULE_INVALID")
	})

	t.Run("case-insensitive duplicates rejected", func(t *testing.T) {
		// "loans:approve" and "LOANS:APPROVE" are the same permission,
		// so the rule has only one distinct member.
		r := validRule()
		r.ConflictingPermissions = []string{"loans:approve", "LOANS:APPROVE"}
		err := ValidateSoDRule(r)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SOD_RULE_INVALID")
	})

	t.Run("empty permission rejected", func(t *testing.T) {
		r := validRule()
		r.ConflictingPermissions = []string{"loans:approve", "  "}
		err := ValidateSoDRule(r)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SOD_RULE_INVALID")
	})

	t.Run("unknown enforcement rejected", func(t *testing.T) {
		r := validRule()
		r.Enforcement = types.EnforcementLevel("advisory")
		err := ValidateSoDRule(r)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SOD_RULE_INVALID")
	})
}
