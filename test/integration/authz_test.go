// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

//go:build integration

package integration

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/loanguard/loanguard/internal/authz/sod"
	"github.com/loanguard/loanguard/internal/authz/store"
	"github.com/loanguard/loanguard/internal/authz/types"
)

const tenant = "tenant-1"

// seedLendingRoles creates the permission catalog, a loan officer role
// with an approval limit, and a branch manager role with a higher one.
func seedLendingRoles() {
	for _, p := range []struct{ name, risk string }{
		{"loans:approve", "high"},
		{"loans:disburse", "high"},
		{"customers:read", "low"},
	} {
		env.seed(`INSERT INTO permissions (name, risk_level) VALUES ($1, $2)`, p.name, p.risk)
	}

	env.seed(`INSERT INTO roles (id, tenant_id, name) VALUES ('role-officer', $1, 'Loan Officer')`, tenant)
	env.seed(`INSERT INTO roles (id, tenant_id, name) VALUES ('role-manager', $1, 'Branch Manager')`, tenant)

	env.seed(`INSERT INTO role_permissions (role_id, permission_name) VALUES
		('role-officer', 'loans:approve'),
		('role-officer', 'customers:read'),
		('role-manager', 'loans:approve')`)

	env.seed(`INSERT INTO role_rules (role_id, rule_type, raw_value) VALUES
		('role-officer', 'loan_approval_limit', '100000'),
		('role-manager', 'loan_approval_limit', '500000')`)
}

var _ = Describe("Authorization decisions", func() {
	BeforeEach(func() {
		env.reset()
		seedLendingRoles()
	})

	Context("with a single loan officer role", func() {
		BeforeEach(func() {
			env.seed(`INSERT INTO role_assignments (principal_id, role_id, tenant_id)
				VALUES ('user-officer', 'role-officer', $1)`, tenant)
		})

		It("allows approval within the limit", func() {
			d := env.Engine.ValidateAction(env.ctx, tenant, "user-officer", "loan.approve",
				map[string]any{"amount": 90000.0})
			Expect(d.IsAllowed()).To(BeTrue())
			Expect(d.Validate()).To(Succeed())
		})

		It("denies approval over the limit", func() {
			d := env.Engine.ValidateAction(env.ctx, tenant, "user-officer", "loan.approve",
				map[string]any{"amount": 150000.0})
			Expect(d.IsAllowed()).To(BeFalse())
			Expect(d.Reason).NotTo(BeEmpty())
		})

		It("denies actions without the required permission", func() {
			d := env.Engine.ValidateAction(env.ctx, tenant, "user-officer", "loan.disburse",
				map[string]any{"amount": 1000.0})
			Expect(d.IsAllowed()).To(BeFalse())
			Expect(d.Reason).To(Equal("missing permission"))
		})

		It("ignores revoked assignments", func() {
			env.seed(`UPDATE role_assignments SET revoked_at = now()
				WHERE principal_id = 'user-officer'`)

			d := env.Engine.ValidateAction(env.ctx, tenant, "user-officer", "loan.approve",
				map[string]any{"amount": 1000.0})
			Expect(d.IsAllowed()).To(BeFalse())
		})
	})

	Context("with officer and manager roles combined", func() {
		BeforeEach(func() {
			env.seed(`INSERT INTO role_assignments (principal_id, role_id, tenant_id) VALUES
				('user-both', 'role-officer', $1),
				('user-both', 'role-manager', $1)`, tenant)
		})

		It("applies the maximum approval limit across roles", func() {
			d := env.Engine.ValidateAction(env.ctx, tenant, "user-both", "loan.approve",
				map[string]any{"amount": 300000.0})
			Expect(d.IsAllowed()).To(BeTrue())

			d = env.Engine.ValidateAction(env.ctx, tenant, "user-both", "loan.approve",
				map[string]any{"amount": 600000.0})
			Expect(d.IsAllowed()).To(BeFalse())
		})
	})
})

var _ = Describe("Segregation of duties", func() {
	BeforeEach(func() {
		env.reset()
		seedLendingRoles()

		env.seed(`INSERT INTO roles (id, tenant_id, name) VALUES ('role-disburser', $1, 'Disburser')`, tenant)
		env.seed(`INSERT INTO role_permissions (role_id, permission_name)
			VALUES ('role-disburser', 'loans:disburse')`)
	})

	It("applies rule files and blocks conflicting assignments", func() {
		file, err := sod.ParseRuleFile([]byte(`
tenant_id: tenant-1
rules:
  - name: approve-disburse
    conflicting_permissions:
      - loans:approve
      - loans:disburse
    enforcement: strict
`))
		Expect(err).NotTo(HaveOccurred())

		created, err := sod.Apply(env.ctx, env.Store, file)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(Equal(1))

		env.seed(`INSERT INTO role_assignments (principal_id, role_id, tenant_id)
			VALUES ('user-officer', 'role-officer', $1)`, tenant)

		result, err := env.Validator.ValidateRoleAssignment(env.ctx, tenant, "user-officer", "role-disburser")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Allowed).To(BeFalse())
		Expect(result.Fired).To(HaveLen(1))
		Expect(result.Fired[0].Contributed).To(ConsistOf("loans:disburse"))
	})

	It("re-applying a rule file updates in place", func() {
		rule := &store.SoDRule{
			TenantID:               tenant,
			Name:                   "approve-disburse",
			ConflictingPermissions: []string{"loans:approve", "loans:disburse"},
			Enforcement:            types.EnforcementStrict,
			Active:                 true,
		}
		Expect(env.Store.CreateSoDRule(env.ctx, rule)).To(Succeed())

		file, err := sod.ParseRuleFile([]byte(`
tenant_id: tenant-1
rules:
  - name: approve-disburse
    conflicting_permissions:
      - loans:approve
      - loans:disburse
    enforcement: warning
`))
		Expect(err).NotTo(HaveOccurred())

		created, err := sod.Apply(env.ctx, env.Store, file)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeZero())

		rules, err := env.Store.ActiveSoDRules(env.ctx, tenant)
		Expect(err).NotTo(HaveOccurred())
		Expect(rules).To(HaveLen(1))
		Expect(rules[0].Enforcement).To(Equal(types.EnforcementWarning))
	})

	It("detects existing violations tenant-wide", func() {
		rule := &store.SoDRule{
			TenantID:               tenant,
			Name:                   "approve-disburse",
			ConflictingPermissions: []string{"loans:approve", "loans:disburse"},
			Enforcement:            types.EnforcementStrict,
			Active:                 true,
		}
		Expect(env.Store.CreateSoDRule(env.ctx, rule)).To(Succeed())

		env.seed(`INSERT INTO role_assignments (principal_id, role_id, tenant_id) VALUES
			('user-violating', 'role-officer', $1),
			('user-violating', 'role-disburser', $1),
			('user-clean', 'role-officer', $1)`, tenant)

		report, err := env.Validator.DetectViolations(env.ctx, tenant)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Failures).To(BeEmpty())
		Expect(report.Violations).To(HaveLen(1))
		Expect(report.Violations[0].PrincipalID).To(Equal("user-violating"))
	})
})
