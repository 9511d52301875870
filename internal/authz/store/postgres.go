// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/loanguard/loanguard/internal/authz/types"
)

// poolIface is the subset of pgxpool.Pool the store needs. pgxmock's
// PgxPoolIface satisfies it, so queries are testable without a
// database.
type poolIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool poolIface
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ActiveAssignments returns active, non-revoked assignments whose role
// is itself active.
func (s *PostgresStore) ActiveAssignments(ctx context.Context, tenantID, principalID string) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ra.principal_id, ra.role_id, ra.tenant_id, ra.assigned_at
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.tenant_id = $1 AND ra.principal_id = $2
		  AND ra.revoked_at IS NULL AND r.active
		ORDER BY ra.assigned_at
	`, tenantID, principalID)
	if err != nil {
		return nil, oops.With("operation", "list assignments").
			With("principal_id", principalID).Wrap(err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.PrincipalID, &a.RoleID, &a.TenantID, &a.AssignedAt); err != nil {
			return nil, oops.With("operation", "scan assignment").Wrap(err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate assignments").Wrap(err)
	}
	return assignments, nil
}

// Role returns a role by ID.
func (s *PostgresStore) Role(ctx context.Context, roleID string) (*Role, error) {
	var r Role
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, active, created_at, updated_at
		FROM roles WHERE id = $1
	`, roleID).Scan(&r.ID, &r.TenantID, &r.Name, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("NOT_FOUND").With("role_id", roleID).Errorf("role not found")
	}
	if err != nil {
		return nil, oops.With("operation", "get role").With("role_id", roleID).Wrap(err)
	}
	return &r, nil
}

// RolePermissions returns the active, non-deprecated permissions of a
// role. Deprecated permissions stay in the catalog but are no longer
// granted.
func (s *PostgresStore) RolePermissions(ctx context.Context, roleID string) ([]types.Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.name, p.risk_level, p.category
		FROM role_permissions rp
		JOIN permissions p ON p.name = rp.permission_name
		WHERE rp.role_id = $1 AND p.deprecated_at IS NULL
		ORDER BY p.name
	`, roleID)
	if err != nil {
		return nil, oops.With("operation", "list role permissions").
			With("role_id", roleID).Wrap(err)
	}
	defer rows.Close()

	var perms []types.Permission
	for rows.Next() {
		var p types.Permission
		var risk string
		if err := rows.Scan(&p.Name, &risk, &p.Category); err != nil {
			return nil, oops.With("operation", "scan permission").Wrap(err)
		}
		p.Risk = types.RiskLevel(risk)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate permissions").Wrap(err)
	}
	return perms, nil
}

// RoleRules returns the active rule assignments of a role.
func (s *PostgresStore) RoleRules(ctx context.Context, roleID string) ([]RoleRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role_id, rule_type, raw_value, condition, active
		FROM role_rules
		WHERE role_id = $1 AND active
		ORDER BY rule_type
	`, roleID)
	if err != nil {
		return nil, oops.With("operation", "list role rules").
			With("role_id", roleID).Wrap(err)
	}
	defer rows.Close()

	var rules []RoleRule
	for rows.Next() {
		var r RoleRule
		if err := rows.Scan(&r.RoleID, &r.RuleType, &r.RawValue, &r.Condition, &r.Active); err != nil {
			return nil, oops.With("operation", "scan role rule").Wrap(err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate role rules").Wrap(err)
	}
	return rules, nil
}

// ActivePrincipals returns principals with at least one active
// assignment in the tenant.
func (s *PostgresStore) ActivePrincipals(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ra.principal_id
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.tenant_id = $1 AND ra.revoked_at IS NULL AND r.active
		ORDER BY ra.principal_id
	`, tenantID)
	if err != nil {
		return nil, oops.With("operation", "list active principals").
			With("tenant_id", tenantID).Wrap(err)
	}
	defer rows.Close()

	var principals []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, oops.With("operation", "scan principal").Wrap(err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate principals").Wrap(err)
	}
	return principals, nil
}

// sodRuleColumns is the shared column list for SoD rule SELECTs.
const sodRuleColumns = `id, tenant_id, name, description, conflicting_permissions, enforcement, active, created_at, updated_at`

// ActiveSoDRules returns the tenant's active SoD rules.
func (s *PostgresStore) ActiveSoDRules(ctx context.Context, tenantID string) ([]SoDRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sodRuleColumns+`
		FROM sod_rules WHERE tenant_id = $1 AND active
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, oops.With("operation", "list sod rules").
			With("tenant_id", tenantID).Wrap(err)
	}
	defer rows.Close()

	var rules []SoDRule
	for rows.Next() {
		var r SoDRule
		var enforcement string
		err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description,
			&r.ConflictingPermissions, &enforcement, &r.Active,
			&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, oops.With("operation", "scan sod rule").Wrap(err)
		}
		r.Enforcement = types.EnforcementLevel(enforcement)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate sod rules").Wrap(err)
	}
	return rules, nil
}

// CreateSoDRule inserts a new SoD rule, generating a ULID for its ID.
// pg_notify('authz_changed', ...) is sent in the same transaction so
// caches invalidate before the call returns.
func (s *PostgresStore) CreateSoDRule(ctx context.Context, rule *SoDRule) error {
	if err := ValidateSoDRule(rule); err != nil {
		return err
	}

	id := ulid.Make().String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("SOD_CREATE_FAILED").With("name", rule.Name).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO sod_rules (id, tenant_id, name, description, conflicting_permissions, enforcement, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, rule.TenantID, rule.Name, rule.Description,
		rule.ConflictingPermissions, string(rule.Enforcement), rule.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("SOD_RULE_EXISTS").With("name", rule.Name).
				Errorf("sod rule %q already exists", rule.Name)
		}
		return oops.Code("SOD_CREATE_FAILED").With("name", rule.Name).Wrap(err)
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify('authz_changed', $1)`, "sod:"+rule.TenantID); err != nil {
		return oops.Code("SOD_CREATE_FAILED").With("name", rule.Name).
			With("operation", "notify").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("SOD_CREATE_FAILED").With("name", rule.Name).
			With("operation", "commit").Wrap(err)
	}

	rule.ID = id
	return nil
}

// UpdateSoDRule modifies an existing SoD rule by ID.
func (s *PostgresStore) UpdateSoDRule(ctx context.Context, rule *SoDRule) error {
	if err := ValidateSoDRule(rule); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("SOD_UPDATE_FAILED").With("id", rule.ID).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.Exec(ctx, `
		UPDATE sod_rules
		SET name = $2, description = $3, conflicting_permissions = $4,
		    enforcement = $5, active = $6, updated_at = now()
		WHERE id = $1
	`, rule.ID, rule.Name, rule.Description, rule.ConflictingPermissions,
		string(rule.Enforcement), rule.Active)
	if err != nil {
		return oops.Code("SOD_UPDATE_FAILED").With("id", rule.ID).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("NOT_FOUND").With("id", rule.ID).Errorf("sod rule not found")
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify('authz_changed', $1)`, "sod:"+rule.TenantID); err != nil {
		return oops.Code("SOD_UPDATE_FAILED").With("id", rule.ID).
			With("operation", "notify").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("SOD_UPDATE_FAILED").With("id", rule.ID).
			With("operation", "commit").Wrap(err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
