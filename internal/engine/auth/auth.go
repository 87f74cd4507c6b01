package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskmarket/internal/db"
)

const (
	RoleOwner  = "owner"
	RolePauser = "pauser"
)

// ValidRole reports whether role is a known privileged role.
func ValidRole(role string) bool {
	return role == RoleOwner || role == RolePauser
}

// ForbiddenError indicates the caller holds none of the required roles.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Role)
}

// Service provides role checks backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) q(tx *sql.Tx) db.Querier {
	if tx != nil {
		return tx
	}
	return s.DB
}

func (s Service) HasRole(ctx context.Context, tx *sql.Tx, address, role string) (bool, error) {
	var n int
	err := s.q(tx).QueryRowContext(ctx, `SELECT 1 FROM roles WHERE address=? AND role=? LIMIT 1`, address, role).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Require succeeds when address holds any of roles.
func (s Service) Require(ctx context.Context, tx *sql.Tx, address string, roles ...string) error {
	if len(roles) == 0 {
		return errors.New("at least one role required")
	}
	for _, role := range roles {
		ok, err := s.HasRole(ctx, tx, address, role)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ForbiddenError{Role: roles[0]}
}

// Grant assigns role; it reports false when the address already held it.
func (s Service) Grant(ctx context.Context, tx *sql.Tx, address, role string) (bool, error) {
	if !ValidRole(role) {
		return false, fmt.Errorf("unknown role %s", role)
	}
	res, err := s.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO roles(address, role, granted_at) VALUES (?,?,?)`,
		address, role, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s Service) Revoke(ctx context.Context, tx *sql.Tx, address, role string) (bool, error) {
	res, err := s.q(tx).ExecContext(ctx, `DELETE FROM roles WHERE address=? AND role=?`, address, role)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Holders lists addresses holding role.
func (s Service) Holders(ctx context.Context, tx *sql.Tx, role string) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, `SELECT address FROM roles WHERE role=? ORDER BY address`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

func (s Service) Roles(ctx context.Context, tx *sql.Tx, address string) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, `SELECT role FROM roles WHERE address=? ORDER BY role`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}
