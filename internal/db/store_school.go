package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// School CRUD stays out of scope; the engine only needs code lookups
// plus minimal creation for provisioning and tests.

// CreateSchool inserts a school record.
func (db *DB) CreateSchool(ctx context.Context, id uuid.UUID, code, name string) error {
	now := time.Now()
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO schools (id, code, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, id, code, name, now)
	if err != nil {
		return fmt.Errorf("create school: %w", err)
	}
	return nil
}

// CreateBranch inserts a branch record for a school.
func (db *DB) CreateBranch(ctx context.Context, id, schoolID uuid.UUID, code, name string) error {
	now := time.Now()
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO branches (id, school_id, code, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id, schoolID, code, name, now)
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	return nil
}
