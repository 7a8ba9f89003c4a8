package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
)

// CodeTx exposes code-namespace operations inside an owner-locked transaction.
type CodeTx interface {
	// GetByOwner returns the owner's existing code, or model.ErrNotFound.
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (model.ReferralCode, error)
	// CodeExists checks every column sharing the visible code namespace.
	CodeExists(ctx context.Context, code string) (bool, error)
	// Insert creates the owner's code row.
	Insert(ctx context.Context, ownerID uuid.UUID, code, link string) (model.ReferralCode, error)
}

// ReferralRepo defines the interface for referral code repository operations
type ReferralRepo interface {
	// WithOwnerLock runs fn inside a transaction that has row-locked the owner
	// record, so two concurrent callers for the same owner serialize and the
	// loser observes the winner's code.
	WithOwnerLock(ctx context.Context, ownerID uuid.UUID, fn func(tx CodeTx) error) error
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (model.ReferralCode, error)
}

type referralRepo struct {
	db *sql.DB
}

// NewReferralRepo creates a new ReferralRepo instance
func NewReferralRepo(db *sql.DB) ReferralRepo {
	return &referralRepo{db: db}
}

type codeTx struct {
	tx *sql.Tx
}

// WithOwnerLock begins a transaction, takes SELECT ... FOR UPDATE on the owner
// row, runs fn, and commits. A missing owner is reported as model.ErrNotFound.
func (r *referralRepo) WithOwnerLock(ctx context.Context, ownerID uuid.UUID, fn func(tx CodeTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM users WHERE id = $1 FOR UPDATE
	`, ownerID).Scan(&lockedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("owner not found: %w", model.ErrNotFound)
		}
		return fmt.Errorf("lock owner: %w", err)
	}

	if err := fn(&codeTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByOwner retrieves the owner's code outside any transaction.
func (r *referralRepo) GetByOwner(ctx context.Context, ownerID uuid.UUID) (model.ReferralCode, error) {
	return getReferralByOwner(ctx, r.db, ownerID)
}

func (t *codeTx) GetByOwner(ctx context.Context, ownerID uuid.UUID) (model.ReferralCode, error) {
	return getReferralByOwner(ctx, t.tx, ownerID)
}

// CodeExists checks the code against referral_codes.code and the legacy
// contracts.access_code column, which share the same visible namespace.
func (t *codeTx) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM referral_codes WHERE code = $1)
		    OR EXISTS (SELECT 1 FROM contracts WHERE access_code = $1)
	`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code namespace: %w", err)
	}
	return exists, nil
}

func (t *codeTx) Insert(ctx context.Context, ownerID uuid.UUID, code, link string) (model.ReferralCode, error) {
	var idStr string
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO referral_codes (owner_id, code, link)
		VALUES ($1, $2, $3)
		RETURNING id
	`, ownerID, code, link).Scan(&idStr)
	if err != nil {
		return model.ReferralCode{}, fmt.Errorf("insert referral code: %w", err)
	}
	return getReferralByOwner(ctx, t.tx, ownerID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getReferralByOwner(ctx context.Context, q querier, ownerID uuid.UUID) (model.ReferralCode, error) {
	query := `
		SELECT id, owner_id, code, link, created_at
		FROM referral_codes
		WHERE owner_id = $1
	`
	var rc model.ReferralCode
	var idStr, ownerIDStr string
	err := q.QueryRowContext(ctx, query, ownerID).Scan(
		&idStr,
		&ownerIDStr,
		&rc.Code,
		&rc.Link,
		&rc.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ReferralCode{}, fmt.Errorf("referral code not found: %w", model.ErrNotFound)
		}
		return model.ReferralCode{}, fmt.Errorf("query referral code: %w", err)
	}
	rc.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.ReferralCode{}, fmt.Errorf("parse code ID: %w", err)
	}
	rc.OwnerID, err = uuid.Parse(ownerIDStr)
	if err != nil {
		return model.ReferralCode{}, fmt.Errorf("parse owner ID: %w", err)
	}
	return rc, nil
}
