package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CallbackRepo records provider completion callbacks for idempotent replay
type CallbackRepo interface {
	// Record inserts the callback keyed on (contract, signer email, status).
	// Returns false when an identical callback was already recorded, in which
	// case the caller must replay without side effects.
	Record(ctx context.Context, contractID uuid.UUID, signerEmail, status string, payload json.RawMessage) (inserted bool, err error)
}

type callbackRepo struct {
	db *sql.DB
}

// NewCallbackRepo creates a new CallbackRepo instance
func NewCallbackRepo(db *sql.DB) CallbackRepo {
	return &callbackRepo{db: db}
}

// Record inserts with ON CONFLICT DO NOTHING; zero rows affected means replay.
func (r *callbackRepo) Record(ctx context.Context, contractID uuid.UUID, signerEmail, status string, payload json.RawMessage) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO esign_callbacks (contract_id, signer_email, status, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contract_id, signer_email, status) DO NOTHING
	`, contractID, signerEmail, status, []byte(payload))
	if err != nil {
		return false, fmt.Errorf("record callback: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
