package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
)

// ContractRepo defines the interface for contract repository operations
type ContractRepo interface {
	Create(ctx context.Context, title string) (model.Contract, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Contract, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.ContractStatus) error
}

type contractRepo struct {
	db *sql.DB
}

// NewContractRepo creates a new ContractRepo instance
func NewContractRepo(db *sql.DB) ContractRepo {
	return &contractRepo{db: db}
}

// Create inserts a new draft contract
func (r *contractRepo) Create(ctx context.Context, title string) (model.Contract, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO contracts (title)
		VALUES ($1)
		RETURNING id
	`, title).Scan(&idStr)
	if err != nil {
		return model.Contract{}, fmt.Errorf("insert contract: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Contract{}, fmt.Errorf("parse contract ID: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID retrieves a contract by ID
func (r *contractRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Contract, error) {
	query := `
		SELECT id, title, status, access_code, created_at, updated_at
		FROM contracts
		WHERE id = $1
	`
	var c model.Contract
	var idStr, status string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&idStr,
		&c.Title,
		&status,
		&c.AccessCode,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Contract{}, fmt.Errorf("contract not found: %w", model.ErrNotFound)
		}
		return model.Contract{}, fmt.Errorf("query contract: %w", err)
	}
	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Contract{}, fmt.Errorf("parse contract ID: %w", err)
	}
	c.Status = model.ContractStatus(status)
	return c, nil
}

// SetStatus updates the contract status
func (r *contractRepo) SetStatus(ctx context.Context, id uuid.UUID, status model.ContractStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE contracts SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update contract status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("contract not found: %w", model.ErrNotFound)
	}
	return nil
}
