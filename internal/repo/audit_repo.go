package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// AuditRepo persists append-only audit entries and contract timeline events
type AuditRepo interface {
	InsertAudit(ctx context.Context, actor *string, action, entity, entityID string, before, after json.RawMessage) error
	InsertTimeline(ctx context.Context, contractID uuid.UUID, eventType, title string, description *string, metadata json.RawMessage) error
}

type auditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new AuditRepo instance
func NewAuditRepo(db *sql.DB) AuditRepo {
	return &auditRepo{db: db}
}

func (r *auditRepo) InsertAudit(ctx context.Context, actor *string, action, entity, entityID string, before, after json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, entity, entity_id, before, after)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, actor, action, entity, entityID, []byte(before), []byte(after))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *auditRepo) InsertTimeline(ctx context.Context, contractID uuid.UUID, eventType, title string, description *string, metadata json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (contract_id, event_type, title, description, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, contractID, eventType, title, description, []byte(metadata))
	if err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}
