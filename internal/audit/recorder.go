// Package audit appends immutable audit-log entries and contract timeline
// events. Recording failures are logged by callers and never block business
// operations.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/repo"
)

// Recorder appends audit entries and timeline events.
type Recorder interface {
	Log(ctx context.Context, actor *string, action, entity, entityID string, before, after any) error
	Timeline(ctx context.Context, contractID uuid.UUID, eventType, title string, description *string, metadata any) error
}

type recorder struct {
	auditRepo repo.AuditRepo
}

// NewRecorder creates a Postgres-backed Recorder.
func NewRecorder(auditRepo repo.AuditRepo) Recorder {
	return &recorder{auditRepo: auditRepo}
}

func marshalOpt(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (r *recorder) Log(ctx context.Context, actor *string, action, entity, entityID string, before, after any) error {
	return r.auditRepo.InsertAudit(ctx, actor, action, entity, entityID, marshalOpt(before), marshalOpt(after))
}

func (r *recorder) Timeline(ctx context.Context, contractID uuid.UUID, eventType, title string, description *string, metadata any) error {
	return r.auditRepo.InsertTimeline(ctx, contractID, eventType, title, description, marshalOpt(metadata))
}
