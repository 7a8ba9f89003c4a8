package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
)

// CompleteParams carries everything set atomically on the completed transition
type CompleteParams struct {
	SignedAt       time.Time
	IPAddress      *string
	UserAgent      *string
	SignatureData  json.RawMessage
	CertificateURL string
	DocumentHash   string
}

// SignatureRepo defines the interface for signature request repository operations
type SignatureRepo interface {
	Create(ctx context.Context, req model.SignatureRequest) (model.SignatureRequest, error)
	GetByToken(ctx context.Context, token string) (model.SignatureRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.SignatureRequest, error)
	// CompleteByToken performs the conditional pending->completed update and
	// reports whether this caller won the transition.
	CompleteByToken(ctx context.Context, token string, params CompleteParams) (bool, error)
	// DeclineByToken performs the conditional pending->declined update.
	DeclineByToken(ctx context.Context, token string, declinedAt time.Time, reason *string) (bool, error)
	// CompleteByProviderID marks a pending request completed from a provider
	// callback; the provider holds the artifact, so no certificate is set.
	CompleteByProviderID(ctx context.Context, id uuid.UUID, signedAt time.Time) (bool, error)
	// ListPendingByContractSigner returns pending requests matching a provider
	// callback's (contract, signer email) pair.
	ListPendingByContractSigner(ctx context.Context, contractID uuid.UUID, signerEmail string) ([]model.SignatureRequest, error)
}

type signatureRepo struct {
	db *sql.DB
}

// NewSignatureRepo creates a new SignatureRepo instance
func NewSignatureRepo(db *sql.DB) SignatureRepo {
	return &signatureRepo{db: db}
}

const signatureColumns = `
	id, token, contract_id, signer_name, signer_email, signer_phone,
	require_otp, status, expires_at, ip_address, user_agent, signature_data,
	certificate_url, document_hash, decline_reason,
	created_at, signed_at, declined_at, updated_at
`

func scanSignatureRequest(row interface{ Scan(...any) error }) (model.SignatureRequest, error) {
	var req model.SignatureRequest
	var idStr, contractIDStr, status string
	var signatureData []byte
	err := row.Scan(
		&idStr,
		&req.Token,
		&contractIDStr,
		&req.SignerName,
		&req.SignerEmail,
		&req.SignerPhone,
		&req.RequireOTP,
		&status,
		&req.ExpiresAt,
		&req.IPAddress,
		&req.UserAgent,
		&signatureData,
		&req.CertificateURL,
		&req.DocumentHash,
		&req.DeclineReason,
		&req.CreatedAt,
		&req.SignedAt,
		&req.DeclinedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return model.SignatureRequest{}, err
	}
	req.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.SignatureRequest{}, fmt.Errorf("parse request ID: %w", err)
	}
	req.ContractID, err = uuid.Parse(contractIDStr)
	if err != nil {
		return model.SignatureRequest{}, fmt.Errorf("parse contract ID: %w", err)
	}
	req.Status = model.SignatureStatus(status)
	if signatureData != nil {
		req.SignatureData = json.RawMessage(signatureData)
	}
	return req, nil
}

// Create inserts a new pending signature request
func (r *signatureRepo) Create(ctx context.Context, req model.SignatureRequest) (model.SignatureRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO signature_requests
			(token, contract_id, signer_name, signer_email, signer_phone, require_otp, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+signatureColumns,
		req.Token, req.ContractID, req.SignerName, req.SignerEmail,
		req.SignerPhone, req.RequireOTP, req.ExpiresAt,
	)
	created, err := scanSignatureRequest(row)
	if err != nil {
		return model.SignatureRequest{}, fmt.Errorf("insert signature request: %w", err)
	}
	return created, nil
}

// GetByToken retrieves a signature request by its public token
func (r *signatureRepo) GetByToken(ctx context.Context, token string) (model.SignatureRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+signatureColumns+`
		FROM signature_requests
		WHERE token = $1
	`, token)
	req, err := scanSignatureRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.SignatureRequest{}, fmt.Errorf("signature request not found: %w", model.ErrNotFound)
		}
		return model.SignatureRequest{}, fmt.Errorf("query signature request: %w", err)
	}
	return req, nil
}

// GetByID retrieves a signature request by ID
func (r *signatureRepo) GetByID(ctx context.Context, id uuid.UUID) (model.SignatureRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+signatureColumns+`
		FROM signature_requests
		WHERE id = $1
	`, id)
	req, err := scanSignatureRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.SignatureRequest{}, fmt.Errorf("signature request not found: %w", model.ErrNotFound)
		}
		return model.SignatureRequest{}, fmt.Errorf("query signature request: %w", err)
	}
	return req, nil
}

// CompleteByToken marks the request completed if and only if it is still
// pending. Two concurrent callers race safely: exactly one observes true.
func (r *signatureRepo) CompleteByToken(ctx context.Context, token string, params CompleteParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE signature_requests
		SET status = 'completed',
		    signed_at = $2,
		    ip_address = $3,
		    user_agent = $4,
		    signature_data = $5,
		    certificate_url = $6,
		    document_hash = $7,
		    updated_at = now()
		WHERE token = $1 AND status = 'pending'
	`, token, params.SignedAt, params.IPAddress, params.UserAgent,
		[]byte(params.SignatureData), params.CertificateURL, params.DocumentHash)
	if err != nil {
		return false, fmt.Errorf("complete signature request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// DeclineByToken marks the request declined if and only if it is still pending.
func (r *signatureRepo) DeclineByToken(ctx context.Context, token string, declinedAt time.Time, reason *string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE signature_requests
		SET status = 'declined',
		    declined_at = $2,
		    decline_reason = $3,
		    updated_at = now()
		WHERE token = $1 AND status = 'pending'
	`, token, declinedAt, reason)
	if err != nil {
		return false, fmt.Errorf("decline signature request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// CompleteByProviderID marks the request completed if it is still pending.
func (r *signatureRepo) CompleteByProviderID(ctx context.Context, id uuid.UUID, signedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE signature_requests
		SET status = 'completed',
		    signed_at = $2,
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, signedAt)
	if err != nil {
		return false, fmt.Errorf("complete signature request by provider: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListPendingByContractSigner returns pending requests for a contract/signer pair
func (r *signatureRepo) ListPendingByContractSigner(ctx context.Context, contractID uuid.UUID, signerEmail string) ([]model.SignatureRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+signatureColumns+`
		FROM signature_requests
		WHERE contract_id = $1 AND signer_email = $2 AND status = 'pending'
		ORDER BY created_at
	`, contractID, signerEmail)
	if err != nil {
		return nil, fmt.Errorf("query pending requests: %w", err)
	}
	defer rows.Close()

	var out []model.SignatureRequest
	for rows.Next() {
		req, err := scanSignatureRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending requests: %w", err)
	}
	return out, nil
}
