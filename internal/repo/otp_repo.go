package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
)

// OtpRepo defines the interface for OTP code repository operations
type OtpRepo interface {
	// CreateAndSupersede atomically supersedes any current unverified code
	// for the request and inserts a new one.
	CreateAndSupersede(ctx context.Context, requestID uuid.UUID, codeHashHex string, channel model.OTPChannel, sentTo string, expiresAt time.Time, maxAttempts int) (uuid.UUID, error)
	// GetCurrentByRequest returns the newest non-superseded code for the request.
	GetCurrentByRequest(ctx context.Context, requestID uuid.UUID) (model.OtpCode, error)
	// IncrementAttempt bumps attempt_count and last_attempt_at; returns the new count.
	IncrementAttempt(ctx context.Context, codeID uuid.UUID) (newAttemptCount int, err error)
	// MarkVerified sets verified_at once; returns false if it was already set.
	MarkVerified(ctx context.Context, codeID uuid.UUID) (bool, error)
	// HasVerifiedForRequest reports whether any code for the request was verified.
	HasVerifiedForRequest(ctx context.Context, requestID uuid.UUID) (bool, error)
	// DeleteExpiredUnverified removes stale codes; best-effort housekeeping.
	DeleteExpiredUnverified(ctx context.Context, before time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// CreateAndSupersede ensures only one current code per request: atomically marks
// any existing unverified code superseded and inserts a new one. Uses an
// advisory lock keyed on the request id for race safety under concurrent sends.
func (r *otpRepo) CreateAndSupersede(ctx context.Context, requestID uuid.UUID, codeHashHex string, channel model.OTPChannel, sentTo string, expiresAt time.Time, maxAttempts int) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Serialize code creation per request to avoid duplicate current rows
	// under the partial unique index. Released on COMMIT/ROLLBACK.
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, requestID.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE otp_codes
		SET superseded = TRUE
		WHERE signature_request_id = $1 AND verified_at IS NULL AND superseded = FALSE
	`, requestID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("supersede existing codes: %w", err)
	}

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO otp_codes (signature_request_id, code_hash, channel, sent_to, expires_at, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, requestID, codeHashHex, string(channel), sentTo, expiresAt, maxAttempts).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert otp code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	codeID, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse code ID: %w", err)
	}
	return codeID, nil
}

// GetCurrentByRequest returns the most recently created, non-superseded code.
func (r *otpRepo) GetCurrentByRequest(ctx context.Context, requestID uuid.UUID) (model.OtpCode, error) {
	query := `
		SELECT id, signature_request_id, code_hash, channel, sent_to, expires_at,
		       verified_at, attempt_count, max_attempts, last_attempt_at, superseded, created_at
		FROM otp_codes
		WHERE signature_request_id = $1 AND superseded = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`
	var code model.OtpCode
	var idStr, requestIDStr, hashHex, channel string
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&idStr,
		&requestIDStr,
		&hashHex,
		&channel,
		&code.SentTo,
		&code.ExpiresAt,
		&code.VerifiedAt,
		&code.AttemptCount,
		&code.MaxAttempts,
		&code.LastAttemptAt,
		&code.Superseded,
		&code.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.OtpCode{}, fmt.Errorf("no current code: %w", model.ErrOTPNotFound)
		}
		return model.OtpCode{}, fmt.Errorf("query otp code: %w", err)
	}

	code.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpCode{}, fmt.Errorf("parse code ID: %w", err)
	}
	code.SignatureRequestID, err = uuid.Parse(requestIDStr)
	if err != nil {
		return model.OtpCode{}, fmt.Errorf("parse request ID: %w", err)
	}
	code.Channel = model.OTPChannel(channel)
	code.CodeHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.OtpCode{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return code, nil
}

// IncrementAttempt sets attempt_count = attempt_count + 1 and last_attempt_at = now().
func (r *otpRepo) IncrementAttempt(ctx context.Context, codeID uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_codes
		SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`, codeID).Scan(&newCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("otp code not found: %w", model.ErrOTPNotFound)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

// MarkVerified sets verified_at exactly once. The update is conditioned on
// verified_at IS NULL so a verified code cannot be verified twice under a race.
func (r *otpRepo) MarkVerified(ctx context.Context, codeID uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_codes SET verified_at = now()
		WHERE id = $1 AND verified_at IS NULL
	`, codeID)
	if err != nil {
		return false, fmt.Errorf("mark verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// HasVerifiedForRequest reports whether the request has any verified code.
func (r *otpRepo) HasVerifiedForRequest(ctx context.Context, requestID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM otp_codes
			WHERE signature_request_id = $1 AND verified_at IS NOT NULL
		)
	`, requestID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check verified code: %w", err)
	}
	return exists, nil
}

// DeleteExpiredUnverified removes expired unverified codes created before the cutoff.
func (r *otpRepo) DeleteExpiredUnverified(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_codes
		WHERE verified_at IS NULL AND expires_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
