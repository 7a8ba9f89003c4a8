// Package otp creates and verifies short-lived one-time passcodes bound to
// signature requests, enforcing expiry, single use and a bounded attempt count.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
	"github.com/signetcrm/server/internal/repo"
)

// Challenge is what the caller needs to dispatch a freshly created code.
type Challenge struct {
	Code      string
	SentTo    string
	Channel   model.OTPChannel
	ExpiresAt time.Time
}

// Manager owns the OTP lifecycle for signature requests
type Manager struct {
	otpRepo     repo.OtpRepo
	salt        string
	maxAttempts int
	now         func() time.Time
}

// NewManager creates an OTP manager. maxAttempts bounds brute-force guessing.
func NewManager(otpRepo repo.OtpRepo, salt string, maxAttempts int) *Manager {
	return &Manager{
		otpRepo:     otpRepo,
		salt:        salt,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Create generates a uniformly random 6-digit code, stores only its salted
// hash, and supersedes any prior unverified code for the request. The
// plaintext code is returned once for dispatch and never persisted or logged.
func (m *Manager) Create(ctx context.Context, requestID uuid.UUID, channel model.OTPChannel, sentTo string, validity time.Duration) (Challenge, error) {
	code, err := generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate code: %w", err)
	}

	expiresAt := m.now().Add(validity)
	hashHex := hashCodeHex(requestID, code, m.salt)
	if _, err := m.otpRepo.CreateAndSupersede(ctx, requestID, hashHex, channel, sentTo, expiresAt, m.maxAttempts); err != nil {
		return Challenge{}, fmt.Errorf("store code: %w", err)
	}

	return Challenge{Code: code, SentTo: sentTo, Channel: channel, ExpiresAt: expiresAt}, nil
}

// Verify checks the submitted code against the current code for the request.
// A consumed (verified) code replies AlreadyUsed without spending attempts;
// every call against a live code consumes an attempt, success or failure,
// before the cap, expiry and match checks, so guessing is bounded at
// maxAttempts regardless of outcome.
func (m *Manager) Verify(ctx context.Context, requestID uuid.UUID, submittedCode string) error {
	code, err := m.otpRepo.GetCurrentByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if code.VerifiedAt != nil {
		return model.ErrOTPAlreadyUsed
	}

	newCount, err := m.otpRepo.IncrementAttempt(ctx, code.ID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if newCount > code.MaxAttempts {
		return model.ErrOTPTooManyAttempts
	}

	if !m.now().Before(code.ExpiresAt) {
		return model.ErrOTPExpired
	}

	providedHash := hashCodeBytes(requestID, submittedCode, m.salt)
	if subtle.ConstantTimeCompare(providedHash, code.CodeHash) != 1 {
		return model.ErrOTPMismatch
	}

	verified, err := m.otpRepo.MarkVerified(ctx, code.ID)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if !verified {
		// Lost a race against a concurrent successful verify
		return model.ErrOTPAlreadyUsed
	}
	return nil
}

// HasVerified reports whether the request has passed an OTP challenge.
func (m *Manager) HasVerified(ctx context.Context, requestID uuid.UUID) (bool, error) {
	return m.otpRepo.HasVerifiedForRequest(ctx, requestID)
}

// RemainingAttempts returns how many attempts are left for the current code,
// for client messaging. Zero when no current code exists.
func (m *Manager) RemainingAttempts(ctx context.Context, requestID uuid.UUID) (int, error) {
	code, err := m.otpRepo.GetCurrentByRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}
	remaining := code.MaxAttempts - code.AttemptCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// generateCode returns a uniformly random 6-digit code in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// hashCodeHex returns SHA-256(request:code:salt) as hex for DB storage
func hashCodeHex(requestID uuid.UUID, code, salt string) string {
	return hex.EncodeToString(hashCodeBytes(requestID, code, salt))
}

func hashCodeBytes(requestID uuid.UUID, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s", requestID, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}
