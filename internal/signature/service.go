// Package signature owns the signature request lifecycle: creation, expiry,
// completion and decline, coordinating OTP challenges, certification and
// side effects on transition.
package signature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/audit"
	"github.com/signetcrm/server/internal/certify"
	"github.com/signetcrm/server/internal/model"
	"github.com/signetcrm/server/internal/notify"
	"github.com/signetcrm/server/internal/otp"
	"github.com/signetcrm/server/internal/repo"
	"github.com/signetcrm/server/internal/token"
)

const (
	minTTL = 1 * time.Hour
	maxTTL = 720 * time.Hour
)

// OTPService is the slice of the OTP manager the state machine needs.
type OTPService interface {
	Create(ctx context.Context, requestID uuid.UUID, channel model.OTPChannel, sentTo string, validity time.Duration) (otp.Challenge, error)
	Verify(ctx context.Context, requestID uuid.UUID, submittedCode string) error
	HasVerified(ctx context.Context, requestID uuid.UUID) (bool, error)
	RemainingAttempts(ctx context.Context, requestID uuid.UUID) (int, error)
}

// DocumentCertifier renders and certifies the signed artifact.
type DocumentCertifier interface {
	Render(kind string, data map[string]string) ([]byte, error)
	Certify(ctx context.Context, requestID uuid.UUID, artifact []byte, meta certify.SignerMeta) (model.Certificate, string, error)
}

// Config tunes the state machine.
type Config struct {
	PublicBaseURL string
	DefaultTTL    time.Duration
	OTPValidity   time.Duration
}

// Service is the authoritative signature request state machine.
type Service struct {
	signatures repo.SignatureRepo
	contracts  repo.ContractRepo
	callbacks  repo.CallbackRepo
	otp        OTPService
	certifier  DocumentCertifier
	files      certify.FileStore
	dispatcher notify.Dispatcher
	recorder   audit.Recorder
	cfg        Config
	now        func() time.Time
}

// NewService wires the state machine.
func NewService(
	signatures repo.SignatureRepo,
	contracts repo.ContractRepo,
	callbacks repo.CallbackRepo,
	otpService OTPService,
	certifier DocumentCertifier,
	files certify.FileStore,
	dispatcher notify.Dispatcher,
	recorder audit.Recorder,
	cfg Config,
) *Service {
	return &Service{
		signatures: signatures,
		contracts:  contracts,
		callbacks:  callbacks,
		otp:        otpService,
		certifier:  certifier,
		files:      files,
		dispatcher: dispatcher,
		recorder:   recorder,
		cfg:        cfg,
		now:        time.Now,
	}
}

// isExpired applies the one boundary rule: now >= expiresAt is expired.
func isExpired(now, expiresAt time.Time) bool {
	return !now.Before(expiresAt)
}

// PublicURL returns the signing link for a token.
func (s *Service) PublicURL(token string) string {
	return s.cfg.PublicBaseURL + "/public/sign/" + token
}

func (s *Service) documentURL(token string) string {
	return s.PublicURL(token) + "/document"
}

func (s *Service) certificateURL(token string) string {
	return s.PublicURL(token) + "/certificate"
}

// CreateRequestInput names the contract and signer for a new request.
type CreateRequestInput struct {
	ContractID  uuid.UUID
	SignerName  string
	SignerEmail string
	SignerPhone *string
	RequireOTP  bool
	TTL         time.Duration
	Actor       *string
}

// CreateRequest mints a token, persists the pending request and dispatches
// the signing link. Notification failure is logged; the request stands.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (model.SignatureRequest, error) {
	if in.SignerName == "" || in.SignerEmail == "" {
		return model.SignatureRequest{}, fmt.Errorf("signer name and email are required")
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl < minTTL || ttl > maxTTL {
		return model.SignatureRequest{}, fmt.Errorf("ttl must be between %s and %s", minTTL, maxTTL)
	}

	contract, err := s.contracts.GetByID(ctx, in.ContractID)
	if err != nil {
		return model.SignatureRequest{}, err
	}

	tok, err := token.NewSignatureToken()
	if err != nil {
		return model.SignatureRequest{}, fmt.Errorf("mint token: %w", err)
	}

	req, err := s.signatures.Create(ctx, model.SignatureRequest{
		Token:       tok,
		ContractID:  contract.ID,
		SignerName:  in.SignerName,
		SignerEmail: in.SignerEmail,
		SignerPhone: in.SignerPhone,
		RequireOTP:  in.RequireOTP,
		ExpiresAt:   s.now().Add(ttl),
	})
	if err != nil {
		return model.SignatureRequest{}, err
	}

	if contract.Status == model.ContractDraft {
		if err := s.contracts.SetStatus(ctx, contract.ID, model.ContractSent); err != nil {
			log.Printf("signature: mark contract %s sent: %v", contract.ID, err)
		}
	}

	s.record(ctx, in.Actor, "signature_request.created", req, nil)
	s.timeline(ctx, contract.ID, "signature_requested", "Signature requested",
		fmt.Sprintf("Signature requested from %s", in.SignerName), nil)

	if err := s.dispatcher.SendSignatureRequest(ctx, req.SignerEmail, req.SignerName, s.PublicURL(req.Token), req.ExpiresAt); err != nil {
		log.Printf("signature: send request link for %s: %v", req.ID, err)
	}

	return req, nil
}

// PublicInfo is what the public signing page may see.
type PublicInfo struct {
	ContractTitle string
	SignerName    string
	SignerEmail   string
	RequireOTP    bool
	Status        model.SignatureStatus
	ExpiresAt     time.Time
}

// GetPublicInfo resolves a token for the public page. Expired is a distinct
// outcome from not-found: the token exists but its window has passed.
func (s *Service) GetPublicInfo(ctx context.Context, token string) (PublicInfo, error) {
	req, err := s.signatures.GetByToken(ctx, token)
	if err != nil {
		return PublicInfo{}, err
	}
	if req.Status == model.StatusPending && isExpired(s.now(), req.ExpiresAt) {
		return PublicInfo{}, fmt.Errorf("signature request past expiry: %w", model.ErrExpired)
	}

	title := ""
	if contract, err := s.contracts.GetByID(ctx, req.ContractID); err == nil {
		title = contract.Title
	}

	return PublicInfo{
		ContractTitle: title,
		SignerName:    req.SignerName,
		SignerEmail:   req.SignerEmail,
		RequireOTP:    req.RequireOTP,
		Status:        req.Status,
		ExpiresAt:     req.ExpiresAt,
	}, nil
}

// resolvePending loads the request and applies the shared guard order:
// not-found, invalid-state, expired.
func (s *Service) resolvePending(ctx context.Context, token string) (model.SignatureRequest, error) {
	req, err := s.signatures.GetByToken(ctx, token)
	if err != nil {
		return model.SignatureRequest{}, err
	}
	if req.Status != model.StatusPending {
		return model.SignatureRequest{}, fmt.Errorf("request is %s: %w", req.Status, model.ErrInvalidState)
	}
	if isExpired(s.now(), req.ExpiresAt) {
		return model.SignatureRequest{}, fmt.Errorf("signature request past expiry: %w", model.ErrExpired)
	}
	return req, nil
}

// RequestOTP issues and dispatches a fresh OTP for an OTP-gated request.
// preferSMS selects the SMS channel when the request has a signer phone.
func (s *Service) RequestOTP(ctx context.Context, token string, preferSMS bool) (otp.Challenge, error) {
	req, err := s.resolvePending(ctx, token)
	if err != nil {
		return otp.Challenge{}, err
	}
	if !req.RequireOTP {
		return otp.Challenge{}, fmt.Errorf("request does not require otp: %w", model.ErrInvalidState)
	}

	channel := model.ChannelEmail
	sentTo := req.SignerEmail
	if preferSMS && req.SignerPhone != nil && *req.SignerPhone != "" {
		channel = model.ChannelSMS
		sentTo = *req.SignerPhone
	}

	ch, err := s.otp.Create(ctx, req.ID, channel, sentTo, s.cfg.OTPValidity)
	if err != nil {
		return otp.Challenge{}, err
	}

	if err := s.dispatcher.SendOTPCode(ctx, channel, sentTo, ch.Code, ch.ExpiresAt); err != nil {
		return otp.Challenge{}, fmt.Errorf("dispatch otp: %w", err)
	}
	return ch, nil
}

// VerifyOTP verifies a submitted code for the request behind the token.
func (s *Service) VerifyOTP(ctx context.Context, token, submittedCode string) error {
	req, err := s.resolvePending(ctx, token)
	if err != nil {
		return err
	}
	return s.otp.Verify(ctx, req.ID, submittedCode)
}

// RemainingOTPAttempts exposes remaining-attempts context for client messages.
func (s *Service) RemainingOTPAttempts(ctx context.Context, token string) (int, error) {
	req, err := s.signatures.GetByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	return s.otp.RemainingAttempts(ctx, req.ID)
}

// ClientMeta is the caller-side metadata bound into the certificate.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// CompleteInput is the signer's confirmation payload.
type CompleteInput struct {
	SignatureData json.RawMessage
}

// CompleteResult references the signed artifact.
type CompleteResult struct {
	Request        model.SignatureRequest
	DocumentURL    string
	CertificateURL string
	DocumentHash   string
}

// Complete drives the pending -> completed transition. Render and certify run
// before the transition; a dependency failure there aborts with no state
// change. The conditional update is the linearization point: of two concurrent
// calls exactly one wins, the other observes ErrInvalidState.
func (s *Service) Complete(ctx context.Context, token string, in CompleteInput, meta ClientMeta) (CompleteResult, error) {
	req, err := s.resolvePending(ctx, token)
	if err != nil {
		return CompleteResult{}, err
	}

	if req.RequireOTP {
		verified, err := s.otp.HasVerified(ctx, req.ID)
		if err != nil {
			return CompleteResult{}, fmt.Errorf("check otp verification: %w", err)
		}
		if !verified {
			return CompleteResult{}, model.ErrOTPRequired
		}
	}

	contract, err := s.contracts.GetByID(ctx, req.ContractID)
	if err != nil {
		return CompleteResult{}, err
	}

	signedAt := s.now()
	artifact, err := s.certifier.Render("signed_contract", map[string]string{
		"contract_title": contract.Title,
		"contract_id":    contract.ID.String(),
		"signer_name":    req.SignerName,
		"signer_email":   req.SignerEmail,
		"signed_at":      signedAt.UTC().Format(time.RFC3339),
		"signature_data": string(in.SignatureData),
	})
	if err != nil {
		return CompleteResult{}, fmt.Errorf("render artifact: %w", err)
	}

	_, digestHex, err := s.certifier.Certify(ctx, req.ID, artifact, certify.SignerMeta{
		SignerName:  req.SignerName,
		SignerEmail: req.SignerEmail,
		SignedAt:    signedAt,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	})
	if err != nil {
		// An artifact conflict means a concurrent completion of this request
		// already persisted its artifacts and holds the transition.
		if errors.Is(err, certify.ErrArtifactConflict) {
			return CompleteResult{}, fmt.Errorf("request is no longer pending: %w", model.ErrInvalidState)
		}
		return CompleteResult{}, fmt.Errorf("certify artifact: %w", err)
	}

	var ip, ua *string
	if meta.IPAddress != "" {
		ip = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		ua = &meta.UserAgent
	}

	certURL := s.certificateURL(req.Token)
	won, err := s.signatures.CompleteByToken(ctx, token, repo.CompleteParams{
		SignedAt:       signedAt,
		IPAddress:      ip,
		UserAgent:      ua,
		SignatureData:  in.SignatureData,
		CertificateURL: certURL,
		DocumentHash:   digestHex,
	})
	if err != nil {
		return CompleteResult{}, err
	}
	if !won {
		return CompleteResult{}, fmt.Errorf("request is no longer pending: %w", model.ErrInvalidState)
	}

	// The transition is committed; everything below is logged, never rolled back.
	if err := s.contracts.SetStatus(ctx, contract.ID, model.ContractSigned); err != nil {
		log.Printf("signature: mark contract %s signed: %v", contract.ID, err)
	}

	s.record(ctx, nil, "signature_request.completed", req, map[string]any{
		"signed_at":     signedAt.UTC().Format(time.RFC3339),
		"document_hash": digestHex,
	})
	s.timeline(ctx, contract.ID, "signature_completed", "Document signed",
		fmt.Sprintf("Signed by %s", req.SignerName), map[string]any{"document_hash": digestHex})

	if err := s.dispatcher.SendSignedConfirmation(ctx, req.SignerEmail, s.documentURL(req.Token), certURL); err != nil {
		log.Printf("signature: send signed confirmation for %s: %v", req.ID, err)
	}

	updated, err := s.signatures.GetByToken(ctx, token)
	if err != nil {
		updated = req
	}
	return CompleteResult{
		Request:        updated,
		DocumentURL:    s.documentURL(req.Token),
		CertificateURL: certURL,
		DocumentHash:   digestHex,
	}, nil
}

// Decline drives the pending -> declined transition with the same guards.
func (s *Service) Decline(ctx context.Context, token string, reason *string) (model.SignatureRequest, error) {
	req, err := s.resolvePending(ctx, token)
	if err != nil {
		return model.SignatureRequest{}, err
	}

	won, err := s.signatures.DeclineByToken(ctx, token, s.now(), reason)
	if err != nil {
		return model.SignatureRequest{}, err
	}
	if !won {
		return model.SignatureRequest{}, fmt.Errorf("request is no longer pending: %w", model.ErrInvalidState)
	}

	if err := s.contracts.SetStatus(ctx, req.ContractID, model.ContractDeclined); err != nil {
		log.Printf("signature: mark contract %s declined: %v", req.ContractID, err)
	}

	declineReason := ""
	if reason != nil {
		declineReason = *reason
	}
	s.record(ctx, nil, "signature_request.declined", req, map[string]any{"reason": declineReason})
	s.timeline(ctx, req.ContractID, "signature_declined", "Signature declined",
		fmt.Sprintf("Declined by %s", req.SignerName), nil)

	updated, err := s.signatures.GetByToken(ctx, token)
	if err != nil {
		return req, nil
	}
	return updated, nil
}

// GetRequest loads a request by id for the staff API.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (model.SignatureRequest, error) {
	return s.signatures.GetByID(ctx, id)
}

// ReadDocument returns the persisted artifact bytes for a completed request.
func (s *Service) ReadDocument(ctx context.Context, token string) ([]byte, error) {
	req, err := s.completedByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.files.Read(certify.DocumentPath(req.ID))
}

// ReadCertificate returns the persisted certificate bytes for a completed request.
func (s *Service) ReadCertificate(ctx context.Context, token string) ([]byte, error) {
	req, err := s.completedByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.files.Read(certify.CertificatePath(req.ID))
}

func (s *Service) completedByToken(ctx context.Context, token string) (model.SignatureRequest, error) {
	req, err := s.signatures.GetByToken(ctx, token)
	if err != nil {
		return model.SignatureRequest{}, err
	}
	if req.Status != model.StatusCompleted {
		return model.SignatureRequest{}, fmt.Errorf("request is %s: %w", req.Status, model.ErrInvalidState)
	}
	return req, nil
}

// record appends an audit entry; failures are logged, never propagated.
func (s *Service) record(ctx context.Context, actor *string, action string, req model.SignatureRequest, after any) {
	if err := s.recorder.Log(ctx, actor, action, "signature_request", req.ID.String(), nil, after); err != nil {
		log.Printf("signature: audit %s for %s: %v", action, req.ID, err)
	}
}

// timeline appends a contract timeline event; failures are logged, never propagated.
func (s *Service) timeline(ctx context.Context, contractID uuid.UUID, eventType, title, description string, metadata any) {
	var desc *string
	if description != "" {
		desc = &description
	}
	if err := s.recorder.Timeline(ctx, contractID, eventType, title, desc, metadata); err != nil {
		log.Printf("signature: timeline %s for contract %s: %v", eventType, contractID, err)
	}
}
