package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/middleware"
	"github.com/signetcrm/server/internal/signature"
	"github.com/signetcrm/server/internal/token"
)

// StaffHandler serves the authenticated staff endpoints
type StaffHandler struct {
	svc    *signature.Service
	issuer *token.Issuer
}

// NewStaffHandler creates a new staff handler
func NewStaffHandler(svc *signature.Service, issuer *token.Issuer) *StaffHandler {
	return &StaffHandler{svc: svc, issuer: issuer}
}

// createRequestRequest is the request body for POST /signatures/requests
type createRequestRequest struct {
	ContractID     string `json:"contract_id"`
	SignerName     string `json:"signer_name"`
	SignerEmail    string `json:"signer_email"`
	SignerPhone    string `json:"signer_phone,omitempty"`
	RequireOTP     bool   `json:"require_otp,omitempty"`
	ExpiresInHours int    `json:"expires_in_hours,omitempty"`
}

// createRequestResponse is the JSON response for a created signature request
type createRequestResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	PublicURL string    `json:"public_url"`
}

// HandleCreateRequest handles POST /signatures/requests
func (h *StaffHandler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	contractID, err := uuid.Parse(strings.TrimSpace(req.ContractID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "contract_id must be a valid UUID")
		return
	}
	req.SignerName = strings.TrimSpace(req.SignerName)
	req.SignerEmail = strings.TrimSpace(req.SignerEmail)
	if req.SignerName == "" || req.SignerEmail == "" {
		respondWithError(w, http.StatusBadRequest, "signer_name and signer_email are required")
		return
	}
	if req.ExpiresInHours < 0 {
		respondWithError(w, http.StatusBadRequest, "expires_in_hours must be positive")
		return
	}

	var phone *string
	if p := strings.TrimSpace(req.SignerPhone); p != "" {
		phone = &p
	}

	var actor *string
	if user, ok := middleware.GetUser(r.Context()); ok {
		actor = &user.Email
	}

	created, err := h.svc.CreateRequest(r.Context(), signature.CreateRequestInput{
		ContractID:  contractID,
		SignerName:  req.SignerName,
		SignerEmail: req.SignerEmail,
		SignerPhone: phone,
		RequireOTP:  req.RequireOTP,
		TTL:         time.Duration(req.ExpiresInHours) * time.Hour,
		Actor:       actor,
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, createRequestResponse{
		ID:        created.ID.String(),
		Token:     created.Token,
		ExpiresAt: created.ExpiresAt,
		PublicURL: h.svc.PublicURL(created.Token),
	})
}

// signatureRequestResponse is the staff view of a signature request
type signatureRequestResponse struct {
	ID             string     `json:"id"`
	Token          string     `json:"token"`
	ContractID     string     `json:"contract_id"`
	SignerName     string     `json:"signer_name"`
	SignerEmail    string     `json:"signer_email"`
	RequireOTP     bool       `json:"require_otp"`
	Status         string     `json:"status"`
	ExpiresAt      time.Time  `json:"expires_at"`
	SignedAt       *time.Time `json:"signed_at,omitempty"`
	DeclinedAt     *time.Time `json:"declined_at,omitempty"`
	DeclineReason  *string    `json:"decline_reason,omitempty"`
	CertificateURL *string    `json:"certificate_url,omitempty"`
	DocumentHash   *string    `json:"document_hash,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HandleGetRequest handles GET /signatures/requests/{id}
func (h *StaffHandler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "id must be a valid UUID")
		return
	}

	req, err := h.svc.GetRequest(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, signatureRequestResponse{
		ID:             req.ID.String(),
		Token:          req.Token,
		ContractID:     req.ContractID.String(),
		SignerName:     req.SignerName,
		SignerEmail:    req.SignerEmail,
		RequireOTP:     req.RequireOTP,
		Status:         string(req.Status),
		ExpiresAt:      req.ExpiresAt,
		SignedAt:       req.SignedAt,
		DeclinedAt:     req.DeclinedAt,
		DeclineReason:  req.DeclineReason,
		CertificateURL: req.CertificateURL,
		DocumentHash:   req.DocumentHash,
		CreatedAt:      req.CreatedAt,
	})
}

// callbackRequest is the request body for POST /signatures/callback
type callbackRequest struct {
	ContractID  string          `json:"contract_id"`
	SignerEmail string          `json:"signer_email"`
	Status      string          `json:"status"`
	SignedAt    *time.Time      `json:"signed_at,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// HandleCallback handles POST /signatures/callback, idempotent on
// (contract_id, signer_email, status)
func (h *StaffHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	contractID, err := uuid.Parse(strings.TrimSpace(req.ContractID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "contract_id must be a valid UUID")
		return
	}
	req.SignerEmail = strings.TrimSpace(req.SignerEmail)
	if req.SignerEmail == "" || req.Status == "" {
		respondWithError(w, http.StatusBadRequest, "signer_email and status are required")
		return
	}

	result, err := h.svc.HandleProviderCallback(r.Context(), signature.CallbackInput{
		ContractID:  contractID,
		SignerEmail: req.SignerEmail,
		Status:      req.Status,
		SignedAt:    req.SignedAt,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"duplicate":         result.Duplicate,
		"requests_affected": result.RequestsAffected,
	})
}

// referralRequest is the request body for POST /referrals/codes
type referralRequest struct {
	OwnerID string `json:"owner_id"`
}

// referralResponse is the JSON response for a referral code
type referralResponse struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

// HandleEnsureReferralCode handles POST /referrals/codes. Issuance is
// idempotent per owner: repeated calls return the existing code.
func (h *StaffHandler) HandleEnsureReferralCode(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ownerID, err := uuid.Parse(strings.TrimSpace(req.OwnerID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "owner_id must be a valid UUID")
		return
	}

	code, err := h.issuer.EnsureReferralCode(r.Context(), ownerID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, referralResponse{Code: code.Code, Link: code.Link})
}
