package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SignatureStatus is the lifecycle state of a signature request
type SignatureStatus string

const (
	StatusPending   SignatureStatus = "pending"
	StatusCompleted SignatureStatus = "completed"
	StatusDeclined  SignatureStatus = "declined"
)

// ContractStatus is the lifecycle state of a contract
type ContractStatus string

const (
	ContractDraft    ContractStatus = "draft"
	ContractSent     ContractStatus = "sent"
	ContractSigned   ContractStatus = "signed"
	ContractDeclined ContractStatus = "declined"
)

// OTPChannel is the delivery channel for a one-time passcode
type OTPChannel string

const (
	ChannelEmail OTPChannel = "email"
	ChannelSMS   OTPChannel = "sms"
)

// User represents a staff user in the system
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	CreatedAt time.Time
}

// Contract represents the document a signature request belongs to
type Contract struct {
	ID         uuid.UUID
	Title      string
	Status     ContractStatus
	AccessCode *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SignatureRequest is a time-bounded capability allowing a named signer
// to complete or decline a document signature once
type SignatureRequest struct {
	ID             uuid.UUID
	Token          string
	ContractID     uuid.UUID
	SignerName     string
	SignerEmail    string
	SignerPhone    *string
	RequireOTP     bool
	Status         SignatureStatus
	ExpiresAt      time.Time
	IPAddress      *string
	UserAgent      *string
	SignatureData  json.RawMessage
	CertificateURL *string
	DocumentHash   *string
	DeclineReason  *string
	CreatedAt      time.Time
	SignedAt       *time.Time
	DeclinedAt     *time.Time
	UpdatedAt      time.Time
}

// OtpCode represents a one-time passcode bound to a signature request.
// Only the salted hash of the code is stored.
type OtpCode struct {
	ID                 uuid.UUID
	SignatureRequestID uuid.UUID
	CodeHash           []byte
	Channel            OTPChannel
	SentTo             string
	ExpiresAt          time.Time
	VerifiedAt         *time.Time
	AttemptCount       int
	MaxAttempts        int
	LastAttemptAt      *time.Time
	Superseded         bool
	CreatedAt          time.Time
}

// Certificate binds signer identity, timestamp, client metadata and the
// document digest for a completed signature request
type Certificate struct {
	RequestID    uuid.UUID `json:"request_id"`
	SignerName   string    `json:"signer_name"`
	SignerEmail  string    `json:"signer_email"`
	SignedAt     time.Time `json:"signed_at"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	DocumentHash string    `json:"document_hash"`
}

// ReferralCode is a human-shareable code issued at most once per owner
type ReferralCode struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Code      string
	Link      string
	CreatedAt time.Time
}

// EsignCallback records a provider completion callback for idempotent replay
type EsignCallback struct {
	ID          uuid.UUID
	ContractID  uuid.UUID
	SignerEmail string
	Status      string
	Payload     json.RawMessage
	ReceivedAt  time.Time
}

// AuditEntry is an append-only record of a state transition
type AuditEntry struct {
	ID        uuid.UUID
	Actor     *string
	Action    string
	Entity    string
	EntityID  string
	Before    json.RawMessage
	After     json.RawMessage
	CreatedAt time.Time
}

// TimelineEvent is a contract-scoped event shown on the contract timeline
type TimelineEvent struct {
	ID          uuid.UUID
	ContractID  uuid.UUID
	EventType   string
	Title       string
	Description *string
	Metadata    json.RawMessage
	CreatedAt   time.Time
}
