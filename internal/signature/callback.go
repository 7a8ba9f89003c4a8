package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
	"github.com/signetcrm/server/internal/notify"
)

// CallbackInput is an asynchronous completion callback from a third-party
// e-sign provider.
type CallbackInput struct {
	ContractID  uuid.UUID
	SignerEmail string
	Status      string
	SignedAt    *time.Time
	Metadata    json.RawMessage
}

// CallbackResult reports what the callback did.
type CallbackResult struct {
	Duplicate        bool
	RequestsAffected int
}

// HandleProviderCallback applies a provider callback idempotently on
// (contractId, signerEmail, status): the first arrival runs side effects,
// replays return without touching anything.
func (s *Service) HandleProviderCallback(ctx context.Context, in CallbackInput) (CallbackResult, error) {
	if in.SignerEmail == "" {
		return CallbackResult{}, fmt.Errorf("signer email is required")
	}
	if in.Status != "completed" && in.Status != "declined" {
		return CallbackResult{}, fmt.Errorf("unsupported callback status %q", in.Status)
	}

	// Record before resolving the contract so replays of an unknown contract
	// stay idempotent too.
	inserted, err := s.callbacks.Record(ctx, in.ContractID, in.SignerEmail, in.Status, in.Metadata)
	if err != nil {
		return CallbackResult{}, err
	}
	if !inserted {
		return CallbackResult{Duplicate: true}, nil
	}

	contract, err := s.contracts.GetByID(ctx, in.ContractID)
	if err != nil {
		return CallbackResult{}, err
	}

	pending, err := s.signatures.ListPendingByContractSigner(ctx, in.ContractID, in.SignerEmail)
	if err != nil {
		return CallbackResult{}, err
	}

	signedAt := s.now()
	if in.SignedAt != nil {
		signedAt = *in.SignedAt
	}

	affected := 0
	for _, req := range pending {
		var won bool
		var err error
		switch in.Status {
		case "completed":
			won, err = s.signatures.CompleteByProviderID(ctx, req.ID, signedAt)
		case "declined":
			reason := "declined via provider"
			won, err = s.signatures.DeclineByToken(ctx, req.Token, signedAt, &reason)
		}
		if err != nil {
			return CallbackResult{}, err
		}
		if won {
			affected++
			s.record(ctx, nil, "signature_request.provider_"+in.Status, req, in.Metadata)
		}
	}

	contractStatus := model.ContractSigned
	eventType, title := "signature_completed", "Document signed via provider"
	if in.Status == "declined" {
		contractStatus = model.ContractDeclined
		eventType, title = "signature_declined", "Signature declined via provider"
	}
	if err := s.contracts.SetStatus(ctx, contract.ID, contractStatus); err != nil {
		log.Printf("signature: set contract %s %s: %v", contract.ID, contractStatus, err)
	}
	s.timeline(ctx, contract.ID, eventType, title,
		fmt.Sprintf("Provider callback for %s", notify.MaskRecipient(in.SignerEmail)), in.Metadata)

	return CallbackResult{RequestsAffected: affected}, nil
}
