package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
	"github.com/signetcrm/server/internal/repo"
)

// Issuer mints referral codes idempotently per owner. A second request for
// the same owner returns the existing code rather than creating a new one.
type Issuer struct {
	referrals repo.ReferralRepo
	prefix    string
	linkBase  string
}

// NewIssuer creates an Issuer. linkBase is the public URL prefix codes are
// appended to when building the shareable link.
func NewIssuer(referrals repo.ReferralRepo, prefix, linkBase string) *Issuer {
	return &Issuer{referrals: referrals, prefix: prefix, linkBase: linkBase}
}

// EnsureReferralCode returns the owner's code, minting one on first call.
// The owner row is locked before the existence check, so two concurrent
// callers cannot both mint: the loser observes the winner's code.
func (i *Issuer) EnsureReferralCode(ctx context.Context, ownerID uuid.UUID) (model.ReferralCode, error) {
	var out model.ReferralCode
	err := i.referrals.WithOwnerLock(ctx, ownerID, func(tx repo.CodeTx) error {
		existing, err := tx.GetByOwner(ctx, ownerID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		code, err := i.mintUnique(ctx, tx)
		if err != nil {
			return err
		}

		created, err := tx.Insert(ctx, ownerID, code, i.linkBase+"/"+code)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return model.ReferralCode{}, err
	}
	return out, nil
}

// mintUnique generates codes until one clears the shared namespace check.
// The loop is hard-capped; exceeding the cap is an operational failure, not
// a retryable user error.
func (i *Issuer) mintUnique(ctx context.Context, tx repo.CodeTx) (string, error) {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		code, err := randomCode(i.prefix)
		if err != nil {
			return "", err
		}
		exists, err := tx.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("mint code with prefix %q: %w", i.prefix, model.ErrCodeSpaceExhausted)
}
