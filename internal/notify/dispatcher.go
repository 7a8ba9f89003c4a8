// Package notify dispatches signer-facing notifications. Transport is an
// external collaborator; the service depends only on the Dispatcher interface.
package notify

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/signetcrm/server/internal/model"
)

// Dispatcher sends transactional notifications to signers.
type Dispatcher interface {
	// SendSignatureRequest delivers the public signing link.
	SendSignatureRequest(ctx context.Context, to, signerName, link string, expiresAt time.Time) error
	// SendOTPCode delivers a one-time passcode over the given channel.
	SendOTPCode(ctx context.Context, channel model.OTPChannel, to, code string, expiresAt time.Time) error
	// SendSignedConfirmation delivers the signed artifact and certificate links.
	SendSignedConfirmation(ctx context.Context, to, documentURL, certificateURL string) error
}

// LogDispatcher is the development dispatcher: it logs masked deliveries
// instead of calling a mail/SMS provider.
type LogDispatcher struct {
	// DevMode additionally logs OTP plaintext for local testing
	DevMode bool
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(devMode bool) *LogDispatcher {
	return &LogDispatcher{DevMode: devMode}
}

func (d *LogDispatcher) SendSignatureRequest(_ context.Context, to, signerName, link string, expiresAt time.Time) error {
	log.Printf("notify: signature request for %s to %s (expires %s): %s",
		signerName, MaskRecipient(to), expiresAt.Format(time.RFC3339), link)
	return nil
}

func (d *LogDispatcher) SendOTPCode(_ context.Context, channel model.OTPChannel, to, code string, expiresAt time.Time) error {
	if d.DevMode {
		log.Printf("notify: otp via %s to %s (expires %s): %s",
			channel, MaskRecipient(to), expiresAt.Format(time.RFC3339), code)
		return nil
	}
	// Never log the plaintext code outside dev mode
	log.Printf("notify: otp via %s to %s (expires %s)",
		channel, MaskRecipient(to), expiresAt.Format(time.RFC3339))
	return nil
}

func (d *LogDispatcher) SendSignedConfirmation(_ context.Context, to, documentURL, certificateURL string) error {
	log.Printf("notify: signed confirmation to %s: doc=%s cert=%s",
		MaskRecipient(to), documentURL, certificateURL)
	return nil
}

// MaskRecipient masks an email or phone for logging (e.g. ad***@example.com, +49******89)
func MaskRecipient(to string) string {
	if at := strings.Index(to, "@"); at > 0 {
		local := to[:at]
		if len(local) <= 2 {
			return "***" + to[at:]
		}
		return local[:2] + "***" + to[at:]
	}
	if len(to) <= 4 {
		return "****"
	}
	return to[:2] + strings.Repeat("*", len(to)-4) + to[len(to)-2:]
}
