package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetcrm/server/internal/model"
)

func TestMaskRecipient(t *testing.T) {
	assert.Equal(t, "ad***@example.com", MaskRecipient("ada@example.com"))
	assert.Equal(t, "***@x.io", MaskRecipient("a@x.io"))
	assert.Equal(t, "+4*******89", MaskRecipient("+4915500089"))
	assert.Equal(t, "****", MaskRecipient("123"))
}

// flakyDispatcher fails a fixed number of times before succeeding.
type flakyDispatcher struct {
	failures int
	calls    int
}

func (f *flakyDispatcher) send() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transport down")
	}
	return nil
}

func (f *flakyDispatcher) SendSignatureRequest(context.Context, string, string, string, time.Time) error {
	return f.send()
}
func (f *flakyDispatcher) SendOTPCode(context.Context, model.OTPChannel, string, string, time.Time) error {
	return f.send()
}
func (f *flakyDispatcher) SendSignedConfirmation(context.Context, string, string, string) error {
	return f.send()
}

func TestWithRetry_recoversFromTransientFailure(t *testing.T) {
	inner := &flakyDispatcher{failures: 2}
	d := WithRetry(inner, 3, time.Millisecond)

	err := d.SendOTPCode(context.Background(), model.ChannelEmail, "ada@example.com", "123456", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_givesUpAfterCap(t *testing.T) {
	inner := &flakyDispatcher{failures: 100}
	d := WithRetry(inner, 2, time.Millisecond)

	err := d.SendSignedConfirmation(context.Background(), "ada@example.com", "doc", "cert")
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls, "initial call plus two retries")
}
