package model

import "errors"

// Lifecycle and validation errors returned to callers with a specific kind
// so the client can render an accurate message.
var (
	// ErrNotFound: the token, request or code is unknown
	ErrNotFound = errors.New("not found")
	// ErrExpired: the resource exists but is past its validity window
	ErrExpired = errors.New("expired")
	// ErrInvalidState: the operation is not valid for the current lifecycle
	// state, including double-submission of a terminal transition
	ErrInvalidState = errors.New("invalid state")
)

// OTP verification failure kinds. All of them are "verification failed" to
// the signer, but the sub-kind drives the client message and status code.
var (
	ErrOTPNotFound        = errors.New("otp: no active code")
	ErrOTPMismatch        = errors.New("otp: code mismatch")
	ErrOTPAlreadyUsed     = errors.New("otp: code already used")
	ErrOTPExpired         = errors.New("otp: code expired")
	ErrOTPTooManyAttempts = errors.New("otp: too many attempts")
	// ErrOTPRequired: completion attempted on an OTP-gated request without a
	// prior successful verification
	ErrOTPRequired = errors.New("otp: verification required")
)

// ErrCodeSpaceExhausted means the unique-code retry cap was exceeded. This is
// an operational alert (entropy space exhausted or the namespace check is
// broken), never a normal user-facing error.
var ErrCodeSpaceExhausted = errors.New("code namespace exhausted after max attempts")
