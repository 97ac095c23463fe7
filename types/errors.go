package types

import "errors"

var (
	// ErrNotFound is returned when the requested document doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource conflicts (e.g. concurrent insert of the same ID)
	ErrConflict = errors.New("conflict")

	// ErrBadRequest is returned on malformed input
	ErrBadRequest = errors.New("bad request")

	// ErrInternal (for unhandled exceptions)
	ErrInternal = errors.New("internal error")

	// ErrUnauthorized collapses every session/ownership failure into a single outcome
	ErrUnauthorized = errors.New("unauthorized")

	// Identity provider failures.
	// ErrInvalidClient means the registered client credential is misconfigured.
	// An operator has to fix the configuration; the flow must not retry.
	ErrInvalidClient = errors.New("identity provider rejected client credentials")

	// ErrInvalidRequest means the redirect target doesn't match the registration
	ErrInvalidRequest = errors.New("identity provider rejected the request")

	// ErrTransientProvider covers network failures and provider 5xx responses
	ErrTransientProvider = errors.New("identity provider temporarily unavailable")

	// ErrProviderRejected means the authorization code expired or was already used
	ErrProviderRejected = errors.New("identity provider rejected the authorization code")

	// ErrEmailNotVerified is returned for identities whose email the provider did not verify
	ErrEmailNotVerified = errors.New("email not verified by identity provider")

	// Custody failures.
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletDeactivated   = errors.New("wallet deactivated")
	ErrRecoveryCodeInvalid = errors.New("recovery code invalid")
	ErrRecoveryCodeExpired = errors.New("recovery code expired")
	ErrInvalidPublicKey    = errors.New("invalid public key")
	ErrInvalidPrivateKey   = errors.New("invalid private key")

	// Flow failures.
	ErrFlowNotFound    = errors.New("flow not found")
	ErrFlowTerminal    = errors.New("flow already finished")
	ErrTooManyAttempts = errors.New("too many attempts")
)
