package types

// Wallet is a custodially held keypair bound to exactly one identity.
// The private key is stored encrypted only; plaintext never leaves the
// custody service's call stack.
type Wallet struct {
	BaseDocument     `json:",inline"`
	WalletID         string `json:"walletId" validate:"required"`
	IdentityID       string `json:"identityId" validate:"required"`
	Email            string `json:"email" validate:"required,email"`
	Address          string `json:"address" validate:"required"`
	PublicKey        string `json:"publicKey" validate:"required"`        // base64 ed25519 public key
	PrivateKeySealed string `json:"privateKeySealed" validate:"required"` // base64 AEAD ciphertext, nonce prepended
	RecoveryEmail    string `json:"recoveryEmail,omitempty"`
	Active           bool   `json:"active"`
	Created          int64  `json:"created"`
	LastAccessed     int64  `json:"lastAccessed,omitempty"`
	Deactivated      int64  `json:"deactivated,omitempty"`
}

// EmailToWalletMapping resolves a hashed email to the owning identity so the
// wallet record can be found without knowing the identity id. Both paths must
// land on the same record.
type EmailToWalletMapping struct {
	BaseDocument `json:",inline"`
	HashedEmail  string `json:"hashedEmail"`
	IdentityID   string `json:"identityId"`
	WalletID     string `json:"walletId"`
}

// WalletAudit is an append-only record of wallet lifecycle and key access
// events. Audit documents are never updated or deleted.
type WalletAudit struct {
	BaseDocument `json:",inline"`
	WalletID     string `json:"walletId"`
	IdentityID   string `json:"identityId"`
	Event        string `json:"event"`   // created, deactivated, key_access, recovery_begin, recovery_complete
	Outcome      string `json:"outcome"` // ok or denied
	Created      int64  `json:"created"`
}

const (
	AuditEventCreated          = "created"
	AuditEventDeactivated      = "deactivated"
	AuditEventKeyAccess        = "key_access"
	AuditEventRecoveryBegin    = "recovery_begin"
	AuditEventRecoveryComplete = "recovery_complete"

	AuditOutcomeOK     = "ok"
	AuditOutcomeDenied = "denied"
)
