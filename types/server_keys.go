package types

// ServerKeys is the on-disk JSON layout of the session signing key,
// generated with the keys CLI subcommand.
type ServerKeys struct {
	Type       string `json:"type"`
	PrivateKey string `json:"privateKey"` // base64 ed25519 private key (seed + public)
	Created    int64  `json:"created"`
}
