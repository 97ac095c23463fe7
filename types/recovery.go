package types

// RecoveryRequest stores only the digest of the one-time code, never the
// code itself. Consumed at most once.
type RecoveryRequest struct {
	BaseDocument `json:",inline"`
	HashedEmail  string `json:"hashedEmail"`
	CodeDigest   string `json:"codeDigest"` // hex sha256 of the one-time code
	Created      int64  `json:"created"`
	Expires      int64  `json:"expires"`
}
