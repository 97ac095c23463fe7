package types

// Session is the verified content of a signed session token. Sessions are
// stateless: they exist only as tokens and are never stored server-side.
type Session struct {
	IdentityID    string `json:"identityId"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	WalletID      string `json:"walletId,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	IssuedAt      int64  `json:"issuedAt"`
	ExpiresAt     int64  `json:"expiresAt"`
}

type SessionToken struct {
	Token string `json:"token"`
}
