package types

type OutputLoginStarted struct {
	FlowID  string `json:"flowId"`
	AuthURL string `json:"authUrl"`
}

type OutputFlowStatus struct {
	FlowID  string      `json:"flowId"`
	State   FlowState   `json:"state"`
	Cause   string      `json:"cause,omitempty"`
	Attempt int         `json:"attempt,omitempty"`
	Result  *FlowResult `json:"result,omitempty"`
}

// OutputWalletSummary exposes only public wallet fields; key material never
// crosses this boundary.
type OutputWalletSummary struct {
	WalletID string `json:"walletId"`
	Address  string `json:"address"`
	Active   bool   `json:"active"`
	Created  int64  `json:"created"`
}

type OutputSessionInfo struct {
	IdentityID    string `json:"identityId"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	WalletID      string `json:"walletId,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	ExpiresAt     int64  `json:"expiresAt"`
}
