package types

// FlowState enumerates the login state machine. Terminal states are
// FlowComplete and FlowError; transitions out of them are ignored.
type FlowState string

const (
	FlowAuthenticating FlowState = "authenticating"
	FlowCreatingWallet FlowState = "creating-wallet"
	FlowVerifying      FlowState = "verifying"
	FlowComplete       FlowState = "complete"
	FlowError          FlowState = "error"
)

// ProviderSignal is the message the provider-flow context (the OAuth
// callback) passes back to the orchestrator. Exactly one signal is honored
// per flow; anything after a terminal state is dropped.
type ProviderSignal struct {
	State     string // anti-forgery state value, must match the registered flow
	Code      string // authorization code on success
	Err       string // provider error code on failure (e.g. access_denied)
	Cancelled bool
}

// FlowResult is the only data handed across the core boundary on complete.
type FlowResult struct {
	Identity      *Identity `json:"identity,omitempty"`
	WalletID      string    `json:"walletId,omitempty"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Token         string    `json:"token,omitempty"`
}

// AuthState is the persisted anti-forgery state nonce handed to the identity
// provider and validated on callback.
type AuthState struct {
	BaseDocument `json:",inline"`
	State        string `json:"state"`
	FlowID       string `json:"flowId"`
	Created      int64  `json:"created"`
}
