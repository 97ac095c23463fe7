package types

// completing the login from the provider callback
type InputAuthCallback struct {
	Code  string `form:"code"`
	State string `form:"state" validate:"required"`
	Error string `form:"error"`
}

type InputDeactivateWallet struct {
	WalletID string `json:"walletId" validate:"required"`
}

type InputBeginRecovery struct {
	Email string `json:"email" validate:"required,email"`
}

type InputCompleteRecovery struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}
