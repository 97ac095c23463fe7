package types

const (
	// QueueTypeRecoveryEmail delivers a one-time recovery code to the
	// configured delivery webhook.
	QueueTypeRecoveryEmail = "recovery:email"
)

// RecoveryEmailTask is the asynq payload for recovery code delivery.
type RecoveryEmailTask struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}
