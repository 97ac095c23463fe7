package types

// Identity is a verified assertion from the identity provider of who the user
// is. It is re-fetched on every login and never cached long-term.
type Identity struct {
	ID            string `json:"id" validate:"required"` // provider subject id
	Email         string `json:"email" validate:"required,email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
}
