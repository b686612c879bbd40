package domain

// Identity is the assertion returned by the external identity provider after a code exchange.
type Identity struct {
	Issuer        string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// AuthenticatedUser is the internal view of a verified identity, ready for token issuance.
type AuthenticatedUser struct {
	UserID  string
	Email   string
	Role    Role
	Subject string
	Name    string
}
