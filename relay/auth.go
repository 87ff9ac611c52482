package relay

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks the shared secret sent in the authorization header.
type Authenticator struct {
	Token string
	// TokenHash is a bcrypt hash of the token. When set, Token is ignored.
	TokenHash string
}

// Authenticate returns ErrUnauthorized if header is empty or does not match the configured token.
func (a Authenticator) Authenticate(header string) error {
	if header == "" {
		return ErrUnauthorized
	}
	if a.TokenHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(a.TokenHash), []byte(header)) != nil {
			return ErrUnauthorized
		}
		return nil
	}
	if a.Token == "" || subtle.ConstantTimeCompare([]byte(header), []byte(a.Token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
