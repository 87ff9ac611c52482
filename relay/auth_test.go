package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	cases := []struct {
		name   string
		auth   Authenticator
		header string
		expErr error
	}{
		{name: "matching token", auth: Authenticator{Token: "secret"}, header: "secret"},
		{name: "missing header", auth: Authenticator{Token: "secret"}, header: "", expErr: ErrUnauthorized},
		{name: "wrong token", auth: Authenticator{Token: "secret"}, header: "Secret", expErr: ErrUnauthorized},
		{name: "token prefix", auth: Authenticator{Token: "secret"}, header: "secre", expErr: ErrUnauthorized},
		{name: "no token configured", auth: Authenticator{}, header: "anything", expErr: ErrUnauthorized},
		{name: "matching hash", auth: Authenticator{TokenHash: string(hash)}, header: "hashed-secret"},
		{name: "wrong hash", auth: Authenticator{TokenHash: string(hash)}, header: "secret", expErr: ErrUnauthorized},
		{
			name:   "hash takes precedence over token",
			auth:   Authenticator{Token: "secret", TokenHash: string(hash)},
			header: "secret",
			expErr: ErrUnauthorized,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.auth.Authenticate(c.header)
			if c.expErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, c.expErr)
		})
	}
}
