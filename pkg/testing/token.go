package testing

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// BearerToken returns an Authorization header value for userID, signed the
// way the identity provider signs its HS256 tokens. Valid for an hour.
func BearerToken(t *testing.T, secret, issuer, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": userID + "@liftlog.test",
		"iss":   issuer,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + token
}
