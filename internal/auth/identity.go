package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTokenExpired    = errors.New("token expired")
)

// Identity is the authenticated user as reported by the identity provider.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

//go:generate mockgen -source=$GOFILE -destination=../middleware/auth_mocks_test.go -package=middleware_test

type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (Identity, error)
}

type identityCtxKey struct{}
type tokenCtxKey struct{}

func NewContext(ctx context.Context, identity Identity, bearerToken string) context.Context {
	ctx = context.WithValue(ctx, identityCtxKey{}, identity)
	return context.WithValue(ctx, tokenCtxKey{}, bearerToken)
}

func FromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityCtxKey{}).(Identity)
	return identity, ok
}

// TokenFromContext returns the bearer token the request was authenticated with.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenCtxKey{}).(string)
	return token, ok && token != ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
