// Package identity resolves the authenticated user of a request. Sign-in
// happens upstream; this package only reads what the authenticating proxy set.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("no authenticated user")

// Provider resolves the user a request is made for.
type Provider interface {
	UserID(header http.Header) (string, error)
}

// HeaderProvider reads the user ID from a header set by an authenticating proxy.
type HeaderProvider struct {
	Header string
}

func NewHeaderProvider(header string) HeaderProvider {
	if header == "" {
		header = "X-User-Id"
	}
	return HeaderProvider{Header: header}
}

func (p HeaderProvider) UserID(header http.Header) (string, error) {
	userID := strings.TrimSpace(header.Get(p.Header))
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// Static always resolves to the same user. It backs the command line, where the
// user is given as a flag.
type Static string

func (s Static) UserID(http.Header) (string, error) {
	if s == "" {
		return "", ErrUnauthenticated
	}
	return string(s), nil
}

type contextKey struct{}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFrom returns the user stored by WithUser.
func UserFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}
