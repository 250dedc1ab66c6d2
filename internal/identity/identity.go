// Package identity carries the authenticated principal through a request.
//
// The principal is the user's email address. It is issued by an external
// identity provider and treated here as an opaque, already validated string.
package identity

import (
	"context"
	"strings"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the given principal.
func WithPrincipal(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, principalKey{}, email)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(principalKey{}).(string)
	if !ok || email == "" {
		return "", false
	}
	return email, true
}

// Provider is the synchronous "current principal or none" accessor.
type Provider interface {
	Current() (string, bool)
}

// Static is a Provider that always answers with the same principal.
// It backs the CLI and MCP surfaces, which act on behalf of one user.
type Static string

// Current implements Provider.
func (s Static) Current() (string, bool) {
	email := strings.TrimSpace(string(s))
	return email, email != ""
}
