package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/starford/retroboard/internal/apperr"
)

// DefaultHeader is the request header read by HeaderAuthenticator.
const DefaultHeader = "X-User-Email"

// Authenticator resolves the principal of an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// HeaderAuthenticator trusts a header set by an upstream proxy that already
// completed sign-in. Intended for local development and trusted deployments.
type HeaderAuthenticator struct {
	Header string
}

// Authenticate implements Authenticator.
func (a HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	name := a.Header
	if name == "" {
		name = DefaultHeader
	}
	email := strings.TrimSpace(r.Header.Get(name))
	if email == "" {
		return "", fmt.Errorf("identity: missing %s header: %w", name, apperr.ErrUnauthenticated)
	}
	return email, nil
}

// TokenAuthenticator validates a bearer JWT and reads the principal from a
// claim. With a Secret it accepts HS256 tokens; with a JWKS it accepts RS256
// tokens signed by the identity provider.
type TokenAuthenticator struct {
	Secret     []byte
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	EmailClaim string
}

// NewJWKSAuthenticator fetches the key set at url and keeps it refreshed.
func NewJWKSAuthenticator(url, audience, issuer, emailClaim string) (*TokenAuthenticator, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("identity: fetch jwks: %w", err)
	}
	return &TokenAuthenticator{JWKS: jwks, Audience: audience, Issuer: issuer, EmailClaim: emailClaim}, nil
}

// Authenticate implements Authenticator. EventSource clients cannot set
// headers, so a "token" query parameter is accepted as a fallback.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	email, err := a.principal(raw)
	if err != nil {
		return "", fmt.Errorf("identity: %v: %w", err, apperr.ErrUnauthenticated)
	}
	return email, nil
}

func (a *TokenAuthenticator) principal(raw string) (string, error) {
	var (
		parser  *jwt.Parser
		keyFunc jwt.Keyfunc
	)
	switch {
	case a.JWKS != nil:
		parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
		keyFunc = a.JWKS.Keyfunc
	case len(a.Secret) > 0:
		parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(*jwt.Token) (interface{}, error) { return a.Secret, nil }
	default:
		return "", errors.New("no verification key configured")
	}

	token, err := parser.Parse(raw, keyFunc)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return "", errors.New("invalid issuer")
	}

	claim := a.EmailClaim
	if claim == "" {
		claim = "email"
	}
	email, _ := claims[claim].(string)
	if email == "" {
		return "", fmt.Errorf("missing %s claim", claim)
	}
	return email, nil
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok, nil
		}
		return "", fmt.Errorf("identity: missing authorization header: %w", apperr.ErrUnauthenticated)
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.Count(tok, ".") != 2 {
		return "", fmt.Errorf("identity: bad authorization header: %w", apperr.ErrUnauthenticated)
	}
	return tok, nil
}
