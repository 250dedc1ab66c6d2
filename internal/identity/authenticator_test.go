package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/starford/retroboard/internal/apperr"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatal("empty context must carry no principal")
	}
	ctx := WithPrincipal(context.Background(), "alice@x.com")
	got, ok := PrincipalFrom(ctx)
	if !ok || got != "alice@x.com" {
		t.Errorf("principal = %q, %v", got, ok)
	}
	if _, ok := PrincipalFrom(WithPrincipal(context.Background(), "")); ok {
		t.Error("empty principal must not count")
	}
}

func TestStaticProvider(t *testing.T) {
	if _, ok := Static(" ").Current(); ok {
		t.Error("blank static provider must report none")
	}
	if email, ok := Static("bob@x.com").Current(); !ok || email != "bob@x.com" {
		t.Errorf("current = %q, %v", email, ok)
	}
}

func TestHeaderAuthenticator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := (HeaderAuthenticator{}).Authenticate(req); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("missing header err = %v", err)
	}
	req.Header.Set(DefaultHeader, " carol@x.com ")
	email, err := HeaderAuthenticator{}.Authenticate(req)
	if err != nil || email != "carol@x.com" {
		t.Errorf("email = %q, err = %v", email, err)
	}
}

func TestTokenAuthenticatorHS256(t *testing.T) {
	secret := []byte("test-secret")
	a := &TokenAuthenticator{Secret: secret, Audience: "retro", Issuer: "https://issuer/"}
	signed := signHS256(t, secret, jwt.MapClaims{
		"email": "alice@x.com",
		"aud":   "retro",
		"iss":   "https://issuer/",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	email, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if email != "alice@x.com" {
		t.Errorf("email = %q", email)
	}

	// Query parameter fallback for EventSource clients.
	req = httptest.NewRequest(http.MethodGet, "/?token="+signed, nil)
	if email, err := a.Authenticate(req); err != nil || email != "alice@x.com" {
		t.Errorf("query token: email = %q, err = %v", email, err)
	}
}

func TestTokenAuthenticatorRejects(t *testing.T) {
	secret := []byte("test-secret")
	a := &TokenAuthenticator{Secret: secret, Audience: "retro"}

	cases := map[string]string{
		"wrong secret": signHS256(t, []byte("other"), jwt.MapClaims{"email": "a@x.com", "aud": "retro"}),
		"expired":      signHS256(t, secret, jwt.MapClaims{"email": "a@x.com", "aud": "retro", "exp": time.Now().Add(-time.Hour).Unix()}),
		"audience":     signHS256(t, secret, jwt.MapClaims{"email": "a@x.com", "aud": "other"}),
		"no email":     signHS256(t, secret, jwt.MapClaims{"sub": "123", "aud": "retro"}),
	}
	for name, tok := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		if _, err := a.Authenticate(req); !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Errorf("%s: err = %v, want unauthenticated", name, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if _, err := a.Authenticate(req); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("basic scheme err = %v", err)
	}
}

func TestTokenAuthenticatorCustomClaim(t *testing.T) {
	secret := []byte("s")
	a := &TokenAuthenticator{Secret: secret, EmailClaim: "upn"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, secret, jwt.MapClaims{"upn": "dave@x.com"}))
	if email, err := a.Authenticate(req); err != nil || email != "dave@x.com" {
		t.Errorf("email = %q, err = %v", email, err)
	}
}
