package api

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// secretParams are query parameters that never reach the access log.
var secretParams = []string{"token"}

type unredactedKey struct{}

// accessLog is chi's request logger fed a copy of the request with secret
// query parameters masked. Handlers further down still get the original.
// A nil out keeps chi's default stdout logger.
func accessLog(out io.Writer) func(http.Handler) http.Handler {
	logger := middleware.Logger
	if out != nil {
		logger = middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  log.New(out, "", log.LstdFlags),
			NoColor: true,
		})
	}
	return func(next http.Handler) http.Handler {
		restore := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orig, _ := r.Context().Value(unredactedKey{}).(*http.Request)
			next.ServeHTTP(w, orig.WithContext(r.Context()))
		})
		logged := logger(restore)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), unredactedKey{}, r)
			logged.ServeHTTP(w, redactQuery(r.WithContext(ctx)))
		})
	}
}

// redactQuery returns r unchanged when it carries no secret parameter, and
// otherwise a shallow copy whose URL and RequestURI mask the values.
func redactQuery(r *http.Request) *http.Request {
	q := r.URL.Query()
	found := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			found = true
		}
	}
	if !found {
		return r
	}
	masked := r.WithContext(r.Context())
	u := *r.URL
	u.RawQuery = q.Encode()
	masked.URL = &u
	masked.RequestURI = u.RequestURI()
	return masked
}
