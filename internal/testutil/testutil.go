// Package testutil provides shared test helpers for building services over
// throwaway stores.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/retroboard/internal/boardservice"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/docstore/memstore"
	"github.com/starford/retroboard/internal/docstore/sqlstore"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MemService returns a board service over a fresh in-memory store, closed
// when the test ends.
func MemService(t *testing.T) *boardservice.Service {
	t.Helper()
	return service(t, memstore.New())
}

// SQLiteService returns a board service over a temporary SQLite database.
func SQLiteService(t *testing.T) *boardservice.Service {
	t.Helper()
	store, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "retro.db"), sqlstore.WithLogger(Logger()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return service(t, store)
}

func service(t *testing.T, store docstore.Store) *boardservice.Service {
	t.Helper()
	svc := boardservice.New(store, Logger())
	t.Cleanup(func() { svc.Close() })
	return svc
}
