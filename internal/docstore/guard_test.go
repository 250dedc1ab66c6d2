package docstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/docstore"
	"github.com/starford/retroboard/internal/docstore/memstore"
	"github.com/starford/retroboard/internal/identity"
)

func ownerRules() docstore.Ruleset {
	owner := func(_ context.Context, req docstore.Request) error {
		if req.Doc["owner"] != req.Principal {
			return errors.New("not the owner")
		}
		return nil
	}
	return docstore.Ruleset{
		"notes": {
			Read:   func(context.Context, docstore.Request) error { return nil },
			Create: owner,
			Update: func(ctx context.Context, req docstore.Request) error {
				if req.Existing.Data["owner"] != req.Principal {
					return errors.New("not the owner")
				}
				if req.Changed("owner") {
					return errors.New("owner is immutable")
				}
				return nil
			},
			Delete: owner,
		},
	}
}

func TestGuardRequiresPrincipal(t *testing.T) {
	g := docstore.NewGuard(memstore.New(), ownerRules())
	defer g.Close()

	_, err := g.Query(context.Background(), "notes")
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("err = %v, want unauthenticated", err)
	}
	if err := g.Delete(context.Background(), "notes", "x"); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("delete err = %v, want unauthenticated", err)
	}
}

func TestGuardUnknownCollectionDenied(t *testing.T) {
	g := docstore.NewGuard(memstore.New(), ownerRules())
	defer g.Close()
	ctx := identity.WithPrincipal(context.Background(), "a@x")
	if _, err := g.Query(ctx, "secrets"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestGuardCreateUpdateDelete(t *testing.T) {
	g := docstore.NewGuard(memstore.New(), ownerRules())
	defer g.Close()
	alice := identity.WithPrincipal(context.Background(), "alice@x")
	bob := identity.WithPrincipal(context.Background(), "bob@x")

	if _, err := g.Insert(alice, "notes", docstore.Document{"owner": "bob@x"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("forged create err = %v", err)
	}
	id, err := g.Insert(alice, "notes", docstore.Document{"owner": "alice@x", "text": "hi"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := g.Update(bob, "notes", id, docstore.Document{"text": "pwned"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("foreign update err = %v", err)
	}
	if err := g.Update(alice, "notes", id, docstore.Document{"owner": "bob@x"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("owner change err = %v", err)
	}
	if err := g.Update(alice, "notes", id, docstore.Document{"text": "edited"}); err != nil {
		t.Fatalf("own update: %v", err)
	}
	if err := g.Update(alice, "notes", id, docstore.Document{"text": "stale"}, docstore.IfVersion(1)); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale update err = %v", err)
	}

	snap, err := g.Get(bob, "notes", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Data["text"] != "edited" {
		t.Errorf("text = %v", snap.Data["text"])
	}

	if err := g.Delete(bob, "notes", id); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("foreign delete err = %v", err)
	}
	if err := g.Delete(alice, "notes", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := g.Delete(bob, "notes", id); err != nil {
		t.Fatalf("delete of missing doc: %v", err)
	}
}

func TestGuardUpdateMissing(t *testing.T) {
	g := docstore.NewGuard(memstore.New(), ownerRules())
	defer g.Close()
	ctx := identity.WithPrincipal(context.Background(), "a@x")
	if err := g.Update(ctx, "notes", "nope", docstore.Document{"text": "x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
