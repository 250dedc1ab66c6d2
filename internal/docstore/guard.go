package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/identity"
)

// Action is the kind of access a rule is asked to allow.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Request describes one access a Guard is about to perform.
type Request struct {
	Principal  string
	Action     Action
	Collection string
	ID         string
	// Existing is the stored document for update and delete.
	Existing *Snapshot
	// Doc is the document as it would be after a create or update.
	Doc Document
	// Store gives rules read access to other documents, unguarded.
	Store Store
}

// Changed reports whether field differs between Existing and Doc.
func (r Request) Changed(field string) bool {
	if r.Existing == nil {
		return false
	}
	before, hadBefore := r.Existing.Data[field]
	after, hasAfter := r.Doc[field]
	if hadBefore != hasAfter {
		return true
	}
	return !Matches(Document{field: after}, []Filter{Where(field, before)})
}

// Rule allows a request by returning nil. Any error denies it; errors that
// do not already wrap an apperr sentinel are reported as apperr.ErrForbidden.
type Rule func(ctx context.Context, req Request) error

// Rules are the per-action rules of one collection. A nil rule denies.
type Rules struct {
	Read   Rule
	Create Rule
	Update Rule
	Delete Rule
}

// Ruleset maps collection names to their rules. Collections without an entry
// are not accessible through a Guard.
type Ruleset map[string]Rules

const guardRetries = 5

// Guard is a Store that checks every access against a Ruleset using the
// principal carried by the context. An unauthenticated context is refused
// with apperr.ErrUnauthenticated.
type Guard struct {
	inner Store
	rules Ruleset
}

// NewGuard wraps inner with rules.
func NewGuard(inner Store, rules Ruleset) *Guard {
	return &Guard{inner: inner, rules: rules}
}

func (g *Guard) check(ctx context.Context, req Request) error {
	principal, ok := identity.PrincipalFrom(ctx)
	if !ok {
		return fmt.Errorf("docstore: %s %s: %w", req.Action, req.Collection, apperr.ErrUnauthenticated)
	}
	req.Principal = principal
	req.Store = g.inner

	rules, ok := g.rules[req.Collection]
	var rule Rule
	if ok {
		switch req.Action {
		case ActionRead:
			rule = rules.Read
		case ActionCreate:
			rule = rules.Create
		case ActionUpdate:
			rule = rules.Update
		case ActionDelete:
			rule = rules.Delete
		}
	}
	if rule == nil {
		return fmt.Errorf("docstore: %s %s denied: %w", req.Action, req.Collection, apperr.ErrForbidden)
	}
	if err := rule(ctx, req); err != nil {
		if isSentinel(err) {
			return err
		}
		return fmt.Errorf("docstore: %s %s/%s denied: %v: %w", req.Action, req.Collection, req.ID, err, apperr.ErrForbidden)
	}
	return nil
}

func isSentinel(err error) bool {
	for _, s := range []error{apperr.ErrForbidden, apperr.ErrNotFound, apperr.ErrInvalid, apperr.ErrUnauthenticated, apperr.ErrConflict} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func (g *Guard) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := g.check(ctx, Request{Action: ActionRead, Collection: collection, ID: id}); err != nil {
		return Snapshot{}, err
	}
	return g.inner.Get(ctx, collection, id)
}

func (g *Guard) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	if err := g.check(ctx, Request{Action: ActionRead, Collection: collection}); err != nil {
		return nil, err
	}
	return g.inner.Query(ctx, collection, filters...)
}

func (g *Guard) Watch(ctx context.Context, collection string) (<-chan Change, error) {
	if err := g.check(ctx, Request{Action: ActionRead, Collection: collection}); err != nil {
		return nil, err
	}
	return g.inner.Watch(ctx, collection)
}

func (g *Guard) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	raw, err := Encode(doc, g.inner.Now())
	if err != nil {
		return "", err
	}
	resolved, err := Decode(raw)
	if err != nil {
		return "", err
	}
	if err := g.check(ctx, Request{Action: ActionCreate, Collection: collection, Doc: resolved}); err != nil {
		return "", err
	}
	return g.inner.Insert(ctx, collection, doc)
}

// Update checks the rule against the stored document and commits only if it
// is still at the version that was checked. Without a caller IfVersion, a
// racing write causes a bounded number of re-checks.
func (g *Guard) Update(ctx context.Context, collection, id string, partial Document, opts ...WriteOption) error {
	want := ApplyWriteOptions(opts).IfVersion
	for attempt := 0; ; attempt++ {
		existing, err := g.inner.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		if want != 0 && existing.Version != want {
			return fmt.Errorf("docstore: update %s/%s at v%d, stored v%d: %w", collection, id, want, existing.Version, apperr.ErrConflict)
		}
		raw, err := Encode(existing.Data, time.Time{})
		if err != nil {
			return err
		}
		merged, err := Merge(raw, partial, g.inner.Now())
		if err != nil {
			return err
		}
		after, err := Decode(merged)
		if err != nil {
			return err
		}
		req := Request{Action: ActionUpdate, Collection: collection, ID: id, Existing: &existing, Doc: after}
		if err := g.check(ctx, req); err != nil {
			return err
		}
		err = g.inner.Update(ctx, collection, id, partial, IfVersion(existing.Version))
		if err == nil || !errors.Is(err, apperr.ErrConflict) || want != 0 || attempt+1 >= guardRetries {
			return err
		}
	}
}

// Delete of a missing document succeeds without consulting the rules.
func (g *Guard) Delete(ctx context.Context, collection, id string) error {
	if _, ok := identity.PrincipalFrom(ctx); !ok {
		return fmt.Errorf("docstore: delete %s: %w", collection, apperr.ErrUnauthenticated)
	}
	existing, err := g.inner.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := g.check(ctx, Request{Action: ActionDelete, Collection: collection, ID: id, Existing: &existing, Doc: existing.Data}); err != nil {
		return err
	}
	return g.inner.Delete(ctx, collection, id)
}

func (g *Guard) Now() time.Time { return g.inner.Now() }

// Ping checks the wrapped store's connectivity when it can report one.
func (g *Guard) Ping(ctx context.Context) error {
	if p, ok := g.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the wrapped store.
func (g *Guard) Close() error { return g.inner.Close() }

var _ Store = (*Guard)(nil)
