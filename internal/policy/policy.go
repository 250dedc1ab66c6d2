// Package policy decides who may see and change what on a board.
//
// The predicates here are pure. The same decisions are also expressed as
// store rules (see StoreRules) so that a client skipping the checks gains
// nothing, and as Redact, which strips hidden card text before anything
// leaves the process.
//
// The empty string is never a principal. identity.PrincipalFrom refuses it,
// and every predicate here denies it even against a record whose owner field
// is empty.
package policy

import "github.com/starford/retroboard/internal/models"

// IsAdmin reports whether principal created the board.
func IsAdmin(b models.Board, principal string) bool {
	return principal != "" && principal == b.CreatorEmail
}

// CanSeeContent reports whether principal may read the text of c.
func CanSeeContent(b models.Board, principal string, c models.Card) bool {
	if IsAdmin(b, principal) || b.CardsVisible {
		return true
	}
	return principal != "" && c.AuthorEmail == principal
}

// CanEdit reports whether principal may change the text or lane of c. Only
// the author can; the board admin is no exception.
func CanEdit(principal string, c models.Card) bool {
	return principal != "" && principal == c.AuthorEmail
}

// Redact returns a copy of cards with the text of every card principal may
// not see blanked out. Hidden cards are kept so they still count.
func Redact(b models.Board, principal string, cards []models.Card) []models.Card {
	out := make([]models.Card, len(cards))
	for i, c := range cards {
		if !CanSeeContent(b, principal, c) {
			c.Text = ""
		}
		out[i] = c
	}
	return out
}
