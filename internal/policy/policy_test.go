package policy

import (
	"testing"

	"github.com/starford/retroboard/internal/models"
)

var principals = []string{"alice@x.com", "bob@x.com", "carol@x.com", ""}

func boardsFor(creator string) []models.Board {
	return []models.Board{
		{ID: "b", CreatorEmail: creator, CardsVisible: false},
		{ID: "b", CreatorEmail: creator, CardsVisible: true},
	}
}

func TestCreatorIsAlwaysAdmin(t *testing.T) {
	for _, creator := range principals[:3] {
		for _, b := range boardsFor(creator) {
			if !IsAdmin(b, creator) {
				t.Errorf("IsAdmin(%+v, %q) = false", b, creator)
			}
			for _, p := range principals {
				if p != creator && IsAdmin(b, p) {
					t.Errorf("IsAdmin(%+v, %q) = true", b, p)
				}
			}
		}
	}
}

func TestCanSeeContentMonotonicInVisibility(t *testing.T) {
	for _, creator := range principals[:3] {
		for _, author := range principals[:3] {
			card := models.Card{ID: "c", AuthorEmail: author}
			hidden := models.Board{CreatorEmail: creator, CardsVisible: false}
			shown := models.Board{CreatorEmail: creator, CardsVisible: true}
			for _, p := range principals {
				if CanSeeContent(hidden, p, card) && !CanSeeContent(shown, p, card) {
					t.Errorf("visible while hidden but not when shown: creator=%s author=%s p=%q", creator, author, p)
				}
			}
		}
	}
}

func TestCanEditOnlyAuthor(t *testing.T) {
	for _, author := range principals[:3] {
		card := models.Card{AuthorEmail: author}
		for _, p := range principals {
			if got, want := CanEdit(p, card), p == author; got != want {
				t.Errorf("CanEdit(%q, author=%q) = %v, want %v", p, author, got, want)
			}
		}
	}
	// An empty principal never matches an empty author.
	if CanEdit("", models.Card{}) {
		t.Error("empty principal can edit")
	}
}

func TestEmptyPrincipalOwnsNothing(t *testing.T) {
	orphan := models.Board{}
	if IsAdmin(orphan, "") {
		t.Error("empty principal is admin of a board without creator")
	}
	if CanSeeContent(orphan, "", models.Card{Text: "x"}) {
		t.Error("empty principal sees an unowned hidden card")
	}
}

func TestCanSeeContentHiddenBoard(t *testing.T) {
	b := models.Board{CreatorEmail: "alice@x.com"}
	card := models.Card{AuthorEmail: "bob@x.com", Text: "Ship it"}

	cases := map[string]bool{
		"alice@x.com": true,
		"bob@x.com":   true,
		"carol@x.com": false,
		"":            false,
	}
	for p, want := range cases {
		if got := CanSeeContent(b, p, card); got != want {
			t.Errorf("CanSeeContent(%q) = %v, want %v", p, got, want)
		}
	}

	b.CardsVisible = true
	if !CanSeeContent(b, "carol@x.com", card) {
		t.Error("carol cannot see card on visible board")
	}
}

func TestRedact(t *testing.T) {
	b := models.Board{CreatorEmail: "alice@x.com"}
	in := []models.Card{
		{ID: "1", AuthorEmail: "bob@x.com", Text: "bob's"},
		{ID: "2", AuthorEmail: "carol@x.com", Text: "carol's"},
	}
	out := Redact(b, "carol@x.com", in)
	if len(out) != 2 {
		t.Fatalf("redact dropped cards: %d", len(out))
	}
	if out[0].Text != "" || out[1].Text != "carol's" {
		t.Errorf("redacted = %+v", out)
	}
	if in[0].Text != "bob's" {
		t.Error("Redact modified its input")
	}

	admin := Redact(b, "alice@x.com", in)
	if admin[0].Text != "bob's" || admin[1].Text != "carol's" {
		t.Errorf("admin view = %+v", admin)
	}
}
