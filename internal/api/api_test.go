package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/starford/retroboard/internal/boards"
	"github.com/starford/retroboard/internal/identity"
	"github.com/starford/retroboard/internal/testutil"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
)

// testEnv builds the full HTTP stack over an in-memory store, authenticated
// by the X-User-Email header.
func testEnv(t *testing.T) http.Handler {
	t.Helper()
	return NewServer(testutil.MemService(t), identity.HeaderAuthenticator{}, testutil.Logger(),
		WithoutAccessLog(), WithKeepalive(50*time.Millisecond))
}

func do(t *testing.T, h http.Handler, method, path, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if email != "" {
		req.Header.Set(identity.DefaultHeader, email)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func createBoard(t *testing.T, h http.Handler, email, name string) boards.Created {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/boards", email, CreateBoardRequest{Name: name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create board status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[boards.Created](t, w)
}

func addCard(t *testing.T, h http.Handler, email, code, laneID, text string) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/boards/"+code+"/cards", email, CreateCardRequest{LaneID: laneID, Text: text})
	if w.Code != http.StatusCreated {
		t.Fatalf("add card status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[CreateCardResponse](t, w).ID
}

func getView(t *testing.T, h http.Handler, email, code string) BoardView {
	t.Helper()
	w := do(t, h, http.MethodGet, "/api/boards/"+code, email, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get board status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[BoardView](t, w)
}

func TestHealth(t *testing.T) {
	h := testEnv(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		w := do(t, h, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
	}
}

func TestRequiresPrincipal(t *testing.T) {
	h := testEnv(t)
	w := do(t, h, http.MethodGet, "/api/boards", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := decode[errResponse](t, w).Error; got != "unauthenticated" {
		t.Fatalf("error = %q", got)
	}
}

func TestAccessLogRedactsToken(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": alice,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var logged bytes.Buffer
	h := NewServer(testutil.MemService(t), &identity.TokenAuthenticator{Secret: secret}, testutil.Logger(),
		WithAccessLogOutput(&logged))

	req := httptest.NewRequest(http.MethodGet, "/api/boards?token="+token, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	line := logged.String()
	if !strings.Contains(line, "/api/boards?token=REDACTED") {
		t.Fatalf("access log = %q, want masked token", line)
	}
	if strings.Contains(line, token) {
		t.Fatalf("access log leaks the token: %q", line)
	}
}

func TestBoardLifecycle(t *testing.T) {
	h := testEnv(t)
	created := createBoard(t, h, alice, "  Sprint 42  ")
	if len(created.Code) != 6 {
		t.Fatalf("code = %q", created.Code)
	}

	// Codes are normalised before lookup.
	v := getView(t, h, bob, strings.ToLower(created.Code))
	if v.Name != "Sprint 42" || v.IsAdmin || len(v.Lanes) != 3 {
		t.Fatalf("unexpected view for bob: %+v", v)
	}

	addCard(t, h, bob, created.Code, "1", "standups ran long")

	v = getView(t, h, alice, created.Code)
	c := v.Lanes[0].Cards
	if len(c) != 1 || !c[0].Hidden || c[0].Text != "" || c[0].AuthorEmail != "" {
		t.Fatalf("bob's card should be hidden from alice: %+v", c)
	}
	if !v.IsAdmin {
		t.Fatal("alice is the admin")
	}

	w := do(t, h, http.MethodPut, "/api/boards/"+created.Code+"/visibility", alice, VisibilityRequest{CardsVisible: ptr(true)})
	if w.Code != http.StatusOK {
		t.Fatalf("visibility status = %d, body = %s", w.Code, w.Body.String())
	}
	v = getView(t, h, alice, created.Code)
	if c := v.Lanes[0].Cards[0]; c.Hidden || c.Text != "standups ran long" || c.Editable {
		t.Fatalf("card after reveal: %+v", c)
	}

	w = do(t, h, http.MethodGet, "/api/boards", bob, nil)
	list := decode[BoardListResponse](t, w).Boards
	if len(list) != 1 || list[0].ID != created.ID || list[0].IsAdmin {
		t.Fatalf("bob's boards = %+v", list)
	}

	w = do(t, h, http.MethodDelete, "/api/boards/"+created.Code, alice, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/boards/"+created.Code, alice, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := testEnv(t)
	created := createBoard(t, h, alice, "Retro")
	card := addCard(t, h, bob, created.Code, "2", "deploys were slow")
	base := "/api/boards/" + created.Code

	cases := []struct {
		name   string
		method string
		path   string
		email  string
		body   any
		want   int
	}{
		{"bad json", http.MethodPost, "/api/boards", alice, "{", http.StatusBadRequest},
		{"blank name", http.MethodPost, "/api/boards", alice, CreateBoardRequest{Name: "  "}, http.StatusUnprocessableEntity},
		{"unknown code", http.MethodGet, "/api/boards/ZZZZZZ", alice, nil, http.StatusNotFound},
		{"visibility not admin", http.MethodPut, base + "/visibility", bob, VisibilityRequest{CardsVisible: ptr(true)}, http.StatusForbidden},
		{"visibility missing", http.MethodPut, base + "/visibility", alice, map[string]any{}, http.StatusUnprocessableEntity},
		{"delete not admin", http.MethodDelete, base, bob, nil, http.StatusForbidden},
		{"add lane not admin", http.MethodPost, base + "/lanes", bob, LaneRequest{Name: "Kudos"}, http.StatusForbidden},
		{"rename unknown lane", http.MethodPatch, base + "/lanes/nope", alice, LaneRequest{Name: "Kudos"}, http.StatusNotFound},
		{"blank card", http.MethodPost, base + "/cards", bob, CreateCardRequest{LaneID: "1", Text: " "}, http.StatusUnprocessableEntity},
		{"card unknown lane", http.MethodPost, base + "/cards", bob, CreateCardRequest{LaneID: "9", Text: "x"}, http.StatusUnprocessableEntity},
		{"edit not author", http.MethodPatch, base + "/cards/" + card, alice, UpdateCardRequest{Text: ptr("mine now")}, http.StatusForbidden},
		{"move not author", http.MethodPatch, base + "/cards/" + card, alice, UpdateCardRequest{LaneID: ptr("3")}, http.StatusForbidden},
		{"edit unknown card", http.MethodPatch, base + "/cards/nope", bob, UpdateCardRequest{Text: ptr("x")}, http.StatusNotFound},
		{"empty patch", http.MethodPatch, base + "/cards/" + card, bob, map[string]any{}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, tc.method, tc.path, tc.email, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tc.want, w.Body.String())
			}
		})
	}

	// None of the rejected calls changed the card.
	v := getView(t, h, bob, created.Code)
	if c := v.Lanes[1].Cards; len(c) != 1 || c[0].Text != "deploys were slow" {
		t.Fatalf("card changed: %+v", c)
	}
}

func TestLaneRoutes(t *testing.T) {
	h := testEnv(t)
	created := createBoard(t, h, alice, "Retro")
	base := "/api/boards/" + created.Code

	w := do(t, h, http.MethodPost, base+"/lanes", alice, LaneRequest{Name: "Kudos"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add lane status = %d, body = %s", w.Code, w.Body.String())
	}
	lane := decode[LaneResponse](t, w)
	if lane.ID == "" || lane.Order != 3 {
		t.Fatalf("lane = %+v", lane)
	}

	w = do(t, h, http.MethodPatch, base+"/lanes/"+lane.ID, alice, LaneRequest{Name: "Shout-outs"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("rename status = %d, body = %s", w.Code, w.Body.String())
	}

	addCard(t, h, bob, created.Code, lane.ID, "thanks for the demo")
	addCard(t, h, alice, created.Code, lane.ID, "great pairing")

	v := getView(t, h, alice, created.Code)
	if got := v.Lanes[3]; got.Name != "Shout-outs" || len(got.Cards) != 2 {
		t.Fatalf("lane view = %+v", got)
	}

	w = do(t, h, http.MethodDelete, base+"/lanes/"+lane.ID, alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete lane status = %d, body = %s", w.Code, w.Body.String())
	}
	if n := decode[DeleteLaneResponse](t, w).DeletedCards; n != 2 {
		t.Fatalf("deletedCards = %d, want 2", n)
	}
	if v := getView(t, h, alice, created.Code); len(v.Lanes) != 3 {
		t.Fatalf("lanes after delete = %d", len(v.Lanes))
	}
}

func TestEditAndMoveCard(t *testing.T) {
	h := testEnv(t)
	created := createBoard(t, h, alice, "Retro")
	card := addCard(t, h, bob, created.Code, "1", "first try")
	path := "/api/boards/" + created.Code + "/cards/" + card

	w := do(t, h, http.MethodPatch, path, bob, UpdateCardRequest{Text: ptr(" second try "), LaneID: ptr("3")})
	if w.Code != http.StatusNoContent {
		t.Fatalf("patch status = %d, body = %s", w.Code, w.Body.String())
	}

	v := getView(t, h, bob, created.Code)
	if len(v.Lanes[0].Cards) != 0 {
		t.Fatalf("card still in first lane: %+v", v.Lanes[0].Cards)
	}
	c := v.Lanes[2].Cards
	if len(c) != 1 || c[0].Text != "second try" || !c[0].Editable {
		t.Fatalf("moved card = %+v", c)
	}

	// Dropping onto the current lane is accepted and changes nothing.
	w = do(t, h, http.MethodPatch, path, bob, UpdateCardRequest{LaneID: ptr("3")})
	if w.Code != http.StatusNoContent {
		t.Fatalf("same-lane drop status = %d", w.Code)
	}
}

func TestGetBoardETag(t *testing.T) {
	h := testEnv(t)
	created := createBoard(t, h, alice, "Retro")
	path := "/api/boards/" + created.Code

	first := do(t, h, http.MethodGet, path, alice, nil)
	etag := first.Header().Get("ETag")
	if first.Code != http.StatusOK || etag == "" {
		t.Fatalf("status = %d, etag = %q", first.Code, etag)
	}

	conditional := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(identity.DefaultHeader, alice)
		req.Header.Set("If-None-Match", etag)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}
	w := conditional()
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("conditional get status = %d, body = %q", w.Code, w.Body.String())
	}

	addCard(t, h, bob, created.Code, "1", "new")
	w = conditional()
	if w.Code != http.StatusOK || w.Header().Get("ETag") == etag {
		t.Fatalf("after change status = %d, etag = %q", w.Code, w.Header().Get("ETag"))
	}
}

type sseEvent struct {
	Type string
	Data string
}

// readEvents parses an event stream, skipping keepalive comments.
func readEvents(body io.Reader, out chan<- sseEvent) {
	defer close(out)
	sc := bufio.NewScanner(body)
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.Type != "":
			out <- ev
			ev = sseEvent{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent, want string) sseEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream ended before %q", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestBoardEvents(t *testing.T) {
	h := testEnv(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	created := createBoard(t, h, alice, "Retro")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/boards/"+created.Code+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(identity.DefaultHeader, bob)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	events := make(chan sseEvent, 16)
	go readEvents(resp.Body, events)

	first := nextEvent(t, events, EventBoard)
	var v BoardView
	if err := json.Unmarshal([]byte(first.Data), &v); err != nil {
		t.Fatalf("decode board event: %v", err)
	}
	if v.ID != created.ID || len(v.Lanes) != 3 {
		t.Fatalf("first view = %+v", v)
	}

	addCard(t, h, alice, created.Code, "2", "secret")
	for {
		ev := nextEvent(t, events, EventBoard)
		if err := json.Unmarshal([]byte(ev.Data), &v); err != nil {
			t.Fatal(err)
		}
		if len(v.Lanes[1].Cards) == 1 {
			break
		}
	}
	if c := v.Lanes[1].Cards[0]; !c.Hidden || strings.Contains(first.Data+c.Text, "secret") {
		t.Fatalf("streamed card leaked content: %+v", c)
	}

	if w := do(t, h, http.MethodDelete, "/api/boards/"+created.Code, alice, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	nextEvent(t, events, EventBoardDeleted)
}

func TestBoardEventsUnknownBoard(t *testing.T) {
	h := testEnv(t)
	w := do(t, h, http.MethodGet, "/api/boards/NOPE00/events", bob, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func ptr[T any](v T) *T { return &v }
