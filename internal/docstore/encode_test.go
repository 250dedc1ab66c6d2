package docstore

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeResolvesServerTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	raw, err := Encode(Document{"id": "dropped", "createdAt": ServerTimestamp, "name": "x"}, now)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	doc, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := doc["id"]; ok {
		t.Error("id should not be stored in the body")
	}
	if doc["createdAt"] != now.Format(time.RFC3339Nano) {
		t.Errorf("createdAt = %v", doc["createdAt"])
	}
}

func TestUnresolvedServerTimestampFails(t *testing.T) {
	if _, err := json.Marshal(map[string]any{"at": ServerTimestamp}); err == nil {
		t.Fatal("expected marshal of raw sentinel to fail")
	}
}

func TestMergeOverlaysTopLevel(t *testing.T) {
	stored := []byte(`{"name":"a","lanes":[{"id":"1"}],"cardsVisible":false}`)
	merged, err := Merge(stored, Document{"cardsVisible": true, "lanes": []any{}}, time.Now())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	doc, _ := Decode(merged)
	if doc["name"] != "a" || doc["cardsVisible"] != true {
		t.Errorf("merged = %v", doc)
	}
	if lanes, ok := doc["lanes"].([]any); !ok || len(lanes) != 0 {
		t.Errorf("lanes should be replaced wholesale, got %v", doc["lanes"])
	}
}

func TestMatches(t *testing.T) {
	doc, _ := Decode([]byte(`{"boardId":"b1","n":3,"ok":true}`))
	cases := []struct {
		filters []Filter
		want    bool
	}{
		{nil, true},
		{[]Filter{Where("boardId", "b1")}, true},
		{[]Filter{Where("boardId", "b2")}, false},
		{[]Filter{Where("n", 3)}, true},
		{[]Filter{Where("ok", true), Where("boardId", "b1")}, true},
		{[]Filter{Where("missing", "x")}, false},
	}
	for _, c := range cases {
		if got := Matches(doc, c.filters); got != c.want {
			t.Errorf("Matches(%v) = %v, want %v", c.filters, got, c.want)
		}
	}
}

func TestFingerprintTracksVersion(t *testing.T) {
	a := []Snapshot{{ID: "1", Version: 1, Data: Document{"x": 1}}}
	b := []Snapshot{{ID: "1", Version: 2, Data: Document{"x": 1}}}
	if fingerprint(a) == fingerprint(b) {
		t.Error("version change should alter the fingerprint")
	}
	if fingerprint(a) != fingerprint([]Snapshot{{ID: "1", Version: 1, Data: Document{"x": 1}}}) {
		t.Error("fingerprint should be deterministic")
	}
	if fingerprint(nil) == fingerprint(a) {
		t.Error("empty and non-empty results should differ")
	}
}

func TestSnapshotDecodeInjectsID(t *testing.T) {
	var v struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := (Snapshot{ID: "abc", Data: Document{"name": "n"}}).Decode(&v); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.ID != "abc" || v.Name != "n" {
		t.Errorf("decoded = %+v", v)
	}
}
