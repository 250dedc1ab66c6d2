package docstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Encode resolves server timestamps in doc and returns its JSON form.
func Encode(doc Document, now time.Time) ([]byte, error) {
	resolved := make(Document, len(doc))
	for k, v := range doc {
		if k == "id" {
			continue
		}
		if v == ServerTimestamp {
			v = now
		}
		resolved[k] = v
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode document: %w", err)
	}
	return raw, nil
}

// Decode parses a stored JSON document.
func Decode(raw []byte) (Document, error) {
	doc := Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("docstore: decode document: %w", err)
	}
	return doc, nil
}

// Merge overlays the top-level fields of partial onto the stored JSON
// document and returns the merged JSON.
func Merge(stored []byte, partial Document, now time.Time) ([]byte, error) {
	base, err := Decode(stored)
	if err != nil {
		return nil, err
	}
	patch, err := Encode(partial, now)
	if err != nil {
		return nil, err
	}
	overlay, err := Decode(patch)
	if err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

// Matches reports whether doc satisfies every filter. Values are compared in
// their JSON form, so an int filter matches the float64 a decoded document
// carries.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok {
			return false
		}
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false
		}
		got, err := json.Marshal(v)
		if err != nil || !bytes.Equal(got, want) {
			return false
		}
	}
	return true
}

// SortSnapshots orders snapshots by id, the only order a query guarantees.
func SortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
}

// fingerprint is the hex SHA-256 of a result set, used to suppress
// emissions that would repeat the previous one.
func fingerprint(snaps []Snapshot) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, s := range snaps {
		_ = enc.Encode([]any{s.ID, s.Version, s.Data})
	}
	return hex.EncodeToString(h.Sum(nil))
}
