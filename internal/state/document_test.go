package state

import (
	"encoding/json"
	"testing"
	"time"
)

func testEntry(user, network, position string, ts time.Time) Entry {
	return Entry{
		User:        user,
		ChatID:      "chat-" + user,
		Address:     "0x1111111111111111111111111111111111111111",
		Network:     network,
		Protocol:    "UniswapV3",
		ProxyWallet: "0x2222222222222222222222222222222222222222",
		PositionID:  position,
		Token0:      "0x3333333333333333333333333333333333333333",
		Token1:      "0x4444444444444444444444444444444444444444",
		TickLower:   -100,
		TickUpper:   100,
		CurrentTick: 150,
		DetectedAt:  ts,
	}
}

func TestUpsertKeepsOneEntryPerKey(t *testing.T) {
	doc := NewDocument()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	doc.Upsert(testEntry("alice", "Polygon", "42", t0))
	doc.Upsert(testEntry("alice", "Polygon", "42", t0.Add(time.Hour)))

	if doc.Len() != 1 {
		t.Fatalf("expected 1 entry after re-detection, got %d", doc.Len())
	}
	if got := doc.Entries()[0].DetectedAt; !got.Equal(t0.Add(time.Hour)) {
		t.Fatalf("timestamp not refreshed: %v", got)
	}
}

func TestUpsertTimestampNeverMovesBackwards(t *testing.T) {
	doc := NewDocument()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	doc.Upsert(testEntry("alice", "Polygon", "42", t0))
	doc.Upsert(testEntry("alice", "Polygon", "42", t0.Add(-time.Hour)))

	if got := doc.Entries()[0].DetectedAt; !got.Equal(t0) {
		t.Fatalf("timestamp regressed to %v", got)
	}
}

func TestUpsertDistinctKeys(t *testing.T) {
	doc := NewDocument()
	now := time.Now().UTC()

	doc.Upsert(testEntry("alice", "Polygon", "42", now))
	doc.Upsert(testEntry("alice", "Base", "42", now))
	doc.Upsert(testEntry("bob", "Polygon", "42", now))

	if doc.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", doc.Len())
	}
}

func TestClearInRange(t *testing.T) {
	doc := NewDocument()
	e := testEntry("alice", "Polygon", "42", time.Now().UTC())
	doc.Upsert(e)

	doc.ClearInRange(e.Key())
	if doc.Len() != 0 {
		t.Fatalf("entry should be removed once back in range")
	}

	// absent key is a no-op
	doc.ClearInRange(Key{User: "ghost"})
}

func TestEvictStale(t *testing.T) {
	doc := NewDocument()
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	doc.Upsert(testEntry("alice", "Polygon", "1", now.Add(-25*time.Hour)))
	doc.Upsert(testEntry("alice", "Polygon", "2", now.Add(-23*time.Hour)))

	evicted := doc.EvictStale(now, 24*time.Hour)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if doc.Has(Key{User: "alice", Address: "0x1111111111111111111111111111111111111111", Network: "Polygon", PositionID: "1"}) {
		t.Fatal("stale entry survived eviction")
	}
	if !doc.Has(Key{User: "alice", Address: "0x1111111111111111111111111111111111111111", Network: "Polygon", PositionID: "2"}) {
		t.Fatal("fresh entry was evicted")
	}
}

func TestCooldown(t *testing.T) {
	doc := NewDocument()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cooldown := 24 * time.Hour

	if !doc.DueForNotification("alice", now, cooldown) {
		t.Fatal("user with no record should be due")
	}

	doc.RecordSent("alice", now)
	if doc.DueForNotification("alice", now.Add(time.Hour), cooldown) {
		t.Fatal("user notified an hour ago should not be due")
	}
	if !doc.DueForNotification("alice", now.Add(25*time.Hour), cooldown) {
		t.Fatal("user should be due once cooldown elapsed")
	}
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	doc := NewDocument()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doc.Upsert(testEntry("alice", "Polygon", "42", now))
	doc.RecordSent("alice", now)

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// wire layout has the two expected top-level fields
	var layout map[string]json.RawMessage
	if err := json.Unmarshal(raw, &layout); err != nil {
		t.Fatalf("unmarshal layout: %v", err)
	}
	for _, field := range []string{"outOfRangeLPs", "lastNotified"} {
		if _, ok := layout[field]; !ok {
			t.Fatalf("missing top-level field %q", field)
		}
	}

	restored := NewDocument()
	if err := json.Unmarshal(raw, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("expected 1 entry after round trip, got %d", restored.Len())
	}
	if restored.DueForNotification("alice", now.Add(time.Hour), 24*time.Hour) {
		t.Fatal("cooldown record lost in round trip")
	}
}

func TestUnmarshalCollapsesDuplicateKeys(t *testing.T) {
	raw := `{"outOfRangeLPs":[
		{"username":"alice","address":"0xa","network":"Polygon","tokenId":"1","timestamp":"2025-06-01T00:00:00Z"},
		{"username":"alice","address":"0xa","network":"Polygon","tokenId":"1","timestamp":"2025-06-01T06:00:00Z"}
	],"lastNotified":{}}`

	doc := NewDocument()
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Len() != 1 {
		t.Fatalf("duplicates not collapsed, got %d entries", doc.Len())
	}
	want := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	if got := doc.Entries()[0].DetectedAt; !got.Equal(want) {
		t.Fatalf("newest detection should win, got %v", got)
	}
}
