package state

import (
	"encoding/json"
	"sort"
	"time"
)

// Key uniquely identifies a logical position across sweeps.
type Key struct {
	User       string
	Address    string
	Network    string
	PositionID string
}

// Entry is one live out-of-range finding. Field names in the serialized form
// follow the on-disk document layout.
type Entry struct {
	User        string    `json:"username"`
	ChatID      string    `json:"chatId"`
	Address     string    `json:"address"`
	Network     string    `json:"network"`
	Protocol    string    `json:"protocol"`
	ProxyWallet string    `json:"proxyWallet"`
	PositionID  string    `json:"tokenId"`
	Token0      string    `json:"token0"`
	Token1      string    `json:"token1"`
	TickLower   int32     `json:"tickLower"`
	TickUpper   int32     `json:"tickUpper"`
	CurrentTick int32     `json:"currentTick"`
	DetectedAt  time.Time `json:"timestamp"`
}

// Key returns the dedup key for the entry.
func (e Entry) Key() Key {
	return Key{User: e.User, Address: e.Address, Network: e.Network, PositionID: e.PositionID}
}

// Document is the whole persisted monitor state: live out-of-range entries
// keyed by position, and per-user last-notification times. It is read once at
// sweep start and written back once at sweep end.
type Document struct {
	entries      map[Key]Entry
	lastNotified map[string]time.Time
}

// NewDocument returns an empty state document.
func NewDocument() *Document {
	return &Document{
		entries:      make(map[Key]Entry),
		lastNotified: make(map[string]time.Time),
	}
}

// Upsert records an out-of-range finding, replacing any live entry with the
// same key. Detection timestamps never move backwards across refreshes.
func (d *Document) Upsert(e Entry) {
	if existing, ok := d.entries[e.Key()]; ok && existing.DetectedAt.After(e.DetectedAt) {
		e.DetectedAt = existing.DetectedAt
	}
	d.entries[e.Key()] = e
}

// ClearInRange removes the entry for a position found back in range. Absent
// keys are a no-op.
func (d *Document) ClearInRange(k Key) {
	delete(d.entries, k)
}

// EvictStale drops every entry older than maxAge, regardless of range
// status, and returns the number removed.
func (d *Document) EvictStale(now time.Time, maxAge time.Duration) int {
	evicted := 0
	for k, e := range d.entries {
		if now.Sub(e.DetectedAt) > maxAge {
			delete(d.entries, k)
			evicted++
		}
	}
	return evicted
}

// DueForNotification reports whether a user may be notified again: true when
// no send is recorded or the cooldown has elapsed.
func (d *Document) DueForNotification(user string, now time.Time, cooldown time.Duration) bool {
	last, ok := d.lastNotified[user]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

// RecordSent marks a successful dispatch for the user. Only called after the
// transport confirmed delivery.
func (d *Document) RecordSent(user string, now time.Time) {
	d.lastNotified[user] = now
}

// Len returns the number of live entries.
func (d *Document) Len() int {
	return len(d.entries)
}

// Has reports whether a live entry exists for the key.
func (d *Document) Has(k Key) bool {
	_, ok := d.entries[k]
	return ok
}

// Entries returns the live entries in a stable order.
func (d *Document) Entries() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.User != b.User {
			return a.User < b.User
		}
		if a.Network != b.Network {
			return a.Network < b.Network
		}
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return a.PositionID < b.PositionID
	})
	return out
}

// EntriesByUser groups the live entries per user, each group in stable order.
func (d *Document) EntriesByUser() map[string][]Entry {
	grouped := make(map[string][]Entry)
	for _, e := range d.Entries() {
		grouped[e.User] = append(grouped[e.User], e)
	}
	return grouped
}

// documentJSON is the wire layout: two top-level fields.
type documentJSON struct {
	OutOfRangeLPs []Entry              `json:"outOfRangeLPs"`
	LastNotified  map[string]time.Time `json:"lastNotified"`
}

// MarshalJSON serialises the document in its persisted layout.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentJSON{
		OutOfRangeLPs: d.Entries(),
		LastNotified:  d.lastNotified,
	})
}

// UnmarshalJSON rebuilds the keyed maps from the persisted layout. Duplicate
// keys in the stored list collapse to the newest detection.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.entries = make(map[Key]Entry, len(raw.OutOfRangeLPs))
	for _, e := range raw.OutOfRangeLPs {
		d.Upsert(e)
	}

	d.lastNotified = raw.LastNotified
	if d.lastNotified == nil {
		d.lastNotified = make(map[string]time.Time)
	}
	return nil
}
