package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outOfRange.json")
	store := NewFileStore(path, zerolog.Nop())
	ctx := context.Background()

	doc := NewDocument()
	doc.Upsert(testEntry("alice", "Polygon", "42", time.Now().UTC().Truncate(time.Second)))
	doc.RecordSent("alice", time.Now().UTC())

	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", loaded.Len())
	}
}

func TestFileStoreMissingFileYieldsEmptyDocument(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), zerolog.Nop())

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load should not fail on missing file: %v", err)
	}
	if doc.Len() != 0 {
		t.Fatalf("expected empty document, got %d entries", doc.Len())
	}
}

func TestFileStoreCorruptFileYieldsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outOfRange.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path, zerolog.Nop())
	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load should not fail on corrupt file: %v", err)
	}
	if doc.Len() != 0 {
		t.Fatalf("expected empty document, got %d entries", doc.Len())
	}
}

func TestFileStoreSaveReplacesWholeDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outOfRange.json")
	store := NewFileStore(path, zerolog.Nop())
	ctx := context.Background()

	doc := NewDocument()
	doc.Upsert(testEntry("alice", "Polygon", "1", time.Now().UTC()))
	doc.Upsert(testEntry("alice", "Polygon", "2", time.Now().UTC()))
	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc.ClearInRange(Key{User: "alice", Address: "0x1111111111111111111111111111111111111111", Network: "Polygon", PositionID: "1"})
	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("expected 1 entry after replace, got %d", loaded.Len())
	}
}
