package offline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreMissingFileIsEmptyQueue(t *testing.T) {
	store := NewFileStore(t.TempDir(), "vendor-1")

	actions, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if actions != nil {
		t.Fatalf("actions = %+v, want nil", actions)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "vendor-1")

	saved := []Action{
		{ID: "a-1", TicketID: "t-1", NewStatus: "ready", CreatedAt: time.Now().UTC().Truncate(time.Second)},
		{ID: "a-2", TicketID: "t-2", NewStatus: "completed", CreatedAt: time.Now().UTC().Truncate(time.Second), Attempts: 2},
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d actions, want 2", len(loaded))
	}
	if loaded[0].ID != "a-1" || loaded[1].Attempts != 2 {
		t.Fatalf("loaded = %+v", loaded)
	}

	// No temp file left behind after the rename.
	if _, err := os.Stat(filepath.Join(dir, "offline-actions-vendor-1.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file survived the commit")
	}
}

func TestFileStoreSaveEmptyList(t *testing.T) {
	store := NewFileStore(t.TempDir(), "vendor-1")

	if err := store.Save([]Action{{ID: "a-1", TicketID: "t-1", NewStatus: "ready"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}

	actions, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("actions = %+v, want empty", actions)
	}
}

func TestFileStoreIsolatesVendors(t *testing.T) {
	dir := t.TempDir()
	first := NewFileStore(dir, "vendor-1")
	second := NewFileStore(dir, "vendor-2")

	if err := first.Save([]Action{{ID: "a-1", TicketID: "t-1", NewStatus: "ready"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	actions, err := second.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(actions) != 0 {
		t.Fatal("vendor queues not isolated")
	}
}
