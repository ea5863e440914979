package indexcache_test

import (
	"testing"

	"clinistore/internal/indexcache"
)

func openCache(t *testing.T) *indexcache.Cache {
	t.Helper()
	c, err := indexcache.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLookup_MissOnUnknownCollection(t *testing.T) {
	t.Parallel()

	c := openCache(t)
	_, ok, err := c.Lookup("/some/dir", 100)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if ok {
		t.Fatal("Lookup() on never-stored collection = hit, want miss")
	}
}

func TestStoreThenLookup_HitsOnMatchingMtime(t *testing.T) {
	t.Parallel()

	c := openCache(t)
	rows := []indexcache.Row{
		{DirPath: "/data/patients/obj1", ID: "id-1", Indexed: map[string]string{"name": "Ada"}},
		{DirPath: "/data/patients/obj2", ID: "id-2", Indexed: map[string]string{"name": "Grace"}},
	}
	if err := c.Store("/data/patients", 42, rows); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, ok, err := c.Lookup("/data/patients", 42)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !ok {
		t.Fatal("Lookup() with matching mtime = miss, want hit")
	}
	if len(got) != 2 {
		t.Fatalf("Lookup() returned %d rows, want 2", len(got))
	}
}

func TestLookup_MissesOnStaleMtime(t *testing.T) {
	t.Parallel()

	c := openCache(t)
	if err := c.Store("/data/patients", 42, []indexcache.Row{
		{DirPath: "/data/patients/obj1", ID: "id-1", Indexed: map[string]string{"name": "Ada"}},
	}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	_, ok, err := c.Lookup("/data/patients", 43)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if ok {
		t.Fatal("Lookup() with stale mtime = hit, want miss")
	}
}

func TestStore_ReplacesPreviousRows(t *testing.T) {
	t.Parallel()

	c := openCache(t)
	if err := c.Store("/data/patients", 1, []indexcache.Row{
		{DirPath: "/data/patients/obj1", ID: "id-1", Indexed: map[string]string{"name": "Ada"}},
	}); err != nil {
		t.Fatalf("first Store() error = %v", err)
	}
	if err := c.Store("/data/patients", 2, []indexcache.Row{
		{DirPath: "/data/patients/obj2", ID: "id-2", Indexed: map[string]string{"name": "Grace"}},
	}); err != nil {
		t.Fatalf("second Store() error = %v", err)
	}

	got, ok, err := c.Lookup("/data/patients", 2)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !ok || len(got) != 1 || got[0].ID != "id-2" {
		t.Fatalf("Lookup() after replace = %v, ok=%v, want single id-2 row", got, ok)
	}
}
