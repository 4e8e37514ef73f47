package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestMemDBGetMissReturnsSentinel(t *testing.T) {
	db := NewMemDB()
	if _, err := db.Get([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("get = %q, %v", got, err)
	}
}

func TestMemDBWriteBatchAppliesAllEntries(t *testing.T) {
	db := NewMemDB()
	err := db.WriteBatch([]BatchEntry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	})
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := db.Get([]byte(key))
		if err != nil || string(got) != want {
			t.Fatalf("get %q = %q, %v", key, got, err)
		}
	}
}

func TestLevelDBGetMissReturnsSentinel(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Get([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err = db.WriteBatch([]BatchEntry{{Key: []byte("a"), Value: []byte("1")}})
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	got, err := db.Get([]byte("a"))
	if err != nil || string(got) != "1" {
		t.Fatalf("get = %q, %v", got, err)
	}
}
