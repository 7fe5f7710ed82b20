package storage

import (
	"errors"
	"testing"
)

func TestMemDBPutGet(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "v" {
		t.Fatalf("Get returned %q", value)
	}

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemDBHasDelete(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_ = db.Put([]byte("k"), []byte("v"))
	ok, err := db.Has([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Has after Put: %v %v", ok, err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, _ = db.Has([]byte("k"))
	if ok {
		t.Fatalf("key still present after Delete")
	}
}

func TestMemDBDefensiveCopies(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	_ = db.Put([]byte("k"), value)
	value[0] = 'X'

	stored, _ := db.Get([]byte("k"))
	if string(stored) != "original" {
		t.Fatalf("mutating the caller's slice changed the stored value: %q", stored)
	}

	stored[0] = 'Y'
	again, _ := db.Get([]byte("k"))
	if string(again) != "original" {
		t.Fatalf("mutating a returned slice changed the stored value: %q", again)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewLevelDB: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, err := db.Get([]byte("k"))
	if err != nil || string(value) != "v" {
		t.Fatalf("Get: %q %v", value, err)
	}
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err := db.Has([]byte("k"))
	if err != nil || ok {
		t.Fatalf("Has after Delete: %v %v", ok, err)
	}
}
