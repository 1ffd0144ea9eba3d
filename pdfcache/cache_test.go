package pdfcache

import (
	"strings"
	"testing"
)

func TestKeyIsStableAndMarksSamples(t *testing.T) {
	a := Key(42, "POL-1", false)
	b := Key(42, "POL-1", false)
	if a != b {
		t.Fatal("same inputs must derive the same key")
	}
	if Key(43, "POL-1", false) == a {
		t.Fatal("different contract must derive a different key")
	}

	sample := Key(42, "POL-1", true)
	if !strings.HasSuffix(sample, "_sample") {
		t.Fatalf("sample key %q lacks suffix", sample)
	}
	if strings.TrimSuffix(sample, "_sample") != a {
		t.Fatal("sample key must share the base hash")
	}
}

func TestPutGetDrop(t *testing.T) {
	cache, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	key := Key(1, "POL-1", false)

	if _, ok := cache.Get(key); ok {
		t.Fatal("empty cache must miss")
	}

	pdf := []byte("%PDF-1.4 test")
	if err := cache.Put(key, pdf); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := cache.Get(key)
	if !ok || string(got) != string(pdf) {
		t.Fatalf("get returned %q, %v", got, ok)
	}

	if err := cache.Drop(key); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, ok := cache.Get(key); ok {
		t.Fatal("dropped key must miss")
	}
	// dropping again is a no-op
	if err := cache.Drop(key); err != nil {
		t.Fatalf("second drop: %v", err)
	}
}
