package store

import (
	"encoding/hex"
	"math"
	"testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"run.completed"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func TestFiniteOrNil(t *testing.T) {
	if v := finiteOrNil(nil); v != nil {
		t.Fatalf("nil -> nil expected")
	}
	inf := math.Inf(-1)
	if v := finiteOrNil(&inf); v != nil {
		t.Fatalf("-Inf -> nil expected, got %v", v)
	}
	f := 1.5
	if v := finiteOrNil(&f); v != 1.5 {
		t.Fatalf("finite value lost: %v", v)
	}
}

func TestParseTime(t *testing.T) {
	if v, err := parseTime(""); err != nil || v != nil {
		t.Fatalf("empty -> nil expected, got %v %v", v, err)
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
}
