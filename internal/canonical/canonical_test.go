package canonical

import "testing"

func TestJSONIsKeyOrderIndependent(t *testing.T) {
	type inner struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	first, err := JSON(map[string]any{"z": 1, "a": inner{B: "x", A: "y"}})
	if err != nil {
		t.Fatalf("canonicalize first: %v", err)
	}
	second, err := JSON(map[string]any{"a": inner{A: "y", B: "x"}, "z": 1})
	if err != nil {
		t.Fatalf("canonicalize second: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("canonical forms differ: %s vs %s", first, second)
	}
}

func TestShake256HexSizes(t *testing.T) {
	cases := []struct {
		size int
		hex  int
	}{
		{32, 64},
		{64, 128},
	}
	for _, tc := range cases {
		got := Shake256Hex([]byte("payload"), tc.size)
		if len(got) != tc.hex {
			t.Fatalf("size %d: expected %d hex chars, got %d", tc.size, tc.hex, len(got))
		}
	}
	if Shake256Hex([]byte("a"), 32) == Shake256Hex([]byte("b"), 32) {
		t.Fatal("distinct inputs hashed identically")
	}
	if Shake256Hex([]byte("a"), 32) != Shake256Hex([]byte("a"), 32) {
		t.Fatal("hash is not deterministic")
	}
}

func TestHashIdentifierStable(t *testing.T) {
	if HashIdentifier("user@example.com") != HashIdentifier("user@example.com") {
		t.Fatal("identifier hash is not deterministic")
	}
	if len(HashIdentifier("x")) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(HashIdentifier("x")))
	}
}

func TestHashJSONDiffersOnContent(t *testing.T) {
	a, err := HashJSON(map[string]string{"k": "1"}, 32)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	b, err := HashJSON(map[string]string{"k": "2"}, 32)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if a == b {
		t.Fatal("different documents produced the same hash")
	}
}
