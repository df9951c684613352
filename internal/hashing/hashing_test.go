package hashing_test

import (
	"testing"

	"soundstage/internal/hashing"
)

func TestDigestDeterministic(t *testing.T) {
	a := hashing.Digest([]byte("spatial audio"))
	b := hashing.Digest([]byte("spatial audio"))
	if a != b {
		t.Fatalf("equal content produced different digests: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == hashing.Digest([]byte("spatial audio!")) {
		t.Fatal("different content produced equal digests")
	}
}

func TestCompositeKeyOrderingMatters(t *testing.T) {
	ab := hashing.CompositeKey("alpha", "beta")
	ba := hashing.CompositeKey("beta", "alpha")
	if ab == ba {
		t.Fatal("reordered parts produced equal keys")
	}
}

func TestCompositeKeyBoundariesUnambiguous(t *testing.T) {
	// Concatenation-equal inputs with different part boundaries must differ.
	cases := [][2][]string{
		{{"ab", "c"}, {"a", "bc"}},
		{{"abc"}, {"abc", ""}},
		{{"", "x"}, {"x", ""}},
	}
	for _, tc := range cases {
		left := hashing.CompositeKey(tc[0]...)
		right := hashing.CompositeKey(tc[1]...)
		if left == right {
			t.Fatalf("parts %v and %v produced equal keys", tc[0], tc[1])
		}
	}
}

func TestCompositeKeyDeterministic(t *testing.T) {
	digest := hashing.Digest([]byte("track"))
	if hashing.CompositeKey(digest, "en") != hashing.CompositeKey(digest, "en") {
		t.Fatal("identical parts produced different keys")
	}
}
