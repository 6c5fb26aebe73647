package keyword

import "testing"

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"boat", "boat", 0},
		{"", "boat", 4},
		{"boat", "", 4},
		{"boat", "goat", 1},
		{"boat", "boats", 1},
		{"boat", "bat", 1},
		{"baot", "boat", 1},
		{"sunset", "sunest", 1},
		{"kitten", "sitting", 3},
		{"ca", "abc", 3},
		{"海辺", "海边", 1},
	}
	for _, tt := range tests {
		if got := EditDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("EditDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := EditDistance(tt.b, tt.a); got != tt.want {
			t.Errorf("EditDistance(%q, %q) = %d, want %d (symmetry)", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestWithinDistance(t *testing.T) {
	if !withinDistance("mountian", "mountain", 1) {
		t.Error("transposition should be within 1")
	}
	if withinDistance("sea", "seashore", 2) {
		t.Error("length gap of 5 should be rejected")
	}
}

func BenchmarkEditDistance(b *testing.B) {
	for i := 0; i < b.N; i++ {
		EditDistance("a sailing boat at sunset", "a sailing baot at sunest")
	}
}
