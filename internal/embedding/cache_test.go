package embedding

import (
	"context"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

type countingExtractor struct {
	*MockExtractor
	calls int
}

func (c *countingExtractor) Extract(ctx context.Context, imagePath, text string) ([]float32, error) {
	c.calls++
	return c.MockExtractor.Extract(ctx, imagePath, text)
}

func TestCachedExtractor(t *testing.T) {
	inner := &countingExtractor{MockExtractor: NewMockExtractor(8)}
	c := NewCachedExtractor(inner, 10)
	ctx := context.Background()

	first, err := c.Extract(ctx, "", "sunset")
	if err != nil {
		t.Fatal(err)
	}
	first[0] = 42 // callers may mutate their copy
	second, err := c.Extract(ctx, "", "sunset")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	if second[0] == 42 {
		t.Error("cached vector was mutated through a returned slice")
	}

	if _, err := c.Extract(ctx, "a.jpg", "sunset"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Extract(ctx, "a.jpg", "sunset"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 3 {
		t.Errorf("image requests should bypass the cache, inner calls = %d", inner.calls)
	}
	if c.Dimensions() != 8 {
		t.Errorf("Dimensions = %d, want 8", c.Dimensions())
	}
}
