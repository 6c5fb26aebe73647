package vector

import (
	"bytes"
	"testing"
)

func TestNewBuilder(t *testing.T) {
	tests := []struct {
		backend string
		want    Backend
		wantErr bool
	}{
		{"", BackendHNSW, false},
		{"hnsw", BackendHNSW, false},
		{"flat", BackendFlat, false},
		{"faiss", BackendFAISS, false},
		{"annoy", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			b, err := NewBuilder(tt.backend, HNSWParams{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && b.Backend() != tt.want {
				t.Errorf("backend = %s, want %s", b.Backend(), tt.want)
			}
		})
	}
}

func TestNewBuilder_FAISSRejectsCosine(t *testing.T) {
	if _, err := NewBuilder("faiss", HNSWParams{Metric: MetricCosine}); err == nil {
		t.Error("expected error for faiss with cosine metric")
	}
}

func TestBuilder_BuildKeepsPositions(t *testing.T) {
	for _, backend := range []string{"hnsw", "flat"} {
		t.Run(backend, func(t *testing.T) {
			b, err := NewBuilder(backend, HNSWParams{})
			if err != nil {
				t.Fatal(err)
			}
			vecs := [][]float32{{1, 0}, {0, 1}, {-1, 0}}
			idx, err := b.Build(2, vecs)
			if err != nil {
				t.Fatal(err)
			}
			for i, v := range vecs {
				res, err := idx.Search(v, 1)
				if err != nil {
					t.Fatal(err)
				}
				if res[0].Position != i {
					t.Errorf("vector %d found at position %d", i, res[0].Position)
				}
			}
		})
	}
}

func TestBuilder_BuildRejectsWrongDimension(t *testing.T) {
	b, _ := NewBuilder("hnsw", HNSWParams{})
	if _, err := b.Build(3, [][]float32{{1, 2, 3}, {1, 2}}); err == nil {
		t.Error("expected error for mismatched vector")
	}
	if _, err := b.Empty(0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestBuilder_LoadDispatchesOnMagic(t *testing.T) {
	hnswB, _ := NewBuilder("hnsw", HNSWParams{})
	flatB, _ := NewBuilder("flat", HNSWParams{})
	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}}

	for name, src := range map[string]*Builder{"hnsw": hnswB, "flat": flatB} {
		t.Run(name, func(t *testing.T) {
			idx, err := src.Build(3, vecs)
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			if err := idx.Save(&buf); err != nil {
				t.Fatal(err)
			}
			// Loading does not depend on the builder's own backend.
			loaded, err := hnswB.Load(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if loaded.Len() != 2 {
				t.Errorf("Len = %d, want 2", loaded.Len())
			}
		})
	}
}

func TestIsFAISSAvailable(t *testing.T) {
	_ = IsFAISSAvailable()
}
