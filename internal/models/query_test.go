package models

import (
	"errors"
	"testing"
)

func TestQuery_Validate(t *testing.T) {
	if err := (Query{}).Validate(); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty query: got %v", err)
	}
	if err := (Query{Text: "boat"}).Validate(); err != nil {
		t.Errorf("text query: %v", err)
	}
	if err := (Query{Image: "a.jpg"}).Validate(); err != nil {
		t.Errorf("image query: %v", err)
	}
}

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr bool
	}{
		{"empty query", &SearchQuery{}, true},
		{"text defaults to semantic", &SearchQuery{Text: "boat"}, false},
		{"image only semantic", &SearchQuery{Image: "a.jpg"}, false},
		{"keyword needs text", &SearchQuery{Image: "a.jpg", Mode: ModeKeyword}, true},
		{"hybrid with text", &SearchQuery{Text: "boat", Mode: ModeHybrid}, false},
		{"unknown mode", &SearchQuery{Text: "boat", Mode: "fuzzy"}, true},
		{"weight above one", &SearchQuery{Text: "boat", Mode: ModeHybrid, KeywordWeight: Float64(1.5)}, true},
		{"negative weight", &SearchQuery{Text: "boat", Mode: ModeHybrid, KeywordWeight: Float64(-0.1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if tt.query.Mode == "" {
					t.Error("expected mode to be set")
				}
				if tt.query.KeywordWeight == nil || *tt.query.KeywordWeight != DefaultKeywordWeight {
					t.Error("expected default keyword weight")
				}
			}
		})
	}
}

func TestSearchQuery_ExplicitZeroWeight(t *testing.T) {
	q := &SearchQuery{Text: "boat", Mode: ModeHybrid, KeywordWeight: Float64(0)}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.Weight() != 0 {
		t.Errorf("Weight() = %v, want explicit 0 kept", q.Weight())
	}
	if (SearchQuery{}).Weight() != DefaultKeywordWeight {
		t.Errorf("unset Weight() = %v, want %v", (SearchQuery{}).Weight(), DefaultKeywordWeight)
	}
}

func TestSearchQuery_Semantic(t *testing.T) {
	q := SearchQuery{Text: "boat", Image: "a.jpg", K: 3, Mode: ModeHybrid}
	got := q.Semantic()
	if got.Text != "boat" || got.Image != "a.jpg" || got.K != 3 {
		t.Errorf("Semantic() = %+v", got)
	}
}
