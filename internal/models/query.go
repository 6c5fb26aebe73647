package models

import (
	"errors"
	"fmt"
)

// ErrEmptyQuery is returned when a query has neither text nor an image.
var ErrEmptyQuery = errors.New("query needs text or an image")

// Query is a nearest-neighbour request against one user's index.
// At least one of Text and Image must be set. K <= 0 selects the configured default.
type Query struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	K     int    `json:"k,omitempty"`
}

// Validate reports whether the query can be embedded.
func (q Query) Validate() error {
	if q.Text == "" && q.Image == "" {
		return ErrEmptyQuery
	}
	return nil
}

// Search modes.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
	ModeHybrid   = "hybrid"
)

// DefaultKeywordWeight is the keyword share of a hybrid score when none is given.
const DefaultKeywordWeight = 0.3

// SearchQuery is a search engine request. Keyword and hybrid modes need Text.
// A nil KeywordWeight selects DefaultKeywordWeight; an explicit 0 ranks hybrid results
// by semantic similarity alone.
type SearchQuery struct {
	Text          string   `json:"text,omitempty"`
	Image         string   `json:"image,omitempty"`
	K             int      `json:"k,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	KeywordWeight *float64 `json:"keyword_weight,omitempty"`
}

// Float64 returns a pointer to v, for optional fields such as KeywordWeight.
func Float64(v float64) *float64 {
	return &v
}

// Validate checks the query and fills in the mode and keyword weight defaults.
func (q *SearchQuery) Validate() error {
	if q.Mode == "" {
		q.Mode = ModeSemantic
	}
	switch q.Mode {
	case ModeSemantic:
		if q.Text == "" && q.Image == "" {
			return ErrEmptyQuery
		}
	case ModeKeyword, ModeHybrid:
		if q.Text == "" {
			return fmt.Errorf("%s search needs text", q.Mode)
		}
	default:
		return fmt.Errorf("unknown search mode %q", q.Mode)
	}
	if q.KeywordWeight == nil {
		q.KeywordWeight = Float64(DefaultKeywordWeight)
	}
	if w := *q.KeywordWeight; w < 0 || w > 1 {
		return fmt.Errorf("keyword_weight must be within [0, 1], got %v", w)
	}
	return nil
}

// Weight returns the keyword share of a hybrid score.
func (q SearchQuery) Weight() float64 {
	if q.KeywordWeight == nil {
		return DefaultKeywordWeight
	}
	return *q.KeywordWeight
}

// Semantic returns the nearest-neighbour part of the request.
func (q SearchQuery) Semantic() Query {
	return Query{Text: q.Text, Image: q.Image, K: q.K}
}

// SearchResponse is the search engine's answer. Suggestion is a spelling-corrected query,
// offered when a keyword or hybrid search found nothing.
type SearchResponse struct {
	UserID     string `json:"user_id"`
	Mode       string `json:"mode"`
	Hits       []Hit  `json:"hits"`
	Suggestion string `json:"suggestion,omitempty"`
	QueryTime  int64  `json:"query_time_ms"`
}
