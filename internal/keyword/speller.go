package keyword

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Speller suggests corrections for query terms from a TermDictionary.
type Speller struct {
	dict           TermDictionary
	maxDistance    int
	minFrequency   int
	maxSuggestions int
}

// SpellerOption configures a Speller.
type SpellerOption func(*Speller)

// WithMaxDistance sets the largest edit distance a suggestion may have. Default 2.
func WithMaxDistance(d int) SpellerOption {
	return func(s *Speller) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMinFrequency ignores dictionary terms appearing in fewer captions. Default 1.
func WithMinFrequency(f int) SpellerOption {
	return func(s *Speller) {
		if f > 0 {
			s.minFrequency = f
		}
	}
}

// WithMaxSuggestions caps the suggestions returned per term. Default 3.
func WithMaxSuggestions(n int) SpellerOption {
	return func(s *Speller) {
		if n > 0 {
			s.maxSuggestions = n
		}
	}
}

// NewSpeller returns a Speller over dict.
func NewSpeller(dict TermDictionary, opts ...SpellerOption) *Speller {
	s := &Speller{dict: dict, maxDistance: 2, minFrequency: 1, maxSuggestions: 3}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type candidate struct {
	term     string
	distance int
	freq     int
}

// Suggest returns dictionary terms close to term, nearest first and then most frequent.
// A term that is already in the dictionary gets no suggestions. Terms shorter than three
// runes are never corrected.
func (s *Speller) Suggest(term string) []string {
	term = strings.ToLower(term)
	if utf8.RuneCountInString(term) < 3 || s.dict.Frequency(term) >= s.minFrequency {
		return nil
	}
	var cands []candidate
	for _, t := range s.dict.Terms() {
		f := s.dict.Frequency(t)
		if f < s.minFrequency || !withinDistance(term, t, s.maxDistance) {
			continue
		}
		cands = append(cands, candidate{term: t, distance: EditDistance(term, t), freq: f})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		if cands[i].freq != cands[j].freq {
			return cands[i].freq > cands[j].freq
		}
		return cands[i].term < cands[j].term
	})
	if len(cands) == 0 {
		return nil
	}
	if len(cands) > s.maxSuggestions {
		cands = cands[:s.maxSuggestions]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.term
	}
	return out
}

// Correct rewrites query with the best suggestion for each unknown term. It returns
// ok=false when nothing changed.
func (s *Speller) Correct(query string) (string, bool) {
	terms := Terms(query)
	changed := false
	for i, t := range terms {
		if sug := s.Suggest(t); len(sug) > 0 {
			terms[i] = sug[0]
			changed = true
		}
	}
	if !changed {
		return "", false
	}
	return strings.Join(terms, " "), true
}
