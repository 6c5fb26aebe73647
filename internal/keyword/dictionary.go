package keyword

import "sort"

// Dictionary counts, per term, how many captions contain it.
type Dictionary struct {
	freq map[string]int
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{freq: make(map[string]int)}
}

// Add counts the distinct terms of one caption.
func (d *Dictionary) Add(caption string) {
	seen := make(map[string]struct{})
	for _, t := range Terms(caption) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		d.freq[t]++
	}
}

// Terms returns every term in lexical order.
func (d *Dictionary) Terms() []string {
	terms := make([]string, 0, len(d.freq))
	for t := range d.freq {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// Frequency returns the number of captions containing term.
func (d *Dictionary) Frequency(term string) int {
	return d.freq[term]
}

// Len returns the number of distinct terms.
func (d *Dictionary) Len() int {
	return len(d.freq)
}
