// Package keyword provides caption keyword search (BM25 via Bleve) and spelling
// suggestions drawn from a user's own captions.
package keyword

import (
	"strings"
	"unicode"
)

// SearchOptions tunes a caption search. Nil means defaults.
type SearchOptions struct {
	// Fuzzy matches terms within Fuzziness edits, for typo tolerance.
	Fuzzy bool
	// Fuzziness is the maximum edit distance when Fuzzy is set (1 or 2). Default 1.
	Fuzziness int
	// NameBoost weights matches in the photo's file name relative to its caption.
	// Default 0.5; zero or less uses the default.
	NameBoost float64
}

// Hit is one caption search result.
type Hit struct {
	Path    string
	Caption string
	Score   float64
}

// TermDictionary is the vocabulary a Speller corrects against.
type TermDictionary interface {
	// Terms returns every distinct term.
	Terms() []string
	// Frequency returns how many documents contain term.
	Frequency(term string) int
}

// Terms splits text into lowercase word terms, dropping punctuation.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// nameTerms turns a file name like "beach_sunset_2021.jpg" into "beach sunset 2021" so the
// standard analyzer splits it into words.
func nameTerms(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
}
