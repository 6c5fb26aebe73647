package embedding

import "strings"

// Tokenizer produces padded token ids and attention masks for a text encoder.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64)
}

// Special token ids framing every sequence.
const (
	tokenStart int64 = 49406
	tokenEnd   int64 = 49407
	vocabSize        = 49000
)

// SimpleTokenizer is a word-split tokenizer with hash-based token ids, used as a fallback when
// no vocabulary ships with the model. It also counts caption length for caption selection.
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token ids up to maxTokens,
// framed by start and end tokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64) {
	if maxTokens < 2 {
		maxTokens = 77
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)

	inputIDs[0] = tokenStart
	attentionMask[0] = 1

	pos := 1
	for _, word := range SplitWords(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(word) % vocabSize)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenEnd
	attentionMask[pos] = 1
	return inputIDs, attentionMask
}

// CountTokens returns the sequence length of text including the start and end tokens.
func (t *SimpleTokenizer) CountTokens(text string) int {
	return len(SplitWords(text)) + 2
}

// TruncateTokens shortens text so that CountTokens(result) <= maxTokens.
func (t *SimpleTokenizer) TruncateTokens(text string, maxTokens int) string {
	words := SplitWords(text)
	keep := max(maxTokens-2, 0)
	if len(words) <= keep {
		return text
	}
	return strings.Join(words[:keep], " ")
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash for use as a simple token id.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		return 0
	}
	return h
}
