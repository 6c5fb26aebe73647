// Package search answers semantic, keyword and hybrid photo searches for one user.
package search

import (
	"sort"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
)

// FusedResult holds a photo path with its combined and per-source scores.
type FusedResult struct {
	Path          string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// Similarity maps an index distance to (0, 1], 1 being identical.
func Similarity(distance float32) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + float64(distance))
}

// SemanticScores converts nearest-neighbour hits to path -> similarity.
func SemanticScores(hits []models.Hit) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.Path] = Similarity(h.Distance)
	}
	return scores
}

// NormalizeKeywordScores scales keyword scores to [0,1] by the best score.
func NormalizeKeywordScores(hits []keyword.Hit) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	var best float64
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	for _, h := range hits {
		if best > 0 {
			scores[h.Path] = h.Score / best
		} else {
			scores[h.Path] = 0
		}
	}
	return scores
}

// Fuse merges keyword and semantic scores as keywordWeight*kw + (1-keywordWeight)*sem,
// best first. Ties are ordered by path.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight float64) []FusedResult {
	byPath := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	for p, s := range keywordScores {
		byPath[p] = &FusedResult{Path: p, KeywordScore: s}
	}
	for p, s := range semanticScores {
		if r, ok := byPath[p]; ok {
			r.SemanticScore = s
		} else {
			byPath[p] = &FusedResult{Path: p, SemanticScore: s}
		}
	}
	results := make([]FusedResult, 0, len(byPath))
	for _, r := range byPath {
		r.Score = keywordWeight*r.KeywordScore + (1-keywordWeight)*r.SemanticScore
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Path < results[j].Path
	})
	return results
}
