package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// PhotoIndex is the nearest-neighbour side of a search, served by indexer.Manager.
type PhotoIndex interface {
	Query(ctx context.Context, userID string, q models.Query) ([]models.Hit, error)
	Contains(ctx context.Context, userID, path string) (bool, error)
}

// CaptionSearcher is the keyword side of a search, served by keyword.CaptionIndex.
type CaptionSearcher interface {
	Search(ctx context.Context, userID, query string, limit int, opts *keyword.SearchOptions) ([]keyword.Hit, error)
	Dictionary(userID string) (*keyword.Dictionary, error)
}

// Engine runs semantic, keyword and hybrid searches.
type Engine struct {
	photos     PhotoIndex
	captions   CaptionSearcher
	defaultK   int
	maxK       int
	candidates int
	fuzzy      bool
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLimits sets the result count used when a query gives none, and the cap.
func WithLimits(defaultK, maxK int) EngineOption {
	return func(e *Engine) {
		if defaultK > 0 {
			e.defaultK = defaultK
		}
		if maxK > 0 {
			e.maxK = maxK
		}
	}
}

// WithCandidates sets how many results each side contributes before hybrid fusion.
func WithCandidates(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.candidates = n
		}
	}
}

// WithFuzzyKeywords makes keyword searches tolerate one-edit typos.
func WithFuzzyKeywords(on bool) EngineOption {
	return func(e *Engine) {
		e.fuzzy = on
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine over photos and captions. captions may be nil, in which
// case only semantic searches are served.
func NewEngine(photos PhotoIndex, captions CaptionSearcher, opts ...EngineOption) *Engine {
	e := &Engine{
		photos:     photos,
		captions:   captions,
		defaultK:   config.DefaultK,
		maxK:       config.DefaultMaxK,
		candidates: config.DefaultMaxK,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search answers q for userID. Semantic hits carry the index distance; keyword-only hits
// carry Distance -1. Every hit carries a score in [0,1], larger is better.
func (e *Engine) Search(ctx context.Context, userID string, q models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := indexer.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", indexer.ErrInvalidQuery, err)
	}
	if q.Mode != models.ModeSemantic && e.captions == nil {
		return nil, fmt.Errorf("%w: %s search needs a caption index", indexer.ErrInvalidQuery, q.Mode)
	}
	k := e.limit(q.K)

	var (
		semHits []models.Hit
		kwHits  []keyword.Hit
		semErr  error
		kwErr   error
		wg      sync.WaitGroup
	)
	if q.Mode != models.ModeKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sq := q.Semantic()
			sq.K = k
			if q.Mode == models.ModeHybrid {
				sq.K = max(k, e.candidates)
			}
			semHits, semErr = e.photos.Query(ctx, userID, sq)
		}()
	}
	if q.Mode != models.ModeSemantic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kwHits, kwErr = e.keywordHits(ctx, userID, q.Text, max(k, e.candidates))
		}()
	}
	wg.Wait()
	if semErr != nil {
		return nil, semErr
	}
	if kwErr != nil {
		return nil, kwErr
	}

	resp := &models.SearchResponse{UserID: userID, Mode: q.Mode}
	switch q.Mode {
	case models.ModeSemantic:
		resp.Hits = make([]models.Hit, 0, len(semHits))
		for _, h := range semHits {
			h.Score = Similarity(h.Distance)
			resp.Hits = append(resp.Hits, h)
		}
	case models.ModeKeyword:
		resp.Hits = fused(Fuse(NormalizeKeywordScores(kwHits), nil, 1), nil, kwHits, k)
	case models.ModeHybrid:
		resp.Hits = fused(Fuse(NormalizeKeywordScores(kwHits), SemanticScores(semHits), q.Weight()), semHits, kwHits, k)
	}
	if q.Mode != models.ModeSemantic && len(kwHits) == 0 {
		resp.Suggestion = e.suggest(userID, q.Text)
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

func (e *Engine) limit(k int) int {
	if k <= 0 {
		return e.defaultK
	}
	return min(k, e.maxK)
}

// keywordHits runs the caption search and drops hits for photos no longer indexed, which
// happens when a caption update was lost.
func (e *Engine) keywordHits(ctx context.Context, userID, text string, limit int) ([]keyword.Hit, error) {
	var opts *keyword.SearchOptions
	if e.fuzzy {
		opts = &keyword.SearchOptions{Fuzzy: true, Fuzziness: 1}
	}
	hits, err := e.captions.Search(ctx, userID, text, limit, opts)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	live := hits[:0]
	for _, h := range hits {
		ok, err := e.photos.Contains(ctx, userID, h.Path)
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, h)
		} else {
			e.logger.Debug("dropping stale caption hit", zap.String("user", userID), zap.String("path", h.Path))
		}
	}
	return live, nil
}

func (e *Engine) suggest(userID, text string) string {
	dict, err := e.captions.Dictionary(userID)
	if err != nil {
		e.logger.Warn("spelling dictionary unavailable", zap.String("user", userID), zap.Error(err))
		return ""
	}
	corrected, ok := keyword.NewSpeller(dict).Correct(text)
	if !ok {
		return ""
	}
	return corrected
}

// fused turns fusion results into hits, taking distance and caption from the semantic hit
// when there is one.
func fused(results []FusedResult, semHits []models.Hit, kwHits []keyword.Hit, k int) []models.Hit {
	sem := make(map[string]models.Hit, len(semHits))
	for _, h := range semHits {
		sem[h.Path] = h
	}
	captions := make(map[string]string, len(kwHits))
	for _, h := range kwHits {
		captions[h.Path] = h.Caption
	}
	if len(results) > k {
		results = results[:k]
	}
	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		h, ok := sem[r.Path]
		if !ok {
			h = models.Hit{Path: r.Path, Caption: captions[r.Path], Distance: -1}
		}
		h.Score = r.Score
		hits = append(hits, h)
	}
	return hits
}
