// Package indexer owns the per-user photo indexes. The Manager materializes a user's state
// on first access, applies adds and deletes, answers nearest-neighbour queries, and keeps
// the persisted artifact set in step with memory.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CatalogRecorder receives a summary of a user's index after every successful persist.
type CatalogRecorder interface {
	Upsert(ctx context.Context, e storage.CatalogEntry) error
}

// CaptionIndexer mirrors captions into a keyword index. Failures are logged, never returned
// to the caller of the index operation.
type CaptionIndexer interface {
	IndexCaption(ctx context.Context, userID, path, caption string) error
	DeleteCaption(ctx context.Context, userID, path string) error
	SyncUser(ctx context.Context, userID string, photos []models.Photo) error
}

// Manager is the single entry point to per-user index state.
type Manager struct {
	store     *storage.ArtifactStore
	extractor embedding.Extractor
	builder   *vector.Builder
	cfg       config.IndexConfig
	captions  storage.CaptionPolicy

	catalog  CatalogRecorder
	keywords CaptionIndexer
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	users map[string]*userEntry
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for materialization, rebuild and persistence events.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithCatalog records every persisted index in c.
func WithCatalog(c CatalogRecorder) ManagerOption {
	return func(m *Manager) { m.catalog = c }
}

// WithCaptionIndex mirrors captions into k.
func WithCaptionIndex(k CaptionIndexer) ManagerOption {
	return func(m *Manager) { m.keywords = k }
}

// WithClock replaces time.Now, for idle eviction tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager persisting to store. Zero values in cfg fall back to the
// documented defaults.
func NewManager(store *storage.ArtifactStore, extractor embedding.Extractor, builder *vector.Builder, cfg config.IndexConfig, opts ...ManagerOption) *Manager {
	if cfg.DefaultDimension <= 0 {
		cfg.DefaultDimension = config.DefaultDimension
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = config.DefaultK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = config.DefaultMaxK
	}
	if cfg.CaptionPlaceholder == "" {
		cfg.CaptionPlaceholder = config.DefaultCaptionPlaceholder
	}
	m := &Manager{
		store:     store,
		extractor: extractor,
		builder:   builder,
		cfg:       cfg,
		captions:  store.CaptionPolicy(),
		logger:    zap.NewNop(),
		now:       time.Now,
		users:     make(map[string]*userEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureReady materializes userID's state: loaded from disk when the full artifact set
// exists, created empty (and persisted) when none exists, recovered otherwise.
func (m *Manager) EnsureReady(ctx context.Context, userID string) error {
	_, release, err := m.acquire(ctx, userID, false)
	if err != nil {
		return err
	}
	release()
	return nil
}

// Query embeds the query and returns up to K nearest photos, nearest first.
func (m *Manager) Query(ctx context.Context, userID string, q models.Query) (hits []models.Hit, err error) {
	defer m.observe("query", time.Now(), &err)
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	vec, err := m.extract(ctx, q.Image, q.Text)
	if err != nil {
		return nil, err
	}
	return m.search(ctx, userID, vec, m.clampK(q.K))
}

// SearchVector runs a nearest-neighbour search with an already extracted query vector.
func (m *Manager) SearchVector(ctx context.Context, userID string, vec []float32, k int) ([]models.Hit, error) {
	return m.search(ctx, userID, vec, m.clampK(k))
}

func (m *Manager) search(ctx context.Context, userID string, vec []float32, k int) ([]models.Hit, error) {
	e, release, err := m.acquire(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	defer release()
	st := e.state

	hits := make([]models.Hit, 0, k)
	if st.len() == 0 {
		return hits, nil
	}
	if len(vec) != st.dim {
		return nil, fmt.Errorf("%w: query has %d components, user %s uses %d", ErrDimensionMismatch, len(vec), userID, st.dim)
	}
	neighbors, err := st.index.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index of user %s: %w", userID, err)
	}
	for _, n := range neighbors {
		if n.Position == vector.NoMatch || n.Position < 0 || n.Position >= st.len() {
			continue
		}
		p := st.paths[n.Position]
		hits = append(hits, models.Hit{Path: p, Caption: st.captions[p], Distance: n.Distance})
	}
	return hits, nil
}

// Add indexes the photo at path with caption and returns copies of the updated vector and
// path lists. Re-adding an indexed path overwrites its caption and vector in place.
// On failure nothing is changed.
func (m *Manager) Add(ctx context.Context, userID, path, caption string) (col *Collection, err error) {
	defer m.observe("add", time.Now(), &err)
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if path == "" || strings.ContainsAny(path, "\r\n") {
		return nil, fmt.Errorf("%w: path %q", ErrInvalidQuery, path)
	}
	caption = m.normalizeCaption(caption)

	// Extraction can be slow; it needs no user state, so it runs before the write lock.
	vec, err := m.extractForAdd(ctx, path, caption)
	if err != nil {
		return nil, err
	}

	e, release, err := m.acquire(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	defer release()

	if pos, ok := e.state.positions[path]; ok {
		if len(vec) != e.state.dim {
			return nil, fmt.Errorf("%w: got %d, user %s uses %d", ErrDimensionMismatch, len(vec), userID, e.state.dim)
		}
		vectors, paths, captions := e.state.replacing(pos, vec, caption)
		if err := m.swap(ctx, userID, e, vectors, paths, captions, "overwrite"); err != nil {
			return nil, err
		}
	} else if err := m.appendPhoto(ctx, userID, e, path, vec, caption); err != nil {
		return nil, err
	}

	m.indexCaption(ctx, userID, path, caption)
	m.logger.Debug("photo indexed",
		zap.String("user", userID), zap.String("path", path), zap.Int("photos", e.state.len()))
	return e.state.collection(), nil
}

// appendPhoto inserts a new path incrementally and persists. Any failure restores the
// three collections and the index.
func (m *Manager) appendPhoto(ctx context.Context, userID string, e *userEntry, path string, vec []float32, caption string) error {
	st := e.state
	var replaced vector.Index
	prevDim := st.dim
	if len(vec) != st.dim {
		if st.len() > 0 {
			return fmt.Errorf("%w: got %d, user %s uses %d", ErrDimensionMismatch, len(vec), userID, st.dim)
		}
		// The first real insert fixes the dimension.
		idx, err := m.builder.Empty(len(vec))
		if err != nil {
			return fmt.Errorf("create index of dimension %d: %w", len(vec), err)
		}
		replaced = st.index
		st.index, st.dim = idx, len(vec)
	}

	n := st.len()
	prevCaption, hadCaption := st.captions[path]
	st.captions[path] = caption
	st.vectors = append(st.vectors, vec)
	st.paths = append(st.paths, path)
	st.positions[path] = n

	err := st.index.Insert(vec)
	if err != nil {
		err = fmt.Errorf("insert into index of user %s: %w", userID, err)
	} else {
		err = m.persist(ctx, userID, st)
	}
	if err == nil {
		if replaced != nil {
			_ = replaced.Close()
		}
		return nil
	}

	st.vectors = st.vectors[:n]
	st.paths = st.paths[:n]
	delete(st.positions, path)
	if hadCaption {
		st.captions[path] = prevCaption
	} else {
		delete(st.captions, path)
	}
	switch {
	case replaced != nil:
		_ = st.index.Close()
		st.index, st.dim = replaced, prevDim
	case st.index.Len() != n:
		m.rebuildInPlace(userID, e, "rollback")
	}
	return err
}

// Delete removes path from userID's index. The new state is built and persisted before it
// replaces the current one, so a failed delete leaves memory untouched.
func (m *Manager) Delete(ctx context.Context, userID, path string) (err error) {
	defer m.observe("delete", time.Now(), &err)
	e, release, err := m.acquire(ctx, userID, true)
	if err != nil {
		return err
	}
	defer release()

	pos, ok := e.state.positions[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	vectors, paths, captions := e.state.without(pos)
	if err := m.swap(ctx, userID, e, vectors, paths, captions, "delete"); err != nil {
		return err
	}
	m.deleteCaption(ctx, userID, path)
	m.logger.Debug("photo removed",
		zap.String("user", userID), zap.String("path", path), zap.Int("photos", e.state.len()))
	return nil
}

// List returns the user's photos in index order. Photos without a caption get the
// configured placeholder.
func (m *Manager) List(ctx context.Context, userID string) (photos []models.Photo, err error) {
	defer m.observe("list", time.Now(), &err)
	e, release, err := m.acquire(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	defer release()
	st := e.state
	photos = make([]models.Photo, 0, st.len())
	for _, p := range st.paths {
		caption := st.captions[p]
		if caption == "" {
			caption = m.cfg.CaptionPlaceholder
		}
		photos = append(photos, models.Photo{Path: p, Caption: caption})
	}
	return photos, nil
}

// Contains reports whether path is indexed for userID.
func (m *Manager) Contains(ctx context.Context, userID, path string) (bool, error) {
	e, release, err := m.acquire(ctx, userID, false)
	if err != nil {
		return false, err
	}
	defer release()
	_, ok := e.state.positions[path]
	return ok, nil
}

// Stats summarizes userID's index.
func (m *Manager) Stats(ctx context.Context, userID string) (models.IndexStats, error) {
	e, release, err := m.acquire(ctx, userID, false)
	if err != nil {
		return models.IndexStats{}, err
	}
	defer release()
	st := e.state
	disk, err := m.store.DiskUsage(userID)
	if err != nil {
		return models.IndexStats{}, fmt.Errorf("%w: disk usage of user %s: %w", ErrIO, userID, err)
	}
	return models.IndexStats{
		UserID:     userID,
		Photos:     st.len(),
		Dimension:  st.dim,
		Backend:    string(m.builder.Backend()),
		Metric:     string(m.builder.Params().Metric),
		DiskBytes:  disk,
		LoadedFrom: st.source,
		LastUsed:   time.Unix(0, e.lastUsed.Load()),
	}, nil
}

// Preload materializes userIDs with at most concurrency users loading at once.
func (m *Manager) Preload(ctx context.Context, userIDs []string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range userIDs {
		g.Go(func() error {
			if err := m.EnsureReady(ctx, id); err != nil {
				return fmt.Errorf("preload user %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Resident lists users whose state is in memory, sorted.
func (m *Manager) Resident() []string {
	m.mu.Lock()
	entries := make(map[string]*userEntry, len(m.users))
	for id, e := range m.users {
		entries[id] = e
	}
	m.mu.Unlock()

	var ids []string
	for id, e := range entries {
		e.mu.RLock()
		if e.state != nil && !e.evicted {
			ids = append(ids, id)
		}
		e.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// Close drops every resident state. The Manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Evict(id)
	}
	return nil
}

// acquire is the single entry gate. It validates userID, materializes the user's state
// when needed and returns the entry locked for reading or writing, with its unlock func.
func (m *Manager) acquire(ctx context.Context, userID string, write bool) (*userEntry, func(), error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		e := m.entry(userID)
		if write {
			e.mu.Lock()
			if e.evicted {
				e.mu.Unlock()
				continue
			}
			if e.state == nil {
				if err := m.materialize(ctx, userID, e); err != nil {
					e.mu.Unlock()
					return nil, nil, err
				}
			}
			e.lastUsed.Store(m.now().UnixNano())
			return e, e.mu.Unlock, nil
		}

		e.mu.RLock()
		if !e.evicted && e.state != nil {
			e.lastUsed.Store(m.now().UnixNano())
			return e, e.mu.RUnlock, nil
		}
		e.mu.RUnlock()

		e.mu.Lock()
		if !e.evicted && e.state == nil {
			if err := m.materialize(ctx, userID, e); err != nil {
				e.mu.Unlock()
				return nil, nil, err
			}
		}
		e.mu.Unlock()
	}
}

func (m *Manager) entry(userID string) *userEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[userID]
	if !ok {
		e = &userEntry{}
		m.users[userID] = e
	}
	return e
}

// materialize loads or creates e's state. Caller holds e.mu for writing.
func (m *Manager) materialize(ctx context.Context, userID string, e *userEntry) error {
	st, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	e.state = st
	metrics.ResidentUsers.Inc()
	metrics.Materializations.WithLabelValues(st.source).Inc()
	m.logger.Debug("user index ready",
		zap.String("user", userID), zap.String("source", st.source),
		zap.Int("photos", st.len()), zap.Int("dimension", st.dim))

	if m.keywords != nil {
		photos := make([]models.Photo, 0, st.len())
		for _, p := range st.paths {
			photos = append(photos, models.Photo{Path: p, Caption: st.captions[p]})
		}
		if err := m.keywords.SyncUser(ctx, userID, photos); err != nil {
			m.logger.Warn("caption index sync failed", zap.String("user", userID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) load(ctx context.Context, userID string) (*userState, error) {
	presence, err := m.store.Presence(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect artifacts of user %s: %w", ErrIO, userID, err)
	}
	if presence.None() {
		st, err := m.emptyState(m.cfg.DefaultDimension)
		if err != nil {
			return nil, err
		}
		st.source = sourceCreated
		if err := m.persist(ctx, userID, st); err != nil {
			st.close()
			return nil, err
		}
		return st, nil
	}
	if !presence.All() {
		return m.recover(ctx, userID, fmt.Errorf("incomplete artifact set %+v", presence))
	}
	st, err := m.loadComplete(userID)
	if err == nil {
		st.source = sourceLoaded
		return st, nil
	}
	if !errors.Is(err, storage.ErrCorruptState) {
		return nil, fmt.Errorf("%w: load artifacts of user %s: %w", ErrIO, userID, err)
	}
	return m.recover(ctx, userID, err)
}

func (m *Manager) loadComplete(userID string) (*userState, error) {
	a, err := m.store.Load(userID)
	if err != nil {
		return nil, err
	}
	idx, err := m.builder.Load(bytes.NewReader(a.IndexBlob))
	if err != nil {
		return nil, fmt.Errorf("%w: index blob: %v", storage.ErrCorruptState, err)
	}
	if idx.Len() != len(a.Vectors) || idx.Dimensions() != a.Dim {
		_ = idx.Close()
		return nil, fmt.Errorf("%w: index holds %d vectors of dimension %d, matrix holds %d of %d",
			storage.ErrCorruptState, idx.Len(), idx.Dimensions(), len(a.Vectors), a.Dim)
	}
	if _, paths := dedupe(a.Vectors, a.Paths); len(paths) != len(a.Paths) {
		_ = idx.Close()
		return nil, fmt.Errorf("%w: duplicate paths", storage.ErrCorruptState)
	}
	return newUserState(a.Dim, a.Vectors, a.Paths, a.Captions, idx), nil
}

// recover salvages what it can from a damaged artifact set. When the vector matrix and path
// list agree the index is rebuilt from the vectors; otherwise the user starts empty.
// The recovered state is persisted before it is served.
func (m *Manager) recover(ctx context.Context, userID string, cause error) (*userState, error) {
	p := m.store.LoadPartial(userID)
	var st *userState
	if p.Vectors != nil && p.Paths != nil && len(p.Vectors) == len(p.Paths) {
		vectors, paths := dedupe(p.Vectors, p.Paths)
		idx, err := m.builder.Build(p.Dim, vectors)
		if err != nil {
			m.logger.Warn("rebuild from stored vectors failed", zap.String("user", userID), zap.Error(err))
		} else {
			st = newUserState(p.Dim, vectors, paths, p.Captions, idx)
			metrics.IndexRebuilds.WithLabelValues("recover").Inc()
		}
	}
	if st == nil {
		var err error
		if st, err = m.emptyState(m.cfg.DefaultDimension); err != nil {
			return nil, fmt.Errorf("%w: user %s: %w", ErrCorruptState, userID, err)
		}
	}
	st.source = sourceRecovered
	m.logger.Warn("recovered corrupt index state",
		zap.String("user", userID), zap.Int("photos", st.len()), zap.NamedError("cause", cause))
	if err := m.persist(ctx, userID, st); err != nil {
		st.close()
		return nil, err
	}
	return st, nil
}

func (m *Manager) emptyState(dim int) (*userState, error) {
	idx, err := m.builder.Empty(dim)
	if err != nil {
		return nil, fmt.Errorf("create empty index: %w", err)
	}
	return newUserState(dim, [][]float32{}, []string{}, nil, idx), nil
}

// swap builds a new state from the given collections, persists it and only then replaces
// e.state.
func (m *Manager) swap(ctx context.Context, userID string, e *userEntry, vectors [][]float32, paths []string, captions map[string]string, reason string) error {
	cur := e.state
	idx, err := m.builder.Build(cur.dim, vectors)
	if err != nil {
		return fmt.Errorf("rebuild index of user %s: %w", userID, err)
	}
	next := newUserState(cur.dim, vectors, paths, captions, idx)
	next.source = cur.source
	if err := m.persist(ctx, userID, next); err != nil {
		next.close()
		return err
	}
	cur.close()
	e.state = next
	metrics.IndexRebuilds.WithLabelValues(reason).Inc()
	return nil
}

// rebuildInPlace replaces the index of e.state with one built from its vectors. If that
// fails the state is dropped, so the next access reloads the last committed set.
func (m *Manager) rebuildInPlace(userID string, e *userEntry, reason string) {
	st := e.state
	idx, err := m.builder.Build(st.dim, st.vectors)
	if err != nil {
		m.logger.Error("index rebuild failed, dropping in-memory state",
			zap.String("user", userID), zap.String("reason", reason), zap.Error(err))
		st.close()
		e.state = nil
		metrics.ResidentUsers.Dec()
		return
	}
	_ = st.index.Close()
	st.index = idx
	metrics.IndexRebuilds.WithLabelValues(reason).Inc()
}

// persist commits st as userID's artifact set and records it in the catalog.
func (m *Manager) persist(ctx context.Context, userID string, st *userState) error {
	var blob bytes.Buffer
	if err := st.index.Save(&blob); err != nil {
		return fmt.Errorf("%w: serialize index of user %s: %w", ErrIO, userID, err)
	}
	err := m.store.Save(userID, &storage.Artifacts{
		Dim:       st.dim,
		Vectors:   st.vectors,
		Paths:     st.paths,
		Captions:  st.captions,
		IndexBlob: blob.Bytes(),
	})
	if err != nil {
		m.logger.Error("persist failed", zap.String("user", userID), zap.Error(err))
		return fmt.Errorf("%w: save artifacts of user %s: %w", ErrIO, userID, err)
	}
	if m.catalog != nil {
		entry := storage.CatalogEntry{UserID: userID, Vectors: st.len(), Dimension: st.dim, UpdatedAt: m.now()}
		if err := m.catalog.Upsert(ctx, entry); err != nil {
			m.logger.Warn("catalog update failed", zap.String("user", userID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) extract(ctx context.Context, imagePath, text string) ([]float32, error) {
	vec, err := m.extractor.Extract(ctx, imagePath, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: extractor returned no vector", ErrExtraction)
	}
	return vec, nil
}

// extractForAdd embeds the photo together with its caption. Extractors without an image
// tower fall back to the caption alone.
func (m *Manager) extractForAdd(ctx context.Context, path, caption string) ([]float32, error) {
	vec, err := m.extract(ctx, path, caption)
	if err != nil && caption != "" && errors.Is(err, embedding.ErrUnsupportedInput) {
		m.logger.Debug("extractor has no image input, embedding caption only", zap.String("path", path))
		return m.extract(ctx, "", caption)
	}
	return vec, err
}

// normalizeCaption collapses whitespace and applies the caption token limit, so the
// in-memory caption is exactly what a reload of the caption file yields.
func (m *Manager) normalizeCaption(caption string) string {
	caption = strings.Join(strings.Fields(caption), " ")
	return m.captions.Select([]string{caption})
}

func (m *Manager) clampK(k int) int {
	if k <= 0 {
		k = m.cfg.DefaultK
	}
	if k > m.cfg.MaxK {
		k = m.cfg.MaxK
	}
	return k
}

func (m *Manager) indexCaption(ctx context.Context, userID, path, caption string) {
	if m.keywords == nil {
		return
	}
	if err := m.keywords.IndexCaption(ctx, userID, path, caption); err != nil {
		m.logger.Warn("caption index update failed", zap.String("user", userID), zap.String("path", path), zap.Error(err))
	}
}

func (m *Manager) deleteCaption(ctx context.Context, userID, path string) {
	if m.keywords == nil {
		return
	}
	if err := m.keywords.DeleteCaption(ctx, userID, path); err != nil {
		m.logger.Warn("caption index delete failed", zap.String("user", userID), zap.String("path", path), zap.Error(err))
	}
}

func (m *Manager) observe(op string, start time.Time, err *error) {
	metrics.OperationsTotal.WithLabelValues(op, errorKind(*err)).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
