package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DataDir = filepath.Join(dir, "users")
	cfg.Storage.CatalogPath = filepath.Join(dir, "catalog.db")
	cfg.Extractor.Kind = "mock"
	config.ApplyDefaults(cfg)

	store, err := storage.NewArtifactStore(cfg.Storage.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := storage.NewCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { catalog.Close() })
	captions, err := keyword.NewMemCaptionIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { captions.Close() })
	builder, err := vector.NewBuilder("hnsw", vector.HNSWParams{Metric: vector.MetricL2, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	manager := indexer.NewManager(store, embedding.NewMockExtractor(32), builder, cfg.Index,
		indexer.WithCatalog(catalog), indexer.WithCaptionIndex(captions))
	t.Cleanup(func() { manager.Close() })
	engine := search.NewEngine(manager, captions)

	srv := NewServer(manager, engine, cfg, zap.NewNop(), WithCatalog(catalog), WithCaptionCount(captions))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)
	code, out := do(t, ts, http.MethodGet, "/health", nil)
	if code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %v", code, out)
	}
}

func TestPhotoLifecycle(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/users/alice"

	for i, caption := range []string{"A boat on the sea", "The sun at dawn", ""} {
		code, out := do(t, ts, http.MethodPost, base+"/photos", addPhotoRequest{
			Path: fmt.Sprintf("/photos/%d.jpg", i), Caption: caption,
		})
		if code != http.StatusCreated {
			t.Fatalf("add %d = %d %v", i, code, out)
		}
		if out["photos"] != float64(i+1) {
			t.Errorf("photos after add %d = %v", i, out["photos"])
		}
	}

	code, out := do(t, ts, http.MethodGet, base+"/photos", nil)
	if code != http.StatusOK {
		t.Fatalf("list = %d %v", code, out)
	}
	photos := out["photos"].([]interface{})
	if len(photos) != 3 {
		t.Fatalf("listed %d photos", len(photos))
	}
	if last := photos[2].(map[string]interface{}); last["caption"] != "No annotation" {
		t.Errorf("blank caption listed as %v", last["caption"])
	}

	code, out = do(t, ts, http.MethodPost, base+"/search", models.SearchQuery{Text: "A boat on the sea", K: 1})
	if code != http.StatusOK {
		t.Fatalf("search = %d %v", code, out)
	}
	hits := out["hits"].([]interface{})
	if len(hits) != 1 || hits[0].(map[string]interface{})["path"] != "/photos/0.jpg" {
		t.Errorf("semantic hits = %v", hits)
	}

	code, out = do(t, ts, http.MethodPost, base+"/search", models.SearchQuery{Text: "dawn", Mode: models.ModeKeyword})
	if code != http.StatusOK {
		t.Fatalf("keyword search = %d %v", code, out)
	}
	hits = out["hits"].([]interface{})
	if len(hits) != 1 || hits[0].(map[string]interface{})["path"] != "/photos/1.jpg" {
		t.Errorf("keyword hits = %v", hits)
	}

	code, out = do(t, ts, http.MethodGet, base+"/stats", nil)
	if code != http.StatusOK || out["photos"] != float64(3) || out["dimension"] != float64(32) {
		t.Errorf("stats = %d %v", code, out)
	}

	code, out = do(t, ts, http.MethodDelete, base+"/photos?path=/photos/1.jpg", nil)
	if code != http.StatusOK {
		t.Errorf("delete = %d %v", code, out)
	}
	code, _ = do(t, ts, http.MethodDelete, base+"/photos", deletePhotoRequest{Path: "/photos/1.jpg"})
	if code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}

	code, out = do(t, ts, http.MethodGet, "/api/v1/status", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d %v", code, out)
	}
	if out["catalog_users"] != float64(1) || out["catalog_vectors"] != float64(2) {
		t.Errorf("catalog totals = %v / %v", out["catalog_users"], out["catalog_vectors"])
	}
	if out["captions_indexed"] != float64(2) {
		t.Errorf("captions_indexed = %v", out["captions_indexed"])
	}
	if resident := out["resident_users"].([]interface{}); len(resident) != 1 || resident[0] != "alice" {
		t.Errorf("resident_users = %v", resident)
	}

	code, out = do(t, ts, http.MethodPost, base+"/evict", nil)
	if code != http.StatusOK || out["evicted"] != true {
		t.Errorf("evict = %d %v", code, out)
	}
	code, out = do(t, ts, http.MethodGet, base+"/photos", nil)
	if code != http.StatusOK || len(out["photos"].([]interface{})) != 2 {
		t.Errorf("list after evict = %d %v", code, out)
	}
}

func TestEmptyUserSearch(t *testing.T) {
	ts := newTestServer(t)
	code, out := do(t, ts, http.MethodPost, "/api/v1/users/newbie/search", models.SearchQuery{Text: "anything"})
	if code != http.StatusOK {
		t.Fatalf("search = %d %v", code, out)
	}
	if hits := out["hits"].([]interface{}); len(hits) != 0 {
		t.Errorf("hits = %v", hits)
	}
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		method, path string
		body         interface{}
		want         int
	}{
		{http.MethodGet, "/api/v1/users/bad.user/photos", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/users/alice/photos", addPhotoRequest{Path: ""}, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/users/alice/search", models.SearchQuery{}, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/users/alice/search", models.SearchQuery{Text: "x", Mode: "nope"}, http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/users/alice/photos", nil, http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/users/alice/photos?path=missing.jpg", nil, http.StatusNotFound},
		{http.MethodPost, "/api/v1/users/bad.user/evict", nil, http.StatusBadRequest},
	}
	for _, c := range cases {
		code, out := do(t, ts, c.method, c.path, c.body)
		if code != c.want {
			t.Errorf("%s %s = %d %v, want %d", c.method, c.path, code, out, c.want)
		}
		if _, ok := out["error"]; !ok {
			t.Errorf("%s %s: no error message in %v", c.method, c.path, out)
		}
	}
}

func TestInvalidBody(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Post(ts.URL+"/api/v1/users/alice/photos", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	do(t, ts, http.MethodGet, "/health", nil)
	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `kioku_http_requests_total{method="GET",route="/health",status="2xx"}`) {
		t.Errorf("request counter missing from /metrics output")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", indexer.ErrInvalidUser), http.StatusBadRequest},
		{fmt.Errorf("%w: x", indexer.ErrInvalidQuery), http.StatusBadRequest},
		{fmt.Errorf("%w: x", indexer.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", indexer.ErrDimensionMismatch), http.StatusConflict},
		{fmt.Errorf("%w: x", indexer.ErrExtraction), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", indexer.ErrIO), http.StatusInternalServerError},
		{indexer.ErrCorruptState, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
