package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/pdd-media-scraper/internal/models"
	"github.com/maltedev/pdd-media-scraper/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubParser struct {
	info  *models.ProductInfo
	err   error
	calls int
}

func (s *stubParser) ParseProduct(_ context.Context, rawURL, _ string, _ playwright.Page) (*models.ProductInfo, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.info != nil {
		return s.info, nil
	}
	return models.NewProductInfo(rawURL), nil
}

type stubSession struct {
	ensureErr     error
	gotoErr       error
	loginRequired bool
	alive         bool
	closed        bool
	gotoURLs      []string
}

func (s *stubSession) Ensure() (playwright.Page, error) {
	return nil, s.ensureErr
}

func (s *stubSession) GotoWithRecovery(url string) (playwright.Page, error) {
	s.gotoURLs = append(s.gotoURLs, url)
	return nil, s.gotoErr
}

func (s *stubSession) CloseExtraPages(playwright.Page) {}
func (s *stubSession) SaveStorageState() {}
func (s *stubSession) LoginRequired(playwright.Page) bool { return s.loginRequired }
func (s *stubSession) IsAlive() bool { return s.alive }
func (s *stubSession) Close() error { s.closed = true; return nil }

type stubCache struct {
	entries map[string]*models.ProductInfo
	sets    int
}

func (s *stubCache) Get(_ context.Context, rawURL string) (*models.ProductInfo, bool) {
	info, ok := s.entries[rawURL]
	return info, ok
}

func (s *stubCache) Set(_ context.Context, rawURL string, info *models.ProductInfo) {
	if s.entries == nil {
		s.entries = make(map[string]*models.ProductInfo)
	}
	s.entries[rawURL] = info
	s.sets++
}

type stubStore struct {
	saved []string
}

func (s *stubStore) SaveExtraction(_ context.Context, info *models.ProductInfo, _ time.Duration) (uuid.UUID, error) {
	s.saved = append(s.saved, info.SourceURL)
	return uuid.New(), nil
}

func (s *stubStore) RecentExtractions(context.Context, int) ([]store.Extraction, error) {
	return []store.Extraction{}, nil
}

func postJSON(t *testing.T, handler http.HandlerFunc, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestExtract(t *testing.T) {
	info := models.NewProductInfo("https://mobile.yangkeduo.com/goods.html?goods_id=123456")
	info.Title = "某商品"
	info.Videos = []string{"https://vod.example.com/v.mp4"}

	parser := &stubParser{info: info}
	cache := &stubCache{}
	st := &stubStore{}
	h := NewHandlers(parser, Options{Cache: cache, Store: st}, testLogger())

	rec := postJSON(t, h.Extract, ExtractRequest{URL: "https://mobile.yangkeduo.com/goods.html?goods_id=123456"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExtractResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Cached)
	assert.Equal(t, "某商品", resp.Product.Title)
	assert.Equal(t, 1, parser.calls)
	assert.Equal(t, 1, cache.sets)
	assert.Len(t, st.saved, 1)
}

func TestExtractRequiresURL(t *testing.T) {
	h := NewHandlers(&stubParser{}, Options{}, testLogger())
	rec := postJSON(t, h.Extract, ExtractRequest{URL: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractCacheHit(t *testing.T) {
	cached := models.NewProductInfo("https://example.com/p")
	cached.Title = "缓存商品"
	parser := &stubParser{}
	h := NewHandlers(parser, Options{
		Cache: &stubCache{entries: map[string]*models.ProductInfo{"https://example.com/p": cached}},
	}, testLogger())

	rec := postJSON(t, h.Extract, ExtractRequest{URL: "https://example.com/p"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExtractResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, "缓存商品", resp.Product.Title)
	assert.Equal(t, 0, parser.calls)
}

func TestExtractForceRefreshSkipsCache(t *testing.T) {
	cached := models.NewProductInfo("https://example.com/p")
	parser := &stubParser{}
	h := NewHandlers(parser, Options{
		Cache: &stubCache{entries: map[string]*models.ProductInfo{"https://example.com/p": cached}},
	}, testLogger())

	rec := postJSON(t, h.Extract, ExtractRequest{URL: "https://example.com/p", ForceRefresh: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, parser.calls)
}

func TestExtractLoginRequired(t *testing.T) {
	parser := &stubParser{}
	session := &stubSession{loginRequired: true, alive: true}
	h := NewHandlers(parser, Options{Session: session}, testLogger())

	rec := postJSON(t, h.Extract, ExtractRequest{
		URL:               "https://p.pinduoduo.com/share?goods_id=987654321",
		UseBrowserSession: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExtractResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.LoginRequired)
	assert.Equal(t, 0, parser.calls)

	// The session is pointed at the canonical goods URL, not the share
	// redirect.
	require.Len(t, session.gotoURLs, 1)
	assert.Equal(t, "https://mobile.yangkeduo.com/goods.html?goods_id=987654321", session.gotoURLs[0])
}

func TestExtractSessionGone(t *testing.T) {
	session := &stubSession{gotoErr: errors.New("login session is unavailable")}
	h := NewHandlers(&stubParser{}, Options{Session: session}, testLogger())

	rec := postJSON(t, h.Extract, ExtractRequest{URL: "https://example.com/p", UseBrowserSession: true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExtractPipelineError(t *testing.T) {
	h := NewHandlers(&stubParser{err: errors.New("all static extraction attempts failed")}, Options{}, testLogger())
	rec := postJSON(t, h.Extract, ExtractRequest{URL: "https://example.com/p"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGenerateCopyFallback(t *testing.T) {
	h := NewHandlers(&stubParser{}, Options{}, testLogger())
	rec := postJSON(t, h.GenerateCopy, CopyRequest{Title: "某商品"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SellingPoints []string `json:"selling_points"`
		Script30s     string   `json:"script_30s"`
		Source        string   `json:"source"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "fallback", resp.Source)
	assert.NotEmpty(t, resp.SellingPoints)
	assert.Contains(t, resp.Script30s, "某商品")
}

func TestGenerateCopyRequiresTitle(t *testing.T) {
	h := NewHandlers(&stubParser{}, Options{}, testLogger())
	rec := postJSON(t, h.GenerateCopy, CopyRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseSession(t *testing.T) {
	session := &stubSession{alive: true}
	h := NewHandlers(&stubParser{}, Options{Session: session}, testLogger())

	rec := postJSON(t, h.CloseSession, struct{}{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, session.closed)
}

func TestHistoryWithoutStore(t *testing.T) {
	h := NewHandlers(&stubParser{}, Options{}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	h.History(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	h := NewHandlers(&stubParser{}, Options{Session: &stubSession{alive: true}}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["session_alive"])
}
