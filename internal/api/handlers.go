package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/pdd-media-scraper/internal/copywriter"
	"github.com/maltedev/pdd-media-scraper/internal/models"
	"github.com/maltedev/pdd-media-scraper/internal/procutil"
	"github.com/maltedev/pdd-media-scraper/internal/store"
	"github.com/maltedev/pdd-media-scraper/internal/urlx"
)

// ProductParser runs the full extraction pipeline for one URL.
type ProductParser interface {
	ParseProduct(ctx context.Context, rawURL, cookieText string, livePage playwright.Page) (*models.ProductInfo, error)
}

// BrowserSession is the persistent authenticated browser session.
type BrowserSession interface {
	Ensure() (playwright.Page, error)
	GotoWithRecovery(url string) (playwright.Page, error)
	CloseExtraPages(keep playwright.Page)
	SaveStorageState()
	LoginRequired(page playwright.Page) bool
	IsAlive() bool
	Close() error
}

// CopyGenerator produces marketing copy for a result.
type CopyGenerator interface {
	Generate(ctx context.Context, info *models.ProductInfo) copywriter.Result
}

// ResultCache memoizes extraction results per product URL.
type ResultCache interface {
	Get(ctx context.Context, rawURL string) (*models.ProductInfo, bool)
	Set(ctx context.Context, rawURL string, info *models.ProductInfo)
}

// ExtractionStore persists extraction history.
type ExtractionStore interface {
	SaveExtraction(ctx context.Context, info *models.ProductInfo, duration time.Duration) (uuid.UUID, error)
	RecentExtractions(ctx context.Context, limit int) ([]store.Extraction, error)
}

// Options carries the optional collaborators; every field may be nil and
// the corresponding feature degrades gracefully.
type Options struct {
	Session     BrowserSession
	Copy        CopyGenerator
	Cache       ResultCache
	Store       ExtractionStore
	UserDataDir string
}

type Handlers struct {
	pipeline    ProductParser
	session     BrowserSession
	copy        CopyGenerator
	cache       ResultCache
	store       ExtractionStore
	userDataDir string
	logger      *slog.Logger
}

func NewHandlers(pipeline ProductParser, opts Options, logger *slog.Logger) *Handlers {
	return &Handlers{
		pipeline:    pipeline,
		session:     opts.Session,
		copy:        opts.Copy,
		cache:       opts.Cache,
		store:       opts.Store,
		userDataDir: opts.UserDataDir,
		logger:      logger.With("component", "api"),
	}
}

// ExtractRequest asks for product media extraction from one pasted link.
type ExtractRequest struct {
	URL               string `json:"url"`
	Cookie            string `json:"cookie"`
	UseBrowserSession bool   `json:"use_browser_session"`
	ForceRefresh      bool   `json:"force_refresh"`
	WithCopy          bool   `json:"with_copy"`
}

type ExtractResponse struct {
	Product       *models.ProductInfo `json:"product,omitempty"`
	Copy          *copywriter.Result  `json:"copy,omitempty"`
	Cached        bool                `json:"cached"`
	LoginRequired bool                `json:"login_required,omitempty"`
	Message       string              `json:"message,omitempty"`
	DurationMs    int64               `json:"duration_ms"`
}

// Extract handles product media extraction requests.
func (h *Handlers) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	normalized := urlx.Normalize(req.URL)
	if normalized == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	if h.cache != nil && !req.ForceRefresh {
		if info, ok := h.cache.Get(r.Context(), normalized); ok {
			h.logger.Info("cache hit", "url", normalized)
			h.respondJSON(w, http.StatusOK, h.buildResponse(r.Context(), info, &req, true, 0))
			return
		}
	}

	var livePage playwright.Page
	if req.UseBrowserSession && h.session != nil {
		page, err := h.prepareSessionPage(normalized)
		if err != nil {
			h.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if h.session.LoginRequired(page) {
			h.session.SaveStorageState()
			h.respondJSON(w, http.StatusOK, ExtractResponse{
				LoginRequired: true,
				Message:       "log in using the browser window, then retry the request",
			})
			return
		}
		h.session.SaveStorageState()
		h.session.CloseExtraPages(page)
		livePage = page
	}

	start := time.Now()
	info, err := h.pipeline.ParseProduct(r.Context(), normalized, req.Cookie, livePage)
	if err != nil {
		h.logger.Error("extraction failed", "url", normalized, "error", err)
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	duration := time.Since(start)

	if h.store != nil {
		if _, err := h.store.SaveExtraction(r.Context(), info, duration); err != nil {
			h.logger.Warn("failed to persist extraction", "error", err)
		}
	}
	if h.cache != nil {
		h.cache.Set(r.Context(), normalized, info)
	}

	h.respondJSON(w, http.StatusOK, h.buildResponse(r.Context(), info, &req, false, duration.Milliseconds()))
}

func (h *Handlers) prepareSessionPage(normalized string) (playwright.Page, error) {
	if _, err := h.session.Ensure(); err != nil {
		return nil, err
	}
	// The canonical goods URL skips share-redirect chains that often dead
	// end at a login wall.
	return h.session.GotoWithRecovery(urlx.Canonicalize(normalized))
}

func (h *Handlers) buildResponse(ctx context.Context, info *models.ProductInfo, req *ExtractRequest, cached bool, durationMs int64) ExtractResponse {
	resp := ExtractResponse{
		Product:    info,
		Cached:     cached,
		DurationMs: durationMs,
	}
	if req.WithCopy {
		result := h.generateCopy(ctx, info)
		resp.Copy = &result
	}
	return resp
}

func (h *Handlers) generateCopy(ctx context.Context, info *models.ProductInfo) copywriter.Result {
	if h.copy == nil {
		return copywriter.Fallback(info.Title)
	}
	return h.copy.Generate(ctx, info)
}

// CopyRequest asks for marketing copy from an existing result.
type CopyRequest struct {
	Title  string   `json:"title"`
	Images []string `json:"images"`
	Videos []string `json:"videos"`
}

// GenerateCopy handles standalone copy generation requests.
func (h *Handlers) GenerateCopy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		h.respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	info := models.NewProductInfo("")
	info.Title = req.Title
	info.Images = req.Images
	info.Videos = req.Videos

	h.respondJSON(w, http.StatusOK, h.generateCopy(r.Context(), info))
}

// CloseSession gracefully closes the browser session and reaps any stale
// automation browser processes left behind by crashed runs.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	if h.session != nil {
		if err := h.session.Close(); err != nil {
			h.logger.Warn("failed to close session", "error", err)
		}
	}
	result := procutil.CleanupStaleBrowsers(h.userDataDir, h.logger)

	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":        "closed",
		"stale_matched": result.Matched,
	})
}

// History returns recent extraction runs from the store.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.respondError(w, http.StatusServiceUnavailable, "history storage not configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	extractions, err := h.store.RecentExtractions(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load history", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	h.respondJSON(w, http.StatusOK, extractions)
}

// Health reports service and session liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":        "ok",
		"session_alive": h.session != nil && h.session.IsAlive(),
	}
	h.respondJSON(w, http.StatusOK, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
