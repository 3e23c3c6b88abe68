// Package dynamic renders product pages in a real browser and harvests
// media from the DOM, network traffic and captured JSON payloads.
package dynamic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/pdd-media-scraper/internal/classifier"
	"github.com/maltedev/pdd-media-scraper/internal/models"
	"github.com/maltedev/pdd-media-scraper/internal/session"
	"github.com/maltedev/pdd-media-scraper/internal/static"
	"github.com/maltedev/pdd-media-scraper/internal/urlx"
)

// maxCapturedBodies bounds how many response bodies are buffered per
// extraction; product pages fire hundreds of beacon requests.
const maxCapturedBodies = 80

// bodyKeywords gate which response bodies are worth walking as JSON.
var bodyKeywords = []string{"video", "image", "goods", "mp4", "m3u8"}

// clickProbeSelectors are play-button candidates for the optional click
// probe. Disabled by default: clicking can trigger app-download overlays.
var clickProbeSelectors = []string{
	"video",
	"[class*=video-play]",
	"[class*=player]",
	`button[aria-label*=播放]`,
}

type Config struct {
	Headless           bool
	StorageStatePath   string
	ClickProbe         bool
	NavigationTimeout  time.Duration
	NetworkIdleTimeout time.Duration
	SettleDelay        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Headless:           true,
		StorageStatePath:   ".pdd_storage_state.json",
		ClickProbe:         false,
		NavigationTimeout:  45 * time.Second,
		NetworkIdleTimeout: 8 * time.Second,
		SettleDelay:        2500 * time.Millisecond,
	}
}

type Extractor struct {
	cfg    Config
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.NetworkIdleTimeout <= 0 {
		cfg.NetworkIdleTimeout = 8 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2500 * time.Millisecond
	}
	return &Extractor{cfg: cfg, logger: logger.With("component", "dynamic_extractor")}
}

// capture accumulates network observations concurrently with page events.
type capture struct {
	mu          sync.Mutex
	bodyCount   int
	networkURLs []string
	jsonImages  []string
	jsonVideos  []string
}

// addNetworkURL records a request or response URL; both sides matter
// because redirect chains surface media URLs only on the response side.
func (c *capture) addNetworkURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkURLs = append(c.networkURLs, u)
}

func (c *capture) takeBodySlot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bodyCount >= maxCapturedBodies {
		return false
	}
	c.bodyCount++
	return true
}

func (c *capture) addMedia(images, videos []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jsonImages = append(c.jsonImages, images...)
	c.jsonVideos = append(c.jsonVideos, videos...)
}

func (c *capture) snapshot() (networkURLs, images, videos []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.networkURLs...),
		append([]string(nil), c.jsonImages...),
		append([]string(nil), c.jsonVideos...)
}

// interestingBody reports whether a response body is worth parsing: it
// must carry at least one URL and one media-ish keyword.
func interestingBody(body string) bool {
	if !strings.Contains(body, "http") {
		return false
	}
	low := strings.ToLower(body)
	for _, kw := range bodyKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// Extract renders sourceURL and returns everything found. When livePage is
// non-nil the extraction reuses the authenticated session page (the caller
// has already navigated it); otherwise a disposable headless context is
// created, primed with saved storage state and any pasted cookies.
func (e *Extractor) Extract(ctx context.Context, sourceURL, cookieText string, livePage playwright.Page) (*models.ProductInfo, error) {
	info := models.NewProductInfo(sourceURL)

	page := livePage
	var teardown func()
	if page == nil || page.IsClosed() {
		var err error
		page, teardown, err = e.newDisposablePage(cookieText)
		if err != nil {
			return nil, err
		}
		defer teardown()
	}

	captured := &capture{}
	onRequest := func(req playwright.Request) {
		captured.addNetworkURL(req.URL())
	}
	onResponse := func(resp playwright.Response) {
		captured.addNetworkURL(resp.URL())
		e.handleResponse(resp, captured)
	}
	onPopup := func(popup playwright.Page) {
		e.logger.Debug("closing popup", "url", popup.URL())
		popup.Close()
	}
	// Login flows and ad overlays open secondary tabs on the context, not
	// just popups tied to the page; close those too.
	onPage := func(extra playwright.Page) {
		if extra == page {
			return
		}
		e.logger.Debug("closing extra tab", "url", extra.URL())
		extra.Close()
	}
	pageCtx := page.Context()
	page.OnRequest(onRequest)
	page.OnResponse(onResponse)
	page.OnPopup(onPopup)
	pageCtx.OnPage(onPage)
	defer func() {
		page.RemoveListener("request", onRequest)
		page.RemoveListener("response", onResponse)
		page.RemoveListener("popup", onPopup)
		pageCtx.RemoveListener("page", onPage)
	}()

	// A live session page is already on the product page with content
	// rendered; re-navigating would throw that state away.
	needNavigation := livePage == nil || session.LooksLoggedOut(page)
	if needNavigation {
		if err := e.navigate(page, sourceURL); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.settle(page)
	e.scroll(page)
	if e.cfg.ClickProbe {
		e.probePlayButtons(page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domImages, domVideos, domTitle := harvestDOM(page)

	htmlTitle := ""
	var htmlImages, htmlVideos []string
	if content, err := page.Content(); err == nil {
		htmlTitle, htmlImages, htmlVideos = static.ExtractFromHTML(content)
	}

	networkURLs, jsonImages, jsonVideos := captured.snapshot()
	netImages, netVideos := classifier.ClassifyBatch(networkURLs)

	var imageCandidates, videoCandidates []string
	imageCandidates = append(imageCandidates, domImages...)
	imageCandidates = append(imageCandidates, htmlImages...)
	imageCandidates = append(imageCandidates, jsonImages...)
	imageCandidates = append(imageCandidates, netImages...)
	videoCandidates = append(videoCandidates, domVideos...)
	videoCandidates = append(videoCandidates, htmlVideos...)
	videoCandidates = append(videoCandidates, jsonVideos...)
	videoCandidates = append(videoCandidates, netVideos...)

	images := classifier.UniqueByPath(imageCandidates)
	videos := classifier.FilterValidVideoURLs(videoCandidates)

	info.FinalURL = page.URL()
	info.Title = strings.TrimSpace(htmlTitle)
	if info.Title == "" {
		info.Title = strings.TrimSpace(domTitle)
	}
	info.Images = capList(images, models.MaxImages)
	info.Videos = capList(videos, models.MaxVideos)
	info.Raw = map[string]any{
		"method":                "playwright",
		"network_urls_count":    len(networkURLs),
		"json_video_candidates": capList(jsonVideos, models.MaxCandidates),
		"image_candidates":      capList(images, models.MaxCandidates),
		"video_candidates":      capList(videos, models.MaxCandidates),
	}

	e.logger.Info("dynamic extraction finished",
		"url", sourceURL,
		"images", len(info.Images),
		"videos", len(info.Videos),
		"network_urls", len(networkURLs))
	return info, nil
}

// newDisposablePage builds a throwaway headless stack with the same
// fingerprint the session uses, primed with saved storage state and any
// pasted cookies.
func (e *Extractor) newDisposablePage(cookieText string) (playwright.Page, func(), error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.cfg.Headless),
		Args:     session.LaunchArgs,
	})
	if err != nil {
		pw.Stop()
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(session.DesktopUserAgent),
		Viewport:  &playwright.Size{Width: 1280, Height: 900},
		Locale:    playwright.String("zh-CN"),
	}
	if _, statErr := os.Stat(e.cfg.StorageStatePath); statErr == nil {
		contextOpts.StorageStatePath = playwright.String(e.cfg.StorageStatePath)
	}
	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := browserCtx.AddInitScript(playwright.Script{
		Content: playwright.String(session.StealthScript),
	}); err != nil {
		e.logger.Warn("failed to install stealth script", "error", err)
	}

	if cookies := cookiesFromHeader(cookieText); len(cookies) > 0 {
		if err := browserCtx.AddCookies(cookies); err != nil {
			e.logger.Warn("failed to apply pasted cookies", "error", err)
		}
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
		return nil, nil, fmt.Errorf("failed to open page: %w", err)
	}

	teardown := func() {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
	}
	return page, teardown, nil
}

// cookiesFromHeader converts a pasted Cookie header into context cookies
// scoped to the product domains.
func cookiesFromHeader(cookieText string) []playwright.OptionalCookie {
	pairs := urlx.ParseCookieHeader(cookieText)
	cookies := make([]playwright.OptionalCookie, 0, len(pairs))
	for name, value := range pairs {
		cookies = append(cookies, playwright.OptionalCookie{
			Name:   name,
			Value:  value,
			Domain: playwright.String(".yangkeduo.com"),
			Path:   playwright.String("/"),
		})
	}
	return cookies
}

func (e *Extractor) navigate(page playwright.Page, sourceURL string) error {
	gotoOpts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(e.cfg.NavigationTimeout.Milliseconds())),
	}
	if _, err := page.Goto(sourceURL, gotoOpts); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", sourceURL, err)
	}

	if target, blocked := renavigationTarget(sourceURL, page.URL()); blocked {
		e.logger.Info("blocked redirect detected, renavigating", "to", target)
		if _, err := page.Goto(target, gotoOpts); err != nil {
			return fmt.Errorf("failed to navigate to %s: %w", target, err)
		}
	}
	return nil
}

// renavigationTarget decides the single retry after landing on an
// app-download interstitial: always back to the URL that was requested.
func renavigationTarget(sourceURL, landedURL string) (string, bool) {
	if !urlx.IsBlockedJumpURL(landedURL) {
		return "", false
	}
	return sourceURL, true
}

// settle waits for the network to go quiet (bounded; beacon traffic keeps
// some pages busy forever) and then a fixed delay for lazy rendering.
func (e *Extractor) settle(page playwright.Page) {
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(e.cfg.NetworkIdleTimeout.Milliseconds())),
	}); err != nil {
		e.logger.Debug("network never went idle", "error", err)
	}
	page.WaitForTimeout(float64(e.cfg.SettleDelay.Milliseconds()))
}

// scroll nudges lazy-loaded galleries and the video player into loading.
func (e *Extractor) scroll(page playwright.Page) {
	steps := []struct {
		delta float64
		pause float64
	}{
		{1800, 1200},
		{-800, 500},
		{2200, 800},
	}
	for _, s := range steps {
		if err := page.Mouse().Wheel(0, s.delta); err != nil {
			return
		}
		page.WaitForTimeout(s.pause)
	}
}

// probePlayButtons clicks likely play controls to trigger stream requests.
func (e *Extractor) probePlayButtons(page playwright.Page) {
	for _, selector := range clickProbeSelectors {
		loc := page.Locator(selector).First()
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			continue
		}
		if err := loc.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(1500),
			Force:   playwright.Bool(true),
		}); err != nil {
			continue
		}
		page.WaitForTimeout(800)
	}
}

func (e *Extractor) handleResponse(resp playwright.Response, captured *capture) {
	resourceType := resp.Request().ResourceType()
	contentType := ""
	if headers := resp.Headers(); headers != nil {
		contentType = strings.ToLower(headers["content-type"])
	}
	if resourceType != "xhr" && resourceType != "fetch" && !strings.Contains(contentType, "json") {
		return
	}
	if !captured.takeBodySlot() {
		return
	}

	body, err := resp.Text()
	if err != nil || !interestingBody(body) {
		return
	}

	images, videos := classifier.ClassifyBatch(classifier.ExtractURLsFromText(body))
	if jsonImages, jsonVideos, err := classifier.WalkJSONText(body); err == nil {
		images = append(images, jsonImages...)
		videos = append(videos, jsonVideos...)
	}
	if len(images) > 0 || len(videos) > 0 {
		captured.addMedia(images, videos)
	}
}

// harvestDOM reads rendered media elements directly, catching sources the
// serialized HTML misses (currentSrc set by scripts).
func harvestDOM(page playwright.Page) (images, videos []string, title string) {
	result, err := page.Evaluate(`() => {
		const images = [];
		document.querySelectorAll('img').forEach(img => {
			for (const attr of ['src', 'data-src', 'data-original']) {
				const v = img.getAttribute(attr);
				if (v) images.push(v);
			}
		});
		const videos = [];
		document.querySelectorAll('video').forEach(v => {
			if (v.src) videos.push(v.src);
			if (v.currentSrc) videos.push(v.currentSrc);
		});
		document.querySelectorAll('video source, source').forEach(s => {
			const v = s.src || s.getAttribute('src');
			if (v) videos.push(v);
		});
		return { images, videos, title: document.title || '' };
	}`)
	if err != nil {
		return nil, nil, ""
	}

	payload, ok := result.(map[string]any)
	if !ok {
		return nil, nil, ""
	}
	rawImages := toStringSlice(payload["images"])
	rawVideos := toStringSlice(payload["videos"])
	title, _ = payload["title"].(string)

	images, extraVideos := classifier.ClassifyBatch(rawImages)
	// A src on a rendered <video> is direct evidence regardless of URL
	// shape; the final playability filter still applies downstream.
	for _, v := range rawVideos {
		if u := classifier.NormalizeCandidate(v); strings.HasPrefix(u, "http") {
			videos = append(videos, u)
		}
	}
	videos = append(videos, extraVideos...)
	return images, classifier.UniqueByPath(videos), title
}

func toStringSlice(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func capList(items []string, max int) []string {
	if len(items) > max {
		items = items[:max]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}
