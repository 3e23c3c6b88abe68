// Package session owns the long-lived, persistent, authenticated browser
// context used by dynamic extraction. A single Manager instance holds at
// most one session; callers must serialize extraction calls against it.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/pdd-media-scraper/internal/urlx"
)

// ErrSessionGone signals that the browsing context itself is dead and the
// operator must close the login browser and start over.
var ErrSessionGone = errors.New("login session is unavailable; close the login browser and start again")

const DesktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6_1) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// LaunchArgs suppress the most obvious automation markers before the
// stealth script takes over inside the page.
var LaunchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-first-run",
	"--no-default-browser-check",
}

// StealthScript masks automation markers. Installed on the context before
// any navigation.
const StealthScript = `
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['zh-CN', 'zh', 'en-US', 'en'] });
	Object.defineProperty(navigator, 'platform', { get: () => 'MacIntel' });
	window.chrome = window.chrome || { runtime: {} };
`

// loginCookieNames are cookie names whose presence indicates an
// authenticated web session.
var loginCookieNames = map[string]struct{}{
	"api_uid":      {},
	"pdd_user_id":  {},
	"pdd_user_uin": {},
	"_nano_fp":     {},
	"ua":           {},
}

type Config struct {
	Headless          bool
	UserDataDir       string
	StorageStatePath  string
	Locale            string
	Channel           string
	NavigationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Headless:          false,
		UserDataDir:       ".pdd_user_data",
		StorageStatePath:  ".pdd_storage_state.json",
		Locale:            "zh-CN",
		Channel:           "chrome",
		NavigationTimeout: 45 * time.Second,
	}
}

// Manager drives the session through its lifecycle:
// absent -> alive -> (blank | logged out | ready) -> closed.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	pw      *playwright.Playwright
	browser playwright.Browser // set only when the persistent-profile launch fell back
	context playwright.BrowserContext
	page    playwright.Page

	contextClosed atomic.Bool
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "session"),
	}
}

// Ensure returns a live page, creating a new session if none exists or the
// existing one fails its liveness probe. The session prefers a persistent
// browser profile so login survives process restarts; when that launch is
// unavailable it falls back to a fresh context primed with the previously
// saved storage state.
func (m *Manager) Ensure() (playwright.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isAliveLocked() {
		return m.ensurePageLocked()
	}
	m.closeLocked()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	context, browser, err := m.launchContext(pw)
	if err != nil {
		pw.Stop()
		return nil, err
	}

	if err := context.AddInitScript(playwright.Script{
		Content: playwright.String(StealthScript),
	}); err != nil {
		m.logger.Warn("failed to install stealth script", "error", err)
	}

	m.pw = pw
	m.browser = browser
	m.context = context
	m.contextClosed.Store(false)
	context.OnClose(func(playwright.BrowserContext) {
		m.contextClosed.Store(true)
	})

	page, err := m.ensurePageLocked()
	if err != nil {
		m.closeLocked()
		return nil, err
	}

	m.logger.Info("browser session created", "persistent", browser == nil)
	return page, nil
}

func (m *Manager) launchContext(pw *playwright.Playwright) (playwright.BrowserContext, playwright.Browser, error) {
	if err := os.MkdirAll(m.cfg.UserDataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create user data dir: %w", err)
	}

	persistentOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Locale:   playwright.String(m.cfg.Locale),
		Args:     LaunchArgs,
	}
	if m.cfg.Channel != "" {
		persistentOpts.Channel = playwright.String(m.cfg.Channel)
	}
	context, err := pw.Chromium.LaunchPersistentContext(m.cfg.UserDataDir, persistentOpts)
	if err == nil {
		return context, nil, nil
	}
	m.logger.Warn("persistent profile launch failed, falling back to storage state", "error", err)

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args:     LaunchArgs,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Locale:    playwright.String(m.cfg.Locale),
		UserAgent: playwright.String(DesktopUserAgent),
	}
	if _, statErr := os.Stat(m.cfg.StorageStatePath); statErr == nil {
		contextOpts.StorageStatePath = playwright.String(m.cfg.StorageStatePath)
	}
	context, err = browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return context, browser, nil
}

// IsAlive reports whether the browsing context still exists. A closed page
// inside a live context does not make the session dead; a fresh page can
// be opened.
func (m *Manager) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isAliveLocked()
}

func (m *Manager) isAliveLocked() bool {
	return m.context != nil && !m.contextClosed.Load()
}

// Context exposes the live browsing context, or nil.
func (m *Manager) Context() playwright.BrowserContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isAliveLocked() {
		return nil
	}
	return m.context
}

// SaveStorageState flushes cookies and origin storage to the configured
// path so login survives a crash.
func (m *Manager) SaveStorageState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveStorageStateLocked()
}

func (m *Manager) saveStorageStateLocked() {
	if m.context == nil || m.contextClosed.Load() || m.cfg.StorageStatePath == "" {
		return
	}
	if _, err := m.context.StorageState(m.cfg.StorageStatePath); err != nil {
		m.logger.Warn("failed to persist storage state", "error", err)
	}
}

// Close persists storage state and releases context, browser and driver
// handles. The underlying OS process is never force-killed here; a
// graceful close avoids "restore session" prompts on the next launch.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

func (m *Manager) closeLocked() {
	if m.context != nil && !m.contextClosed.Load() {
		m.saveStorageStateLocked()
		if err := m.context.Close(); err != nil {
			m.logger.Warn("failed to close context", "error", err)
		}
	}
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Warn("failed to close browser", "error", err)
		}
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			m.logger.Warn("failed to stop playwright", "error", err)
		}
	}
	m.pw = nil
	m.browser = nil
	m.context = nil
	m.page = nil
	m.contextClosed.Store(true)
}

// EnsurePage returns the session's active page, reviving it from any open
// page in the context or opening a new one.
func (m *Manager) EnsurePage() (playwright.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensurePageLocked()
}

func (m *Manager) ensurePageLocked() (playwright.Page, error) {
	if !m.isAliveLocked() {
		return nil, ErrSessionGone
	}
	if m.page != nil && !m.page.IsClosed() {
		return m.page, nil
	}
	for _, candidate := range m.context.Pages() {
		if !candidate.IsClosed() {
			m.adoptPageLocked(candidate)
			return candidate, nil
		}
	}
	page, err := m.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionGone, err)
	}
	m.adoptPageLocked(page)
	return page, nil
}

func (m *Manager) adoptPageLocked(page playwright.Page) {
	m.page = page
	page.SetDefaultTimeout(float64(m.cfg.NavigationTimeout.Milliseconds()))
	page.OnDialog(func(dialog playwright.Dialog) {
		dialog.Dismiss()
	})
}

// CloseExtraPages closes every page in the context except keep. Login
// flows tend to leave popup tabs behind.
func (m *Manager) CloseExtraPages(keep playwright.Page) {
	ctx := m.Context()
	if ctx == nil {
		return
	}
	for _, p := range ctx.Pages() {
		if p == keep {
			continue
		}
		p.Close()
	}
}

// GotoWithRecovery navigates the active page. A blank-looking result gets
// one reload. If navigation fails because the page or context was torn
// down concurrently, a live page is re-acquired and navigation retried
// once; a second failure is fatal with a user-actionable error.
func (m *Manager) GotoWithRecovery(targetURL string) (playwright.Page, error) {
	page, err := m.EnsurePage()
	if err != nil {
		return nil, err
	}

	gotoOpts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(m.cfg.NavigationTimeout.Milliseconds())),
	}

	_, err = page.Goto(targetURL, gotoOpts)
	if err == nil {
		page.WaitForTimeout(1200)
		if pageLooksBlank(page) {
			m.logger.Info("page looks blank, reloading", "url", targetURL)
			if _, err := page.Reload(playwright.PageReloadOptions{
				WaitUntil: playwright.WaitUntilStateDomcontentloaded,
				Timeout:   playwright.Float(float64(m.cfg.NavigationTimeout.Milliseconds())),
			}); err != nil {
				m.logger.Warn("reload after blank page failed", "error", err)
			}
			page.WaitForTimeout(1200)
		}
		m.SaveStorageState()
		return page, nil
	}

	if !isTargetClosedError(err) {
		return nil, fmt.Errorf("failed to navigate to %s: %w", targetURL, err)
	}

	// The page died underneath us. Recover within the same context first;
	// only give up if the context itself is gone.
	page, pageErr := m.EnsurePage()
	if pageErr == nil {
		if _, err := page.Goto(targetURL, gotoOpts); err == nil {
			m.SaveStorageState()
			return page, nil
		}
	}
	return nil, ErrSessionGone
}

func isTargetClosedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Target page, context or browser has been closed")
}

// pageLooksBlank detects the empty-shell render some blocked navigations
// produce: no media elements, no text, at most one body child.
func pageLooksBlank(page playwright.Page) bool {
	result, err := page.Evaluate(`() => {
		const body = document.body;
		if (!body) return true;
		const hasMedia = !!document.querySelector("img, video, source, iframe, canvas");
		const textLen = (body.innerText || "").trim().length;
		const childCount = body.children ? body.children.length : 0;
		return !hasMedia && textLen === 0 && childCount <= 1;
	}`)
	if err != nil {
		return false
	}
	blank, _ := result.(bool)
	return blank
}

// LooksLoggedOut decides whether a page is gated behind a login wall.
// Rendered product or video content overrides any URL-based suspicion;
// after that, path segments, the needs_login query flag and blocked
// redirects are checked; finally the DOM must show login vocabulary AND a
// password/phone input before the page counts as logged out.
func LooksLoggedOut(page playwright.Page) bool {
	currentURL := strings.ToLower(page.URL())
	if currentURL == "" {
		return true
	}

	path := ""
	if parsed, err := url.Parse(currentURL); err == nil {
		path = parsed.Path
	}

	hasContent, err := page.Evaluate(`() => {
		const hasVideo = !!document.querySelector('video[src], video source[src], source[src*=".mp4"], source[src*=".m3u8"]');
		const bodyText = (document.body && document.body.innerText) ? document.body.innerText : "";
		const hasGoodsSignals = /立即拼单|已拼|券后|看视频享专属优惠|商品/.test(bodyText);
		return hasVideo || hasGoodsSignals;
	}`)
	if err == nil {
		if ok, _ := hasContent.(bool); ok {
			return false
		}
	}

	for _, segment := range []string{"/login", "/passport", "/oauth", "/verify"} {
		if strings.Contains(path, segment) {
			return true
		}
	}
	if strings.Contains(currentURL, "needs_login=1") &&
		!strings.Contains(currentURL, "goods_id=") &&
		!strings.Contains(path, "fyxmkief") {
		return true
	}
	if urlx.IsBlockedJumpURL(currentURL) {
		return true
	}

	hasLoginUI, err := page.Evaluate(`() => {
		const text = document.body ? document.body.innerText : "";
		if (!text) return false;
		const loginWords = /登录|注册|手机号登录|验证码登录|请先登录/;
		const hasLoginForm = !!document.querySelector('input[type="password"], input[type="tel"], input[name*="phone"], input[name*="mobile"]');
		return loginWords.test(text) && hasLoginForm;
	}`)
	if err != nil {
		return true
	}
	loggedOut, _ := hasLoginUI.(bool)
	return loggedOut
}

// LoginRequired reports whether the operator still has to log in: the
// page shows a login wall and the cookie jar carries no auth cookies.
func (m *Manager) LoginRequired(page playwright.Page) bool {
	if page == nil || page.IsClosed() {
		return false
	}
	if !LooksLoggedOut(page) {
		return false
	}
	return !HasLoginCookies(m.Context())
}

// HasLoginCookies reports whether the context's cookie jar carries at
// least one known authentication cookie.
func HasLoginCookies(context playwright.BrowserContext) bool {
	if context == nil {
		return false
	}
	cookies, err := context.Cookies()
	if err != nil {
		return false
	}
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return hasLoginCookieNames(names)
}

func hasLoginCookieNames(names []string) bool {
	for _, name := range names {
		if _, ok := loginCookieNames[strings.ToLower(name)]; ok {
			return true
		}
	}
	return false
}
