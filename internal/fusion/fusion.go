// Package fusion orchestrates the extraction tiers: static results seed
// the product record, dynamic results merge in, and a scoring function
// decides which evidence wins.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/pdd-media-scraper/internal/classifier"
	"github.com/maltedev/pdd-media-scraper/internal/models"
	"github.com/maltedev/pdd-media-scraper/internal/urlx"
)

// placeholderTitle is the generic storefront title a login wall or empty
// shell page reports; it carries no product information.
const placeholderTitle = "拼多多商城"

// ErrAllStaticFailed reports that every static candidate URL failed. This
// is fatal regardless of whether a dynamic tier is configured: without at
// least one reachable page there is nothing for the browser to improve on.
var ErrAllStaticFailed = errors.New("all static extraction attempts failed")

// StaticParser is the plain-HTTP extraction tier.
type StaticParser interface {
	ParseStatic(ctx context.Context, sourceURL, cookieText string) (*models.ProductInfo, error)
}

// DynamicExtractor is the browser-rendering extraction tier. A nil
// livePage means the extractor should bring its own browser.
type DynamicExtractor interface {
	Extract(ctx context.Context, sourceURL, cookieText string, livePage playwright.Page) (*models.ProductInfo, error)
}

// Score ranks extraction results. Videos dominate images by an order of
// magnitude, and a real (non-placeholder) title breaks ties.
func Score(info *models.ProductInfo) int {
	if info == nil {
		return 0
	}
	score := 100*len(info.Videos) + 10*len(info.Images)
	if hasRealTitle(info.Title) {
		score++
	}
	return score
}

func hasRealTitle(title string) bool {
	title = strings.TrimSpace(title)
	return title != "" && title != placeholderTitle
}

// Merge folds extra into base. The title is only filled, never replaced by
// a worse one; the final URL tracks the most recent navigation; media
// lists are unioned, deduplicated by path and re-capped.
func Merge(base, extra *models.ProductInfo) {
	if base == nil || extra == nil {
		return
	}

	if extra.Title != "" {
		if base.Title == "" || (base.Title == placeholderTitle && hasRealTitle(extra.Title)) {
			base.Title = extra.Title
		}
	}
	if extra.FinalURL != "" {
		base.FinalURL = extra.FinalURL
	}

	base.Images = capList(classifier.UniqueByPath(append(base.Images, extra.Images...)), models.MaxImages)
	base.Videos = capList(classifier.UniqueByPath(append(base.Videos, extra.Videos...)), models.MaxVideos)

	if base.Raw == nil {
		base.Raw = make(map[string]any)
	}
	for _, key := range []string{"image_candidates", "video_candidates"} {
		merged := classifier.UniqueByPath(append(base.RawStrings(key), extra.RawStrings(key)...))
		base.SetRaw(key, capList(merged, models.MaxCandidates))
	}
	if method, ok := extra.Raw["method"].(string); ok && method != "" {
		base.SetRaw("merged_from", append(base.RawStrings("merged_from"), method))
	}
}

// CandidateURLs returns the URLs worth trying for one input: the
// normalized URL itself and, when a goods id is recoverable, the direct
// goods page URL that sidesteps share-redirect chains.
func CandidateURLs(normalized string) []string {
	candidates := []string{normalized}
	if canonical := urlx.Canonicalize(normalized); canonical != normalized {
		candidates = append(candidates, canonical)
	}
	return candidates
}

// Pipeline runs static-first extraction with dynamic fallback.
type Pipeline struct {
	static  StaticParser
	dynamic DynamicExtractor
	logger  *slog.Logger
}

// NewPipeline builds a pipeline. dynamic may be nil, in which case only
// the static tier runs.
func NewPipeline(static StaticParser, dynamic DynamicExtractor, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		static:  static,
		dynamic: dynamic,
		logger:  logger.With("component", "fusion"),
	}
}

// ParseProduct extracts product media for one pasted link. Static attempts
// run first across all candidate URLs; if the best static result is
// already complete (title, images and videos) the browser never starts.
// Otherwise dynamic attempts merge in until a video is found.
func (p *Pipeline) ParseProduct(ctx context.Context, rawURL, cookieText string, livePage playwright.Page) (*models.ProductInfo, error) {
	normalized := urlx.Normalize(rawURL)
	if normalized == "" {
		return nil, errors.New("empty product URL")
	}
	candidates := CandidateURLs(normalized)

	best, failures := p.runStatic(ctx, candidates, cookieText)
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrAllStaticFailed, strings.Join(failures, "; "))
	}
	best.SetRaw("attempted_urls", candidates)
	best.SetRaw("canonical_url", urlx.Canonicalize(normalized))
	if len(failures) > 0 {
		best.SetRaw("static_errors", failures)
	}

	if p.dynamic != nil && !isComplete(best) {
		p.runDynamic(ctx, best, normalized, candidates, cookieText, livePage)
	}

	finalize(best)
	return best, nil
}

// runStatic tries every candidate and returns the highest-scoring result
// plus a "url: reason" entry for each failed attempt.
func (p *Pipeline) runStatic(ctx context.Context, candidates []string, cookieText string) (*models.ProductInfo, []string) {
	var best *models.ProductInfo
	var failures []string
	for _, candidate := range candidates {
		info, err := p.static.ParseStatic(ctx, candidate, cookieText)
		if err != nil {
			p.logger.Warn("static attempt failed", "url", candidate, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", candidate, err))
			continue
		}
		p.logger.Info("static attempt succeeded",
			"url", candidate, "score", Score(info), "images", len(info.Images), "videos", len(info.Videos))
		if best == nil || Score(info) > Score(best) {
			best = info
		}
	}
	return best, failures
}

// isComplete reports whether a result needs no further tiers. Any
// non-empty title counts here; title quality only matters for merging.
func isComplete(info *models.ProductInfo) bool {
	return strings.TrimSpace(info.Title) != "" && len(info.Images) > 0 && len(info.Videos) > 0
}

// dynamicAttemptURLs orders the browser attempts: the seed's final URL
// leads (substituting the source URL when it is empty or a blocked
// redirect), followed by the remaining non-blocked candidates.
func dynamicAttemptURLs(sourceURL string, seed *models.ProductInfo, candidates []string) []string {
	first := seed.FinalURL
	if first == "" || urlx.IsBlockedJumpURL(first) {
		first = sourceURL
	}
	attempts := []string{first}
	seen := map[string]struct{}{first: {}}
	for _, candidate := range candidates {
		if urlx.IsBlockedJumpURL(candidate) {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		attempts = append(attempts, candidate)
	}
	return attempts
}

func (p *Pipeline) runDynamic(ctx context.Context, base *models.ProductInfo, sourceURL string, candidates []string, cookieText string, livePage playwright.Page) {
	attempts := dynamicAttemptURLs(sourceURL, base, candidates)

	var attemptLog []string
	for _, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			break
		}
		info, err := p.dynamic.Extract(ctx, attempt, cookieText, livePage)
		if err != nil {
			p.logger.Warn("dynamic attempt failed", "url", attempt, "error", err)
			attemptLog = append(attemptLog, fmt.Sprintf("%s -> failed: %v", attempt, err))
			continue
		}
		attemptLog = append(attemptLog, fmt.Sprintf("%s -> ok", attempt))
		Merge(base, info)
		if len(base.Videos) > 0 {
			break
		}
	}
	base.SetRaw("dynamic_attempts", attemptLog)
}

// finalize applies the playability gate and caps before a result leaves
// the pipeline.
func finalize(info *models.ProductInfo) {
	info.Images = capList(classifier.UniqueByPath(info.Images), models.MaxImages)
	info.Videos = capList(classifier.FilterValidVideoURLs(info.Videos), models.MaxVideos)
	if candidates := info.RawStrings("video_candidates"); len(candidates) > 0 {
		info.SetRaw("video_candidates", capList(classifier.FilterValidVideoURLs(candidates), models.MaxCandidates))
	}
	info.SetRaw("score", Score(info))
}

func capList(items []string, max int) []string {
	if len(items) > max {
		items = items[:max]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}
