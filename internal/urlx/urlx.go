// Package urlx normalizes free-text product links and derives canonical,
// login-redirect-resistant goods URLs from embedded goods ids.
package urlx

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const canonicalGoodsURL = "https://mobile.yangkeduo.com/goods.html?goods_id=%s"

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	digitsPattern   = regexp.MustCompile(`\d{5,}`)
	goodsIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`goods_id=(\d{5,})`),
		regexp.MustCompile(`/goods/(\d{5,})`),
		regexp.MustCompile(`goods/(\d{5,})`),
	}
)

// goodsIDQueryKeys are checked in order of preference before falling back
// to positional patterns.
var goodsIDQueryKeys = []string{"goods_id", "goodsId", "gid"}

// blockedJumpKeywords mark redirect targets that lead to app-download or
// store interstitials instead of the product page.
var blockedJumpKeywords = []string{
	"down_download",
	"android_browser_download",
	"ios_fast_download",
	"need_popover=true",
	"itunes.apple.com",
	"apps.apple.com",
}

// ExtractURL pulls the first http(s) token out of free text (e.g. a pasted
// share message), trimming trailing CJK and ASCII punctuation. Falls back
// to the trimmed input when no URL-like token is present.
func ExtractURL(text string) string {
	trimmed := strings.TrimSpace(text)
	if match := urlPattern.FindString(trimmed); match != "" {
		return strings.Trim(match, "，。,.")
	}
	return trimmed
}

// Normalize turns free text into a fetchable absolute URL. Input without a
// scheme gets https:// prepended. Returns "" only for empty input; callers
// must validate non-empty.
func Normalize(raw string) string {
	cleaned := ExtractURL(raw)
	if cleaned == "" {
		return ""
	}
	parsed, err := url.Parse(cleaned)
	if err != nil || parsed.Scheme == "" {
		return "https://" + cleaned
	}
	return cleaned
}

// ExtractGoodsID returns the first 5+ digit goods id found in the URL,
// checking known query parameters first, then positional patterns.
// Returns "" when no id is present.
func ExtractGoodsID(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		query := parsed.Query()
		for _, key := range goodsIDQueryKeys {
			if v := query.Get(key); v != "" {
				if match := digitsPattern.FindString(v); match != "" {
					return match
				}
			}
		}
	}
	for _, pattern := range goodsIDPatterns {
		if m := pattern.FindStringSubmatch(rawURL); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

// Canonicalize rewrites a URL containing a goods id into the direct goods
// page URL, bypassing share-redirect chains that often end at login walls.
// URLs without a goods id pass through unchanged.
func Canonicalize(rawURL string) string {
	goodsID := ExtractGoodsID(rawURL)
	if goodsID == "" {
		return rawURL
	}
	return fmt.Sprintf(canonicalGoodsURL, goodsID)
}

// IsBlockedJumpURL reports whether the URL matches a known app-download or
// store-interstitial redirect.
func IsBlockedJumpURL(rawURL string) bool {
	low := strings.ToLower(rawURL)
	for _, k := range blockedJumpKeywords {
		if strings.Contains(low, k) {
			return true
		}
	}
	return false
}

// ParseCookieHeader splits a raw semicolon-separated cookie header into
// name/value pairs. Entries without "=" or with empty names are dropped.
func ParseCookieHeader(cookieText string) map[string]string {
	cookies := make(map[string]string)
	if strings.TrimSpace(cookieText) == "" {
		return cookies
	}
	for _, part := range strings.Split(cookieText, ";") {
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies
}
