// Package classifier decides whether arbitrary strings, URLs and JSON
// payloads point at product images or videos. Rules are layered: known
// file extensions are authoritative; otherwise a keyword hint must
// co-occur with a path token so that incidental substrings (a script
// named svideo_index.js) do not classify as media.
package classifier

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// MediaType is the classification outcome for a single URL.
type MediaType int

const (
	None MediaType = iota
	Image
	Video
)

var (
	urlPattern         = regexp.MustCompile(`(?i)https?://[^\s"'<>\\]+`)
	imageExtPattern    = regexp.MustCompile(`(?i)\.(?:jpg|jpeg|png|webp|avif|gif)(?:$|\?)`)
	videoExtPattern    = regexp.MustCompile(`(?i)\.(?:mp4|m3u8|mov|webm)(?:$|\?)`)
	staticAssetPattern = regexp.MustCompile(`(?i)\.(?:js|css|map|json|html|htm|txt|xml)(?:$|\?)`)
)

var (
	videoHints      = []string{"video", "play", "stream", "hls", "goods_video", "video_url"}
	videoPathTokens = []string{"/video", "video-", "/play", "m3u8", "mp4"}
	imageHints      = []string{"image", "img", "cover", "thumb", "pic"}
	imagePathTokens = []string{"/image", "/img", "cover", "thumb", "pic"}
)

// NormalizeCandidate trims a raw candidate and upgrades protocol-relative
// URLs ("//cdn...") to https.
func NormalizeCandidate(value string) string {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "//") {
		return "https:" + v
	}
	return v
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// ClassifyURL classifies a single URL. Non-absolute URLs and static asset
// files are rejected. Extension matches are authoritative; anything else
// needs both a keyword hint and a path token.
func ClassifyURL(raw string) MediaType {
	u := NormalizeCandidate(raw)
	if !strings.HasPrefix(u, "http") {
		return None
	}
	low := strings.ToLower(u)
	if staticAssetPattern.MatchString(low) {
		return None
	}
	if imageExtPattern.MatchString(low) {
		return Image
	}
	if videoExtPattern.MatchString(low) {
		return Video
	}

	path := ""
	if parsed, err := url.Parse(u); err == nil {
		path = strings.ToLower(parsed.Path)
	}
	if containsAny(low, videoHints) && containsAny(path, videoPathTokens) {
		return Video
	}
	if containsAny(low, imageHints) && containsAny(path, imagePathTokens) {
		return Image
	}
	return None
}

// ClassifyBatch classifies every candidate and returns image and video
// lists deduplicated by query-stripped path, first seen wins.
func ClassifyBatch(candidates []string) (images, videos []string) {
	for _, raw := range candidates {
		u := NormalizeCandidate(raw)
		switch ClassifyURL(u) {
		case Image:
			images = append(images, u)
		case Video:
			videos = append(videos, u)
		}
	}
	return UniqueByPath(images), UniqueByPath(videos)
}

// UniqueByPath deduplicates URLs comparing everything before the query
// string, preserving first-seen order and the original query-bearing URL.
func UniqueByPath(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		normalized, _, _ := strings.Cut(item, "?")
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, item)
	}
	return out
}

// ExtractURLsFromText scans text for http(s) tokens after undoing the
// slash escaping found in serialized JSON.
func ExtractURLsFromText(text string) []string {
	normalized := strings.ReplaceAll(text, `\u002F`, "/")
	normalized = strings.ReplaceAll(normalized, `\/`, "/")
	return urlPattern.FindAllString(normalized, -1)
}

// WalkJSON recursively walks a decoded JSON value collecting media URLs.
// Key paths are built as ".key" for objects and "[i]" for arrays. A string
// leaf under a hinted key path classifies directly: the structural key is
// stronger evidence than a URL substring, so no path-token co-occurrence
// is required there.
func WalkJSON(node any, keyPath string) (images, videos []string) {
	classifyByKey := func(path, value string) {
		lowPath := strings.ToLower(path)
		u := NormalizeCandidate(value)
		if !strings.HasPrefix(u, "http") {
			return
		}
		if containsAny(lowPath, videoHints) {
			videos = append(videos, u)
			return
		}
		if containsAny(lowPath, imageHints) {
			images = append(images, u)
			return
		}
		imgs, vids := ClassifyBatch([]string{u})
		images = append(images, imgs...)
		videos = append(videos, vids...)
	}

	switch v := node.(type) {
	case map[string]any:
		// Sorted keys keep first-seen dedup deterministic across runs.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := k
			if keyPath != "" {
				next = keyPath + "." + k
			}
			imgs, vids := WalkJSON(v[k], next)
			images = append(images, imgs...)
			videos = append(videos, vids...)
		}
	case []any:
		for i, child := range v {
			imgs, vids := WalkJSON(child, fmt.Sprintf("%s[%d]", keyPath, i))
			images = append(images, imgs...)
			videos = append(videos, vids...)
		}
	case string:
		classifyByKey(keyPath, v)
		for _, u := range ExtractURLsFromText(v) {
			classifyByKey(keyPath, u)
		}
	}

	return UniqueByPath(images), UniqueByPath(videos)
}

// WalkJSONText decodes a JSON document and walks it. Returns an error for
// payloads that are not valid JSON.
func WalkJSONText(body string) (images, videos []string, err error) {
	var payload any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to decode json payload: %w", err)
	}
	images, videos = WalkJSON(payload, "")
	return images, videos, nil
}

// FilterValidVideoURLs keeps only URLs that are plausibly playable: a
// known video extension, or a video path token co-occurring with a video
// keyword. Applied as the final gate before a result is returned.
func FilterValidVideoURLs(urls []string) []string {
	valid := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := NormalizeCandidate(raw)
		if !strings.HasPrefix(u, "http") {
			continue
		}
		low := strings.ToLower(u)
		if staticAssetPattern.MatchString(low) {
			continue
		}
		if videoExtPattern.MatchString(low) {
			valid = append(valid, u)
			continue
		}
		path := ""
		if parsed, err := url.Parse(u); err == nil {
			path = strings.ToLower(parsed.Path)
		}
		if containsAny(path, []string{"/video", "video-", "/play"}) &&
			containsAny(low, []string{"m3u8", "mp4", "video"}) {
			valid = append(valid, u)
		}
	}
	return UniqueByPath(valid)
}
