package static

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/pdd-media-scraper/internal/classifier"
	"github.com/maltedev/pdd-media-scraper/internal/models"
)

// ExtractFromHTML pulls title, image and video candidates out of markup.
// Title preference: og:title / twitter:title meta, then <title>. Media
// comes from meta tags, img/video/source elements and inline script text
// run through the classifier. Lists are deduplicated by path.
func ExtractFromHTML(html string) (title string, images, videos []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil, nil
	}

	titleCandidates := metaValues(doc, []string{"og:title", "twitter:title"})
	if len(titleCandidates) > 0 {
		title = titleCandidates[0]
	} else {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	images = metaValues(doc, []string{"og:image", "twitter:image"})
	videos = metaValues(doc, []string{"og:video", "og:video:url", "twitter:player"})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := firstAttr(s, "src", "data-src", "data-original")
		if src := classifier.NormalizeCandidate(src); strings.HasPrefix(src, "http") {
			images = append(images, src)
		}
	})
	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		if src := classifier.NormalizeCandidate(s.AttrOr("src", "")); strings.HasPrefix(src, "http") {
			videos = append(videos, src)
		}
		s.Find("source").Each(func(_ int, source *goquery.Selection) {
			if src := classifier.NormalizeCandidate(source.AttrOr("src", "")); strings.HasPrefix(src, "http") {
				videos = append(videos, src)
			}
		})
	})

	var scriptText strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptText.WriteString(s.Text())
		scriptText.WriteString(" ")
	})
	scriptImages, scriptVideos := classifier.ClassifyBatch(classifier.ExtractURLsFromText(scriptText.String()))
	images = append(images, scriptImages...)
	videos = append(videos, scriptVideos...)

	return title, classifier.UniqueByPath(images), classifier.UniqueByPath(videos)
}

// metaValues collects non-empty content attributes for the given meta keys,
// matching both property= and name= forms, deduplicated in order.
func metaValues(doc *goquery.Document, keys []string) []string {
	var values []string
	seen := make(map[string]struct{})
	for _, key := range keys {
		doc.Find(`meta[property="` + key + `"], meta[name="` + key + `"]`).Each(func(_ int, s *goquery.Selection) {
			content := strings.TrimSpace(s.AttrOr("content", ""))
			if content == "" {
				return
			}
			if _, ok := seen[content]; ok {
				return
			}
			seen[content] = struct{}{}
			values = append(values, content)
		})
	}
	return values
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(s.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}

// ParseStatic composes Fetch and ExtractFromHTML into a ProductInfo,
// capping primary lists and keeping longer candidate lists as diagnostics.
func (f *Fetcher) ParseStatic(ctx context.Context, sourceURL, cookieText string) (*models.ProductInfo, error) {
	info := models.NewProductInfo(sourceURL)

	html, finalURL, err := f.Fetch(ctx, sourceURL, strings.TrimSpace(cookieText))
	if err != nil {
		return nil, err
	}
	info.FinalURL = finalURL

	title, images, videos := ExtractFromHTML(html)
	info.Title = title
	info.Images = capList(images, models.MaxImages)
	info.Videos = capList(videos, models.MaxVideos)
	info.Raw = map[string]any{
		"html_length":      len(html),
		"method":           "static",
		"image_candidates": capList(images, models.MaxCandidates),
		"video_candidates": capList(videos, models.MaxCandidates),
	}
	return info, nil
}

func capList(items []string, max int) []string {
	if len(items) > max {
		items = items[:max]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}
