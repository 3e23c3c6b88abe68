package dynamic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterestingBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected bool
	}{
		{
			name:     "url plus video keyword",
			body:     `{"video_url":"https://vod.example.com/v"}`,
			expected: true,
		},
		{
			name:     "url plus goods keyword",
			body:     `{"goods":{"thumb":"https://img.example.com/t"}}`,
			expected: true,
		},
		{
			name:     "keyword without any url",
			body:     `{"video_duration": 30}`,
			expected: false,
		},
		{
			name:     "url without media keywords",
			body:     `{"next":"https://api.example.com/page/2"}`,
			expected: false,
		},
		{
			name:     "empty body",
			body:     "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, interestingBody(tt.body))
		})
	}
}

func TestCaptureBodySlotCap(t *testing.T) {
	c := &capture{}
	for i := 0; i < maxCapturedBodies; i++ {
		assert.True(t, c.takeBodySlot())
	}
	assert.False(t, c.takeBodySlot())
}

func TestCaptureSnapshotCopies(t *testing.T) {
	c := &capture{}
	c.addNetworkURL("https://api.example.com/a")
	c.addNetworkURL("https://vod.example.com/redirected.mp4")
	c.addMedia([]string{"https://img.example.com/i.jpg"}, []string{"https://vod.example.com/v.mp4"})

	urls, images, videos := c.snapshot()
	assert.Equal(t, []string{"https://api.example.com/a", "https://vod.example.com/redirected.mp4"}, urls)
	assert.Equal(t, []string{"https://img.example.com/i.jpg"}, images)
	assert.Equal(t, []string{"https://vod.example.com/v.mp4"}, videos)

	urls[0] = "mutated"
	newURLs, _, _ := c.snapshot()
	assert.Equal(t, "https://api.example.com/a", newURLs[0])
}

func TestRenavigationTarget(t *testing.T) {
	source := "https://mobile.yangkeduo.com/goods.html?goods_id=123456"

	// Non-blocked landings need no correction.
	target, blocked := renavigationTarget(source, "https://mobile.yangkeduo.com/goods2.html?goods_id=123456")
	assert.False(t, blocked)
	assert.Empty(t, target)

	// A blocked landing always re-navigates to the requested URL, even
	// when that URL is already the canonical goods page.
	target, blocked = renavigationTarget(source, "https://mobile.yangkeduo.com/app.html?need_popover=true")
	assert.True(t, blocked)
	assert.Equal(t, source, target)

	target, blocked = renavigationTarget(source, "https://mobile.yangkeduo.com/ios_fast_download.html")
	assert.True(t, blocked)
	assert.Equal(t, source, target)
}

func TestCookiesFromHeader(t *testing.T) {
	cookies := cookiesFromHeader("api_uid=abc; pdd_user_id=123; broken")
	assert.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Equal(t, ".yangkeduo.com", *c.Domain)
		assert.Equal(t, "/", *c.Path)
	}
}

func TestToStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, toStringSlice([]any{"a", 1, "b", nil}))
	assert.Nil(t, toStringSlice("not a slice"))
}
