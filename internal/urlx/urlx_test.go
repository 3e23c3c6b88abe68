package urlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Plain URL passes through",
			input:    "https://mobile.yangkeduo.com/goods.html?goods_id=123456789",
			expected: "https://mobile.yangkeduo.com/goods.html?goods_id=123456789",
		},
		{
			name:     "Share text with trailing CJK punctuation",
			input:    "看看这个 https://mobile.yangkeduo.com/xyz.html?goods_id=42 ，",
			expected: "https://mobile.yangkeduo.com/xyz.html?goods_id=42",
		},
		{
			name:     "Scheme-less input gets https",
			input:    "mobile.yangkeduo.com/goods.html?goods_id=123456789",
			expected: "https://mobile.yangkeduo.com/goods.html?goods_id=123456789",
		},
		{
			name:     "Empty input stays empty",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestExtractGoodsID(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "goods_id query parameter",
			url:      "https://mobile.yangkeduo.com/goods.html?goods_id=123456789",
			expected: "123456789",
		},
		{
			name:     "goodsId camel case parameter",
			url:      "https://mobile.yangkeduo.com/share.html?goodsId=987654321",
			expected: "987654321",
		},
		{
			name:     "path based id",
			url:      "https://mobile.yangkeduo.com/goods/555556666",
			expected: "555556666",
		},
		{
			name:     "id too short",
			url:      "https://mobile.yangkeduo.com/goods.html?goods_id=42",
			expected: "",
		},
		{
			name:     "no id at all",
			url:      "https://mobile.yangkeduo.com/index.html",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractGoodsID(tt.url))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	share := "https://mobile.yangkeduo.com/duo_share.html?goods_id=123456789&refer=wx"
	canonical := Canonicalize(share)
	assert.Equal(t, "https://mobile.yangkeduo.com/goods.html?goods_id=123456789", canonical)

	// Idempotent for any URL with an extractable id.
	assert.Equal(t, canonical, Canonicalize(canonical))

	// No id: unchanged.
	plain := "https://mobile.yangkeduo.com/index.html"
	assert.Equal(t, plain, Canonicalize(plain))
}

func TestIsBlockedJumpURL(t *testing.T) {
	assert.True(t, IsBlockedJumpURL("https://mobile.yangkeduo.com/android_browser_download.html"))
	assert.True(t, IsBlockedJumpURL("https://apps.apple.com/cn/app/id123"))
	assert.True(t, IsBlockedJumpURL("https://x.com/page?need_popover=true"))
	assert.False(t, IsBlockedJumpURL("https://mobile.yangkeduo.com/goods.html?goods_id=123456789"))
}

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader("api_uid=abc; PDDAccessToken=tok ; bare; =empty; x=1=2")
	assert.Equal(t, map[string]string{
		"api_uid":        "abc",
		"PDDAccessToken": "tok",
		"x":              "1=2",
	}, cookies)

	assert.Empty(t, ParseCookieHeader("   "))
}
