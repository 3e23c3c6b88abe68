package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	shareKey := Key("https://p.pinduoduo.com/share/x?goods_id=987654321")
	canonicalKey := Key("https://mobile.yangkeduo.com/goods.html?goods_id=987654321")

	// Share links and the direct goods page share one cache entry.
	assert.Equal(t, canonicalKey, shareKey)
	assert.True(t, strings.HasPrefix(shareKey, "pdd:extract:"))
	assert.Len(t, strings.TrimPrefix(shareKey, "pdd:extract:"), 64)

	otherKey := Key("https://mobile.yangkeduo.com/goods.html?goods_id=111111")
	assert.NotEqual(t, shareKey, otherKey)
}
