package copywriter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/pdd-media-scraper/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallback(t *testing.T) {
	r := Fallback("纯棉短袖T恤")
	assert.Len(t, r.SellingPoints, 3)
	assert.Contains(t, r.Script30s, "纯棉短袖T恤")
	assert.Contains(t, r.XHSRewrite, "纯棉短袖T恤")
	assert.Equal(t, "fallback", r.Source)

	// Empty and placeholder titles get a generic subject.
	for _, title := range []string{"", "  ", "拼多多商城"} {
		r := Fallback(title)
		assert.Contains(t, r.Script30s, "这款好物")
	}
}

func TestParseCopyJSON(t *testing.T) {
	raw := `{"selling_points":["a","b"],"script_30s":"script","xhs_rewrite":"xhs"}`

	r, err := ParseCopyJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.SellingPoints)
	assert.Equal(t, "script", r.Script30s)

	fenced, err := ParseCopyJSON("```json\n" + raw + "\n```")
	require.NoError(t, err)
	assert.Equal(t, r.SellingPoints, fenced.SellingPoints)

	_, err = ParseCopyJSON("sorry, I cannot do that")
	assert.Error(t, err)
}

func TestGenerateUnconfiguredUsesFallback(t *testing.T) {
	g := NewGenerator(Config{}, testLogger())
	info := models.NewProductInfo("https://example.com")
	info.Title = "某商品"

	r := g.Generate(context.Background(), info)
	assert.Equal(t, "fallback", r.Source)
	assert.Contains(t, r.Script30s, "某商品")
}

func TestGenerateFromAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "test-model", payload["model"])

		content := `{"selling_points":["卖点一","卖点二","卖点三"],"script_30s":"口播脚本","xhs_rewrite":"小红书文案"}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}, testLogger())
	info := models.NewProductInfo("https://example.com")
	info.Title = "某商品"

	r := g.Generate(context.Background(), info)
	assert.Equal(t, "llm", r.Source)
	assert.Equal(t, []string{"卖点一", "卖点二", "卖点三"}, r.SellingPoints)
	assert.Equal(t, "口播脚本", r.Script30s)
}

func TestGenerateAPIErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGenerator(Config{BaseURL: srv.URL, APIKey: "test-key"}, testLogger())
	info := models.NewProductInfo("https://example.com")
	info.Title = "某商品"

	r := g.Generate(context.Background(), info)
	assert.Equal(t, "fallback", r.Source)
}
