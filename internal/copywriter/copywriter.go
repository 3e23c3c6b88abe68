// Package copywriter turns an extraction result into short-form marketing
// copy via an OpenAI-compatible chat completion API, with a deterministic
// template fallback when no API is configured or the call fails.
package copywriter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maltedev/pdd-media-scraper/internal/models"
)

// Result is the generated copy bundle.
type Result struct {
	SellingPoints []string `json:"selling_points"`
	Script30s     string   `json:"script_30s"`
	XHSRewrite    string   `json:"xhs_rewrite"`
	Source        string   `json:"source"`
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		Timeout:     60 * time.Second,
	}
}

type Generator struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewGenerator(cfg Config, logger *slog.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	return &Generator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "copywriter"),
	}
}

// Enabled reports whether an API key is configured.
func (g *Generator) Enabled() bool {
	return g.cfg.APIKey != ""
}

const systemPrompt = "你是一名电商短视频文案专家。根据商品信息输出 JSON,字段:" +
	`selling_points(字符串数组,3-5 条卖点)、script_30s(30 秒口播脚本)、xhs_rewrite(小红书风格文案)。只输出 JSON。`

// Generate produces copy for an extraction result. It never fails: any
// API problem degrades to the template fallback so the extraction
// response stays usable.
func (g *Generator) Generate(ctx context.Context, info *models.ProductInfo) Result {
	if !g.Enabled() {
		return Fallback(info.Title)
	}

	result, err := g.callAPI(ctx, info)
	if err != nil {
		g.logger.Warn("copy generation failed, using fallback", "error", err)
		return Fallback(info.Title)
	}
	if len(result.SellingPoints) == 0 || result.Script30s == "" || result.XHSRewrite == "" {
		g.logger.Warn("copy generation returned incomplete fields, using fallback")
		return Fallback(info.Title)
	}
	result.Source = "llm"
	return result
}

func (g *Generator) callAPI(ctx context.Context, info *models.ProductInfo) (Result, error) {
	userPrompt := fmt.Sprintf("商品标题:%s\n图片数量:%d\n视频数量:%d\n请生成文案。",
		info.Title, len(info.Images), len(info.Videos))

	payload := map[string]any{
		"model": g.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature":     g.cfg.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimSuffix(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call completion API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("completion API returned HTTP %d", resp.StatusCode)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return Result{}, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("completion response has no choices")
	}

	return ParseCopyJSON(completion.Choices[0].Message.Content)
}

// ParseCopyJSON decodes the model's JSON answer, tolerating markdown code
// fences some models wrap around it.
func ParseCopyJSON(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return Result{}, fmt.Errorf("failed to decode copy JSON: %w", err)
	}
	return result, nil
}

// Fallback builds template copy from the title alone.
func Fallback(title string) Result {
	display := strings.TrimSpace(title)
	if display == "" || display == "拼多多商城" {
		display = "这款好物"
	}
	return Result{
		SellingPoints: []string{
			display + ",实拍展示,细节清晰",
			"价格实惠,高性价比之选",
			"热销爆款,买过的都说好",
		},
		Script30s: fmt.Sprintf(
			"今天给大家推荐%s。画面里就是实物实拍,细节一目了然。"+
				"现在入手正是好价,喜欢的朋友别犹豫,点击下方链接就能带回家!", display),
		XHSRewrite: fmt.Sprintf(
			"今日份好物分享|%s✨\n真的被种草了,实物和图片一样能打!\n性价比超高,冲就完事~\n#好物分享 #平价好物", display),
		Source: "fallback",
	}
}
