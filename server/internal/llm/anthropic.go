package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"watson-voice/server/internal/config"
	"watson-voice/server/internal/model"
)

// AnthropicClient 调用 Anthropic Messages 接口（备用后端）。
type AnthropicClient struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

// NewAnthropicClient 创建 Anthropic 客户端。
func NewAnthropicClient(cfg config.ProviderConfig) *AnthropicClient {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		model:  cfg.Model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Generate 生成文本（Anthropic）。
// Anthropic 需要分离 system 轮次放到顶层 system 字段，其余轮次按原角色原序提交。
func (c *AnthropicClient) Generate(ctx context.Context, history []model.Turn, opts Options) (string, error) {
	opts = opts.withDefaults()
	system, turns := splitSystem(history)

	messages := make([]map[string]string, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, map[string]string{
			"role":    t.Role,
			"content": t.Content,
		})
	}

	reqBody := map[string]any{
		"model":       c.model,
		"max_tokens":  opts.MaxOutputTokens,
		"temperature": opts.Temperature,
		"messages":    messages,
	}
	if system != "" {
		reqBody["system"] = system
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{Backend: "anthropic", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(result.Content) == 0 || result.Content[0].Text == "" {
		return "", ErrEmptyResponse
	}
	return result.Content[0].Text, nil
}
