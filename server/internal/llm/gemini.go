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

// GeminiClient 调用 Google Gemini 的 generateContent 接口（主后端）。
type GeminiClient struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

// NewGeminiClient 创建 Gemini 客户端。
func NewGeminiClient(cfg config.ProviderConfig) *GeminiClient {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiClient{
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		model:  cfg.Model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// Generate 生成文本（Gemini）。
// 角色映射：assistant → "model"，其余 → "user"；system 轮次转为 systemInstruction。
func (c *GeminiClient) Generate(ctx context.Context, history []model.Turn, opts Options) (string, error) {
	opts = opts.withDefaults()
	system, turns := splitSystem(history)

	contents := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: t.Content}},
		})
	}

	reqBody := map[string]any{
		"contents": contents,
		"systemInstruction": geminiContent{
			Parts: []geminiPart{{Text: system}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": opts.MaxOutputTokens,
			"temperature":     opts.Temperature,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.apiURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		return "", &BackendError{Backend: "gemini", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := result.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
