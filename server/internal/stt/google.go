package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"watson-voice/server/internal/config"
)

// GoogleClient 调用 Google Cloud Speech 的 speech:recognize 接口转写录音。
type GoogleClient struct {
	apiKey     string
	apiURL     string
	language   string
	httpClient *http.Client
}

// NewGoogleClient 创建 Google Speech 转写客户端。
func NewGoogleClient(cfg config.STTConfig) *GoogleClient {
	apiURL := cfg.GoogleAPIURL
	if apiURL == "" {
		apiURL = "https://speech.googleapis.com"
	}
	language := cfg.Language
	if language == "" || language == "en" {
		language = "en-GB"
	}
	return &GoogleClient{
		apiKey:   cfg.GoogleAPIKey,
		apiURL:   apiURL,
		language: language,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Transcribe 提交 base64 音频并拼接所有识别结果的首选转写。
func (c *GoogleClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	reqBody := map[string]any{
		"config": map[string]any{
			"encoding":     "MP3",
			"languageCode": c.language,
		},
		"audio": map[string]any{
			"content": base64.StdEncoding.EncodeToString(audio),
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.apiURL + "/v1/speech:recognize?key=" + c.apiKey
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
		return "", fmt.Errorf("google speech API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	var parts []string
	for _, r := range result.Results {
		if len(r.Alternatives) > 0 {
			parts = append(parts, r.Alternatives[0].Transcript)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}
