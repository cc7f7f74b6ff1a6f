// Package gateway 调用下游 agent gateway：把来电转写交给外部 agent 会话，
// 由它独立生成回复（直连 LLM 之外的另一条回复通道）。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"watson-voice/server/internal/config"
)

// Client 封装 agent gateway 的消息接口。
// 设计目的：gateway 不可达时绝不向 webhook 路径抛错，
// 而是返回嵌入原转写的兜底文案，保证来电者总能听到回复。
type Client struct {
	BaseURL    string
	SessionID  string
	APIToken   string
	HTTPClient *http.Client

	now func() time.Time
}

// New 创建 agent gateway 客户端。默认 30 秒超时。
func New(cfg config.GatewayConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    cfg.URL,
		SessionID:  cfg.SessionID,
		APIToken:   cfg.APIToken,
		HTTPClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type message struct {
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Relay 把转写发给 agent gateway 并返回它的回复文本。
//
// 永不返回错误：gateway 不可达或响应缺少 response 字段时，
// 返回嵌入原转写的固定兜底句子。
func (c *Client) Relay(ctx context.Context, transcript, caller, callSid string) string {
	msg := message{
		Type:    "voice_message",
		Content: transcript,
		Metadata: map[string]any{
			"source":    "twilio",
			"caller":    caller,
			"callSid":   callSid,
			"timestamp": c.now().UTC().Format(time.RFC3339),
		},
	}

	reply, err := c.send(ctx, msg)
	if err != nil {
		log.Printf("[Gateway] relay failed: %v", err)
		return fmt.Sprintf("I received your message: \"%s\". However, I'm currently unable to process it fully. Please try again later or send a text message.", transcript)
	}
	if reply == "" {
		return fmt.Sprintf("I received your message: \"%s\". I'll process this and get back to you.", transcript)
	}
	return reply
}

func (c *Client) send(ctx context.Context, msg message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/sessions/%s/messages", c.BaseURL, c.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return result.Response, nil
}
