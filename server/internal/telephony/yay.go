package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"watson-voice/server/internal/config"
)

// YayClient Yay.com VoIP API 客户端。
//
// 接口约定：
//   - 认证头 X-Auth-Reseller / X-Auth-User / X-Auth-Password，必须带 User-Agent。
//   - 短信 POST /voip/text-message  { source, destination, message_body }
//   - 外呼 POST /voip/call  { targets: [{type, uuid}], destination, caller_id }
//     （click-to-call：先响 SIP 用户，接通后再拨目标号码）
type YayClient struct {
	reseller   string
	user       string
	password   string
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewYayClient 创建 Yay 客户端。
func NewYayClient(cfg config.YayConfig) *YayClient {
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = "https://api.yay.com"
	}
	return &YayClient{
		reseller:  cfg.Reseller,
		user:      cfg.User,
		password:  cfg.Password,
		baseURL:   baseURL,
		userAgent: "WatsonEcosystem/1.0",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendSMS 发送一条短信。
func (c *YayClient) SendSMS(ctx context.Context, to, from, body string) error {
	payload := map[string]string{
		"source":       from,
		"destination":  to,
		"message_body": body,
	}
	return c.post(ctx, "/voip/text-message", payload)
}

// YayCallOptions 外呼参数。CallFlowUUID 非空时走 callflow，否则振铃 SIP 用户。
type YayCallOptions struct {
	UserUUID     string
	CallerIDUUID string
	CallFlowUUID string
}

// PlaceCall 发起一通 click-to-call 外呼。
func (c *YayClient) PlaceCall(ctx context.Context, to string, opts YayCallOptions) error {
	targetType := "sipuser"
	targetUUID := opts.UserUUID
	if opts.CallFlowUUID != "" {
		targetType = "callflow"
		targetUUID = opts.CallFlowUUID
	}

	payload := map[string]any{
		"targets":     []map[string]string{{"type": targetType, "uuid": targetUUID}},
		"destination": to,
	}
	if opts.CallerIDUUID != "" {
		payload["caller_id"] = opts.CallerIDUUID
	}
	return c.post(ctx, "/voip/call", payload)
}

func (c *YayClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Auth-Reseller", c.reseller)
	req.Header.Set("X-Auth-User", c.user)
	req.Header.Set("X-Auth-Password", c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Provider: "yay", Status: resp.StatusCode, Message: string(respBody)}
	}
	return nil
}
