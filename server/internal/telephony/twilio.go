// Package telephony 封装电话供应商的 REST 接口：外呼、短信、录音下载。
// 一次性动作不做内部重试；供应商拒绝（非 2xx）解析错误体后带诊断信息上抛。
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"watson-voice/server/internal/config"
)

// APIError 表示供应商返回了非 2xx（例如余额不足、号码无效）。
type APIError struct {
	Provider string
	Status   int
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s API error (status %d, code %d): %s", e.Provider, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
}

// TwilioClient Twilio REST API 客户端。
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// NewTwilioClient 创建 Twilio 客户端。
func NewTwilioClient(cfg config.TwilioConfig) *TwilioClient {
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CallOptions 外呼参数。Message 与 HandlerURL 二选一：
// Message 是单向 TTS 播报（内联 TwiML），HandlerURL 指向完整对话循环的 webhook。
type CallOptions struct {
	Message    string
	HandlerURL string
}

// PlaceCall 发起一通外呼，返回 Call SID。
func (c *TwilioClient) PlaceCall(ctx context.Context, to, from string, opts CallOptions) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	switch {
	case opts.Message != "":
		form.Set("Twiml", fmt.Sprintf(`<Response><Say voice="Polly.Amy" language="en-GB">%s</Say></Response>`, opts.Message))
	case opts.HandlerURL != "":
		form.Set("Url", opts.HandlerURL)
	default:
		return "", fmt.Errorf("either message or handler URL is required")
	}

	return c.postForm(ctx, "/Calls.json", form)
}

// SendSMS 发送一条短信，返回 Message SID。
func (c *TwilioClient) SendSMS(ctx context.Context, to, from, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	return c.postForm(ctx, "/Messages.json", form)
}

// FetchRecording 用账号凭证下载录音音频（mp3）。
func (c *TwilioClient) FetchRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	if !strings.HasSuffix(recordingURL, ".mp3") {
		recordingURL += ".mp3"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "twilio", Status: resp.StatusCode, Message: "recording download failed"}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return audio, nil
}

func (c *TwilioClient) postForm(ctx context.Context, path string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s%s", c.baseURL, c.accountSID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return "", &APIError{Provider: "twilio", Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
		}
		return "", &APIError{Provider: "twilio", Status: resp.StatusCode, Message: string(respBody)}
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return result.SID, nil
}
