// Package stt 提供统一的语音转写能力。
// 部署通过配置选择后端（OpenAI Whisper 或 Google Cloud Speech），核心代码不分支。
package stt

import (
	"context"
	"fmt"

	"watson-voice/server/internal/config"
)

// Transcriber 把录音字节转成文本。
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// NewTranscriber 按配置创建转写客户端。
func NewTranscriber(cfg config.STTConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "whisper":
		return NewWhisperClient(cfg), nil
	case "google":
		return NewGoogleClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported stt provider: %s", cfg.Provider)
	}
}
