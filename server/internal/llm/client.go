package llm

import (
	"context"
	"errors"
	"fmt"

	"watson-voice/server/internal/model"
)

// Client 文本生成后端接口。
type Client interface {
	// Generate 用完整对话历史（含 system 轮次）生成下一句助手回复。
	Generate(ctx context.Context, history []model.Turn, opts Options) (string, error)
}

// Options 生成参数。零值字段用默认值补齐后原样转发给后端。
type Options struct {
	MaxOutputTokens int
	Temperature     float64
}

const (
	DefaultMaxOutputTokens = 200
	DefaultTemperature     = 0.7
)

func (o Options) withDefaults() Options {
	if o.MaxOutputTokens == 0 {
		o.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	return o
}

// ErrEmptyResponse 表示后端返回成功但没有可用文本，等同于传输失败处理（触发 fallback）。
var ErrEmptyResponse = errors.New("empty response from backend")

// BackendError 表示后端返回了非 2xx 状态。
type BackendError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Backend, e.StatusCode, e.Body)
}

// splitSystem 从按时间排序的历史中剥离 system 轮次，单独作为指令上下文。
// 返回 system 内容与其余轮次（顺序不变）。
func splitSystem(history []model.Turn) (string, []model.Turn) {
	var system string
	rest := make([]model.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == model.RoleSystem {
			if system == "" {
				system = t.Content
			}
			continue
		}
		rest = append(rest, t)
	}
	return system, rest
}
