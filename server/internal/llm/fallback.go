package llm

import (
	"context"
	"log"
	"sync/atomic"

	"watson-voice/server/internal/config"
	"watson-voice/server/internal/model"
)

// DefaultApology 两个后端都失败时的固定兜底回复。
// 这是唯一不向调用方返回错误的终止路径：对话循环永远能说出点什么。
const DefaultApology = "I'm having trouble connecting to my systems right now. Please try again in a moment."

// Fallback 按主备顺序调用生成后端，实现两级降级策略：
// 主后端失败（非 2xx / 传输失败 / 空响应）时不重试，直接切换到备用后端；
// 备用后端也失败时返回固定致歉语。单次 Generate 至多触发一次 failover。
type Fallback struct {
	primary   Client
	secondary Client
	apology   string

	failovers atomic.Int64
	exhausted atomic.Int64
}

// NewFallback 创建主备降级客户端。secondary 可以为 nil（只有一级后端）。
func NewFallback(primary, secondary Client) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		apology:   DefaultApology,
	}
}

// NewFromConfig 按配置装配 Gemini 主后端 + Anthropic 备用后端。
// 某一侧没有 API key 时退化为单后端。
func NewFromConfig(cfg *config.Config) *Fallback {
	var primary, secondary Client
	if cfg.LLM.Gemini.APIKey != "" {
		primary = NewGeminiClient(cfg.LLM.Gemini)
	}
	if cfg.LLM.Anthropic.APIKey != "" {
		secondary = NewAnthropicClient(cfg.LLM.Anthropic)
	}
	if primary == nil {
		primary, secondary = secondary, nil
	}
	return NewFallback(primary, secondary)
}

// Generate 依次尝试主、备后端。两者都失败时返回致歉语且 err 为 nil。
func (f *Fallback) Generate(ctx context.Context, history []model.Turn, opts Options) (string, error) {
	reply, err := f.primary.Generate(ctx, history, opts)
	if err == nil {
		return reply, nil
	}

	f.failovers.Add(1)
	log.Printf("[LLM] primary backend failed: %v, falling back", err)

	if f.secondary != nil {
		reply, err = f.secondary.Generate(ctx, history, opts)
		if err == nil {
			return reply, nil
		}
		log.Printf("[LLM] fallback backend failed: %v", err)
	}

	f.exhausted.Add(1)
	return f.apology, nil
}

// Failovers 返回主后端失败切换到备用后端的累计次数（可观测性，测试用）。
func (f *Fallback) Failovers() int64 {
	return f.failovers.Load()
}

// Exhausted 返回两级后端全部失败、返回致歉语的累计次数。
func (f *Fallback) Exhausted() int64 {
	return f.exhausted.Load()
}
