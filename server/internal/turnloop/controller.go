// Package turnloop 实现按通话推进的回合状态机：
// webhook 事件进来 → 取会话历史 → （有语音则）生成回复 → 给出下一步播报与收音指令。
package turnloop

import (
	"context"
	"fmt"
	"log"
	"strings"

	"watson-voice/server/internal/conversation"
	"watson-voice/server/internal/llm"
	"watson-voice/server/internal/model"
)

// State 是单个通话在回合循环中的显式状态。
type State string

const (
	// StateFresh 尚未处理过该通话的任何 webhook 事件。
	StateFresh State = "fresh"
	// StateAwaitingSpeech 已播报过内容，正在收音。
	StateAwaitingSpeech State = "awaiting_speech"
	// StateEnded 通话结束，不再有状态转移。
	StateEnded State = "ended"
)

// 固定台词。
const (
	// Reprompt 收音超时后的固定重问。
	Reprompt = "I didn't catch that. Are you still there?"
	// GoodbyeLine 达到内部回合上限时的结束语。
	GoodbyeLine = "Thank you for calling. Goodbye."
)

// Reply 是一次状态转移的输出：要朗读的文本与下一步收音指令。
type Reply struct {
	State     State
	Utterance string
	// Listen 为 true 时在同一路由上重新布防收音；为 false 时播报后挂断。
	Listen bool
}

// Config 把呼入/呼出两种处理路径参数化为同一个状态机。
type Config struct {
	Direction    model.Direction
	Greeting     string
	SystemPrompt string
	// MaxRounds 内部回合上限；0 表示不设上限，依赖供应商的通话时长限制。
	MaxRounds int
	Options   llm.Options
}

// Controller 驱动单个方向（呼入或呼出）的回合循环。
//
// 契约：
//   - 每个用户语音恰好追加一条 user 轮次和一条 assistant 轮次。
//   - 同一 callID 的整轮处理持有 per-call 锁，防止供应商重试导致的交错追加。
//   - 生成失败不上抛：Generation Client 的降级策略保证总有可播报的文本。
type Controller struct {
	store conversation.Store
	gen   llm.Client
	cfg   Config

	// onTurn 每追加一条轮次回调一次（实时转写流用），可以为 nil。
	onTurn func(callID string, turn model.Turn)
}

// New 创建回合控制器。
func New(store conversation.Store, gen llm.Client, cfg Config) *Controller {
	return &Controller{store: store, gen: gen, cfg: cfg}
}

// SetTurnListener 注册轮次追加回调。
func (c *Controller) SetTurnListener(fn func(callID string, turn model.Turn)) {
	c.onTurn = fn
}

// OnEvent 处理一次 webhook 事件并推进状态机。
func (c *Controller) OnEvent(ctx context.Context, ev model.CallEvent) (Reply, error) {
	if ev.CallSid == "" {
		return Reply{}, fmt.Errorf("missing CallSid")
	}

	unlock := c.store.LockCall(ev.CallSid)
	defer unlock()

	snap, err := c.store.GetOrCreate(ctx, ev.CallSid, c.cfg.SystemPrompt)
	if err != nil {
		return Reply{}, fmt.Errorf("get or create conversation: %w", err)
	}

	state := StateFresh
	if snap.Greeted {
		state = StateAwaitingSpeech
	}
	speech := strings.TrimSpace(ev.SpeechResult)

	switch {
	case speech != "":
		return c.handleSpeech(ctx, ev.CallSid, snap, speech)
	case state == StateFresh:
		return c.greet(ctx, ev.CallSid)
	default:
		// 收音超时：不动历史，重问并重新布防。供应商的重定向会再次打到同一路由。
		return Reply{State: StateAwaitingSpeech, Utterance: Reprompt, Listen: true}, nil
	}
}

func (c *Controller) greet(ctx context.Context, callID string) (Reply, error) {
	if err := c.store.MarkGreeted(ctx, callID); err != nil {
		return Reply{}, fmt.Errorf("mark greeted: %w", err)
	}
	log.Printf("[Turnloop] %s call %s: greeting", c.cfg.Direction, callID)
	return Reply{State: StateAwaitingSpeech, Utterance: c.cfg.Greeting, Listen: true}, nil
}

func (c *Controller) handleSpeech(ctx context.Context, callID string, snap conversation.Snapshot, speech string) (Reply, error) {
	if c.cfg.MaxRounds > 0 && completedRounds(snap.Turns) >= c.cfg.MaxRounds {
		log.Printf("[Turnloop] call %s hit round cap (%d), ending", callID, c.cfg.MaxRounds)
		if err := c.store.End(ctx, callID); err != nil {
			return Reply{}, fmt.Errorf("end conversation: %w", err)
		}
		return Reply{State: StateEnded, Utterance: GoodbyeLine, Listen: false}, nil
	}

	log.Printf("[Turnloop] call %s user said: %s", callID, speech)

	userTurn := model.Turn{Role: model.RoleUser, Content: speech}
	if err := c.append(ctx, callID, userTurn); err != nil {
		return Reply{}, err
	}

	history := append(snap.Turns, userTurn)
	reply, err := c.gen.Generate(ctx, history, c.cfg.Options)
	if err != nil {
		// 降级客户端正常情况下不返回错误；真到这里也不能让通话失败。
		log.Printf("[Turnloop] call %s generation error: %v", callID, err)
		reply = llm.DefaultApology
	}
	log.Printf("[Turnloop] call %s watson says: %s", callID, reply)

	assistantTurn := model.Turn{Role: model.RoleAssistant, Content: reply}
	if err := c.append(ctx, callID, assistantTurn); err != nil {
		return Reply{}, err
	}

	return Reply{State: StateAwaitingSpeech, Utterance: reply, Listen: true}, nil
}

func (c *Controller) append(ctx context.Context, callID string, turn model.Turn) error {
	if err := c.store.Append(ctx, callID, turn); err != nil {
		return fmt.Errorf("append %s turn: %w", turn.Role, err)
	}
	if c.onTurn != nil {
		c.onTurn(callID, turn)
	}
	return nil
}

// completedRounds 统计已完成的对话回合数（user/assistant 成对出现）。
func completedRounds(turns []model.Turn) int {
	users := 0
	for _, t := range turns {
		if t.Role == model.RoleUser {
			users++
		}
	}
	return users
}
