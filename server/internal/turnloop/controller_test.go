package turnloop

import (
	"context"
	"testing"
	"time"

	"watson-voice/server/internal/conversation"
	"watson-voice/server/internal/llm"
	"watson-voice/server/internal/model"
)

const (
	testGreeting = "Hello, this is Watson. How can I help you?"
	testPrompt   = "You are Watson."
)

// stubGen 用于测试的 Mock 生成客户端。
type stubGen struct {
	reply string
	err   error
	calls int
	// lastHistory 记录最近一次收到的历史，用于断言上下文回放。
	lastHistory []model.Turn
}

func (s *stubGen) Generate(_ context.Context, history []model.Turn, _ llm.Options) (string, error) {
	s.calls++
	s.lastHistory = history
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newTestController(gen llm.Client, maxRounds int) (*Controller, *conversation.InMemoryStore) {
	store := conversation.NewInMemoryStore(time.Hour, 0, 0)
	ctrl := New(store, gen, Config{
		Direction:    model.DirectionInbound,
		Greeting:     testGreeting,
		SystemPrompt: testPrompt,
		MaxRounds:    maxRounds,
	})
	return ctrl, store
}

// TestFirstEventGreets 场景：首个事件没有语音载荷，应播报问候语并布防收音。
func TestFirstEventGreets(t *testing.T) {
	gen := &stubGen{reply: "unused"}
	ctrl, store := newTestController(gen, 0)

	reply, err := ctrl.OnEvent(context.Background(), model.CallEvent{CallSid: "CA1"})
	if err != nil {
		t.Fatalf("on event: %v", err)
	}
	if reply.Utterance != testGreeting {
		t.Fatalf("expected greeting, got %q", reply.Utterance)
	}
	if !reply.Listen || reply.State != StateAwaitingSpeech {
		t.Fatalf("expected listening state, got %+v", reply)
	}
	if gen.calls != 0 {
		t.Fatalf("generation should not run on greeting")
	}

	turns, err := store.History(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != model.RoleSystem {
		t.Fatalf("greeting must not mutate history beyond the system turn: %+v", turns)
	}
}

// TestSpeechRoundAppendsPair 场景：第二个事件带语音，历史变为 [system, user, assistant]。
func TestSpeechRoundAppendsPair(t *testing.T) {
	gen := &stubGen{reply: "It's sunny."}
	ctrl, store := newTestController(gen, 0)
	ctx := context.Background()

	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CAxxx"}); err != nil {
		t.Fatalf("greeting event: %v", err)
	}

	reply, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CAxxx", SpeechResult: "What's the weather?"})
	if err != nil {
		t.Fatalf("speech event: %v", err)
	}
	if reply.Utterance != "It's sunny." || !reply.Listen {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	turns, err := store.History(ctx, "CAxxx")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []model.Turn{
		{Role: model.RoleSystem, Content: testPrompt},
		{Role: model.RoleUser, Content: "What's the weather?"},
		{Role: model.RoleAssistant, Content: "It's sunny."},
	}
	if len(turns) != len(want) {
		t.Fatalf("expected %d turns, got %d: %+v", len(want), len(turns), turns)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turn %d mismatch: got %+v want %+v", i, turns[i], want[i])
		}
	}

	// 生成后端收到的上下文必须包含刚追加的 user 轮次。
	if len(gen.lastHistory) != 2 || gen.lastHistory[1].Content != "What's the weather?" {
		t.Fatalf("generation context missing user turn: %+v", gen.lastHistory)
	}
}

// TestFailoverRoundUsesSecondary 场景：主后端 500、备用后端成功，助手轮次取备用结果且 failover 可观测。
func TestFailoverRoundUsesSecondary(t *testing.T) {
	primary := &stubGen{err: &llm.BackendError{Backend: "gemini", StatusCode: 500}}
	secondary := &stubGen{reply: "I can help with that."}
	fallback := llm.NewFallback(primary, secondary)

	ctrl, store := newTestController(fallback, 0)
	ctx := context.Background()

	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1"}); err != nil {
		t.Fatalf("greeting event: %v", err)
	}
	reply, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1", SpeechResult: "Help me"})
	if err != nil {
		t.Fatalf("speech event: %v", err)
	}
	if reply.Utterance != "I can help with that." {
		t.Fatalf("unexpected reply: %q", reply.Utterance)
	}
	if secondary.calls != 1 {
		t.Fatalf("expected secondary invoked exactly once, got %d", secondary.calls)
	}
	if fallback.Failovers() != 1 {
		t.Fatalf("expected 1 observable failover, got %d", fallback.Failovers())
	}

	turns, _ := store.History(ctx, "CA1")
	if turns[len(turns)-1].Content != "I can help with that." {
		t.Fatalf("assistant turn should hold the fallback result: %+v", turns)
	}
}

// TestBothBackendsFailStillReplies 场景：两级后端都失败，助手轮次为固定致歉语且不冒泡异常。
func TestBothBackendsFailStillReplies(t *testing.T) {
	primary := &stubGen{err: &llm.BackendError{Backend: "gemini", StatusCode: 500}}
	secondary := &stubGen{err: llm.ErrEmptyResponse}
	fallback := llm.NewFallback(primary, secondary)

	ctrl, store := newTestController(fallback, 0)
	ctx := context.Background()

	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1"}); err != nil {
		t.Fatalf("greeting event: %v", err)
	}
	reply, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1", SpeechResult: "Hello?"})
	if err != nil {
		t.Fatalf("speech event must not fail: %v", err)
	}
	if reply.Utterance != llm.DefaultApology {
		t.Fatalf("expected apology, got %q", reply.Utterance)
	}
	if !reply.Listen {
		t.Fatalf("loop should keep listening after apology")
	}

	turns, _ := store.History(ctx, "CA1")
	if turns[len(turns)-1].Content != llm.DefaultApology {
		t.Fatalf("assistant turn should equal the apology: %+v", turns)
	}
}

// TestSilenceTimeoutReprompts 场景：收音超时（空语音载荷），不动历史，播报固定重问。
func TestSilenceTimeoutReprompts(t *testing.T) {
	gen := &stubGen{reply: "unused"}
	ctrl, store := newTestController(gen, 0)
	ctx := context.Background()

	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1"}); err != nil {
		t.Fatalf("greeting event: %v", err)
	}
	before, _ := store.History(ctx, "CA1")

	reply, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1"})
	if err != nil {
		t.Fatalf("timeout event: %v", err)
	}
	if reply.Utterance != Reprompt {
		t.Fatalf("expected fixed reprompt, got %q", reply.Utterance)
	}
	if !reply.Listen || reply.State != StateAwaitingSpeech {
		t.Fatalf("expected re-armed listening, got %+v", reply)
	}
	if gen.calls != 0 {
		t.Fatalf("generation must not run on timeout")
	}

	after, _ := store.History(ctx, "CA1")
	if len(after) != len(before) {
		t.Fatalf("timeout must not mutate history: before=%d after=%d", len(before), len(after))
	}
}

// TestWhitespaceSpeechTreatedAsTimeout 纯空白的识别结果等同于没有语音。
func TestWhitespaceSpeechTreatedAsTimeout(t *testing.T) {
	gen := &stubGen{reply: "unused"}
	ctrl, store := newTestController(gen, 0)
	ctx := context.Background()

	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1"}); err != nil {
		t.Fatalf("greeting event: %v", err)
	}
	reply, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1", SpeechResult: "   "})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if reply.Utterance != Reprompt {
		t.Fatalf("expected reprompt, got %q", reply.Utterance)
	}
	turns, _ := store.History(ctx, "CA1")
	if len(turns) != 1 {
		t.Fatalf("history must stay untouched: %+v", turns)
	}
}

// TestMaxRoundsEndsCall 达到内部回合上限后播报结束语、停止收音并清理会话。
func TestMaxRoundsEndsCall(t *testing.T) {
	gen := &stubGen{reply: "answer"}
	ctrl, store := newTestController(gen, 1)
	ctx := context.Background()

	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1"}); err != nil {
		t.Fatalf("greeting event: %v", err)
	}
	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1", SpeechResult: "round one"}); err != nil {
		t.Fatalf("first round: %v", err)
	}

	reply, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1", SpeechResult: "round two"})
	if err != nil {
		t.Fatalf("capped round: %v", err)
	}
	if reply.Listen || reply.State != StateEnded {
		t.Fatalf("expected call to end, got %+v", reply)
	}
	if reply.Utterance != GoodbyeLine {
		t.Fatalf("expected goodbye, got %q", reply.Utterance)
	}
	if _, err := store.History(ctx, "CA1"); err == nil {
		t.Fatalf("expected conversation evicted after cap")
	}
}

// TestOutboundGreetingVariant 呼出方向使用呼出问候语，其余行为一致。
func TestOutboundGreetingVariant(t *testing.T) {
	store := conversation.NewInMemoryStore(time.Hour, 0, 0)
	outboundGreeting := "Hello, this is Watson calling. I have something to discuss with you."
	ctrl := New(store, &stubGen{reply: "x"}, Config{
		Direction:    model.DirectionOutbound,
		Greeting:     outboundGreeting,
		SystemPrompt: testPrompt,
	})

	reply, err := ctrl.OnEvent(context.Background(), model.CallEvent{CallSid: "CA1"})
	if err != nil {
		t.Fatalf("on event: %v", err)
	}
	if reply.Utterance != outboundGreeting {
		t.Fatalf("expected outbound greeting, got %q", reply.Utterance)
	}
}

func TestMissingCallSid(t *testing.T) {
	ctrl, _ := newTestController(&stubGen{reply: "x"}, 0)
	if _, err := ctrl.OnEvent(context.Background(), model.CallEvent{}); err == nil {
		t.Fatalf("expected error for missing CallSid")
	}
}

// TestTurnListenerReceivesAppends 每条追加的轮次都会回调监听器。
func TestTurnListenerReceivesAppends(t *testing.T) {
	gen := &stubGen{reply: "It's sunny."}
	ctrl, _ := newTestController(gen, 0)
	ctx := context.Background()

	var seen []model.Turn
	ctrl.SetTurnListener(func(callID string, turn model.Turn) {
		seen = append(seen, turn)
	})

	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1"}); err != nil {
		t.Fatalf("greeting event: %v", err)
	}
	if _, err := ctrl.OnEvent(ctx, model.CallEvent{CallSid: "CA1", SpeechResult: "hi"}); err != nil {
		t.Fatalf("speech event: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 listener callbacks, got %d", len(seen))
	}
	if seen[0].Role != model.RoleUser || seen[1].Role != model.RoleAssistant {
		t.Fatalf("unexpected listener order: %+v", seen)
	}
}
