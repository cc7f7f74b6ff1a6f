package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"watson-voice/server/internal/model"
)

const systemPrompt = "You are Watson."

// TestGetOrCreateIdempotent 验证重复 GetOrCreate 返回同一条记录且 system 轮次不被重新初始化。
func TestGetOrCreateIdempotent(t *testing.T) {
	s := NewInMemoryStore(time.Hour, 0, 0)
	ctx := context.Background()

	snap, err := s.GetOrCreate(ctx, "CA1", systemPrompt)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if len(snap.Turns) != 1 || snap.Turns[0].Role != model.RoleSystem || snap.Turns[0].Content != systemPrompt {
		t.Fatalf("unexpected initial turns: %+v", snap.Turns)
	}

	if err := s.Append(ctx, "CA1", model.Turn{Role: model.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// 第二次传入不同的 system prompt，不应覆盖已有记录。
	again, err := s.GetOrCreate(ctx, "CA1", "different prompt")
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if len(again.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(again.Turns))
	}
	if again.Turns[0].Content != systemPrompt {
		t.Fatalf("system turn was re-initialized: %q", again.Turns[0].Content)
	}
}

func TestAppendUnknownCall(t *testing.T) {
	s := NewInMemoryStore(time.Hour, 0, 0)

	err := s.Append(context.Background(), "CAmissing", model.Turn{Role: model.RoleUser, Content: "hi"})
	if !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
	if _, err := s.History(context.Background(), "CAmissing"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall from History, got %v", err)
	}
}

// TestHistoryLengthPerRound 验证 k 个完整回合后历史长度为 1 + 2k。
func TestHistoryLengthPerRound(t *testing.T) {
	s := NewInMemoryStore(time.Hour, 0, 0)
	ctx := context.Background()

	if _, err := s.GetOrCreate(ctx, "CA1", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	const rounds = 3
	for i := 0; i < rounds; i++ {
		if err := s.Append(ctx, "CA1", model.Turn{Role: model.RoleUser, Content: "question"}); err != nil {
			t.Fatalf("append user: %v", err)
		}
		if err := s.Append(ctx, "CA1", model.Turn{Role: model.RoleAssistant, Content: "answer"}); err != nil {
			t.Fatalf("append assistant: %v", err)
		}
	}

	turns, err := s.History(ctx, "CA1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if want := 1 + 2*rounds; len(turns) != want {
		t.Fatalf("expected %d turns after %d rounds, got %d", want, rounds, len(turns))
	}
}

func TestMarkGreeted(t *testing.T) {
	s := NewInMemoryStore(time.Hour, 0, 0)
	ctx := context.Background()

	if _, err := s.GetOrCreate(ctx, "CA1", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if err := s.MarkGreeted(ctx, "CA1"); err != nil {
		t.Fatalf("mark greeted: %v", err)
	}
	snap, err := s.GetOrCreate(ctx, "CA1", systemPrompt)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !snap.Greeted {
		t.Fatalf("expected greeted flag to persist")
	}
	if err := s.MarkGreeted(ctx, "CAmissing"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}

func TestEndEvicts(t *testing.T) {
	s := NewInMemoryStore(time.Hour, 0, 0)
	ctx := context.Background()

	if _, err := s.GetOrCreate(ctx, "CA1", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if err := s.End(ctx, "CA1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := s.History(ctx, "CA1"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected record evicted, got %v", err)
	}
	// 对不存在的记录 End 是 no-op。
	if err := s.End(ctx, "CA1"); err != nil {
		t.Fatalf("end twice: %v", err)
	}
}

// TestSweepEvictsExpired 验证 TTL 清扫只清理过期记录。
func TestSweepEvictsExpired(t *testing.T) {
	s := NewInMemoryStore(10*time.Minute, 0, 0)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.GetOrCreate(ctx, "CAold", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	s.now = func() time.Time { return base.Add(9 * time.Minute) }
	if _, err := s.GetOrCreate(ctx, "CAnew", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	s.now = func() time.Time { return base.Add(11 * time.Minute) }
	if n := s.sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := s.History(ctx, "CAold"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected CAold evicted, got %v", err)
	}
	if _, err := s.History(ctx, "CAnew"); err != nil {
		t.Fatalf("CAnew should survive: %v", err)
	}
}

// TestSweepSkipsLockedCall 正在处理中的通话不能被清扫。
func TestSweepSkipsLockedCall(t *testing.T) {
	s := NewInMemoryStore(time.Minute, 0, 0)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.GetOrCreate(ctx, "CA1", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	unlock := s.LockCall("CA1")
	s.now = func() time.Time { return base.Add(time.Hour) }
	if n := s.sweep(); n != 0 {
		t.Fatalf("expected locked call to be skipped, evicted %d", n)
	}
	unlock()

	if n := s.sweep(); n != 1 {
		t.Fatalf("expected eviction after unlock, got %d", n)
	}
}

// TestCapacityEvictsOldest 容量满时淘汰最久未访问的记录。
func TestCapacityEvictsOldest(t *testing.T) {
	s := NewInMemoryStore(time.Hour, 0, 2)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.GetOrCreate(ctx, "CA1", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := s.GetOrCreate(ctx, "CA2", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := s.GetOrCreate(ctx, "CA3", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	if _, err := s.History(ctx, "CA1"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected oldest record evicted, got %v", err)
	}
	if _, err := s.History(ctx, "CA3"); err != nil {
		t.Fatalf("newest record should exist: %v", err)
	}
}

// TestHistoryReturnsCopy 返回的切片是副本，调用方修改不影响内部状态。
func TestHistoryReturnsCopy(t *testing.T) {
	s := NewInMemoryStore(time.Hour, 0, 0)
	ctx := context.Background()

	if _, err := s.GetOrCreate(ctx, "CA1", systemPrompt); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	turns, err := s.History(ctx, "CA1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	turns[0].Content = "mutated"

	again, err := s.History(ctx, "CA1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if again[0].Content != systemPrompt {
		t.Fatalf("internal state was mutated: %q", again[0].Content)
	}
}
