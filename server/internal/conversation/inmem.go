package conversation

import (
	"context"
	"log"
	"sync"
	"time"

	"watson-voice/server/internal/model"
)

// entry 是单个通话的会话记录。
type entry struct {
	// mu 串行化同一通话的整轮处理（查历史 → 生成 → 追加）。
	mu       sync.Mutex
	turns    []model.Turn
	greeted  bool
	lastSeen time.Time
}

// InMemoryStore 是基于内存的会话存储实现。
//
// 与朴素的全局 map 不同，这里带了 TTL 清扫和容量上限：
// 电话供应商不保证每通电话都送达结束回调，不清理会无界增长。
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewInMemoryStore 创建内存会话存储。
// sweepInterval > 0 时启动后台清扫协程；Close 负责停止它。
func NewInMemoryStore(ttl, sweepInterval time.Duration, maxEntries int) *InMemoryStore {
	s := &InMemoryStore{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Close 停止后台清扫协程。
func (s *InMemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// GetOrCreate 返回 callID 对应的会话快照；不存在时用 system 轮次初始化。
// 幂等：已存在的记录不会被重新初始化。
func (s *InMemoryStore) GetOrCreate(_ context.Context, callID, systemPrompt string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callID]
	if !ok {
		if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
		e = &entry{}
		s.entries[callID] = e
	}
	if len(e.turns) == 0 {
		// LockCall 可能先占位创建了空记录，这里补上 system 轮次。
		e.turns = []model.Turn{{Role: model.RoleSystem, Content: systemPrompt}}
	}
	e.lastSeen = s.now()

	return Snapshot{Turns: copyTurns(e.turns), Greeted: e.greeted}, nil
}

// Append 追加一个轮次。记录不存在时返回 ErrUnknownCall。
func (s *InMemoryStore) Append(_ context.Context, callID string, turn model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callID]
	if !ok {
		return ErrUnknownCall
	}
	e.turns = append(e.turns, turn)
	e.lastSeen = s.now()
	return nil
}

// MarkGreeted 标记该通话的问候语已播报。
func (s *InMemoryStore) MarkGreeted(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callID]
	if !ok {
		return ErrUnknownCall
	}
	e.greeted = true
	return nil
}

// History 返回该通话的全部轮次（副本，调用方可安全持有）。
func (s *InMemoryStore) History(_ context.Context, callID string) ([]model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callID]
	if !ok {
		return nil, ErrUnknownCall
	}
	return copyTurns(e.turns), nil
}

// End 显式清理一条会话记录（通话结束回调触发）。对不存在的记录是 no-op。
func (s *InMemoryStore) End(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, callID)
	return nil
}

// LockCall 获取 callID 级别的互斥锁。
// 记录尚不存在时会先占位创建锁载体，随后的 GetOrCreate 复用同一条记录。
func (s *InMemoryStore) LockCall(callID string) func() {
	s.mu.Lock()
	e, ok := s.entries[callID]
	if !ok {
		e = &entry{lastSeen: s.now()}
		s.entries[callID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	return e.mu.Unlock
}

func (s *InMemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				log.Printf("[Conversation] swept %d expired call(s)", n)
			}
		}
	}
}

// sweep 清理超过 TTL 未被访问的记录，返回清理数量。
// 正在处理中的记录（per-call 锁被持有）跳过，留给下一轮。
func (s *InMemoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, e := range s.entries {
		if !e.lastSeen.Before(cutoff) {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		e.mu.Unlock()
		delete(s.entries, id)
		removed++
	}
	return removed
}

// evictOldestLocked 在容量满时淘汰最久未访问的记录。调用方必须持有 s.mu。
func (s *InMemoryStore) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		e.mu.Unlock()
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID = id
			oldest = e.lastSeen
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
		log.Printf("[Conversation] evicted idle call %s (store at capacity)", oldestID)
	}
}

func copyTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out
}
