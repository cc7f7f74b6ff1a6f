package api

import (
	"sync"
	"time"

	"watson-voice/server/internal/model"
)

// TurnEvent 是推送给旁听客户端的一条轮次事件。
type TurnEvent struct {
	CallID  string    `json:"call_id"`
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// subscriber 通道容量：写满时丢弃事件（背压控制），旁听流允许有损。
const subscriberBuffer = 16

// Hub 把通话轮次实时广播给订阅了该 callID 的 websocket 客户端。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan TurnEvent]struct{}
	now  func() time.Time
}

// NewHub 创建广播器。
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan TurnEvent]struct{}),
		now:  time.Now,
	}
}

// Subscribe 订阅某个通话的轮次事件，返回事件通道与取消函数。
func (h *Hub) Subscribe(callID string) (<-chan TurnEvent, func()) {
	ch := make(chan TurnEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[callID] == nil {
		h.subs[callID] = make(map[chan TurnEvent]struct{})
	}
	h.subs[callID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[callID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, callID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish 向该通话的所有订阅者广播一条轮次。非阻塞：慢订阅者丢事件。
func (h *Hub) Publish(callID string, turn model.Turn) {
	ev := TurnEvent{
		CallID:  callID,
		Role:    turn.Role,
		Content: turn.Content,
		TS:      h.now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[callID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
