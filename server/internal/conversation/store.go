package conversation

import (
	"context"
	"errors"

	"watson-voice/server/internal/model"
)

// ErrUnknownCall 表示在 GetOrCreate 之前对该 callID 调用了 Append/History，
// 属于内部一致性错误：只影响当前请求，不影响进程。
var ErrUnknownCall = errors.New("unknown call")

// Snapshot 是某个通话会话的只读快照。
type Snapshot struct {
	// Turns[0] 永远是会话创建时写入的 system 轮次，创建后不再变化。
	Turns []model.Turn
	// Greeted 标记问候语是否已经播报过（状态机 FRESH → AWAITING_SPEECH 的依据）。
	Greeted bool
}

// Store 保存每个活跃通话的对话历史。
//
// 契约：
//   - GetOrCreate 幂等：同一 callID 重复调用返回同一条记录，system 轮次不会被重新初始化。
//   - 跨 callID 的并发访问必须安全；同一 callID 的整轮处理用 LockCall 串行化，
//     防止供应商重试导致的交错追加。
//   - 记录有 TTL 和容量上限，通话结束信号（End）可显式清理。
type Store interface {
	GetOrCreate(ctx context.Context, callID, systemPrompt string) (Snapshot, error)
	Append(ctx context.Context, callID string, turn model.Turn) error
	MarkGreeted(ctx context.Context, callID string) error
	History(ctx context.Context, callID string) ([]model.Turn, error)
	End(ctx context.Context, callID string) error

	// LockCall 获取 callID 级别的互斥锁，返回解锁函数。
	LockCall(callID string) (unlock func())
}
