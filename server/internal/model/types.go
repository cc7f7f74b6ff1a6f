package model

// Turn 的说话方角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn 表示通话对话中的一个轮次，追加到历史后不可变。
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Direction 表示通话方向：用户呼入，或 Watson 主动呼出。
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallEvent 是电话供应商 webhook 投递的一次事件
// （application/x-www-form-urlencoded 表单字段）。
type CallEvent struct {
	CallSid         string
	From            string
	To              string
	SpeechResult    string
	RecordingURL    string
	CallStatus      string
	RecordingStatus string
}

// Twilio 通话状态。处于终止态的通话可以从会话存储中清理。
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)

// IsTerminalCallStatus 判断通话是否已结束（不会再有 webhook 事件）。
func IsTerminalCallStatus(status string) bool {
	switch status {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}
