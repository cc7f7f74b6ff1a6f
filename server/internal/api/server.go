package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"watson-voice/server/internal/config"
	"watson-voice/server/internal/conversation"
	"watson-voice/server/internal/model"
	"watson-voice/server/internal/stt"
	"watson-voice/server/internal/turnloop"
	"watson-voice/server/internal/twiml"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const contentTypeXML = "text/xml; charset=utf-8"

// 留言路径的固定台词（与对话循环路径相互独立）。
const (
	recordGreeting       = "Hello! This is Watson, your assistant. Please speak your message after the beep."
	recordFallback       = "I didn't hear anything. Please call back and speak after the beep."
	recordMorePrompt     = "If you'd like to leave another message, please speak after the beep. Otherwise, hang up."
	recordNotUnderstood  = "I'm sorry, I couldn't understand what you said. Please try again."
	recordProcessingFail = "I'm sorry, there was an error processing your message. Please try again later."
)

// AgentRelay 把转写交给下游 agent 并拿回回复文本（永不出错，见 gateway 包）。
type AgentRelay interface {
	Relay(ctx context.Context, transcript, caller, callSid string) string
}

// RecordingFetcher 用供应商凭证下载录音。
type RecordingFetcher interface {
	FetchRecording(ctx context.Context, recordingURL string) ([]byte, error)
}

// Deps 是 Server 的外部协作者。
type Deps struct {
	Store       conversation.Store
	Inbound     *turnloop.Controller
	Outbound    *turnloop.Controller
	Transcriber stt.Transcriber
	Agent       AgentRelay
	Recordings  RecordingFetcher
}

type Server struct {
	config *config.Config
	deps   Deps
	voice  twiml.Voice
	// recordingVoice 留言路径用的声音（原系统用 Neural 变体）。
	recordingVoice twiml.Voice

	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer 创建 webhook 服务。
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:         cfg,
		deps:           deps,
		voice:          twiml.Voice{Name: cfg.Voice.Voice, Language: cfg.Voice.Language},
		recordingVoice: twiml.Voice{Name: cfg.Voice.RecordingVoice},
		hub:            NewHub(),
		upgrader: websocket.Upgrader{
			// 旁听流只读且不带凭证，允许任意来源。
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if deps.Inbound != nil {
		deps.Inbound.SetTurnListener(s.hub.Publish)
	}
	if deps.Outbound != nil {
		deps.Outbound.SetTurnListener(s.hub.Publish)
	}
	return s
}

// Routes 注册全部路由。
func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	// 对话循环路径：呼入与呼出共用同一状态机，只是问候语与回投路由不同。
	engine.POST("/voice", s.handleVoice(s.deps.Inbound, "/voice"))
	engine.POST("/outbound-voice", s.handleVoice(s.deps.Outbound, "/outbound-voice"))

	// 留言路径：录音 → 转写 → agent gateway → 播报回复。
	engine.POST("/voicebox", s.handleVoicebox)
	engine.POST("/recording-callback", s.handleRecordingCallback)
	engine.POST("/recording-status", s.handleRecordingStatus)

	// 通话结束回调：显式清理会话记录。
	engine.POST("/call-status", s.handleCallStatus)

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/calls/:id/transcript", s.handleTranscript)
	engine.GET("/api/calls/:id/stream", s.handleStream)
	return engine
}

func callEvent(c *gin.Context) model.CallEvent {
	return model.CallEvent{
		CallSid:         c.PostForm("CallSid"),
		From:            c.PostForm("From"),
		To:              c.PostForm("To"),
		SpeechResult:    c.PostForm("SpeechResult"),
		RecordingURL:    c.PostForm("RecordingUrl"),
		CallStatus:      c.PostForm("CallStatus"),
		RecordingStatus: c.PostForm("RecordingStatus"),
	}
}

// handleVoice 处理对话循环 webhook。
// 失败也必须渲染合法 TwiML：来电者总要听到点什么，绝不回 5xx 丢掉通话。
func (s *Server) handleVoice(ctrl *turnloop.Controller, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev := callEvent(c)

		reply, err := ctrl.OnEvent(c.Request.Context(), ev)
		if err != nil {
			log.Printf("[API] voice handler failed for call %s: %v", ev.CallSid, err)
			c.Data(http.StatusOK, contentTypeXML, []byte(twiml.Goodbye(recordProcessingFail, s.voice)))
			return
		}

		var markup string
		if reply.Listen {
			markup = twiml.Conversation(reply.Utterance, turnloop.Reprompt, s.voice, action)
		} else {
			markup = twiml.Goodbye(reply.Utterance, s.voice)
		}
		c.Data(http.StatusOK, contentTypeXML, []byte(markup))
	}
}

// handleVoicebox 留言路径的开场：问候并开始录音。
func (s *Server) handleVoicebox(c *gin.Context) {
	ev := callEvent(c)
	log.Printf("[API] incoming voicebox call from %s", ev.From)

	markup := twiml.RecordPrompt(recordGreeting, recordFallback, s.recordingVoice, "/recording-callback", "/recording-status")
	c.Data(http.StatusOK, contentTypeXML, []byte(markup))
}

// handleRecordingCallback 录音完成回调：下载 → 转写 → 转发 agent → 播报回复。
// 任何一步失败都退化为一句可播报的提示，绝不向供应商返回错误。
func (s *Server) handleRecordingCallback(c *gin.Context) {
	ev := callEvent(c)
	log.Printf("[API] recording received from %s (call %s)", ev.From, ev.CallSid)

	if s.deps.Transcriber == nil || s.deps.Recordings == nil || ev.RecordingURL == "" {
		c.Data(http.StatusOK, contentTypeXML, []byte(twiml.SayOnly(recordProcessingFail, s.recordingVoice)))
		return
	}

	ctx := c.Request.Context()
	audio, err := s.deps.Recordings.FetchRecording(ctx, ev.RecordingURL)
	if err != nil {
		log.Printf("[API] download recording failed: %v", err)
		c.Data(http.StatusOK, contentTypeXML, []byte(twiml.SayOnly(recordProcessingFail, s.recordingVoice)))
		return
	}

	transcript, err := s.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		log.Printf("[API] transcription failed: %v", err)
		c.Data(http.StatusOK, contentTypeXML, []byte(twiml.SayOnly(recordProcessingFail, s.recordingVoice)))
		return
	}
	if transcript == "" {
		// 转写成功但没有内容：提示重说，不进入 agent 转发。
		c.Data(http.StatusOK, contentTypeXML, []byte(twiml.SayOnly(recordNotUnderstood, s.recordingVoice)))
		return
	}
	log.Printf("[API] transcription: %s", transcript)

	reply := s.deps.Agent.Relay(ctx, transcript, ev.From, ev.CallSid)
	log.Printf("[API] agent reply: %s", reply)

	markup := twiml.RecordReply(reply, recordMorePrompt, s.recordingVoice, "/recording-callback")
	c.Data(http.StatusOK, contentTypeXML, []byte(markup))
}

// handleRecordingStatus 录音状态回调（仅监控用）。
func (s *Server) handleRecordingStatus(c *gin.Context) {
	ev := callEvent(c)
	log.Printf("[API] recording status %s for call %s", ev.RecordingStatus, ev.CallSid)
	c.Status(http.StatusOK)
}

// handleCallStatus 通话状态回调：终止态通话的会话记录立即清理。
func (s *Server) handleCallStatus(c *gin.Context) {
	ev := callEvent(c)
	if model.IsTerminalCallStatus(ev.CallStatus) && ev.CallSid != "" {
		if err := s.deps.Store.End(c.Request.Context(), ev.CallSid); err != nil {
			log.Printf("[API] end conversation %s failed: %v", ev.CallSid, err)
		} else {
			log.Printf("[API] call %s ended (%s), conversation evicted", ev.CallSid, ev.CallStatus)
		}
	}
	c.Status(http.StatusOK)
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "watson-voice"})
}

// handleTranscript 返回某通电话的完整对话历史。
func (s *Server) handleTranscript(c *gin.Context) {
	callID := c.Param("id")
	turns, err := s.deps.Store.History(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, conversation.ErrUnknownCall) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load conversation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "turns": turns})
}

// handleStream 升级到 websocket，实时推送该通话的轮次事件（运维旁听转写）。
func (s *Server) handleStream(c *gin.Context) {
	callID := c.Param("id")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(callID)
	defer cancel()

	// 读协程只用于感知客户端断开。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
