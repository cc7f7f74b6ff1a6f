package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"watson-voice/server/internal/api"
	"watson-voice/server/internal/config"
	"watson-voice/server/internal/conversation"
	"watson-voice/server/internal/gateway"
	"watson-voice/server/internal/llm"
	"watson-voice/server/internal/model"
	"watson-voice/server/internal/stt"
	"watson-voice/server/internal/telephony"
	"watson-voice/server/internal/turnloop"
)

func main() {
	// 参数用 flag，敏感信息（各家 API Key）用环境变量覆盖配置文件。
	configPath := flag.String("config", "server/configs/config.yaml", "config file path")
	addr := flag.String("addr", "", "http listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store := conversation.NewInMemoryStore(cfg.Conversation.TTL, cfg.Conversation.SweepInterval, cfg.Conversation.MaxEntries)
	defer store.Close()

	gen := llm.NewFromConfig(cfg)

	transcriber, err := stt.NewTranscriber(cfg.STT)
	if err != nil {
		log.Fatalf("init transcriber: %v", err)
	}

	opts := llm.Options{
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Temperature:     cfg.LLM.Temperature,
	}
	inbound := turnloop.New(store, gen, turnloop.Config{
		Direction:    model.DirectionInbound,
		Greeting:     cfg.Conversation.Greeting,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxRounds:    cfg.Conversation.MaxRounds,
		Options:      opts,
	})
	outbound := turnloop.New(store, gen, turnloop.Config{
		Direction:    model.DirectionOutbound,
		Greeting:     cfg.Conversation.OutboundGreeting,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxRounds:    cfg.Conversation.MaxRounds,
		Options:      opts,
	})

	server := api.NewServer(cfg, api.Deps{
		Store:       store,
		Inbound:     inbound,
		Outbound:    outbound,
		Transcriber: transcriber,
		Agent:       gateway.New(cfg.Gateway),
		Recordings:  telephony.NewTwilioClient(cfg.Twilio),
	})

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("watson-voice server listening on %s", listenAddr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
