package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Twilio       TwilioConfig       `yaml:"twilio"`
	Yay          YayConfig          `yaml:"yay"`
	LLM          LLMConfig          `yaml:"llm"`
	STT          STTConfig          `yaml:"stt"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Voice        VoiceConfig        `yaml:"voice"`
	Conversation ConversationConfig `yaml:"conversation"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TwilioConfig Twilio 账号配置
type TwilioConfig struct {
	AccountSID  string `yaml:"account_sid"`
	AuthToken   string `yaml:"auth_token"`
	PhoneNumber string `yaml:"phone_number"`
	APIURL      string `yaml:"api_url"`
}

// YayConfig Yay.com VoIP 账号配置
type YayConfig struct {
	Reseller     string `yaml:"reseller"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	PhoneNumber  string `yaml:"phone_number"`
	UserUUID     string `yaml:"user_uuid"`
	CallerIDUUID string `yaml:"caller_id_uuid"`
	APIURL       string `yaml:"api_url"`
}

// LLMConfig 生成后端配置：主后端 Gemini，备用后端 Anthropic。
type LLMConfig struct {
	Gemini          ProviderConfig `yaml:"gemini"`
	Anthropic       ProviderConfig `yaml:"anthropic"`
	MaxOutputTokens int            `yaml:"max_output_tokens"`
	Temperature     float64        `yaml:"temperature"`
	SystemPrompt    string         `yaml:"system_prompt"`
}

// ProviderConfig 单个生成后端的配置
type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
	APIURL string `yaml:"api_url"`
	Model  string `yaml:"model"`
}

// STTConfig 语音转写配置。Provider 决定部署用哪个后端："whisper" 或 "google"。
type STTConfig struct {
	Provider     string `yaml:"provider"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIAPIURL string `yaml:"openai_api_url"`
	GoogleAPIKey string `yaml:"google_api_key"`
	GoogleAPIURL string `yaml:"google_api_url"`
	Language     string `yaml:"language"`
}

// GatewayConfig 下游 agent gateway 配置
type GatewayConfig struct {
	URL       string        `yaml:"url"`
	SessionID string        `yaml:"session_id"`
	APIToken  string        `yaml:"api_token"`
	Timeout   time.Duration `yaml:"timeout"`
}

// VoiceConfig 语音合成的声音与语言
type VoiceConfig struct {
	Voice          string `yaml:"voice"`
	Language       string `yaml:"language"`
	RecordingVoice string `yaml:"recording_voice"`
}

// ConversationConfig 会话存储与回合循环的参数
type ConversationConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	MaxEntries       int           `yaml:"max_entries"`
	MaxRounds        int           `yaml:"max_rounds"` // 0 表示不设内部上限，依赖供应商的通话时长限制
	Greeting         string        `yaml:"greeting"`
	OutboundGreeting string        `yaml:"outbound_greeting"`
}

// Load 从文件加载配置，并用环境变量覆盖敏感信息。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息。API Key 不应写进配置文件提交到仓库。
func (c *Config) applyEnv() {
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		c.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		c.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_PHONE_NUMBER"); v != "" {
		c.Twilio.PhoneNumber = v
	}
	if v := os.Getenv("YAY_RESELLER"); v != "" {
		c.Yay.Reseller = v
	}
	if v := os.Getenv("YAY_USER"); v != "" {
		c.Yay.User = v
	}
	if v := os.Getenv("YAY_PASSWORD"); v != "" {
		c.Yay.Password = v
	}
	if v := os.Getenv("YAY_PHONE_NUMBER"); v != "" {
		c.Yay.PhoneNumber = v
	}
	if v := os.Getenv("YAY_USER_UUID"); v != "" {
		c.Yay.UserUUID = v
	}
	if v := os.Getenv("YAY_CALLER_ID_UUID"); v != "" {
		c.Yay.CallerIDUUID = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.LLM.Gemini.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		c.LLM.Anthropic.Model = v
	}
	if v := os.Getenv("WATSON_SYSTEM_PROMPT"); v != "" {
		c.LLM.SystemPrompt = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.STT.OpenAIAPIKey = v
	}
	if v := os.Getenv("GOOGLE_SPEECH_API_KEY"); v != "" {
		c.STT.GoogleAPIKey = v
	}
	if v := os.Getenv("AGENT_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}
	if v := os.Getenv("AGENT_GATEWAY_SESSION_ID"); v != "" {
		c.Gateway.SessionID = v
	}
	if v := os.Getenv("AGENT_GATEWAY_API_TOKEN"); v != "" {
		c.Gateway.APIToken = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-3-pro-preview"
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = "claude-sonnet-4-5-20250929"
	}
	if c.LLM.MaxOutputTokens == 0 {
		c.LLM.MaxOutputTokens = 200
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.SystemPrompt == "" {
		c.LLM.SystemPrompt = "You are Watson, a helpful AI assistant on a phone call. Keep responses brief and conversational."
	}
	if c.STT.Provider == "" {
		c.STT.Provider = "whisper"
	}
	if c.STT.Language == "" {
		c.STT.Language = "en"
	}
	if c.Gateway.URL == "" {
		c.Gateway.URL = "http://localhost:8080"
	}
	if c.Gateway.SessionID == "" {
		c.Gateway.SessionID = "agent:main"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Voice.Voice == "" {
		c.Voice.Voice = "Polly.Amy"
	}
	if c.Voice.Language == "" {
		c.Voice.Language = "en-GB"
	}
	if c.Voice.RecordingVoice == "" {
		c.Voice.RecordingVoice = "Polly.Amy-Neural"
	}
	if c.Conversation.TTL == 0 {
		c.Conversation.TTL = 30 * time.Minute
	}
	if c.Conversation.SweepInterval == 0 {
		c.Conversation.SweepInterval = 5 * time.Minute
	}
	if c.Conversation.MaxEntries == 0 {
		c.Conversation.MaxEntries = 1024
	}
	if c.Conversation.Greeting == "" {
		c.Conversation.Greeting = "Hello, this is Watson. How can I help you?"
	}
	if c.Conversation.OutboundGreeting == "" {
		c.Conversation.OutboundGreeting = "Hello, this is Watson calling. I have something to discuss with you."
	}
}

// Validate 验证必需配置。
func (c *Config) Validate() error {
	if c.LLM.Gemini.APIKey == "" && c.LLM.Anthropic.APIKey == "" {
		return fmt.Errorf("at least one LLM API key is required (set GEMINI_API_KEY or ANTHROPIC_API_KEY)")
	}
	switch c.STT.Provider {
	case "whisper", "google":
	default:
		return fmt.Errorf("unsupported stt provider: %s", c.STT.Provider)
	}
	return nil
}
