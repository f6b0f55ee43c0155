package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Session SessionConfig
	Speech  SpeechConfig
	Audio   AudioConfig
}

// Load 从环境变量加载配置。调用方负责事先加载 .env。
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.AI.loadSampling(); err != nil {
		return nil, err
	}
	cfg.Speech.resolveCredentials()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate 检查相互依赖的配置项。
func (c *Config) Validate() error {
	if _, err := c.Server.Address(); err != nil {
		return err
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.AI.HistoryLimit < 0 {
		return fmt.Errorf("invalid CHAT_HISTORY_LIMIT value %d", c.AI.HistoryLimit)
	}
	if c.Session.TTL < 0 {
		return fmt.Errorf("invalid CHAT_SESSION_TTL value %s", c.Session.TTL)
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("invalid CHAT_MAX_SESSIONS value %d", c.Session.MaxSessions)
	}
	if c.Session.SweepInterval < 0 {
		return fmt.Errorf("invalid CHAT_SESSION_SWEEP value %s", c.Session.SweepInterval)
	}
	if c.Audio.TranscodeTimeout <= 0 {
		return fmt.Errorf("invalid AUDIO_TRANSCODE_TIMEOUT value %s", c.Audio.TranscodeTimeout)
	}
	if c.Audio.UploadMaxBytes <= 0 {
		return fmt.Errorf("invalid UPLOAD_MAX_BYTES value %d", c.Audio.UploadMaxBytes)
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" env-default:"3000"`
	TLSCertFile     string        `env:"TLS_CERT_FILE"`
	TLSKeyFile      string        `env:"TLS_KEY_FILE"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Address 解析服务器监听地址。
func (c ServerConfig) Address() (string, error) {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3000" 或 "127.0.0.1:3000"。
		return port, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// TLSEnabled 表示是否以 HTTPS 方式监听。
func (c ServerConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string `env:"ARK_API_KEY"`
	AccessKey      string `env:"ARK_ACCESS_KEY"`
	SecretKey      string `env:"ARK_SECRET_KEY"`
	Model          string `env:"ARK_MODEL,Model"`
	BaseURL        string `env:"ARK_BASE_URL" env-default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region         string `env:"ARK_REGION" env-default:"cn-beijing"`
	StreamResponse bool   `env:"ARK_STREAM" env-default:"true"`
	HistoryLimit   int    `env:"CHAT_HISTORY_LIMIT" env-default:"0"` // 0 表示不截断
	DefaultPersona string `env:"CHAT_PERSONA" env-default:"xiaoshi"`

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func (c *AIConfig) loadSampling() error {
	var err error
	if c.Temperature, err = parseOptionalFloatEnv("ARK_TEMPERATURE"); err != nil {
		return err
	}
	if c.TopP, err = parseOptionalFloatEnv("ARK_TOP_P"); err != nil {
		return err
	}
	if c.MaxTokens, err = parseOptionalIntEnv("ARK_MAX_TOKENS"); err != nil {
		return err
	}
	return nil
}

// SessionConfig 控制内存会话的淘汰。0 表示关闭对应的限制。
type SessionConfig struct {
	TTL           time.Duration `env:"CHAT_SESSION_TTL" env-default:"24h"`
	MaxSessions   int           `env:"CHAT_MAX_SESSIONS" env-default:"10000"`
	SweepInterval time.Duration `env:"CHAT_SESSION_SWEEP" env-default:"5m"`
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID          string  `env:"SPEECH_APP_ID"`
	AccessToken    string  `env:"SPEECH_ACCESS_TOKEN"`
	APIKey         string  `env:"SPEECH_API_KEY"`
	ConcurrentMode bool    `env:"SPEECH_ASR_CONCURRENT" env-default:"false"`
	ASRLanguage    string  `env:"SPEECH_ASR_LANGUAGE" env-default:"en-US"`
	TTSVoice       string  `env:"SPEECH_TTS_VOICE" env-default:"en_female_amy_jupiter_bigtts"`
	TTSSpeed       float32 `env:"SPEECH_TTS_SPEED" env-default:"1.0"`
	TTSVolume      float32 `env:"SPEECH_TTS_VOLUME" env-default:"1.0"`
	TTSLanguage    string  `env:"SPEECH_TTS_LANGUAGE" env-default:"en-US"`
	Timeout        int     `env:"SPEECH_TIMEOUT" env-default:"30"` // seconds
	Enabled        bool
}

func (c *SpeechConfig) resolveCredentials() {
	c.AppID = strings.TrimSpace(c.AppID)
	c.AccessToken = strings.TrimSpace(c.AccessToken)
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.AccessToken == "" {
		c.AccessToken = c.APIKey
	}

	// 如果没有专门的语音配置，尝试使用AI配置
	if c.AccessToken == "" {
		c.AccessToken = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		c.APIKey = c.AccessToken
	}

	c.Enabled = c.AppID != "" && c.AccessToken != ""
}

// AudioConfig 描述上传音频与转码相关配置。
type AudioConfig struct {
	FFmpegPath       string        `env:"FFMPEG_PATH" env-default:"ffmpeg"`
	TempDir          string        `env:"AUDIO_TEMP_DIR"`
	TranscodeTimeout time.Duration `env:"AUDIO_TRANSCODE_TIMEOUT" env-default:"30s"`
	UploadMaxBytes   int64         `env:"UPLOAD_MAX_BYTES" env-default:"33554432"`
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
