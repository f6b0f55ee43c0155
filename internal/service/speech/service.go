package speech

import (
	"context"
	"time"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
)

// Service 语音服务核心业务逻辑
type Service struct {
	cfg       config.SpeechConfig
	asrClient *VolcengineASRClient
	ttsClient *VolcengineTTSClient
}

// NewService 创建语音服务实例
func NewService(cfg config.SpeechConfig) *Service {
	return &Service{
		cfg:       cfg,
		asrClient: NewVolcengineASRClient(cfg),
		ttsClient: NewVolcengineTTSClient(cfg),
	}
}

// Config 返回语音配置，供 /tta 参数解析使用。
func (s *Service) Config() config.SpeechConfig {
	return s.cfg
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(s.cfg.Timeout)*time.Second)
}

// TranscribeBuffer 语音转文字
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audio []byte, format, language string) (*speech.ASRResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.asrClient.Transcribe(ctx, &speech.ASRRequest{
		SessionID: sessionID,
		Audio:     audio,
		Format:    format,
		Language:  language,
	})
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.ttsClient.Synthesize(ctx, req)
}
