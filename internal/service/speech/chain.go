package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/audio"
)

// Transcriber 识别 16kHz 单声道 WAV 音频。
type Transcriber interface {
	TranscribeBuffer(ctx context.Context, sessionID string, audio []byte, format, language string) (*speech.ASRResponse, error)
}

// RecognitionChain 上传音频 → 转码 → 识别。
type RecognitionChain struct {
	transcoder  audio.Transcoder
	transcriber Transcriber
}

// NewRecognitionChain 创建识别链
func NewRecognitionChain(transcoder audio.Transcoder, transcriber Transcriber) *RecognitionChain {
	return &RecognitionChain{
		transcoder:  transcoder,
		transcriber: transcriber,
	}
}

// Recognize 把任意容器格式的录音转成文本。ext 为空时按 webm 处理。
func (c *RecognitionChain) Recognize(ctx context.Context, sessionID string, data []byte, ext, language string) (*speech.ASRResponse, error) {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		ext = "webm"
	}

	start := time.Now()
	wav, err := c.transcoder.ToWAV(ctx, data, ext)
	if err != nil {
		return nil, err
	}

	resp, err := c.transcriber.TranscribeBuffer(ctx, sessionID, wav, "wav", language)
	if err != nil {
		return nil, fmt.Errorf("ASR failed: %w", err)
	}

	log.Printf("[speech] recognized %d bytes of %s in %s, text length=%d", len(data), ext, time.Since(start), len(resp.Text))
	return resp, nil
}
