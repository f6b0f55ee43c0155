package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
)

const (
	asrNostreamURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

	asrDurationResource   = "volc.bigasr.sauc.duration"   // 小时版
	asrConcurrentResource = "volc.bigasr.sauc.concurrent" // 并发版

	// 16kHz 16bit 单声道，每包 200ms
	asrChunkBytes = 6400
)

// VolcengineASRClient 火山引擎大模型流式语音识别客户端。
type VolcengineASRClient struct {
	cfg           config.SpeechConfig
	dialer        *websocket.Dialer
	endpoint      string
	chunkInterval time.Duration
}

// NewVolcengineASRClient 创建 ASR 客户端
func NewVolcengineASRClient(cfg config.SpeechConfig) *VolcengineASRClient {
	return &VolcengineASRClient{
		cfg:           cfg,
		dialer:        &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		endpoint:      asrNostreamURL,
		chunkInterval: 200 * time.Millisecond,
	}
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

type asrAudioParams struct {
	Language string `json:"language,omitempty"`
	Format   string `json:"format"`
	Codec    string `json:"codec,omitempty"`
	Rate     int    `json:"rate,omitempty"`
	Bits     int    `json:"bits,omitempty"`
	Channel  int    `json:"channel,omitempty"`
}

type asrRequestParams struct {
	ModelName      string `json:"model_name"`
	EnableITN      bool   `json:"enable_itn,omitempty"`
	EnablePunc     bool   `json:"enable_punc,omitempty"`
	ShowUtterances bool   `json:"show_utterances,omitempty"`
	ResultType     string `json:"result_type,omitempty"`
	EndWindowSize  int    `json:"end_window_size,omitempty"`
}

// asrClientRequest 是 full client request 的 JSON 负载。
type asrClientRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio   asrAudioParams   `json:"audio"`
	Request asrRequestParams `json:"request"`
}

func (c *VolcengineASRClient) buildRequest(req *speech.ASRRequest) *asrClientRequest {
	out := &asrClientRequest{}
	out.User.UID = req.SessionID

	out.Audio = asrAudioParams{
		Language: firstNonEmpty(req.Language, c.cfg.ASRLanguage, "en-US"),
		Format:   firstNonEmpty(req.Format, "wav"),
		Codec:    "raw",
		Rate:     16000,
		Bits:     16,
		Channel:  1,
	}
	out.Request = asrRequestParams{
		ModelName:      "bigmodel",
		EnableITN:      true,
		EnablePunc:     true,
		ShowUtterances: true,
		ResultType:     "full",
		EndWindowSize:  800,
	}
	return out
}

func (c *VolcengineASRClient) resourceID() string {
	if c.cfg.ConcurrentMode {
		return asrConcurrentResource
	}
	return asrDurationResource
}

// Transcribe 发送整段音频并等待最终识别结果。
func (c *VolcengineASRClient) Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("no audio data to send")
	}

	creds, err := resolveCredentials(c.cfg)
	if err != nil {
		return nil, err
	}

	connectID := strings.TrimSpace(req.SessionID)
	if connectID == "" {
		connectID = uuid.NewString()
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, creds.header(c.resourceID(), connectID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[ASR] connected with logid: %s", logid)
		}
	}

	body, err := sonic.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := Compress(body, GzipCompression)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, NewFullClientRequest(compressed, GzipCompression).Encode()); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	// 发送与接收并发进行，任一方出错即关闭连接让另一方退出
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	sendCtx, stopSending := context.WithCancel(gctx)
	defer stopSending()

	var result *speech.ASRResponse
	g.Go(func() error {
		// 服务端可能在音频发完前给出最终结果
		defer stopSending()
		r, err := c.receive(conn, connectID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	g.Go(func() error {
		err := c.sendAudio(sendCtx, conn, req.Audio)
		if err == nil || (sendCtx.Err() != nil && gctx.Err() == nil) {
			return nil
		}
		return fmt.Errorf("failed to send audio data: %w", err)
	})

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return result, nil
}

func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2) // full client request 占用序号 1

	for offset := 0; offset < len(audio); offset += asrChunkBytes {
		end := min(offset+asrChunkBytes, len(audio))
		last := end == len(audio)

		chunk, err := Compress(audio[offset:end], GzipCompression)
		if err != nil {
			return err
		}
		frame := NewAudioFrame(chunk, sequence, last, GzipCompression)
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Encode()); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		sequence++

		if last {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.chunkInterval):
		}
	}
	return nil
}

func (c *VolcengineASRClient) receive(conn *websocket.Conn, sessionID string) (*speech.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			payload, _ := frame.payload()
			return nil, fmt.Errorf("ASR error %d: %s", frame.ErrorCode, string(payload))

		case FullServerResponse:
			payload, err := frame.payload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}

			var msg asrServerMessage
			if err := sonic.Unmarshal(payload, &msg); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				return nil, fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message)
			}

			if candidate := msg.Result.Text; candidate != "" {
				text = candidate
			} else if joined := joinUtterances(msg.Result.Utterances); joined != "" {
				text = joined
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if frame.IsLast() || msg.Sequence < 0 {
				if text == "" {
					log.Printf("[ASR] empty transcript for session %s", sessionID)
				}
				return &speech.ASRResponse{
					SessionID:  sessionID,
					Text:       text,
					Confidence: estimateConfidence(text),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
