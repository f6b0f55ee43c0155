package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
)

const (
	ttsUnidirectionalURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

	ttsDefaultResource = "volc.service_type.10029"
	ttsMegaResource    = "volc.megatts.default"
	ttsSeedResource    = "seed-tts-2.0"

	ttsSampleRate = 24000
)

// VolcengineTTSClient 火山引擎单向流式语音合成客户端。
type VolcengineTTSClient struct {
	cfg      config.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
}

// NewVolcengineTTSClient 创建 TTS 客户端
func NewVolcengineTTSClient(cfg config.SpeechConfig) *VolcengineTTSClient {
	return &VolcengineTTSClient{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		endpoint: ttsUnidirectionalURL,
	}
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

type ttsClientRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

// Synthesize 合成整段文本。音色与资源 ID 不匹配时依次尝试候选组合。
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	creds, err := resolveCredentials(c.cfg)
	if err != nil {
		return nil, err
	}

	encoding := normalizeEncoding(req.Format)
	speakers := speakerCandidates(req.Voice, c.cfg.TTSVoice)

	var lastMismatch error
	for _, speaker := range speakers {
		for _, resourceID := range resourceCandidates(speaker) {
			resp, err := c.synthesizeOnce(ctx, creds, req, speaker, encoding, resourceID)
			if err == nil {
				return resp, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			log.Printf("[TTS] voice %s resource %s mismatch: %v", speaker, resourceID, err)
			lastMismatch = err
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("TTS synthesis failed: no usable speaker among %v", speakers)
}

func (c *VolcengineTTSClient) synthesizeOnce(ctx context.Context, creds credentials, req *speech.TTSRequest, speaker, encoding, resourceID string) (*speech.TTSResponse, error) {
	connectID := uuid.NewString()

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, creds.header(resourceID, connectID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[TTS] connected with logid: %s", logid)
		}
	}

	// 读操作不感知 context，取消时关闭连接以解除阻塞
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	body, err := sonic.Marshal(c.buildRequest(req, speaker, encoding))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, NewFullClientRequest(body, NoCompression).Encode()); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			payload, _ := frame.payload()
			return nil, fmt.Errorf("TTS error %d: %s", frame.ErrorCode, string(payload))

		case AudioOnlyServerResponse:
			chunk, err := frame.payload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case FullServerResponse:
			payload, err := frame.payload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
			}

			var msg ttsServerMessage
			if len(payload) > 0 {
				if err := sonic.Unmarshal(payload, &msg); err != nil {
					log.Printf("[TTS] failed to unmarshal response payload: %v", err)
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
						duration = ms
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (frame.hasEvent() && frame.Event == EventTypeSessionFinished) ||
				frame.IsLast() || msg.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, fmt.Errorf("TTS audio is empty")
			}
			if reqID == "" {
				reqID = connectID
			}
			return &speech.TTSResponse{
				SessionID: req.SessionID,
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    encoding,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			log.Printf("[TTS] unexpected message type: %d", frame.Header.Type)
		}
	}
}

func (c *VolcengineTTSClient) buildRequest(req *speech.TTSRequest, speaker, encoding string) *ttsClientRequest {
	out := &ttsClientRequest{}

	out.User.UID = strings.TrimSpace(req.SessionID)
	if out.User.UID == "" {
		out.User.UID = uuid.NewString()
	}

	out.ReqParams.Speaker = firstNonEmpty(speaker, c.cfg.TTSVoice)
	out.ReqParams.Text = req.Text
	out.ReqParams.Language = firstNonEmpty(req.Language, c.cfg.TTSLanguage)
	out.ReqParams.Additions = `{"disable_markdown_filter":false}`

	out.ReqParams.AudioParams = ttsAudioParams{
		Format:          encoding,
		SampleRate:      ttsSampleRate,
		EnableTimestamp: true,
		SpeedRatio:      ratioOrDefault(req.Speed, c.cfg.TTSSpeed),
		VolumeRatio:     ratioOrDefault(req.Volume, c.cfg.TTSVolume),
	}
	return out
}

// ratioOrDefault 返回需要下发的倍率，1.0 为服务端默认值时省略。
func ratioOrDefault(requested, fallback float32) float32 {
	value := requested
	if value <= 0 {
		value = fallback
	}
	if value <= 0 || value == 1.0 {
		return 0
	}
	return value
}

// normalizeEncoding 服务端不支持 wav 直出，统一回落到 mp3。
func normalizeEncoding(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "mp3", "ogg_opus", "pcm":
		return f
	default:
		return "mp3"
	}
}

func resourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{ttsMegaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{ttsSeedResource, ttsDefaultResource}
		}
	}
	return []string{ttsDefaultResource, ttsSeedResource}
}

// speakerCandidates 返回去重后的音色列表：请求音色在前，配置默认音色兜底。
func speakerCandidates(requested, fallback string) []string {
	var out []string
	add := func(voice string) {
		voice = NormalizeVoiceAlias(voice)
		if voice == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, voice) {
				return
			}
		}
		out = append(out, voice)
	}

	add(requested)
	add(fallback)
	if len(out) == 0 {
		out = append(out, defaultVoice)
	}
	return out
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
