package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/persona"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/speech"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/audio"
	chatservice "github.com/zhouzirui/xiaoshi/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/xiaoshi/backend/internal/service/speech"
	"github.com/zhouzirui/xiaoshi/backend/pkg/utils"
)

// ttaFilename 沿用旧前端下载时使用的文件名。
const ttaFilename = "tts.mpVoice.mp3"

// Recognizer 把上传的录音识别为文本
type Recognizer interface {
	Recognize(ctx context.Context, sessionID string, data []byte, ext, language string) (*speech.ASRResponse, error)
}

// Synthesizer 文本合成语音
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	recognizer   Recognizer
	synthesizer  Synthesizer
	speechCfg    config.SpeechConfig
	maxUpload    int64
	chatSvc      *chatservice.Service
	personaStore persona.Store
}

// New 创建语音处理器。chatSvc 与 personaStore 可为 nil，仅用于按会话选择音色。
func New(recognizer Recognizer, synthesizer Synthesizer, speechCfg config.SpeechConfig, maxUpload int64, chatSvc *chatservice.Service, personaStore persona.Store) *Handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{
		recognizer:   recognizer,
		synthesizer:  synthesizer,
		speechCfg:    speechCfg,
		maxUpload:    maxUpload,
		chatSvc:      chatSvc,
		personaStore: personaStore,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tts", h.handleTranscribe)
	r.Post("/tta", h.handleSynthesize)
	r.Get("/speech/health", h.handleHealth)
}

// RegisterUnavailable 语音未配置时让同一组路由返回 503
func RegisterUnavailable(r chi.Router) {
	unavailable := func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
	}
	r.Post("/tts", unavailable)
	r.Post("/tta", unavailable)
	r.Get("/speech/health", unavailable)
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio upload too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	ext := strings.TrimSpace(r.FormValue("ext"))
	if ext == "" {
		ext = inferAudioFormat(header.Filename)
	}

	resp, err := h.recognizer.Recognize(r.Context(), r.FormValue("id"), data, ext, r.FormValue("language"))
	if err != nil {
		log.Printf("[speech] ASR error: %v", err)
		status, message := statusFor(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondOK(w, map[string]any{"content": resp.Text})
}

type synthesizeRequest struct {
	Input  string                   `json:"input"`
	Config *speech.SynthesisOptions `json:"config,omitempty"`
	ID     string                   `json:"id,omitempty"`
}

// handleSynthesize 处理文本转语音请求，直接返回 mp3 音频
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var payload synthesizeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Input) == "" {
		utils.RespondError(w, http.StatusBadRequest, "input is required")
		return
	}

	opts := payload.Config
	if opts == nil {
		opts = &speech.SynthesisOptions{}
	}
	if strings.TrimSpace(opts.Voice) == "" && opts.Per == nil {
		opts.Voice = h.resolveVoiceFromContext(r.Context(), payload.ID)
	}

	req := speechsvc.ResolveSynthesis(payload.Input, opts, h.speechCfg)
	req.SessionID = payload.ID

	resp, err := h.synthesizer.SynthesizeSpeech(r.Context(), req)
	if err != nil {
		log.Printf("[speech] TTS error: %v", err)
		status, message := statusFor(err)
		utils.RespondError(w, status, message)
		return
	}
	if len(resp.AudioData) == 0 {
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis returned no audio")
		return
	}

	w.Header().Set("Content-Type", contentType(resp.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename="+ttaFilename)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Printf("[speech] failed to write audio response: %v", err)
	}
}

func (h *Handler) resolveVoiceFromContext(ctx context.Context, sessionID string) string {
	if h.chatSvc == nil || h.personaStore == nil {
		return ""
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ""
	}

	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		return ""
	}

	personaObj, ok := h.personaStore.FindByID(strings.TrimSpace(session.PersonaID))
	if !ok {
		return ""
	}
	return personaObj.VoiceID
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondOK(w, map[string]string{
		"status":  "healthy",
		"service": "speech",
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// 转码超时也算超时，不是音频本身的问题
		return http.StatusGatewayTimeout, "speech service timeout"
	case errors.Is(err, audio.ErrEmptyAudio):
		return http.StatusBadRequest, audio.ErrEmptyAudio.Error()
	case errors.Is(err, audio.ErrTranscode):
		return http.StatusUnprocessableEntity, "audio could not be decoded"
	case errors.Is(err, speechsvc.ErrNotConfigured):
		return http.StatusServiceUnavailable, "speech service unavailable"
	default:
		return http.StatusBadGateway, "speech service failure"
	}
}

func contentType(format string) string {
	switch format {
	case "ogg_opus":
		return "audio/ogg"
	case "pcm":
		return "audio/L16"
	default:
		return "audio/mpeg"
	}
}

// inferAudioFormat 从文件名推断音频格式，未知时交给转码器按 webm 处理
func inferAudioFormat(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "mp3", "wav", "webm", "m4a", "aac", "ogg", "opus", "amr", "flac":
		return ext
	default:
		return ""
	}
}
