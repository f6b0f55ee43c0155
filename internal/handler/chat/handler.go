package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/xiaoshi/backend/internal/model/persona"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/translate"
	aiService "github.com/zhouzirui/xiaoshi/backend/internal/service/ai"
	chatService "github.com/zhouzirui/xiaoshi/backend/internal/service/chat"
	"github.com/zhouzirui/xiaoshi/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Router 进行一轮连续对话。
type Router interface {
	Chat(ctx context.Context, sessionID, input string) (aiService.Reply, error)
}

// Translator 生成结构化翻译。
type Translator interface {
	Translate(ctx context.Context, content string) (*translate.Result, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	sessions   *chatService.Service
	personas   persona.Store
	router     Router
	translator Translator
}

// New 创建聊天处理器。router 与 translator 为 nil 时对应接口返回 503。
func New(sessions *chatService.Service, personas persona.Store, router Router, translator Translator) *Handler {
	return &Handler{
		sessions:   sessions,
		personas:   personas,
		router:     router,
		translator: translator,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat_chat", h.handleChat)
	r.Post("/chat_translate", h.handleTranslate)
	r.Get("/getGreeting", h.handleGreeting)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/", h.handleListSessions)
		r.Delete("/", h.handleResetAll)
		r.Get("/{sessionID}/messages", h.handleTranscript)
		r.Delete("/{sessionID}", h.handleResetSession)
	})
}

// turnRequest 是 chat_chat / chat_translate 的请求体。id 兼容旧前端传数字的写法。
type turnRequest struct {
	Input string          `json:"input"`
	ID    json.RawMessage `json:"id,omitempty"`
}

func (p turnRequest) sessionToken() string {
	raw := bytes.TrimSpace(p.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var token string
	if err := json.Unmarshal(raw, &token); err == nil {
		return strings.TrimSpace(token)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

func decodeTurn(w http.ResponseWriter, r *http.Request) (turnRequest, bool) {
	var payload turnRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return payload, false
	}
	if strings.TrimSpace(payload.Input) == "" {
		utils.RespondError(w, http.StatusBadRequest, "input is required")
		return payload, false
	}
	return payload, true
}

// handleChat 连续英文对话。未携带 id 时开启新会话。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.router == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat model unavailable")
		return
	}

	payload, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	reply, err := h.router.Chat(r.Context(), payload.sessionToken(), payload.Input)
	if err != nil {
		log.Printf("[chat] chat_chat failed: %v", err)
		status, message := StatusFor(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondOK(w, map[string]any{
		"content": reply.Content,
		"id":      reply.SessionID,
	})
}

// handleTranslate 结构化翻译，不读写会话。
func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat model unavailable")
		return
	}

	payload, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	result, err := h.translator.Translate(r.Context(), payload.Input)
	if err != nil {
		log.Printf("[chat] chat_translate failed: %v", err)
		status, message := StatusFor(err)
		utils.RespondError(w, status, message)
		return
	}

	data := map[string]any{"content": result}
	if token := payload.sessionToken(); token != "" {
		data["id"] = token
	}
	utils.RespondOK(w, data)
}

// handleGreeting 返回助手的开场白，未知类型返回空串。
func (h *Handler) handleGreeting(w http.ResponseWriter, r *http.Request) {
	var greeting string
	switch persona.Mode(r.URL.Query().Get("type")) {
	case persona.ModeChat:
		greeting = h.greetingFor(persona.ModeChat)
	case persona.ModeTranslate:
		greeting = h.greetingFor(persona.ModeTranslate)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(greeting))
}

func (h *Handler) greetingFor(mode persona.Mode) string {
	if h.personas == nil {
		return ""
	}
	if p, ok := h.personas.FindByMode(mode); ok {
		return p.Greeting
	}
	return ""
}

// handleCreateSession 显式开启一个新会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// 空请求体使用默认助手
	var payload struct {
		PersonaID string `json:"personaId"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	personaID := strings.TrimSpace(payload.PersonaID)
	if personaID == "" {
		personaID = persona.DefaultChatID
	}
	if h.personas != nil {
		if _, ok := h.personas.FindByID(personaID); !ok {
			utils.RespondError(w, http.StatusBadRequest, "persona not found")
			return
		}
	}

	session, err := h.sessions.CreateSession(r.Context(), personaID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, utils.Envelope{Code: http.StatusCreated, Data: session})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondOK(w, h.sessions.List(r.Context()))
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	turns, err := h.sessions.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		status, message := StatusFor(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondOK(w, turns)
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.sessions.Reset(r.Context(), sessionID) {
		utils.RespondError(w, http.StatusNotFound, chatService.ErrSessionNotFound.Error())
		return
	}

	log.Printf("[chat] session %s reset", sessionID)
	utils.RespondOK(w, map[string]string{"id": sessionID})
}

// handleResetAll 清空全部会话，仅供运维使用
func (h *Handler) handleResetAll(w http.ResponseWriter, r *http.Request) {
	cleared := h.sessions.ResetAll(r.Context())
	log.Printf("[chat] all sessions reset, cleared=%d", cleared)
	utils.RespondOK(w, map[string]int{"cleared": cleared})
}

// StatusFor 把服务层错误映射为 HTTP 状态码与对外消息。
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, aiService.ErrEmptyInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, aiService.ErrModelUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, aiService.ErrMalformedOutput):
		return http.StatusBadGateway, aiService.ErrMalformedOutput.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream timeout"
	default:
		return http.StatusBadGateway, "upstream model failure"
	}
}
