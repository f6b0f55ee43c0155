package stream

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	chatHandler "github.com/zhouzirui/xiaoshi/backend/internal/handler/chat"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/chat"
	aiService "github.com/zhouzirui/xiaoshi/backend/internal/service/ai"
	"github.com/zhouzirui/xiaoshi/backend/pkg/utils"
)

// newSessionToken 作为路径参数时表示开启新会话。
const newSessionToken = "new"

// Streamer 逐段输出一轮对话的回复。
type Streamer interface {
	OpenSession(ctx context.Context) (chat.Session, error)
	StreamChat(ctx context.Context, sessionID, input string, onDelta func(string)) (aiService.Reply, error)
}

// Handler manages streaming chat replies via Server-Sent Events
type Handler struct {
	streamer Streamer
}

// New creates a new stream handler. A nil streamer answers 503.
func New(streamer Streamer) *Handler {
	return &Handler{streamer: streamer}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Content   string `json:"content,omitempty"`
	SessionID string `json:"id,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.streamer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == newSessionToken {
		sessionID = ""
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, message); err != nil {
		log.Printf("[stream] error handling request: %v", err)
	}
}

// HandleStreamRequest runs one exchange and relays it as start, delta,
// message and end events. An empty sessionID opens a new session first so
// that every event carries its id. Failures after the headers are sent
// become an error event.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	if sessionID == "" {
		session, err := h.streamer.OpenSession(ctx)
		if err != nil {
			status, message := chatHandler.StatusFor(err)
			utils.RespondError(w, status, message)
			return err
		}
		sessionID = session.ID
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return err
	}

	if err := sse.Event("start", StreamResponse{SessionID: sessionID}); err != nil {
		return err
	}

	reply, err := h.streamer.StreamChat(ctx, sessionID, userMessage, func(delta string) {
		if delta == "" {
			return
		}
		if sendErr := sse.Event("delta", StreamResponse{SessionID: sessionID, Content: delta}); sendErr != nil {
			log.Printf("[stream] failed to send delta: %v", sendErr)
		}
	})
	if err != nil {
		_, message := chatHandler.StatusFor(err)
		_ = sse.Event("error", StreamResponse{SessionID: sessionID, Error: message})
		return err
	}

	if err := sse.Event("message", StreamResponse{SessionID: reply.SessionID, Content: reply.Content}); err != nil {
		return err
	}
	if err := sse.Event("end", StreamResponse{SessionID: reply.SessionID, Finished: true}); err != nil {
		return err
	}

	log.Printf("[stream] completed response for session=%s, turns=%d", reply.SessionID, reply.Turns)
	return nil
}
