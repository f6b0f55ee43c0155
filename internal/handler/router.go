package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/xiaoshi/backend/internal/handler/chat"
	"github.com/zhouzirui/xiaoshi/backend/internal/handler/persona"
	"github.com/zhouzirui/xiaoshi/backend/internal/handler/speech"
	"github.com/zhouzirui/xiaoshi/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/xiaoshi/backend/internal/middleware"
	personaModel "github.com/zhouzirui/xiaoshi/backend/internal/model/persona"
	aiService "github.com/zhouzirui/xiaoshi/backend/internal/service/ai"
	chatService "github.com/zhouzirui/xiaoshi/backend/internal/service/chat"
	"github.com/zhouzirui/xiaoshi/backend/pkg/utils"
)

// Services 汇总路由需要的依赖。AI 与 Speech 为 nil 时相应接口返回 503。
type Services struct {
	Personas   personaModel.Store
	Sessions   *chatService.Service
	AI         *aiService.Service
	Translator *aiService.Translator
	Speech     *speech.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// 只把非 nil 的服务装进接口，避免 typed nil 绕过 503 判断
	var (
		router     chat.Router
		translator chat.Translator
		streamer   stream.Streamer
	)
	if svc.AI != nil {
		router = svc.AI
		streamer = svc.AI
	}
	if svc.Translator != nil {
		translator = svc.Translator
	}

	personaHandler := persona.New(svc.Personas)
	chatHandler := chat.New(svc.Sessions, svc.Personas, router, translator)
	streamHandler := stream.New(streamer)

	startedAt := time.Now()

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondOK(w, map[string]any{
				"status": "ok",
				"ai":     svc.AI != nil,
				"speech": svc.Speech != nil,
				"uptime": time.Since(startedAt).Round(time.Second).String(),
			})
		})

		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)

		if svc.Speech != nil {
			svc.Speech.RegisterRoutes(api)
		} else {
			speech.RegisterUnavailable(api)
		}
	})

	return r
}
