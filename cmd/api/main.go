package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/handler"
	speechHandler "github.com/zhouzirui/xiaoshi/backend/internal/handler/speech"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/persona"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/ai"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/audio"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/chat"
	"github.com/zhouzirui/xiaoshi/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	sessions := chat.NewService(
		chat.WithTTL(cfg.Session.TTL),
		chat.WithMaxSessions(cfg.Session.MaxSessions),
	)
	go sessions.RunJanitor(ctx, cfg.Session.SweepInterval)

	services := handler.Services{
		Personas: personaStore,
		Sessions: sessions,
	}

	// Initialize AI service
	if cfg.AI.Enabled() {
		aiService, translator, err := newAIServices(ctx, cfg.AI, sessions, personaStore)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			services.AI = aiService
			services.Translator = translator
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	// Initialize Speech service
	if cfg.Speech.Enabled {
		speechService := speech.NewService(cfg.Speech)
		transcoder := audio.NewFFmpeg(cfg.Audio)
		if !transcoder.Available() {
			log.Printf("warning: ffmpeg not found at %q, /tts uploads will fail", cfg.Audio.FFmpegPath)
		}

		recognition := speech.NewRecognitionChain(transcoder, speechService)
		services.Speech = speechHandler.New(recognition, speechService, speechService.Config(), cfg.Audio.UploadMaxBytes, sessions, personaStore)
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	router := handler.NewRouter(services)

	startServer(ctx, cfg.Server, router)
}

func newAIServices(ctx context.Context, cfg config.AIConfig, sessions *chat.Service, personas persona.Store) (*ai.Service, *ai.Translator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, nil, err
	}

	aiService, err := ai.NewService(ctx, chatModel, sessions, personas, cfg)
	if err != nil {
		return nil, nil, err
	}

	translator, err := ai.NewTranslator(ctx, chatModel)
	if err != nil {
		return nil, nil, err
	}
	return aiService, translator, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr, err := serverCfg.Address()
	if err != nil {
		log.Fatalf("invalid server address: %v", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	scheme := "http"
	if serverCfg.TLSEnabled() {
		scheme = "https"
	}
	log.Printf("xiaoshi backend listening on %s (%s)", addr, scheme)
	if err := runServer(ctx, srv, serverCfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server, serverCfg config.ServerConfig) error {
	errCh := make(chan error, 1)
	go func() {
		if serverCfg.TLSEnabled() {
			errCh <- srv.ListenAndServeTLS(serverCfg.TLSCertFile, serverCfg.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := serverCfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
