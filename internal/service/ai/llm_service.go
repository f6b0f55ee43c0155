package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/xiaoshi/backend/internal/config"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/chat"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/xiaoshi/backend/internal/service/chat"
)

var (
	ErrEmptyInput = errors.New("input is required")
	// ErrModelUnavailable 表示未配置聊天模型。
	ErrModelUnavailable = errors.New("chat model is not configured")
)

// Reply is the outcome of one conversational exchange. SessionID is the
// continuation token for the next call.
type Reply struct {
	SessionID string `json:"id"`
	Content   string `json:"content"`
	Turns     int    `json:"turns"`
}

// Service routes conversational turns through the chat model while keeping
// each session's history in the session store.
type Service struct {
	chatModel model.BaseChatModel
	sessions  *chatservice.Service
	personas  persona.Store
	prompts   *PersonaPromptManager
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService builds the router around a chat model, usually the one from
// config.AIConfig.NewChatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, sessions *chatservice.Service, personas persona.Store, cfg config.AIConfig) (*Service, error) {
	if chatModel == nil {
		return nil, ErrModelUnavailable
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		sessions:  sessions,
		personas:  personas,
		prompts:   NewPersonaPromptManager(),
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Chat continues the session named by sessionID, or starts a new one when
// sessionID is empty.
func (s *Service) Chat(ctx context.Context, sessionID, input string) (Reply, error) {
	if strings.TrimSpace(sessionID) == "" {
		return s.StartSession(ctx, input)
	}
	return s.ContinueSession(ctx, sessionID, input)
}

// StartSession opens a fresh session for the default persona and runs the
// first exchange in it. No other session is affected.
func (s *Service) StartSession(ctx context.Context, input string) (Reply, error) {
	if strings.TrimSpace(input) == "" {
		return Reply{}, ErrEmptyInput
	}

	session, err := s.OpenSession(ctx)
	if err != nil {
		return Reply{}, err
	}
	return s.exchange(ctx, session, input, nil)
}

// OpenSession registers an empty session for the default persona. It is
// dropped again if its first exchange fails.
func (s *Service) OpenSession(ctx context.Context) (chat.Session, error) {
	return s.sessions.CreateSession(ctx, s.cfg.DefaultPersona)
}

// ContinueSession runs one exchange against the existing history of
// sessionID. Unknown ids start out with an empty history.
func (s *Service) ContinueSession(ctx context.Context, sessionID, input string) (Reply, error) {
	if strings.TrimSpace(input) == "" {
		return Reply{}, ErrEmptyInput
	}

	session := s.sessions.GetOrCreate(ctx, sessionID)
	return s.exchange(ctx, session, input, nil)
}

// StreamChat behaves like Chat but reports the reply incrementally through
// onDelta. History is only updated once the whole reply has arrived.
func (s *Service) StreamChat(ctx context.Context, sessionID, input string, onDelta func(string)) (Reply, error) {
	if strings.TrimSpace(input) == "" {
		return Reply{}, ErrEmptyInput
	}
	if onDelta == nil {
		onDelta = func(string) {}
	}

	var session chat.Session
	if strings.TrimSpace(sessionID) == "" {
		created, err := s.OpenSession(ctx)
		if err != nil {
			return Reply{}, err
		}
		session = created
	} else {
		session = s.sessions.GetOrCreate(ctx, sessionID)
	}

	return s.exchange(ctx, session, input, onDelta)
}

func (s *Service) exchange(ctx context.Context, session chat.Session, input string, onDelta func(string)) (Reply, error) {
	p := s.resolvePersona(session.PersonaID)

	var content string
	updated, err := s.sessions.Exchange(ctx, session.ID, func(history []chat.Turn) ([]chat.Turn, error) {
		human := chat.HumanTurn(input)
		chainInput := s.buildChainInput(p, history, input)

		var (
			response *schema.Message
			err      error
		)
		if onDelta != nil && s.StreamingEnabled() {
			response, err = s.streamChain(ctx, chainInput, onDelta)
		} else {
			response, err = s.chain.Invoke(ctx, chainInput)
			if err == nil && onDelta != nil {
				onDelta(response.Content)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to run chat chain: %w", err)
		}

		content = response.Content
		return []chat.Turn{human, chat.AITurn(content)}, nil
	})
	if err != nil {
		// 首轮失败不留下空会话
		if s.sessions.DiscardIfEmpty(ctx, session.ID) {
			log.Printf("[ai] dropped empty session=%s after failed exchange", session.ID)
		}
		return Reply{}, err
	}

	log.Printf("[ai] generated reply for session=%s, persona=%s, turns=%d, length=%d", updated.ID, p.ID, updated.Turns, len(content))
	return Reply{SessionID: updated.ID, Content: content, Turns: updated.Turns}, nil
}

func (s *Service) streamChain(ctx context.Context, input map[string]any, onDelta func(string)) (*schema.Message, error) {
	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("empty stream from chat model")
	}
	return schema.ConcatMessages(chunks)
}

func (s *Service) resolvePersona(personaID string) *persona.Persona {
	if s.personas != nil {
		if personaID == "" {
			personaID = s.cfg.DefaultPersona
		}
		if p, ok := s.personas.FindByID(personaID); ok {
			return &p
		}
		if p, ok := s.personas.FindByMode(persona.ModeChat); ok {
			return &p
		}
	}

	seed := persona.Seed()[0]
	return &seed
}

func (s *Service) buildChainInput(p *persona.Persona, history []chat.Turn, userMessage string) map[string]any {
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(p),
		"history": s.buildHistoryMessages(history),
		"query":   userMessage,
	}
}

func (s *Service) buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if limit := s.cfg.HistoryLimit; limit > 0 && len(turns) > limit {
		startIdx = len(turns) - limit
		// 截断点落在一问一答中间时，丢掉开头那条孤立的回复
		for startIdx < len(turns) && turns[startIdx].Role != chat.RoleHuman {
			startIdx++
		}
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case chat.RoleHuman:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAI:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}

	return history
}
