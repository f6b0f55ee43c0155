package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/xiaoshi/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// ExchangeFunc receives a snapshot of the session history and returns the
// turns to append. Returning an error appends nothing.
type ExchangeFunc func(history []chat.Turn) ([]chat.Turn, error)

// sessionLog is one session's message log. lock is a one-slot semaphore so
// that waiting for it can be abandoned when the request context ends.
type sessionLog struct {
	lock chan struct{}

	mu      sync.RWMutex
	session chat.Session
	turns   []chat.Turn
}

func newSessionLog(id, personaID string, now time.Time) *sessionLog {
	return &sessionLog{
		lock: make(chan struct{}, 1),
		session: chat.Session{
			ID:        id,
			PersonaID: personaID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		turns: make([]chat.Turn, 0, 16),
	}
}

func (l *sessionLog) snapshot() chat.Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	session := l.session
	session.Turns = len(l.turns)
	return session
}

func (l *sessionLog) lastActive() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session.UpdatedAt
}

// busy 表示有对话正在进行，淘汰时跳过。
func (l *sessionLog) busy() bool {
	return len(l.lock) > 0
}

func (l *sessionLog) history() []chat.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	copied := make([]chat.Turn, len(l.turns))
	copy(copied, l.turns)
	return copied
}

// Service is the process-wide session store. Logs live in memory only.
// Idle sessions expire after ttl and the store never holds more than
// maxSessions; zero disables either bound.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*sessionLog

	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

// Option 配置会话存储。
type Option func(*Service)

// WithTTL 设置会话空闲过期时间。
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithMaxSessions 限制同时存活的会话数，超出时淘汰最久未活动的会话。
func WithMaxSessions(n int) Option {
	return func(s *Service) { s.maxSessions = n }
}

// WithClock 替换时间源，测试用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService bootstraps an empty in-memory session store.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]*sessionLog),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// insertLocked 登记新会话，必要时先腾出位置。调用方持有 s.mu。
func (s *Service) insertLocked(entry *sessionLog) {
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.sweepLocked(s.clock())
		for len(s.sessions) >= s.maxSessions {
			if !s.evictOldestLocked() {
				break
			}
		}
	}
	s.sessions[entry.session.ID] = entry
}

func (s *Service) evictOldestLocked() bool {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, entry := range s.sessions {
		if entry.busy() {
			continue
		}
		if at := entry.lastActive(); oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID == "" {
		return false
	}
	delete(s.sessions, oldestID)
	return true
}

func (s *Service) sweepLocked(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	removed := 0
	for id, entry := range s.sessions {
		if !entry.busy() && now.Sub(entry.lastActive()) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Sweep 删除空闲超过 ttl 的会话，返回删除数量。
func (s *Service) Sweep(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.clock())
}

// RunJanitor 按 interval 周期清理过期会话，直到 ctx 结束。未设置 ttl 时直接返回。
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				log.Printf("[chat] evicted %d idle sessions", n)
			}
		}
	}
}

// CreateSession registers a new empty session with a fresh identifier.
func (s *Service) CreateSession(_ context.Context, personaID string) (chat.Session, error) {
	entry := newSessionLog(uuid.NewString(), strings.TrimSpace(personaID), s.clock())

	s.mu.Lock()
	s.insertLocked(entry)
	s.mu.Unlock()

	return entry.snapshot(), nil
}

// GetOrCreate returns the session registered under sessionID, creating an
// empty one when absent. An empty id is replaced by a generated one.
func (s *Service) GetOrCreate(_ context.Context, sessionID string) chat.Session {
	return s.resolve(sessionID).snapshot()
}

func (s *Service) resolve(sessionID string) *sessionLog {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.sessions[sessionID]; ok {
		return entry
	}
	entry = newSessionLog(sessionID, "", s.clock())
	s.insertLocked(entry)
	return entry
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return entry.snapshot(), nil
}

// List returns every live session, oldest first.
func (s *Service) List(_ context.Context) []chat.Session {
	s.mu.RLock()
	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, entry := range s.sessions {
		sessions = append(sessions, entry.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// LoadTranscript returns a copy of the stored turns for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.history(), nil
}

// Exchange runs fn against the session history while holding the session
// lock, then appends whatever fn returns. Exchanges on one session are
// strictly ordered: each one sees every turn appended before it.
// The session is created when absent.
func (s *Service) Exchange(ctx context.Context, sessionID string, fn ExchangeFunc) (chat.Session, error) {
	entry := s.resolve(sessionID)

	select {
	case entry.lock <- struct{}{}:
	case <-ctx.Done():
		return chat.Session{}, ctx.Err()
	}
	defer func() { <-entry.lock }()

	turns, err := fn(entry.history())
	if err != nil {
		return entry.snapshot(), err
	}

	if len(turns) > 0 {
		entry.mu.Lock()
		entry.turns = append(entry.turns, turns...)
		entry.session.UpdatedAt = s.clock()
		entry.mu.Unlock()
	}

	return entry.snapshot(), nil
}

// Reset discards one session. It reports whether the session existed.
func (s *Service) Reset(_ context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok
}

// DiscardIfEmpty removes a session that has no turns and no exchange in
// progress. It reports whether the session was removed.
func (s *Service) DiscardIfEmpty(_ context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok || entry.busy() || entry.snapshot().Turns > 0 {
		return false
	}
	delete(s.sessions, sessionID)
	return true
}

// ResetAll discards every session and returns how many were dropped.
func (s *Service) ResetAll(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sessions)
	s.sessions = make(map[string]*sessionLog)
	return n
}
