package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/zhouzirui/xiaoshi/backend/internal/model/chat"
	chat "github.com/zhouzirui/xiaoshi/backend/internal/service/chat"
)

func appendPair(input string) chat.ExchangeFunc {
	return func(history []chatmodel.Turn) ([]chatmodel.Turn, error) {
		reply := fmt.Sprintf("seen=%d", len(history))
		return []chatmodel.Turn{chatmodel.HumanTurn(input), chatmodel.AITurn(reply)}, nil
	}
}

func TestServiceGetSession(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "xiaoshi")
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, "xiaoshi", got.PersonaID)
	assert.Zero(t, got.Turns)
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chat.NewService()

	_, err := svc.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	_, err = svc.LoadTranscript(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	first := svc.GetOrCreate(ctx, "a1")
	second := svc.GetOrCreate(ctx, "a1")
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Len(t, svc.List(ctx), 1)

	generated := svc.GetOrCreate(ctx, "  ")
	assert.NotEmpty(t, generated.ID)
	assert.Len(t, svc.List(ctx), 2)
}

func TestExchangeAppendsInOrder(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	for _, input := range []string{"one", "two", "three"} {
		_, err := svc.Exchange(ctx, "s", appendPair(input))
		require.NoError(t, err)
	}

	turns, err := svc.LoadTranscript(ctx, "s")
	require.NoError(t, err)
	require.Len(t, turns, 6)

	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, chatmodel.RoleHuman, turns[0].Role)
	assert.Equal(t, "seen=0", turns[1].Content)
	assert.Equal(t, chatmodel.RoleAI, turns[1].Role)
	assert.Equal(t, "two", turns[2].Content)
	assert.Equal(t, "seen=2", turns[3].Content)
	assert.Equal(t, "three", turns[4].Content)
	assert.Equal(t, "seen=4", turns[5].Content)
}

func TestExchangeErrorAppendsNothing(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := svc.Exchange(ctx, "s", func([]chatmodel.Turn) ([]chatmodel.Turn, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	turns, err := svc.LoadTranscript(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestExchangeSerializesConcurrentCalls(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Exchange(ctx, "shared", appendPair(fmt.Sprintf("msg-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns, err := svc.LoadTranscript(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, turns, workers*2)

	// Every reply must have been produced from exactly the turns before it.
	for i := 1; i < len(turns); i += 2 {
		assert.Equal(t, fmt.Sprintf("seen=%d", i-1), turns[i].Content)
	}
}

func TestExchangeHonoursContextWhileWaiting(t *testing.T) {
	svc := chat.NewService()
	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_, _ = svc.Exchange(context.Background(), "busy", func(h []chatmodel.Turn) ([]chatmodel.Turn, error) {
			close(entered)
			<-release
			return nil, nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Exchange(ctx, "busy", appendPair("late"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestResetDropsOnlyOneSession(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	_, err := svc.Exchange(ctx, "keep", appendPair("hi"))
	require.NoError(t, err)
	_, err = svc.Exchange(ctx, "drop", appendPair("hi"))
	require.NoError(t, err)

	assert.True(t, svc.Reset(ctx, "drop"))
	assert.False(t, svc.Reset(ctx, "drop"))

	_, err = svc.GetSession(ctx, "drop")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	kept, err := svc.GetSession(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, 2, kept.Turns)
}

func TestResetAll(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	svc.GetOrCreate(ctx, "a")
	svc.GetOrCreate(ctx, "b")

	assert.Equal(t, 2, svc.ResetAll(ctx))
	assert.Empty(t, svc.List(ctx))
}

func TestLoadTranscriptReturnsCopy(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	_, err := svc.Exchange(ctx, "s", appendPair("original"))
	require.NoError(t, err)

	turns, err := svc.LoadTranscript(ctx, "s")
	require.NoError(t, err)
	turns[0].Content = "mutated"

	again, err := svc.LoadTranscript(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

// fakeClock 手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func TestSweepDropsIdleSessions(t *testing.T) {
	clock := newClock()
	svc := chat.NewService(chat.WithTTL(time.Hour), chat.WithClock(clock.Now))
	ctx := context.Background()

	_, err := svc.Exchange(ctx, "idle", appendPair("hi"))
	require.NoError(t, err)
	clock.Advance(45 * time.Minute)
	_, err = svc.Exchange(ctx, "active", appendPair("hi"))
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, svc.Sweep(ctx))

	_, err = svc.GetSession(ctx, "idle")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = svc.GetSession(ctx, "active")
	assert.NoError(t, err)
}

func TestSweepWithoutTTLKeepsEverything(t *testing.T) {
	clock := newClock()
	svc := chat.NewService(chat.WithClock(clock.Now))
	ctx := context.Background()

	svc.GetOrCreate(ctx, "s1")
	clock.Advance(24 * 365 * time.Hour)

	assert.Zero(t, svc.Sweep(ctx))
	assert.Len(t, svc.List(ctx), 1)
}

func TestMaxSessionsEvictsLeastRecentlyActive(t *testing.T) {
	clock := newClock()
	svc := chat.NewService(chat.WithMaxSessions(2), chat.WithClock(clock.Now))
	ctx := context.Background()

	svc.GetOrCreate(ctx, "first")
	clock.Advance(time.Minute)
	svc.GetOrCreate(ctx, "second")
	clock.Advance(time.Minute)
	// first 重新活跃后，second 变成最久未用
	_, err := svc.Exchange(ctx, "first", appendPair("hi"))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	svc.GetOrCreate(ctx, "third")

	live := svc.List(ctx)
	require.Len(t, live, 2)
	_, err = svc.GetSession(ctx, "second")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = svc.GetSession(ctx, "first")
	assert.NoError(t, err)
}

func TestEvictionSkipsBusySession(t *testing.T) {
	clock := newClock()
	svc := chat.NewService(chat.WithMaxSessions(1), chat.WithClock(clock.Now))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := svc.Exchange(ctx, "busy", func(history []chatmodel.Turn) ([]chatmodel.Turn, error) {
			close(entered)
			<-release
			return appendPair("hi")(history)
		})
		done <- err
	}()
	<-entered

	clock.Advance(time.Hour)
	svc.GetOrCreate(ctx, "other")
	close(release)
	require.NoError(t, <-done)

	turns, err := svc.LoadTranscript(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestDiscardIfEmpty(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	empty, err := svc.CreateSession(ctx, "")
	require.NoError(t, err)
	_, err = svc.Exchange(ctx, "used", appendPair("hi"))
	require.NoError(t, err)

	assert.True(t, svc.DiscardIfEmpty(ctx, empty.ID))
	assert.False(t, svc.DiscardIfEmpty(ctx, "used"))
	assert.False(t, svc.DiscardIfEmpty(ctx, "missing"))

	_, err = svc.GetSession(ctx, empty.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = svc.GetSession(ctx, "used")
	assert.NoError(t, err)
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	svc := chat.NewService(chat.WithTTL(time.Nanosecond))
	ctx, cancel := context.WithCancel(context.Background())

	svc.GetOrCreate(ctx, "s1")
	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(svc.List(ctx)) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
