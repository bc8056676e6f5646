package gateway

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/tabletalk/internal/agent"
	"github.com/rahul/tabletalk/internal/store"
)

type echoRunner struct {
	mu       sync.Mutex
	seen     []int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (r *echoRunner) Run(_ context.Context, req agent.Request) agent.Result {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	r.seen = append(r.seen, req.History.Len())
	r.mu.Unlock()

	answer := "echo: " + req.Question
	return agent.Result{
		Turn:    agent.Turn{Question: req.Question, Answer: answer},
		History: req.History.AppendTurn(req.Question, answer),
	}
}

func TestSessionsThreadHistory(t *testing.T) {
	runner := &echoRunner{}
	s := NewSessions(runner, nil, 2, 0, nil)
	ctx := context.Background()

	turn, err := s.Ask(ctx, "1", "first", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: first", turn.Answer)

	_, err = s.Ask(ctx, "1", "second", nil)
	require.NoError(t, err)
	_, err = s.Ask(ctx, "2", "other chat", nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 0}, runner.seen)
	assert.Equal(t, 4, s.History("1").Len())

	require.NoError(t, s.Reset(ctx, "1"))
	assert.Zero(t, s.History("1").Len())
}

func TestSessionsReloadFromStore(t *testing.T) {
	hs, err := store.NewHistoryStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer hs.Close()
	ctx := context.Background()

	first := NewSessions(&echoRunner{}, hs, 1, 10, nil)
	_, err = first.Ask(ctx, "42", "hello", nil)
	require.NoError(t, err)

	// a fresh process picks the transcript back up
	runner := &echoRunner{}
	second := NewSessions(runner, hs, 1, 10, nil)
	_, err = second.Ask(ctx, "42", "again", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, runner.seen)

	h, err := hs.LoadHistory(ctx, "42", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, h.Len())
}

func TestSessionsConcurrencyLimit(t *testing.T) {
	runner := &echoRunner{delay: 20 * time.Millisecond}
	s := NewSessions(runner, nil, 2, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Ask(context.Background(), string(rune('a'+i)), "q", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestSessionsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &echoRunner{}
	s := NewSessions(runner, nil, 1, 0, nil)

	// hold the only slot so Acquire has to wait on ctx
	require.NoError(t, s.sem.Acquire(context.Background(), 1))
	defer s.sem.Release(1)

	_, err := s.Ask(ctx, "1", "q", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.seen)
}

func TestSanitizeAnswer(t *testing.T) {
	assert.Equal(t, "Total is 5 & rising", SanitizeAnswer("<b>Total</b> is 5 &amp; rising<script>x()</script>"))
	assert.Equal(t, "a < b", SanitizeAnswer("a < b"))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short", 10))

	parts := SplitMessage("line one\nline two\nline three", 12)
	assert.Equal(t, []string{"line one", "line two", "line three"}, parts)

	long := strings.Repeat("x", 25)
	parts = SplitMessage(long, 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, parts)

	for _, limit := range []int{1, 3, 5} {
		accented := strings.Repeat("é", 5) + "€"
		parts = SplitMessage(accented, limit)
		for _, p := range parts {
			assert.True(t, utf8.ValidString(p), "limit %d part %q", limit, p)
		}
		assert.Equal(t, accented, strings.Join(parts, ""))
	}
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-100123")
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), id)

	_, err = parseChatID("abc")
	assert.Error(t, err)
}

func TestDiscordAddressed(t *testing.T) {
	bot := &discordgo.User{ID: "99"}
	user := &discordgo.User{ID: "1", Username: "ana"}

	tests := []struct {
		name string
		msg  *discordgo.Message
		text string
		ok   bool
	}{
		{"direct message", &discordgo.Message{Author: user, Content: " total sales? "}, "total sales?", true},
		{"guild without mention", &discordgo.Message{Author: user, GuildID: "g", Content: "total sales?"}, "", false},
		{"guild mention", &discordgo.Message{Author: user, GuildID: "g", Content: "<@99> total sales?", Mentions: []*discordgo.User{bot}}, "total sales?", true},
		{"nickname mention", &discordgo.Message{Author: user, GuildID: "g", Content: "<@!99> plot it", Mentions: []*discordgo.User{bot}}, "plot it", true},
		{"mention only", &discordgo.Message{Author: user, GuildID: "g", Content: "<@99>", Mentions: []*discordgo.User{bot}}, "", false},
		{"own message", &discordgo.Message{Author: bot, Content: "hello"}, "", false},
		{"other bot", &discordgo.Message{Author: &discordgo.User{ID: "7", Bot: true}, Content: "hello"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := addressed("99", tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.text, text)
		})
	}
}
