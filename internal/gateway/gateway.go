package gateway

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rahul/tabletalk/internal/agent"
	"github.com/rahul/tabletalk/internal/history"
)

// Messenger defines the interface for chat gateways.
type Messenger interface {
	// Start runs the message loop until ctx is done or Stop is called.
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// TurnRunner runs one orchestrated turn.
type TurnRunner interface {
	Run(ctx context.Context, req agent.Request) agent.Result
}

// Transcripts persists chat history. HistoryStore implements it.
type Transcripts interface {
	AddTurn(ctx context.Context, chatID, question, answer string) error
	LoadHistory(ctx context.Context, chatID string, limit int) (history.History, error)
	Clear(ctx context.Context, chatID string) error
}

// Sessions owns one History per chat. Turns within a chat run one at a
// time; turns across chats share a concurrency limit.
type Sessions struct {
	runner    TurnRunner
	store     Transcripts
	sem       *semaphore.Weighted
	loadLimit int
	logger    *zap.Logger

	mu    sync.Mutex
	chats map[string]*session
}

type session struct {
	mu      sync.Mutex
	loaded  bool
	history history.History
}

// NewSessions builds a session table. store may be nil; loadLimit bounds
// how many stored messages are reloaded per chat.
func NewSessions(runner TurnRunner, store Transcripts, maxConcurrent, loadLimit int, logger *zap.Logger) *Sessions {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		runner:    runner,
		store:     store,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		loadLimit: loadLimit,
		logger:    logger,
		chats:     make(map[string]*session),
	}
}

func (s *Sessions) session(chatID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.chats[chatID]
	if !ok {
		sess = &session{}
		s.chats[chatID] = sess
	}
	return sess
}

// Ask runs question as the next turn of chatID.
func (s *Sessions) Ask(ctx context.Context, chatID, question string, observe agent.Observer) (agent.Turn, error) {
	sess := s.session(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return agent.Turn{}, err
	}
	defer s.sem.Release(1)

	if !sess.loaded && s.store != nil {
		h, err := s.store.LoadHistory(ctx, chatID, s.loadLimit)
		if err != nil {
			s.logger.Warn("failed to load chat history", zap.String("chat_id", chatID), zap.Error(err))
		} else {
			sess.history = h
		}
	}
	sess.loaded = true

	res := s.runner.Run(ctx, agent.Request{
		ChatID:   chatID,
		Question: question,
		History:  sess.history,
		Observer: observe,
	})
	sess.history = res.History

	if s.store != nil {
		if err := s.store.AddTurn(ctx, chatID, question, res.Turn.Answer); err != nil {
			s.logger.Warn("failed to store turn", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return res.Turn, nil
}

// Reset forgets a chat's history, in memory and in the store.
func (s *Sessions) Reset(ctx context.Context, chatID string) error {
	sess := s.session(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.history = history.History{}
	sess.loaded = true
	if s.store != nil {
		return s.store.Clear(ctx, chatID)
	}
	return nil
}

// History returns the chat's current history.
func (s *Sessions) History(chatID string) history.History {
	sess := s.session(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.history
}

var textPolicy = bluemonday.StrictPolicy()

// SanitizeAnswer strips any HTML the model produced, leaving plain text.
func SanitizeAnswer(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// runeCut backs limit off to a rune boundary. A rune wider than limit is
// kept whole.
func runeCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, cut = utf8.DecodeRuneInString(s)
	}
	return cut
}

// SplitMessage breaks s into chunks of at most limit bytes, preferring
// line boundaries.
func SplitMessage(s string, limit int) []string {
	if limit <= 0 || len(s) <= limit {
		return []string{s}
	}
	var parts []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut <= 0 {
			cut = runeCut(s, limit)
		}
		parts = append(parts, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func parseChatID(chatID string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(chatID, "%d", &id); err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chat ID: %s", chatID)
	}
	return id, nil
}
