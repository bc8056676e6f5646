package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeTurn      EventType = "turn"
	EventTypeRoute     EventType = "route"
	EventTypePlan      EventType = "plan"
	EventTypeStep      EventType = "step"
	EventTypeAttempt   EventType = "attempt"
	EventTypeChart     EventType = "chart"
	EventTypeFailure   EventType = "failure"
	EventTypeCost      EventType = "cost"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TurnID    string    `json:"turn_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type scopeKey struct{}

type scope struct {
	chatID string
	turnID string
}

// WithTurn tags ctx so events logged under it carry the chat and turn IDs.
func WithTurn(ctx context.Context, chatID, turnID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope{chatID: chatID, turnID: turnID})
}

// TurnFromContext returns the IDs set by WithTurn.
func TurnFromContext(ctx context.Context) (chatID, turnID string) {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s.chatID, s.turnID
}

// Logger writes typed events through zap. LLM events are also appended
// to a JSONL file that is rotated once it passes maxSize.
type Logger struct {
	z          *zap.Logger
	llmLogPath string
	maxSize    int64
	mu         sync.Mutex
}

// NewLogger wraps z. An empty llmLogPath disables the LLM transcript file.
func NewLogger(z *zap.Logger, llmLogPath string) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		z:          z,
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

func NewNopLogger() *Logger {
	return NewLogger(zap.NewNop(), "")
}

func (l *Logger) Zap() *zap.Logger { return l.z }

// NewZap builds the process logger on stderr. format is "json" or "console".
func NewZap(level, format string) (*zap.Logger, error) {
	return NewZapWriter(level, format, os.Stderr)
}

// NewZapWriter is NewZap writing to w.
func NewZapWriter(level, format string, w io.Writer) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl)), nil
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	l.z.Info(string(evt.Type),
		zap.String("type", string(evt.Type)),
		zap.String("chat_id", evt.ChatID),
		zap.String("turn_id", evt.TurnID),
		zap.Any("data", evt.Data),
	)

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(evt)
		if err != nil {
			l.z.Warn("failed to marshal llm event", zap.Error(err))
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) logCtx(ctx context.Context, typ EventType, data any) {
	chatID, turnID := TurnFromContext(ctx)
	l.Log(Event{Type: typ, ChatID: chatID, TurnID: turnID, Data: data})
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.z.Warn("failed to create log directory", zap.Error(err))
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.z.Warn("failed to open log file", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.z.Warn("failed to write to log file", zap.Error(err))
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogTurn(ctx context.Context, question, state string) {
	l.logCtx(ctx, EventTypeTurn, map[string]string{"question": question, "state": state})
}

func (l *Logger) LogRoute(ctx context.Context, intent string) {
	l.logCtx(ctx, EventTypeRoute, map[string]string{"intent": intent})
}

func (l *Logger) LogPlan(ctx context.Context, steps []string) {
	l.logCtx(ctx, EventTypePlan, map[string]any{"steps": steps, "count": len(steps)})
}

func (l *Logger) LogStep(ctx context.Context, index int, instruction, status string) {
	l.logCtx(ctx, EventTypeStep, map[string]any{
		"step":        index,
		"instruction": instruction,
		"status":      status,
	})
}

func (l *Logger) LogAttempt(ctx context.Context, attempt int, query string, err error) {
	data := map[string]any{"attempt": attempt, "query": query}
	if err != nil {
		data["error"] = err.Error()
	}
	l.logCtx(ctx, EventTypeAttempt, data)
}

func (l *Logger) LogChart(ctx context.Context, chartType, path string) {
	l.logCtx(ctx, EventTypeChart, map[string]string{"chart_type": chartType, "path": path})
}

func (l *Logger) LogFailure(ctx context.Context, kind string, err error) {
	l.logCtx(ctx, EventTypeFailure, map[string]string{"kind": kind, "error": err.Error()})
}

func (l *Logger) LogCost(ctx context.Context, promptTokens, completionTokens int, model string) {
	l.logCtx(ctx, EventTypeCost, map[string]any{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"total_tokens":      promptTokens + completionTokens,
		"model":             model,
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(ctx context.Context, op string, prompt any, response string, toolCalls any) {
	l.logCtx(ctx, EventTypeLLM, map[string]any{
		"op":         op,
		"prompt":     prompt,
		"response":   response,
		"tool_calls": toolCalls,
	})
}
