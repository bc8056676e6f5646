package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerEmitsTurnScopedEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewLogger(zap.New(core), "")

	ctx := WithTurn(context.Background(), "chat-1", "turn-9")
	l.LogPlan(ctx, []string{"Find totals", "Synthesize"})
	l.LogAttempt(ctx, 2, "SELECT 1", errors.New("no such column"))

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "plan", fields["type"])
	assert.Equal(t, "chat-1", fields["chat_id"])
	assert.Equal(t, "turn-9", fields["turn_id"])

	data, ok := entries[1].ContextMap()["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "no such column", data["error"])
}

func TestLLMEventsGoToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	l := NewLogger(zap.NewNop(), path)

	l.LogLLM(context.Background(), "plan", "prompt text", "1. step", nil)
	l.LogRoute(context.Background(), "retrieve")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var evt Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		lines = append(lines, evt)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, EventTypeLLM, lines[0].Type)
}

func TestLLMLogRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.jsonl")
	l := NewLogger(zap.NewNop(), path)
	l.maxSize = 10

	l.LogLLM(context.Background(), "a", "p", "r", nil)
	l.LogLLM(context.Background(), "b", "p", "r", nil)

	_, err := os.Stat(path + ".old")
	assert.NoError(t, err)
}

func TestNewZap(t *testing.T) {
	z, err := NewZap("debug", "console")
	require.NoError(t, err)
	assert.True(t, z.Core().Enabled(zapcore.DebugLevel))

	_, err = NewZap("loud", "json")
	assert.Error(t, err)
}

func TestNewZapWriter(t *testing.T) {
	var buf bytes.Buffer
	z, err := NewZapWriter("warn", "json", &buf)
	require.NoError(t, err)

	z.Info("hidden")
	z.Warn("shown", zap.String("table", "sales"))
	require.NoError(t, z.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"table":"sales"`)
}

func TestStatusTurns(t *testing.T) {
	TurnStarted()
	SetStatus(RolePlanning, "q")
	role, task, _ := GetStatus()
	assert.Equal(t, RolePlanning, role)
	assert.Equal(t, "q", task)
	TurnFinished()
	role, _, _ = GetStatus()
	assert.Equal(t, RoleIdle, role)
	assert.Zero(t, ActiveTurns())
}
