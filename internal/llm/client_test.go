package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/observability"
)

type fakeModel struct {
	resp  *llms.ContentResponse
	err   error
	calls [][]llms.MessageContent
	opts  llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls = append(f.calls, messages)
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textResponse(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func TestGenerate(t *testing.T) {
	m := &fakeModel{resp: textResponse("  hello \n")}
	c := NewClient(m, "test-model", nil, llms.WithTemperature(0))

	out, err := c.Generate(context.Background(), "route", System("sys"), Human("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	require.Len(t, m.calls, 1)
	assert.Len(t, m.calls[0], 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.calls[0][0].Role)
}

func TestGenerateWrapsServiceErrors(t *testing.T) {
	cases := map[string]*fakeModel{
		"provider error": {err: errors.New("rate limited")},
		"no choices":     {resp: &llms.ContentResponse{}},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(m, "", nil).Generate(context.Background(), "plan", Human("x"))
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindService))
		})
	}

	_, err := NewClient(nil, "", nil).Generate(context.Background(), "plan")
	assert.True(t, apperr.IsKind(err, apperr.KindService))
}

func TestGenerateLogsCost(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "ok",
		GenerationInfo: map[string]any{"PromptTokens": 12, "CompletionTokens": 3},
	}}}}
	c := NewClient(m, "gpt-test", observability.NewLogger(zap.New(core), ""))

	_, err := c.Generate(context.Background(), "synthesize", Human("x"))
	require.NoError(t, err)

	costs := logs.FilterField(zap.String("type", string(observability.EventTypeCost))).All()
	require.Len(t, costs, 1)
}

type chartDetails struct {
	ChartType string `json:"chart_type"`
	XColumn   string `json:"x_column"`
}

var detailsSchema = ObjectSchema{
	Name:        "chart_details",
	Description: "chart settings",
	Parameters:  map[string]any{"type": "object"},
}

func TestGenerateObjectFromToolCall(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      "chart_details",
				Arguments: `{"chart_type":"bar","x_column":"region"}`,
			},
		}},
	}}}}

	var out chartDetails
	err := NewClient(m, "", nil).GenerateObject(context.Background(), "chart", detailsSchema, &out, Human("x"))
	require.NoError(t, err)
	assert.Equal(t, chartDetails{ChartType: "bar", XColumn: "region"}, out)
	require.Len(t, m.opts.Tools, 1)
	assert.Equal(t, "chart_details", m.opts.Tools[0].Function.Name)
}

func TestGenerateObjectFromContent(t *testing.T) {
	m := &fakeModel{resp: textResponse("```json\n{\"chart_type\":\"pie\",\"x_column\":\"a\"}\n```")}

	var out chartDetails
	err := NewClient(m, "", nil).GenerateObject(context.Background(), "chart", detailsSchema, &out, Human("x"))
	require.NoError(t, err)
	assert.Equal(t, "pie", out.ChartType)
}

func TestGenerateObjectBadJSON(t *testing.T) {
	m := &fakeModel{resp: textResponse("not json")}
	var out chartDetails
	err := NewClient(m, "", nil).GenerateObject(context.Background(), "chart", detailsSchema, &out)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindService))
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                      "SELECT 1",
		"```sql\nSELECT 1\n```":         "SELECT 1",
		"```\nSELECT 1;\n```":           "SELECT 1;",
		"  ```SQL\nSELECT a\nFROM t```": "SELECT a\nFROM t",
		"```sql SELECT 1```":            "SELECT 1",
		"```SQL SELECT 1 ```":           "SELECT 1",
		"```json {\"a\":1}```":          `{"a":1}`,
		"```SELECT 1```":                "SELECT 1",
		"```select count(*) from t```":  "select count(*) from t",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFences(in), in)
	}
}
