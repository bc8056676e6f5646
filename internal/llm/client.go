// Package llm is the language-model text service used by the engine and
// the chart renderer. Every failure that leaves this package is a
// ServiceError; callers never retry it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/observability"
)

// Client generates text and structured objects from role-tagged messages.
type Client struct {
	Model     llms.Model
	ModelName string
	Logger    *observability.Logger
	Options   []llms.CallOption
}

func NewClient(model llms.Model, modelName string, logger *observability.Logger, opts ...llms.CallOption) *Client {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Client{
		Model:     model,
		ModelName: modelName,
		Logger:    logger,
		Options:   opts,
	}
}

func System(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeSystem, text)
}

func Human(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeHuman, text)
}

func AI(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeAI, text)
}

// Generate returns the model's text reply.
func (c *Client) Generate(ctx context.Context, op string, messages ...llms.MessageContent) (string, error) {
	choice, err := c.call(ctx, op, messages, c.Options)
	if err != nil {
		return "", err
	}
	c.Logger.LogLLM(ctx, op, promptText(messages), choice.Content, nil)
	return strings.TrimSpace(choice.Content), nil
}

// ObjectSchema describes the structured object a caller wants back. It is
// offered to the model as a single function tool.
type ObjectSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// GenerateObject asks for a structured reply and decodes it into out.
// The object is read from the first matching tool call, or from the reply
// text when the provider answered with plain JSON instead.
func (c *Client) GenerateObject(ctx context.Context, op string, schema ObjectSchema, out any, messages ...llms.MessageContent) error {
	tools := []llms.Tool{{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        schema.Name,
			Description: schema.Description,
			Parameters:  schema.Parameters,
		},
	}}
	opts := append(append([]llms.CallOption(nil), c.Options...), llms.WithTools(tools))

	choice, err := c.call(ctx, op, messages, opts)
	if err != nil {
		return err
	}
	c.Logger.LogLLM(ctx, op, promptText(messages), choice.Content, choice.ToolCalls)

	raw := ""
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == schema.Name {
			raw = tc.FunctionCall.Arguments
			break
		}
	}
	if raw == "" && choice.FuncCall != nil && choice.FuncCall.Name == schema.Name {
		raw = choice.FuncCall.Arguments
	}
	if raw == "" {
		raw = StripFences(choice.Content)
	}
	if raw == "" {
		return apperr.Service(op, fmt.Errorf("model returned no %s object", schema.Name))
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return apperr.Service(op, fmt.Errorf("failed to parse %s arguments: %w (response: %.200s)", schema.Name, err, raw))
	}
	return nil
}

func (c *Client) call(ctx context.Context, op string, messages []llms.MessageContent, opts []llms.CallOption) (*llms.ContentChoice, error) {
	if c.Model == nil {
		return nil, apperr.Service(op, errors.New("no language model configured"))
	}
	resp, err := c.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, apperr.Service(op, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, apperr.Service(op, errors.New("model returned no choices"))
	}
	choice := resp.Choices[0]
	c.logUsage(ctx, choice)
	return choice, nil
}

func (c *Client) logUsage(ctx context.Context, choice *llms.ContentChoice) {
	prompt, okP := intInfo(choice.GenerationInfo, "PromptTokens")
	completion, okC := intInfo(choice.GenerationInfo, "CompletionTokens")
	if okP || okC {
		c.Logger.LogCost(ctx, prompt, completion, c.ModelName)
	}
}

func intInfo(info map[string]any, key string) (int, bool) {
	switch v := info[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func promptText(messages []llms.MessageContent) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		var sb strings.Builder
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				sb.WriteString(t.Text)
			}
		}
		out = append(out, map[string]string{"role": string(m.Role), "content": sb.String()})
	}
	return out
}

var fenceTag = regexp.MustCompile(`(?i)^(sql|sqlite3?|json|text)\s+`)

// StripFences removes a surrounding markdown code fence (```sql, ```json, ```)
// and trims whitespace. A language tag on a one-line fence is dropped too.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimRightFunc(s, unicode.IsSpace), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], " \t") {
		s = s[i+1:]
	} else {
		s = fenceTag.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
