package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/history"
	"github.com/rahul/tabletalk/internal/llm"
)

// Intent is the router's classification of a question.
type Intent string

const (
	IntentRetrieve  Intent = "retrieve"
	IntentVisualize Intent = "visualize"
)

// Generator is the language-model service used by the engine.
type Generator interface {
	Generate(ctx context.Context, op string, messages ...llms.MessageContent) (string, error)
	GenerateObject(ctx context.Context, op string, schema llm.ObjectSchema, out any, messages ...llms.MessageContent) error
}

var visualVocabulary = regexp.MustCompile(`(?i)\b(chart|plot|graph|visuali[sz]ation)s?\b`)

var intentSchema = llm.ObjectSchema{
	Name:        "classify_intent",
	Description: "Classify the user's question.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": []string{string(IntentRetrieve), string(IntentVisualize)},
			},
		},
		"required": []string{"intent"},
	},
}

type Router struct {
	gen     Generator
	prompts *PromptManager
}

func NewRouter(gen Generator, prompts *PromptManager) *Router {
	return &Router{gen: gen, prompts: prompts}
}

// Route classifies question. The model is always consulted so an
// unavailable service fails the turn, but the intent itself is decided by
// explicit visualization vocabulary in the question: visualize when it is
// present, retrieve otherwise.
func (r *Router) Route(ctx context.Context, question string, window history.Window) (Intent, error) {
	prompt, err := r.prompts.Render(PromptRouter, routerData{Question: question, History: window.String()})
	if err != nil {
		return "", err
	}

	var out struct {
		Intent string `json:"intent"`
	}
	if err := r.gen.GenerateObject(ctx, "route", intentSchema, &out, llm.Human(prompt)); err != nil {
		return "", err
	}

	switch Intent(strings.ToLower(strings.TrimSpace(out.Intent))) {
	case IntentRetrieve, IntentVisualize:
	default:
		return "", apperr.Service("route", fmt.Errorf("invalid intent %q", out.Intent))
	}

	if visualVocabulary.MatchString(question) {
		return IntentVisualize, nil
	}
	return IntentRetrieve, nil
}
