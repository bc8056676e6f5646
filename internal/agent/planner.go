package agent

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/history"
	"github.com/rahul/tabletalk/internal/llm"
)

var planLine = regexp.MustCompile(`^\s*\d+[.)]\s*(.*)$`)

type Planner struct {
	gen     Generator
	prompts *PromptManager
	schema  string
}

func NewPlanner(gen Generator, prompts *PromptManager, schema string) *Planner {
	return &Planner{gen: gen, prompts: prompts, schema: schema}
}

// Plan asks the model for a numbered plan and parses it.
func (p *Planner) Plan(ctx context.Context, question string, window history.Window) ([]string, error) {
	prompt, err := p.prompts.Render(PromptPlanner, plannerData{
		Question: question,
		History:  window.String(),
		Schema:   p.schema,
	})
	if err != nil {
		return nil, err
	}

	raw, err := p.gen.Generate(ctx, "plan", llm.System(prompt))
	if err != nil {
		return nil, err
	}
	return ParsePlan(raw)
}

// ParsePlan keeps only lines that start with a number followed by "." or
// ")" and strips that prefix. A plan with no such lines is a PlanningError.
func ParsePlan(raw string) ([]string, error) {
	var steps []string
	for _, line := range strings.Split(raw, "\n") {
		m := planLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if step := strings.TrimSpace(m[1]); step != "" {
			steps = append(steps, step)
		}
	}
	if len(steps) == 0 {
		return nil, apperr.Planning("plan", errors.New("model returned no numbered steps"))
	}
	return steps, nil
}
