package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/tabletalk/internal/llm"
	"github.com/rahul/tabletalk/internal/table"
)

// scriptedGen answers each op from a fixed script. Queries are handed out
// in order; the last one repeats.
type scriptedGen struct {
	mu sync.Mutex

	intent    string
	intentErr error
	plan      string
	planErr   error
	queries   []string
	queryErr  error
	answer    string

	calls   map[string]int
	prompts map[string][]string
}

func newScriptedGen(plan string, queries ...string) *scriptedGen {
	return &scriptedGen{
		intent:  "retrieve",
		plan:    plan,
		queries: queries,
		answer:  "The answer.",
		calls:   make(map[string]int),
		prompts: make(map[string][]string),
	}
}

func (g *scriptedGen) record(op string, messages []llms.MessageContent) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var parts []string
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				parts = append(parts, t.Text)
			}
		}
	}
	g.prompts[op] = append(g.prompts[op], strings.Join(parts, "\n---\n"))
	n := g.calls[op]
	g.calls[op]++
	return n
}

func (g *scriptedGen) Generate(_ context.Context, op string, messages ...llms.MessageContent) (string, error) {
	n := g.record(op, messages)
	switch op {
	case "plan":
		return g.plan, g.planErr
	case "generate_query":
		if g.queryErr != nil {
			return "", g.queryErr
		}
		if len(g.queries) == 0 {
			return "", errors.New("no scripted query")
		}
		if n >= len(g.queries) {
			n = len(g.queries) - 1
		}
		return g.queries[n], nil
	case "synthesize":
		return g.answer, nil
	}
	return "", fmt.Errorf("unexpected op %q", op)
}

func (g *scriptedGen) GenerateObject(_ context.Context, op string, _ llm.ObjectSchema, out any, messages ...llms.MessageContent) error {
	g.record(op, messages)
	if g.intentErr != nil {
		return g.intentErr
	}
	raw, _ := json.Marshal(map[string]string{"intent": g.intent})
	return json.Unmarshal(raw, out)
}

func (g *scriptedGen) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *scriptedGen) prompt(op string, i int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[op][i]
}

// fakeEngine returns results keyed by query; unknown queries fail.
type fakeEngine struct {
	mu      sync.Mutex
	results map[string]*table.Table
	calls   []string
}

func (e *fakeEngine) Execute(_ context.Context, query string) (*table.Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, query)
	if t, ok := e.results[query]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("no such column: %s", query)
}

type fakeCharts struct {
	path   string
	err    error
	tables []*table.Table
}

func (c *fakeCharts) Render(_ context.Context, tbl *table.Table, _ string) (string, error) {
	c.tables = append(c.tables, tbl)
	return c.path, c.err
}

func totalsTable() *table.Table {
	return &table.Table{
		Name:      "result",
		Columns:   []table.Column{{Name: "month", Type: table.TypeText}, {Name: "total", Type: table.TypeFloat}},
		Rows:      [][]any{{"2024-01", 120.5}, {"2024-02", 99.0}},
		TotalRows: 2,
	}
}
