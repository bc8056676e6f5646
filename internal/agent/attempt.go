package agent

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/llm"
	"github.com/rahul/tabletalk/internal/observability"
	"github.com/rahul/tabletalk/internal/table"
)

// QueryEngine executes one read-only query against the bound table.
type QueryEngine interface {
	Execute(ctx context.Context, query string) (*table.Table, error)
}

// CorrectionContext is what the next generation attempt learns from the
// previous one. The zero value means a first attempt.
type CorrectionContext struct {
	PreviousQuery string
	Error         string
	Attempt       int
}

func (c CorrectionContext) isRetry() bool { return c.Attempt > 0 }

// AttemptResult is a successful attempt loop outcome.
type AttemptResult struct {
	Query    string
	Table    *table.Table
	Attempts int
}

// QueryLoop generates a query for one instruction, executes it, and feeds
// engine errors back into the next generation until it succeeds or the
// retry ceiling is exhausted.
type QueryLoop struct {
	gen        Generator
	engine     QueryEngine
	prompts    *PromptManager
	schema     string
	tableName  string
	maxRetries int
	logger     *observability.Logger
}

func NewQueryLoop(gen Generator, engine QueryEngine, prompts *PromptManager, schema, tableName string, maxRetries int, logger *observability.Logger) *QueryLoop {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &QueryLoop{
		gen:        gen,
		engine:     engine,
		prompts:    prompts,
		schema:     schema,
		tableName:  tableName,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Run makes at most maxRetries+1 engine calls. Generation failures and
// context cancellation end the loop immediately.
func (l *QueryLoop) Run(ctx context.Context, step int, instruction, previous string, observe Observer) (AttemptResult, error) {
	var corr CorrectionContext
	failures := 0
	for {
		query, err := l.generate(ctx, instruction, previous, corr)
		if err != nil {
			return AttemptResult{Attempts: failures}, err
		}

		tbl, err := l.engine.Execute(ctx, query)
		if err == nil {
			l.logger.LogAttempt(ctx, failures+1, query, nil)
			return AttemptResult{Query: query, Table: tbl, Attempts: failures + 1}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return AttemptResult{Attempts: failures + 1}, ctxErr
		}

		failures++
		l.logger.LogAttempt(ctx, failures, query, err)
		observe.emit(Event{Kind: EventAttemptFailed, Step: step, Instruction: instruction, Attempt: failures, Query: query, Err: err})

		if failures > l.maxRetries {
			return AttemptResult{Attempts: failures}, apperr.Query("execute_step", failures, query, err)
		}
		corr = CorrectionContext{PreviousQuery: query, Error: err.Error(), Attempt: failures}
	}
}

func (l *QueryLoop) generate(ctx context.Context, instruction, previous string, corr CorrectionContext) (string, error) {
	var messages []llms.MessageContent
	if corr.isRetry() {
		prompt, err := l.prompts.Render(PromptCorrection, correctionData{
			Instruction:     instruction,
			PreviousQuery:   corr.PreviousQuery,
			Error:           corr.Error,
			PreviousResults: previous,
			TableName:       l.tableName,
			Schema:          l.schema,
		})
		if err != nil {
			return "", err
		}
		messages = append(messages, llm.System(prompt))
	} else {
		system, err := l.prompts.Render(PromptQuerySystem, querySystemData{TableName: l.tableName, Schema: l.schema})
		if err != nil {
			return "", err
		}
		human, err := l.prompts.Render(PromptQueryStep, queryStepData{Instruction: instruction, PreviousResults: previous})
		if err != nil {
			return "", err
		}
		messages = append(messages, llm.System(system), llm.Human(human))
	}

	raw, err := l.gen.Generate(ctx, "generate_query", messages...)
	if err != nil {
		return "", err
	}
	return llm.StripFences(raw), nil
}
