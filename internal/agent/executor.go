package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/history"
	"github.com/rahul/tabletalk/internal/observability"
	"github.com/rahul/tabletalk/internal/table"
)

// StepRecord is what happened to one plan step.
type StepRecord struct {
	Index       int      `json:"index"`
	Instruction string   `json:"instruction"`
	Kind        StepKind `json:"kind"`
	Skipped     bool     `json:"skipped"`
	Query       string   `json:"query,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
}

// StepResults accumulates one formatted output per completed query step
// and keeps the latest raw table for charting.
type StepResults struct {
	Outputs   []string
	LastTable *table.Table
}

// TurnState is the working state of one turn. It never outlives Run.
type TurnState struct {
	Question string
	Window   history.Window
	Intent   Intent
	Plan     []string
	Cursor   int
	Results  StepResults
	Steps    []StepRecord
	Err      error
}

// Done reports whether every plan step has been executed or skipped.
func (s *TurnState) Done() bool { return s.Cursor >= len(s.Plan) }

// PreviousResults joins the outputs of every completed query step.
func (s *TurnState) PreviousResults() string {
	if len(s.Results.Outputs) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, out := range s.Results.Outputs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Result of Step %d:\n%s", i+1, out)
	}
	return sb.String()
}

type Executor struct {
	loop   *QueryLoop
	logger *observability.Logger
}

func NewExecutor(loop *QueryLoop, logger *observability.Logger) *Executor {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Executor{loop: loop, logger: logger}
}

// Step runs the step under the cursor and advances it. Steps that need no
// query are skipped. A terminal attempt loop failure is returned annotated
// with the step and leaves the cursor where it was.
func (e *Executor) Step(ctx context.Context, st *TurnState, observe Observer) error {
	if st.Done() {
		return fmt.Errorf("plan already complete")
	}
	idx := st.Cursor + 1
	instruction := st.Plan[st.Cursor]
	kind := ClassifyStep(instruction)

	if !kind.NeedsQuery() {
		st.Steps = append(st.Steps, StepRecord{Index: idx, Instruction: instruction, Kind: kind, Skipped: true})
		st.Cursor++
		e.logger.LogStep(ctx, idx, instruction, "skipped")
		observe.emit(Event{Kind: EventStepSkipped, Step: idx, Instruction: instruction})
		return nil
	}

	observability.SetStatus(observability.RoleExecuting, fmt.Sprintf("step %d/%d", idx, len(st.Plan)))
	e.logger.LogStep(ctx, idx, instruction, "started")
	observe.emit(Event{Kind: EventStepStarted, Step: idx, Instruction: instruction})

	res, err := e.loop.Run(ctx, idx, instruction, st.PreviousResults(), observe)
	if err != nil {
		e.logger.LogStep(ctx, idx, instruction, "failed")
		return apperr.AtStep(err, idx, instruction)
	}

	st.Results.Outputs = append(st.Results.Outputs, res.Table.Markdown())
	st.Results.LastTable = res.Table
	st.Steps = append(st.Steps, StepRecord{
		Index:       idx,
		Instruction: instruction,
		Kind:        kind,
		Query:       res.Query,
		Attempts:    res.Attempts,
	})
	st.Cursor++

	e.logger.LogStep(ctx, idx, instruction, "completed")
	observe.emit(Event{Kind: EventStepDone, Step: idx, Instruction: instruction, Attempt: res.Attempts, Query: res.Query})
	return nil
}
