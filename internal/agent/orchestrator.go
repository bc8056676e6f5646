// Package agent is the plan-execute-correct engine: it routes a question,
// plans it, runs each step through a self-correcting query loop, and
// synthesizes the answer, optionally with a chart.
package agent

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/history"
	"github.com/rahul/tabletalk/internal/observability"
)

// State is a node of the turn state machine.
type State string

const (
	StateRoute         State = "route"
	StatePlan          State = "plan"
	StateExecuteStep   State = "execute_step"
	StateSynthesize    State = "synthesize"
	StateFail          State = "fail"
	StateUpdateHistory State = "update_history"
	StateEnd           State = "end"
)

// Turn is the finished record of one question.
type Turn struct {
	ID       string       `json:"id"`
	Question string       `json:"question"`
	Intent   Intent       `json:"intent,omitempty"`
	Plan     []string     `json:"plan,omitempty"`
	Steps    []StepRecord `json:"steps,omitempty"`
	Answer   string       `json:"answer"`
	Chart    string       `json:"chart,omitempty"`
	Err      error        `json:"-"`
	// States is the path taken through the state machine.
	States []State `json:"states"`
}

// Failed reports whether the turn ended on the failure path.
func (t Turn) Failed() bool { return t.Err != nil }

type Request struct {
	ChatID   string
	Question string
	History  history.History
	Observer Observer
}

// Result carries the finished turn and the history with the turn appended.
type Result struct {
	Turn    Turn
	History history.History
}

// Config wires an Orchestrator.
type Config struct {
	Generator Generator
	Engine    QueryEngine
	// Charts may be nil; chart requests are then skipped.
	Charts  ChartRenderer
	Prompts *PromptManager

	Schema        string
	TableName     string
	MaxRetries    int
	HistoryWindow int

	Logger *observability.Logger
}

type Orchestrator struct {
	router        *Router
	planner       *Planner
	executor      *Executor
	synthesizer   *Synthesizer
	historyWindow int
	logger        *observability.Logger
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Generator == nil {
		return nil, errors.New("agent: generator is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("agent: query engine is required")
	}
	if cfg.Prompts == nil {
		pm, err := NewPromptManager("")
		if err != nil {
			return nil, err
		}
		cfg.Prompts = pm
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	loop := NewQueryLoop(cfg.Generator, cfg.Engine, cfg.Prompts, cfg.Schema, cfg.TableName, cfg.MaxRetries, cfg.Logger)
	return &Orchestrator{
		router:        NewRouter(cfg.Generator, cfg.Prompts),
		planner:       NewPlanner(cfg.Generator, cfg.Prompts, cfg.Schema),
		executor:      NewExecutor(loop, cfg.Logger),
		synthesizer:   NewSynthesizer(cfg.Generator, cfg.Prompts, cfg.Charts, cfg.Logger),
		historyWindow: cfg.HistoryWindow,
		logger:        cfg.Logger,
	}, nil
}

// Run executes one turn. It never returns a raw error: a failed turn
// carries the failure answer and keeps the error on Turn.Err. The returned
// history always holds exactly one more user/assistant pair than
// req.History.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	turn := &Turn{ID: uuid.NewString(), Question: req.Question}
	ctx = observability.WithTurn(ctx, req.ChatID, turn.ID)

	observability.TurnStarted()
	defer observability.TurnFinished()
	o.logger.LogTurn(ctx, req.Question, "started")

	st := &TurnState{
		Question: req.Question,
		Window:   req.History.Window(o.historyWindow),
	}
	observe := req.Observer
	next := req.History

	state := StateRoute
	for state != StateEnd {
		turn.States = append(turn.States, state)
		if err := ctx.Err(); err != nil && isWorkState(state) {
			st.Err = err
			state = StateFail
			continue
		}

		switch state {
		case StateRoute:
			observability.SetStatus(observability.RoleRouting, req.Question)
			intent, err := o.router.Route(ctx, req.Question, st.Window)
			if err != nil {
				st.Err = err
				state = StateFail
				continue
			}
			st.Intent = intent
			turn.Intent = intent
			o.logger.LogRoute(ctx, string(intent))
			observe.emit(Event{Kind: EventRoute, Intent: intent})
			state = StatePlan

		case StatePlan:
			observability.SetStatus(observability.RolePlanning, req.Question)
			plan, err := o.planner.Plan(ctx, req.Question, st.Window)
			if err != nil {
				st.Err = err
				state = StateFail
				continue
			}
			st.Plan = plan
			turn.Plan = plan
			o.logger.LogPlan(ctx, plan)
			observe.emit(Event{Kind: EventPlan, Plan: append([]string(nil), plan...)})
			state = StateExecuteStep

		case StateExecuteStep:
			err := o.executor.Step(ctx, st, observe)
			turn.Steps = st.Steps
			switch {
			case err != nil:
				st.Err = err
				state = StateFail
			case !st.Done():
				state = StateExecuteStep
			default:
				state = StateSynthesize
			}

		case StateSynthesize:
			answer, chart, err := o.synthesizer.Synthesize(ctx, st, observe)
			if err != nil {
				st.Err = err
				state = StateFail
				continue
			}
			turn.Answer = answer
			turn.Chart = chart
			state = StateUpdateHistory

		case StateFail:
			turn.Err = st.Err
			turn.Answer = FailureAnswer(st.Err)
			turn.Chart = ""
			o.logger.LogFailure(ctx, failureKind(st.Err), st.Err)
			state = StateUpdateHistory

		case StateUpdateHistory:
			next = req.History.AppendTurn(req.Question, turn.Answer)
			state = StateEnd
		}
	}
	turn.States = append(turn.States, StateEnd)
	observability.SetStatus(observability.RoleIdle, "")

	final := *turn
	if final.Failed() {
		o.logger.LogTurn(ctx, req.Question, "failed")
		observe.emit(Event{Kind: EventFailed, Err: final.Err, Turn: &final, History: next})
	} else {
		o.logger.LogTurn(ctx, req.Question, "answered")
		observe.emit(Event{Kind: EventAnswer, Chart: final.Chart, Turn: &final, History: next})
	}
	return Result{Turn: final, History: next}
}

// Stream runs the turn on its own goroutine and delivers every event on
// the returned channel, ending with an answer or failed event. The channel
// is closed when the turn is over. Events are dropped once ctx is done.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	inner := req.Observer
	req.Observer = func(e Event) {
		inner.emit(e)
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(ch)
		o.Run(ctx, req)
	}()
	return ch
}

func isWorkState(s State) bool {
	switch s {
	case StateRoute, StatePlan, StateExecuteStep, StateSynthesize:
		return true
	}
	return false
}

func failureKind(err error) string {
	if k, ok := apperr.KindOf(err); ok {
		return k.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Canceled"
	}
	return "Error"
}
