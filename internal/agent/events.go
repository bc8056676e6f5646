package agent

import (
	"fmt"
	"strings"

	"github.com/rahul/tabletalk/internal/history"
)

// EventKind names a progress event emitted during a turn.
type EventKind string

const (
	EventRoute         EventKind = "route"
	EventPlan          EventKind = "plan"
	EventStepStarted   EventKind = "step_started"
	EventStepDone      EventKind = "step_done"
	EventStepSkipped   EventKind = "step_skipped"
	EventAttemptFailed EventKind = "attempt_failed"
	EventChart         EventKind = "chart"
	EventAnswer        EventKind = "answer"
	EventFailed        EventKind = "failed"
)

// Event is one progress update. Step is 1-based; fields that do not apply
// to a kind are left zero.
type Event struct {
	Kind        EventKind
	Intent      Intent
	Plan        []string
	Step        int
	Instruction string
	Attempt     int
	Query       string
	Err         error
	Chart       string

	// Turn and History are set on the terminal answer and failed events.
	Turn    *Turn
	History history.History
}

// Observer receives events synchronously on the turn's goroutine.
type Observer func(Event)

func (o Observer) emit(e Event) {
	if o != nil {
		o(e)
	}
}

// Message renders e as a one-line status for front ends.
func (e Event) Message() string {
	switch e.Kind {
	case EventRoute:
		return fmt.Sprintf("Intent: %s", e.Intent)
	case EventPlan:
		var sb strings.Builder
		sb.WriteString("I've created a plan:")
		for i, s := range e.Plan {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, s)
		}
		return sb.String()
	case EventStepStarted:
		return fmt.Sprintf("Executing Step %d...", e.Step)
	case EventStepDone:
		return fmt.Sprintf("Executing Step %d... Done.", e.Step)
	case EventStepSkipped:
		return fmt.Sprintf("Step %d needs no query.", e.Step)
	case EventAttemptFailed:
		return fmt.Sprintf("Step %d attempt %d failed: %v", e.Step, e.Attempt, e.Err)
	case EventChart:
		return fmt.Sprintf("Chart saved to %s", e.Chart)
	case EventAnswer:
		return "Answer ready."
	case EventFailed:
		return fmt.Sprintf("Turn failed: %v", e.Err)
	default:
		return string(e.Kind)
	}
}
