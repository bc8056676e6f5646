package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/table"
)

func TestExecutorOneResultPerQueryStep(t *testing.T) {
	plan := []string{
		"Find the top months.",
		"Sum their totals.",
		"Synthesize the findings.",
		"Count the rows.",
		"Plot totals by month.",
	}
	gen := newScriptedGen("", "q1", "q2", "q3")
	engine := &fakeEngine{results: map[string]*table.Table{
		"q1": totalsTable(),
		"q2": totalsTable(),
		"q3": totalsTable(),
	}}
	ex := NewExecutor(newLoop(t, gen, engine, 2), nil)

	st := &TurnState{Question: "q", Plan: plan}
	for !st.Done() {
		require.NoError(t, ex.Step(context.Background(), st, nil))
	}

	assert.Equal(t, len(plan), st.Cursor)
	assert.Len(t, st.Results.Outputs, 3)
	assert.Equal(t, []string{"q1", "q2", "q3"}, engine.calls)
	require.Len(t, st.Steps, len(plan))
	assert.True(t, st.Steps[2].Skipped)
	assert.True(t, st.Steps[4].Skipped)
	assert.NotNil(t, st.Results.LastTable)

	// later steps see earlier outputs
	assert.Contains(t, gen.prompt("generate_query", 2), "Result of Step 2:")

	err := ex.Step(context.Background(), st, nil)
	assert.Error(t, err)
}

func TestExecutorFailureKeepsCursor(t *testing.T) {
	gen := newScriptedGen("", "SELECT nope")
	ex := NewExecutor(newLoop(t, gen, &fakeEngine{}, 1), nil)
	st := &TurnState{Plan: []string{"Sum the values."}}

	err := ex.Step(context.Background(), st, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindQuery))
	assert.Contains(t, err.Error(), fmt.Sprintf("step 1 (%q) failed after 2 attempts", "Sum the values."))
	assert.Zero(t, st.Cursor)
	assert.Empty(t, st.Results.Outputs)
}
