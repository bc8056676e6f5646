package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/history"
)

func TestClassifyStep(t *testing.T) {
	tests := []struct {
		instruction string
		want        StepKind
	}{
		{"Find the total transaction value.", StepQuery},
		{"Synthesize the results and answer the user's question.", StepSynthesize},
		{"Create a line CHART of monthly totals", StepVisualize},
		{"Visualize the totals by region", StepVisualize},
		{"Plot revenue over time", StepVisualize},
		{"Draw a pie of the shares", StepVisualize},
		{"Create a bar chart and synthesize the results", StepVisualize},
		{"Group sales by month", StepQuery},
		{"Sum the withdrawal amounts by month", StepQuery},
		{"Count rows per chartered account", StepQuery},
		{"List the plot_id values for each region", StepQuery},
		{"Plotting revenue by quarter", StepVisualize},
		{"Visualization of the shares", StepVisualize},
	}
	for _, tt := range tests {
		t.Run(tt.instruction, func(t *testing.T) {
			got := ClassifyStep(tt.instruction)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == StepQuery, got.NeedsQuery())
		})
	}
}

func TestWantsChart(t *testing.T) {
	assert.False(t, WantsChart(nil))
	assert.False(t, WantsChart([]string{"Sum sales", "Synthesize the results"}))
	assert.True(t, WantsChart([]string{"Sum sales by month", "Plot the totals"}))
	assert.True(t, WantsChart([]string{"Sum sales", "Chart it", "Synthesize the results"}))
	assert.False(t, WantsChart([]string{"Chart it", "Sum sales", "Count rows", "Synthesize the results"}))
	assert.True(t, WantsChart([]string{"Visualize everything"}))
}

func TestParsePlan(t *testing.T) {
	raw := "Here is the plan:\n" +
		"1. Find the top 2 regions by sales.\n" +
		"  2) Retrieve monthly sales for those regions.\n" +
		"- a bullet that is not numbered\n" +
		"3.\n" +
		"10. Synthesize the results.\n"

	steps, err := ParsePlan(raw)
	require.NoError(t, err)
	want := []string{
		"Find the top 2 regions by sales.",
		"Retrieve monthly sales for those regions.",
		"Synthesize the results.",
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("ParsePlan mismatch (-want +got):\n%s", diff)
	}

	single, err := ParsePlan("1. What is the total value?")
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = ParsePlan("I cannot make a plan for that.\n- nope")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPlanning))
}

func TestPlannerUsesSchemaAndHistory(t *testing.T) {
	pm, err := NewPromptManager("")
	require.NoError(t, err)
	gen := newScriptedGen("1. Sum \"Amount\"")
	p := NewPlanner(gen, pm, `CREATE TABLE sales ("Amount" FLOAT)`)

	h := history.New().AppendTurn("earlier question", "earlier answer")
	steps, err := p.Plan(context.Background(), "What is the total?", h.Window(2))
	require.NoError(t, err)
	assert.Equal(t, []string{`Sum "Amount"`}, steps)

	prompt := gen.prompt("plan", 0)
	assert.Contains(t, prompt, `CREATE TABLE sales ("Amount" FLOAT)`)
	assert.Contains(t, prompt, "user: earlier question")
	assert.Contains(t, prompt, `"What is the total?"`)
}

func TestRouter(t *testing.T) {
	pm, err := NewPromptManager("")
	require.NoError(t, err)

	tests := []struct {
		name     string
		intent   string
		question string
		want     Intent
	}{
		{"model retrieve", "retrieve", "What is the total?", IntentRetrieve},
		{"model visualize without vocabulary", "visualize", "Show me how sales moved", IntentRetrieve},
		{"model visualize plain total", " Visualize ", "What is the total value?", IntentRetrieve},
		{"vocabulary selects visualize", "retrieve", "Chart totals by month", IntentVisualize},
		{"plural vocabulary", "retrieve", "Draw some graphs of sales", IntentVisualize},
		{"visualization noun", "retrieve", "A visualization of revenue, please", IntentVisualize},
		{"vocabulary inside a word", "visualize", "Show the paragraph counts", IntentRetrieve},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newScriptedGen("")
			gen.intent = tt.intent
			got, err := NewRouter(gen, pm).Route(context.Background(), tt.question, history.Window{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, gen.count("route"))
		})
	}

	t.Run("invalid intent", func(t *testing.T) {
		gen := newScriptedGen("")
		gen.intent = "dance"
		_, err := NewRouter(gen, pm).Route(context.Background(), "Chart it", history.Window{})
		assert.True(t, apperr.IsKind(err, apperr.KindService))
	})

	t.Run("service down", func(t *testing.T) {
		gen := newScriptedGen("")
		gen.intentErr = apperr.Service("route", errors.New("connection refused"))
		_, err := NewRouter(gen, pm).Route(context.Background(), "Chart it", history.Window{})
		assert.True(t, apperr.IsKind(err, apperr.KindService))
	})
}
