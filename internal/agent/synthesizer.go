package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/rahul/tabletalk/internal/llm"
	"github.com/rahul/tabletalk/internal/observability"
	"github.com/rahul/tabletalk/internal/table"
)

// ChartRenderer draws a result table and returns the image path.
type ChartRenderer interface {
	Render(ctx context.Context, tbl *table.Table, question string) (string, error)
}

type Synthesizer struct {
	gen     Generator
	prompts *PromptManager
	charts  ChartRenderer
	logger  *observability.Logger
}

// NewSynthesizer builds a synthesizer. A nil charts renderer disables
// charting; chart requests are then logged and skipped.
func NewSynthesizer(gen Generator, prompts *PromptManager, charts ChartRenderer, logger *observability.Logger) *Synthesizer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Synthesizer{gen: gen, prompts: prompts, charts: charts, logger: logger}
}

// Synthesize charts the last result table when the turn asks for it, then
// composes the answer from the question, plan and step outputs. A chart
// failure fails the turn.
func (s *Synthesizer) Synthesize(ctx context.Context, st *TurnState, observe Observer) (answer, chart string, err error) {
	observability.SetStatus(observability.RoleSynthesizing, st.Question)

	if st.Intent == IntentVisualize || WantsChart(st.Plan) {
		switch {
		case st.Results.LastTable.Empty():
			s.logger.Zap().Warn("skipping chart: no result table to plot", zap.String("question", st.Question))
		case s.charts == nil:
			s.logger.Zap().Warn("skipping chart: no chart renderer configured", zap.String("question", st.Question))
		default:
			chart, err = s.charts.Render(ctx, st.Results.LastTable, st.Question)
			if err != nil {
				return "", "", err
			}
			observe.emit(Event{Kind: EventChart, Chart: chart})
		}
	}

	prompt, err := s.prompts.Render(PromptSynthesis, synthesisData{
		Question: st.Question,
		Plan:     st.Plan,
		Results:  st.Results.Outputs,
		Chart:    chart,
	})
	if err != nil {
		return "", "", err
	}
	answer, err = s.gen.Generate(ctx, "synthesize", llm.Human(prompt))
	if err != nil {
		return "", "", err
	}
	return answer, chart, nil
}
