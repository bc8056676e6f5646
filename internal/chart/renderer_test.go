package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/llm"
	"github.com/rahul/tabletalk/internal/table"
)

type fakeGen struct {
	details Details
	err     error
	prompts []string
}

func (f *fakeGen) GenerateObject(_ context.Context, _ string, _ llm.ObjectSchema, out any, messages ...llms.MessageContent) error {
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, t.Text)
			}
		}
	}
	if f.err != nil {
		return f.err
	}
	raw, _ := json.Marshal(f.details)
	return json.Unmarshal(raw, out)
}

type stubRaster struct{ called int }

func (s *stubRaster) Rasterize(context.Context, []byte, int, int) ([]byte, error) {
	s.called++
	return []byte("png"), nil
}

func monthly() *table.Table {
	return &table.Table{
		Name: "result",
		Columns: []table.Column{
			{Name: "month", Type: table.TypeText},
			{Name: "total", Type: table.TypeFloat},
		},
		Rows: [][]any{
			{"Jan", 10.5},
			{"Feb", int64(20)},
			{"Mar", 7.25},
		},
		TotalRows: 3,
	}
}

func TestRenderWritesChart(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGen{details: Details{ChartType: "bar", XColumn: "month", YColumn: "total", Title: "Totals"}}
	raster := &stubRaster{}
	r := NewRenderer(gen, raster, dir)

	path, err := r.Render(context.Background(), monthly(), "Chart totals by month")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".png"))
	assert.Equal(t, 1, raster.called)

	svg, err := os.ReadFile(strings.TrimSuffix(path, ".png") + ".svg")
	require.NoError(t, err)
	assert.Contains(t, string(svg), "Totals")

	require.NotEmpty(t, gen.prompts)
	assert.Contains(t, gen.prompts[len(gen.prompts)-1], "month, total")
}

func TestRenderValidation(t *testing.T) {
	cases := []struct {
		name    string
		details Details
		want    string
	}{
		{"missing column", Details{ChartType: "bar", XColumn: "month", YColumn: "revenue"}, "revenue"},
		{"bad type", Details{ChartType: "radar", XColumn: "month", YColumn: "total"}, "unsupported chart type"},
		{"non numeric y", Details{ChartType: "line", XColumn: "total", YColumn: "month"}, "non-numeric"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRenderer(&fakeGen{details: tc.details}, &stubRaster{}, t.TempDir())
			_, err := r.Render(context.Background(), monthly(), "q")
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRenderEmptyTable(t *testing.T) {
	gen := &fakeGen{}
	r := NewRenderer(gen, &stubRaster{}, t.TempDir())
	_, err := r.Render(context.Background(), &table.Table{}, "q")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Empty(t, gen.prompts)
}

func TestRenderServiceError(t *testing.T) {
	svcErr := apperr.Service("chart", errors.New("down"))
	r := NewRenderer(&fakeGen{err: svcErr}, &stubRaster{}, t.TempDir())
	_, err := r.Render(context.Background(), monthly(), "q")
	assert.ErrorIs(t, err, svcErr)
}

func TestPreparePie(t *testing.T) {
	tbl := monthly()
	tbl.Rows[0][1] = -1.0
	_, err := Prepare(Details{ChartType: "pie", XColumn: "month", YColumn: "total"}, tbl)
	assert.ErrorContains(t, err, "non-negative")

	s, err := Prepare(Details{ChartType: "PIE", XColumn: "month", YColumn: "total"}, monthly())
	require.NoError(t, err)
	assert.Equal(t, []string{"Jan", "Feb", "Mar"}, s.Labels)
	assert.Equal(t, []float64{10.5, 20, 7.25}, s.Values)
	assert.Nil(t, s.XValues)
}

func TestBuildSVGShapes(t *testing.T) {
	s, err := Prepare(Details{ChartType: "bar", XColumn: "month", YColumn: "total"}, monthly())
	require.NoError(t, err)

	bar := string(BuildSVG(Details{ChartType: "bar"}, s, 800, 400))
	// background + three bars
	assert.Equal(t, 4, strings.Count(bar, "<rect"))

	line := string(BuildSVG(Details{ChartType: "line"}, s, 800, 400))
	assert.Contains(t, line, "<polyline")

	pie := string(BuildSVG(Details{ChartType: "pie"}, s, 800, 400))
	assert.Equal(t, 3, strings.Count(pie, "<path"))

	esc := string(BuildSVG(Details{ChartType: "bar", Title: "a < b & c"}, s, 800, 400))
	assert.Contains(t, esc, "a &lt; b &amp; c")
}

func TestVectorRasterizer(t *testing.T) {
	s, err := Prepare(Details{ChartType: "scatter", XColumn: "total", YColumn: "total"}, monthly())
	require.NoError(t, err)
	require.NotNil(t, s.XValues)

	out, err := VectorRasterizer{}.Rasterize(context.Background(), BuildSVG(Details{ChartType: "scatter"}, s, 320, 200), 320, 200)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}
