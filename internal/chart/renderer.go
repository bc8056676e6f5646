// Package chart turns a result table into a PNG chart. The language model
// picks the chart type and axis columns; everything after that is local.
package chart

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/tabletalk/internal/apperr"
	"github.com/rahul/tabletalk/internal/llm"
	"github.com/rahul/tabletalk/internal/observability"
	"github.com/rahul/tabletalk/internal/table"
)

const (
	TypeBar     = "bar"
	TypeLine    = "line"
	TypePie     = "pie"
	TypeScatter = "scatter"
)

// SupportedTypes lists the chart types the renderer can draw.
var SupportedTypes = []string{TypeBar, TypeLine, TypePie, TypeScatter}

// Details is what the model decides about a chart.
type Details struct {
	ChartType string `json:"chart_type"`
	XColumn   string `json:"x_column"`
	YColumn   string `json:"y_column"`
	Title     string `json:"title"`
}

var detailsSchema = llm.ObjectSchema{
	Name:        "chart_details",
	Description: "Choose how to chart the result table.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chart_type": map[string]any{
				"type":        "string",
				"enum":        SupportedTypes,
				"description": "The kind of chart to draw.",
			},
			"x_column": map[string]any{
				"type":        "string",
				"description": "Column for the x axis or the pie labels. Must be one of the table's columns.",
			},
			"y_column": map[string]any{
				"type":        "string",
				"description": "Numeric column for the y axis or the pie values. Must be one of the table's columns.",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "A short chart title.",
			},
		},
		"required": []string{"chart_type", "x_column", "y_column", "title"},
	},
}

// ObjectGenerator is the part of the model client the renderer needs.
type ObjectGenerator interface {
	GenerateObject(ctx context.Context, op string, schema llm.ObjectSchema, out any, messages ...llms.MessageContent) error
}

// Rasterizer converts an SVG document to PNG bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg []byte, width, height int) ([]byte, error)
}

type Renderer struct {
	gen    ObjectGenerator
	raster Rasterizer
	dir    string
	width  int
	height int
	logger *observability.Logger
}

type Option func(*Renderer)

func WithSize(width, height int) Option {
	return func(r *Renderer) {
		if width > 0 {
			r.width = width
		}
		if height > 0 {
			r.height = height
		}
	}
}

func WithLogger(l *observability.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// NewRenderer writes charts under dir. A nil rasterizer uses VectorRasterizer.
func NewRenderer(gen ObjectGenerator, raster Rasterizer, dir string, opts ...Option) *Renderer {
	if raster == nil {
		raster = VectorRasterizer{}
	}
	r := &Renderer{
		gen:    gen,
		raster: raster,
		dir:    dir,
		width:  1000,
		height: 600,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render draws tbl as a chart for question and returns the PNG path.
func (r *Renderer) Render(ctx context.Context, tbl *table.Table, question string) (string, error) {
	if tbl.Empty() {
		return "", apperr.Validation("chart", fmt.Errorf("no data to chart"))
	}

	var d Details
	if err := r.gen.GenerateObject(ctx, "chart", detailsSchema, &d,
		llm.System(detailsSystemPrompt),
		llm.Human(detailsHumanPrompt(tbl, question)),
	); err != nil {
		return "", err
	}

	s, err := Prepare(d, tbl)
	if err != nil {
		return "", err
	}
	svg := BuildSVG(d, s, r.width, r.height)

	png, err := r.raster.Rasterize(ctx, svg, r.width, r.height)
	if err != nil {
		return "", apperr.Service("chart", fmt.Errorf("failed to rasterize chart: %w", err))
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create chart directory: %w", err)
	}
	base := filepath.Join(r.dir, uuid.NewString())
	if err := os.WriteFile(base+".svg", svg, 0644); err != nil {
		return "", fmt.Errorf("failed to write chart: %w", err)
	}
	path := base + ".png"
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("failed to write chart: %w", err)
	}

	r.logger.LogChart(ctx, d.ChartType, path)
	return path, nil
}

// Series is the chart data pulled out of a table.
type Series struct {
	Labels []string
	Values []float64
	// XValues is set when every x value is numeric.
	XValues []float64
}

// Prepare validates d against tbl and extracts the plotted series.
func Prepare(d Details, tbl *table.Table) (Series, error) {
	var s Series
	d.ChartType = strings.ToLower(strings.TrimSpace(d.ChartType))
	if !isSupported(d.ChartType) {
		return s, apperr.Validation("chart", fmt.Errorf("unsupported chart type %q (supported: %s)", d.ChartType, strings.Join(SupportedTypes, ", ")))
	}
	xi := tbl.ColumnIndex(d.XColumn)
	yi := tbl.ColumnIndex(d.YColumn)
	var missing []string
	if xi < 0 {
		missing = append(missing, d.XColumn)
	}
	if yi < 0 {
		missing = append(missing, d.YColumn)
	}
	if len(missing) > 0 {
		return s, apperr.Validation("chart", fmt.Errorf("columns %q not found in result table (available: %s)", missing, strings.Join(tbl.ColumnNames(), ", ")))
	}

	numericX := true
	for _, row := range tbl.Rows {
		y, ok := table.Float(row[yi])
		if !ok {
			return s, apperr.Validation("chart", fmt.Errorf("column %q has non-numeric value %q", d.YColumn, table.FormatValue(row[yi])))
		}
		s.Labels = append(s.Labels, table.FormatValue(row[xi]))
		s.Values = append(s.Values, y)
		if x, ok := table.Float(row[xi]); ok && numericX {
			s.XValues = append(s.XValues, x)
		} else {
			numericX = false
		}
	}
	if !numericX {
		s.XValues = nil
	}

	if d.ChartType == TypePie {
		total := 0.0
		for _, v := range s.Values {
			if v < 0 {
				return s, apperr.Validation("chart", fmt.Errorf("pie chart values must be non-negative"))
			}
			total += v
		}
		if total == 0 {
			return s, apperr.Validation("chart", fmt.Errorf("pie chart values sum to zero"))
		}
	}
	return s, nil
}

func isSupported(t string) bool {
	for _, s := range SupportedTypes {
		if s == t {
			return true
		}
	}
	return false
}

const detailsSystemPrompt = `You are a data visualization assistant. Given a result table and the user's question, choose the chart type and the columns to plot. Only use column names that appear in the table.`

func detailsHumanPrompt(tbl *table.Table, question string) string {
	return fmt.Sprintf("Question: %s\n\nColumns: %s\n\nFirst rows:\n%s",
		question,
		strings.Join(tbl.ColumnNames(), ", "),
		tbl.Head(5).Markdown(),
	)
}
