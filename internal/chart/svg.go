package chart

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
)

var palette = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f",
	"#edc948", "#b07aa1", "#ff9da7", "#9c755f", "#bab0ac",
}

const (
	marginLeft   = 80.0
	marginRight  = 30.0
	marginTop    = 60.0
	marginBottom = 90.0
	maxLabels    = 20
)

// BuildSVG draws s as a standalone SVG document.
func BuildSVG(d Details, s Series, width, height int) []byte {
	w, h := float64(width), float64(height)
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n", width, height, width, height)
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="#ffffff"/>`+"\n", width, height)
	if d.Title != "" {
		fmt.Fprintf(&b, `<text x="%s" y="32" font-family="sans-serif" font-size="20" text-anchor="middle" fill="#222222">%s</text>`+"\n", num(w/2), html.EscapeString(d.Title))
	}

	switch strings.ToLower(strings.TrimSpace(d.ChartType)) {
	case TypePie:
		pie(&b, s, w, h)
	case TypeLine:
		axes(&b, d, s, w, h, func(p plot) {
			pts := make([]string, len(s.Values))
			for i, v := range s.Values {
				pts[i] = num(p.x(i)) + "," + num(p.y(v))
			}
			fmt.Fprintf(&b, `<polyline points="%s" fill="none" stroke="%s" stroke-width="3"/>`+"\n", strings.Join(pts, " "), palette[0])
			for i, v := range s.Values {
				fmt.Fprintf(&b, `<circle cx="%s" cy="%s" r="4" fill="%s"/>`+"\n", num(p.x(i)), num(p.y(v)), palette[0])
			}
		})
	case TypeScatter:
		axes(&b, d, s, w, h, func(p plot) {
			for i, v := range s.Values {
				fmt.Fprintf(&b, `<circle cx="%s" cy="%s" r="5" fill="%s" fill-opacity="0.8"/>`+"\n", num(p.x(i)), num(p.y(v)), palette[0])
			}
		})
	default:
		axes(&b, d, s, w, h, func(p plot) {
			bw := p.slot * 0.7
			for i, v := range s.Values {
				top, bottom := p.y(math.Max(v, 0)), p.y(math.Min(v, 0))
				fmt.Fprintf(&b, `<rect x="%s" y="%s" width="%s" height="%s" fill="%s"/>`+"\n",
					num(p.x(i)-bw/2), num(top), num(bw), num(math.Max(bottom-top, 1)), palette[0])
			}
		})
	}

	b.WriteString("</svg>\n")
	return []byte(b.String())
}

type plot struct {
	left, top, w, h float64
	yMin, yMax      float64
	xMin, xMax      float64
	slot            float64
	numericX        []float64
}

func (p plot) y(v float64) float64 {
	return p.top + (p.yMax-v)/(p.yMax-p.yMin)*p.h
}

func (p plot) x(i int) float64 {
	if p.numericX != nil {
		return p.left + (p.numericX[i]-p.xMin)/(p.xMax-p.xMin)*p.w
	}
	return p.left + (float64(i)+0.5)*p.slot
}

func axes(b *strings.Builder, d Details, s Series, w, h float64, body func(plot)) {
	p := plot{
		left: marginLeft,
		top:  marginTop,
		w:    w - marginLeft - marginRight,
		h:    h - marginTop - marginBottom,
	}
	p.yMin, p.yMax = span(s.Values, true)
	if n := len(s.Values); n > 0 {
		p.slot = p.w / float64(n)
	}
	if strings.EqualFold(d.ChartType, TypeScatter) && s.XValues != nil {
		p.numericX = s.XValues
		p.xMin, p.xMax = span(s.XValues, false)
	}

	bottom := p.top + p.h
	fmt.Fprintf(b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="#333333" stroke-width="1"/>`+"\n", num(p.left), num(p.top), num(p.left), num(bottom))
	fmt.Fprintf(b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="#333333" stroke-width="1"/>`+"\n", num(p.left), num(p.y(math.Max(p.yMin, 0))), num(p.left+p.w), num(p.y(math.Max(p.yMin, 0))))

	for i := 0; i <= 4; i++ {
		v := p.yMin + (p.yMax-p.yMin)*float64(i)/4
		y := p.y(v)
		fmt.Fprintf(b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="#dddddd" stroke-width="1"/>`+"\n", num(p.left), num(y), num(p.left+p.w), num(y))
		fmt.Fprintf(b, `<text x="%s" y="%s" font-family="sans-serif" font-size="12" text-anchor="end" fill="#444444">%s</text>`+"\n", num(p.left-8), num(y+4), html.EscapeString(tick(v)))
	}

	step := 1
	if len(s.Labels) > maxLabels {
		step = (len(s.Labels) + maxLabels - 1) / maxLabels
	}
	for i := 0; i < len(s.Labels); i += step {
		x := p.x(i)
		fmt.Fprintf(b, `<text x="%s" y="%s" font-family="sans-serif" font-size="12" text-anchor="end" transform="rotate(-35 %s %s)" fill="#444444">%s</text>`+"\n",
			num(x), num(bottom+18), num(x), num(bottom+18), html.EscapeString(s.Labels[i]))
	}

	fmt.Fprintf(b, `<text x="%s" y="%s" font-family="sans-serif" font-size="14" text-anchor="middle" fill="#222222">%s</text>`+"\n", num(p.left+p.w/2), num(h-10), html.EscapeString(d.XColumn))
	fmt.Fprintf(b, `<text x="18" y="%s" font-family="sans-serif" font-size="14" text-anchor="middle" transform="rotate(-90 18 %s)" fill="#222222">%s</text>`+"\n", num(p.top+p.h/2), num(p.top+p.h/2), html.EscapeString(d.YColumn))

	body(p)
}

func pie(b *strings.Builder, s Series, w, h float64) {
	total := 0.0
	for _, v := range s.Values {
		total += v
	}
	cx, cy := w*0.4, marginTop+(h-marginTop)/2
	r := math.Min(w*0.35, (h-marginTop)/2-20)

	angle := -math.Pi / 2
	for i, v := range s.Values {
		color := palette[i%len(palette)]
		frac := v / total
		if frac >= 0.9999 {
			fmt.Fprintf(b, `<circle cx="%s" cy="%s" r="%s" fill="%s"/>`+"\n", num(cx), num(cy), num(r), color)
		} else if frac > 0 {
			end := angle + frac*2*math.Pi
			large := 0
			if frac > 0.5 {
				large = 1
			}
			fmt.Fprintf(b, `<path d="M %s %s L %s %s A %s %s 0 %d 1 %s %s Z" fill="%s" stroke="#ffffff" stroke-width="1"/>`+"\n",
				num(cx), num(cy),
				num(cx+r*math.Cos(angle)), num(cy+r*math.Sin(angle)),
				num(r), num(r), large,
				num(cx+r*math.Cos(end)), num(cy+r*math.Sin(end)),
				color)
			angle = end
		}

		ly := marginTop + 20 + float64(i)*22
		if i < maxLabels {
			fmt.Fprintf(b, `<rect x="%s" y="%s" width="14" height="14" fill="%s"/>`+"\n", num(w*0.78), num(ly-11), color)
			fmt.Fprintf(b, `<text x="%s" y="%s" font-family="sans-serif" font-size="13" fill="#333333">%s (%.1f%%)</text>`+"\n", num(w*0.78+20), num(ly), html.EscapeString(s.Labels[i]), frac*100)
		}
	}
}

// span returns a drawable [min, max] range, optionally forced to include zero.
func span(vals []float64, withZero bool) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if len(vals) == 0 {
		lo, hi = 0, 1
	}
	if withZero {
		lo = math.Min(lo, 0)
		hi = math.Max(hi, 0)
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

func tick(v float64) string {
	if math.Abs(v) >= 1000 || v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
