package strip

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/seantiz/nester/internal/harness"
)

// Renderer draws a layout as an SVG document: the strip outline and every
// placed item outline, coloured by item type.
type Renderer struct {
	// Title is prefixed to the instance name in the document title.
	Title string
}

// Render implements harness.Renderer.
func (r Renderer) Render(inst harness.Instance, sol harness.Solution) (string, error) {
	in, ok := inst.(*Instance)
	if !ok {
		return "", fmt.Errorf("unexpected instance type %T", inst)
	}
	l, ok := sol.(*Layout)
	if !ok {
		return "", fmt.Errorf("unexpected solution type %T", sol)
	}

	title := in.name
	if r.Title != "" {
		title = r.Title + ": " + in.name
	}
	w, h := num(l.Width), num(in.height)
	stroke := num(in.height / 500)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %s %s" width="%s" height="%s">`, w, h, w, h)
	fmt.Fprintf(&sb, "<title>%s</title>", html.EscapeString(title))
	fmt.Fprintf(&sb, `<g id="strip"><rect x="0" y="0" width="%s" height="%s" fill="#D3D3D3" fill-opacity="0.3" stroke="black" stroke-width="%s"/></g>`,
		w, h, stroke)

	sb.WriteString(`<g id="items">`)
	for i, pl := range l.Placements {
		if pl.Item < 0 || pl.Item >= len(in.items) || pl.Orient < 0 || pl.Orient >= len(in.items[pl.Item].Shapes) {
			return "", fmt.Errorf("placement %d references unknown item %d orientation %d", i, pl.Item, pl.Orient)
		}
		shape := in.items[pl.Item].Shapes[pl.Orient]
		fmt.Fprintf(&sb, `<polygon data-item="%d" points="`, pl.Item)
		for j, p := range shape.Points {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(num(pl.X + p.X))
			sb.WriteByte(',')
			sb.WriteString(num(pl.Y + p.Y))
		}
		fmt.Fprintf(&sb, `" fill="%s" fill-opacity="0.6" stroke="black" stroke-width="%s"/>`, colour(pl.Item), stroke)
	}
	sb.WriteString("</g></svg>")
	return sb.String(), nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// colour spreads item types around the hue circle.
func colour(item int) string {
	return fmt.Sprintf("hsl(%d, 65%%, 55%%)", (item*137)%360)
}
