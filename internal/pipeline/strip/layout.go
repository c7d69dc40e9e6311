package strip

import (
	"cmp"
	"fmt"
	"slices"
)

// Gene places one item copy in a given orientation. A layout is decoded
// from an ordered slice of genes.
type Gene struct {
	Item   int
	Orient int
}

// Placement is the position of one item copy's bounding box.
type Placement struct {
	Item   int
	Orient int
	X, Y   float64
}

// Layout is a decoded solution.
type Layout struct {
	Placements []Placement
	Width      float64
	Density    float64
}

// Summary implements harness.Solution.
func (l *Layout) Summary() string {
	return fmt.Sprintf("width=%.3f items=%d density=%.1f%%", l.Width, len(l.Placements), l.Density*100)
}

// better reports whether l uses strictly less width than other.
func (l *Layout) better(other *Layout) bool {
	return l.Width < other.Width-epsilon
}

type column struct {
	width float64
	used  float64
}

// decode packs genes into columns, first fit: each copy is stacked in the
// first column with enough height left, or opens a new one. A column is as
// wide as its widest copy, so copies never overlap.
func decode(in *Instance, genes []Gene) *Layout {
	cols := make([]column, 0, 8)
	colOf := make([]int, len(genes))
	placements := make([]Placement, len(genes))

	for gi, g := range genes {
		s := in.items[g.Item].Shapes[g.Orient]
		ci := slices.IndexFunc(cols, func(c column) bool {
			return c.used+s.H <= in.height+epsilon
		})
		if ci < 0 {
			cols = append(cols, column{})
			ci = len(cols) - 1
		}
		placements[gi] = Placement{Item: g.Item, Orient: g.Orient, Y: cols[ci].used}
		cols[ci].used += s.H
		cols[ci].width = max(cols[ci].width, s.W)
		colOf[gi] = ci
	}

	xs := make([]float64, len(cols))
	var width float64
	for i, c := range cols {
		xs[i] = width
		width += c.width
	}
	for gi := range placements {
		placements[gi].X = xs[colOf[gi]]
	}

	l := &Layout{Placements: placements, Width: width}
	if width > 0 {
		l.Density = in.ItemArea() / (width * in.height)
	}
	return l
}

// initialGenes expands every item's demand in its narrowest orientation,
// tallest copies first.
func initialGenes(in *Instance) []Gene {
	genes := make([]Gene, 0, in.qty)
	for id, it := range in.items {
		orient := 0
		for o, s := range it.Shapes {
			if s.W < it.Shapes[orient].W {
				orient = o
			}
		}
		for range it.Demand {
			genes = append(genes, Gene{Item: id, Orient: orient})
		}
	}

	slices.SortStableFunc(genes, func(a, b Gene) int {
		ha := in.items[a.Item].Shapes[a.Orient].H
		hb := in.items[b.Item].Shapes[b.Orient].H
		return cmp.Compare(hb, ha)
	})
	return genes
}
