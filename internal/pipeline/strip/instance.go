// Package strip implements strip-packing pipelines: items of fixed shape are
// placed into a strip of fixed height and the used width is minimised.
//
// Items are packed by their axis-aligned bounding box in each allowed
// orientation, so layouts never overlap regardless of the polygon's shape.
package strip

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/seantiz/nester/internal/harness"
)

// maxTotalQty bounds the number of item copies one instance may demand.
const maxTotalQty = 100_000

// Supported shape types.
const (
	ShapeSimplePolygon = "SimplePolygon"
	ShapePolygon       = "Polygon"
	ShapeRectangle     = "Rectangle"
)

// ExtInstance is the external wire format of a strip-packing instance.
type ExtInstance struct {
	Name  string    `json:"name"`
	Items []ExtItem `json:"items"`
	Strip ExtStrip  `json:"strip"`
}

// ExtItem is one item type with the number of copies to place.
type ExtItem struct {
	Demand              int       `json:"Demand"`
	AllowedOrientations []float64 `json:"AllowedOrientations"`
	Shape               ExtShape  `json:"Shape"`
}

// ExtShape is an outline. Polygons list their vertices as [x, y] pairs; a
// rectangle is a single [width, height] pair.
type ExtShape struct {
	Type string      `json:"Type"`
	Data [][]float64 `json:"Data"`
}

// ExtStrip is the fixed dimension of the strip.
type ExtStrip struct {
	Height float64 `json:"Height"`
}

// Item is an imported item type.
type Item struct {
	ID     int
	Demand int
	Area   float64

	// Orientations and Shapes are parallel: Shapes[i] is the outline rotated
	// by Orientations[i] degrees. Only orientations that fit the strip are
	// kept.
	Orientations []float64
	Shapes       []Shape
}

// Instance is an imported strip-packing instance.
type Instance struct {
	name   string
	height float64
	items  []Item
	qty    int
}

// Name returns the instance name.
func (in *Instance) Name() string { return in.name }

// TotalItemQty returns the number of item copies to place.
func (in *Instance) TotalItemQty() int { return in.qty }

// Height returns the strip height.
func (in *Instance) Height() float64 { return in.height }

// Items returns the item types.
func (in *Instance) Items() []Item { return in.items }

// ItemArea returns the summed area of every item copy.
func (in *Instance) ItemArea() float64 {
	var total float64
	for _, it := range in.items {
		total += it.Area * float64(it.Demand)
	}
	return total
}

// Importer converts ExtInstance JSON into an Instance.
type Importer struct{}

// Import decodes and validates raw.
func (Importer) Import(raw json.RawMessage) (harness.Instance, error) {
	var ext ExtInstance
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, fmt.Errorf("not a valid strip packing instance: %w", err)
	}
	return Convert(ext)
}

// Convert validates ext and builds the internal instance.
func Convert(ext ExtInstance) (*Instance, error) {
	if !(ext.Strip.Height > 0) || math.IsInf(ext.Strip.Height, 0) {
		return nil, fmt.Errorf("strip height must be positive, got %v", ext.Strip.Height)
	}
	if len(ext.Items) == 0 {
		return nil, errors.New("instance has no items")
	}

	in := &Instance{name: ext.Name, height: ext.Strip.Height}
	for id, ei := range ext.Items {
		item, err := convertItem(id, ei, ext.Strip.Height)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", id, err)
		}
		in.items = append(in.items, item)
		in.qty += item.Demand
		if in.qty > maxTotalQty {
			return nil, fmt.Errorf("total demand exceeds %d", maxTotalQty)
		}
	}
	return in, nil
}

func convertItem(id int, ei ExtItem, height float64) (Item, error) {
	if ei.Demand <= 0 {
		return Item{}, fmt.Errorf("demand must be positive, got %d", ei.Demand)
	}

	outline, err := parseShape(ei.Shape)
	if err != nil {
		return Item{}, err
	}
	area := polygonArea(outline)
	if area <= 0 {
		return Item{}, errors.New("shape has no area")
	}

	orientations := ei.AllowedOrientations
	if len(orientations) == 0 {
		orientations = []float64{0}
	}

	item := Item{ID: id, Demand: ei.Demand, Area: area}
	for _, deg := range orientations {
		if math.IsNaN(deg) || math.IsInf(deg, 0) {
			return Item{}, fmt.Errorf("invalid orientation %v", deg)
		}
		s := rotate(outline, deg)
		if s.H > height+epsilon {
			continue
		}
		item.Orientations = append(item.Orientations, deg)
		item.Shapes = append(item.Shapes, s)
	}
	if len(item.Shapes) == 0 {
		return Item{}, fmt.Errorf("does not fit in strip of height %v in any allowed orientation", height)
	}
	return item, nil
}

func parseShape(es ExtShape) ([]Point, error) {
	switch es.Type {
	case ShapeRectangle:
		if len(es.Data) != 1 || len(es.Data[0]) != 2 {
			return nil, errors.New("rectangle data must be a single [width, height] pair")
		}
		w, h := es.Data[0][0], es.Data[0][1]
		if !finite(w) || !finite(h) || w <= 0 || h <= 0 {
			return nil, fmt.Errorf("invalid rectangle %vx%v", w, h)
		}
		return []Point{{0, 0}, {w, 0}, {w, h}, {0, h}}, nil
	case ShapeSimplePolygon, ShapePolygon:
		if len(es.Data) < 3 {
			return nil, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(es.Data))
		}
		pts := make([]Point, 0, len(es.Data))
		for i, v := range es.Data {
			if len(v) != 2 || !finite(v[0]) || !finite(v[1]) {
				return nil, fmt.Errorf("vertex %d is not a finite [x, y] pair", i)
			}
			pts = append(pts, Point{v[0], v[1]})
		}
		return pts, nil
	default:
		return nil, fmt.Errorf("unsupported shape type %q", es.Type)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
