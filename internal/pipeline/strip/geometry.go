package strip

import "math"

const epsilon = 1e-9

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

// Shape is an outline translated so its bounding box starts at the origin.
type Shape struct {
	Points []Point
	W, H   float64
}

// rotate turns pts by deg degrees counter-clockwise about the origin and
// normalises the result. Quarter turns are exact.
func rotate(pts []Point, deg float64) Shape {
	sin, cos := sincos(deg)

	out := make([]Point, len(pts))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, p := range pts {
		q := Point{X: p.X*cos - p.Y*sin, Y: p.X*sin + p.Y*cos}
		out[i] = q
		minX, maxX = min(minX, q.X), max(maxX, q.X)
		minY, maxY = min(minY, q.Y), max(maxY, q.Y)
	}
	for i := range out {
		out[i].X -= minX
		out[i].Y -= minY
	}
	return Shape{Points: out, W: maxX - minX, H: maxY - minY}
}

func sincos(deg float64) (sin, cos float64) {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	switch d {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(d * math.Pi / 180)
}

// polygonArea returns the absolute shoelace area.
func polygonArea(pts []Point) float64 {
	var sum float64
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(sum) / 2
}
