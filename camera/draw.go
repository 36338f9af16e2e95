package camera

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Glyph dimensions in pixels
const (
	chargerWidth   = 10
	chargerHeight  = 20
	flagSize       = 50
	poleWidth      = 6
	robotRadius    = 25
	lidarRadius    = 6
	lidarOffset    = 15
	buttonRadius   = 2
	buttonOffset   = 20
	coverRadius    = 24
	obstacleRadius = 6
	zoneDotSpacing = 4
	zoneDotSize    = 2
)

var poleColor = color.RGBA{0, 0, 255, 255}

// fillRect overwrites the pixels of r, clipped to the canvas
func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

// stamp writes a width x width square brush centred on (x, y)
func stamp(img *image.RGBA, x, y, width int, c color.RGBA) {
	lo := -width / 2
	hi := (width + 1) / 2
	if width <= 1 {
		img.SetRGBA(x, y, c)
		return
	}
	fillRect(img, image.Rect(x+lo, y+lo, x+hi, y+hi), c)
}

// drawLine clips the segment to the canvas, widened by the brush, then
// rasterises what is left
func drawLine(img *image.RGBA, x1, y1, x2, y2, width int, c color.RGBA) {
	r := img.Bounds().Inset(-width)
	box := orb.Bound{
		Min: orb.Point{float64(r.Min.X), float64(r.Min.Y)},
		Max: orb.Point{float64(r.Max.X), float64(r.Max.Y)},
	}
	seg := orb.LineString{{float64(x1), float64(y1)}, {float64(x2), float64(y2)}}
	for _, part := range clip.LineString(box, seg) {
		for i := 1; i < len(part); i++ {
			a, b := part[i-1], part[i]
			bresenham(img, roundInt(a.X()), roundInt(a.Y()), roundInt(b.X()), roundInt(b.Y()), width, c)
		}
	}
}

// bresenham stamps the square brush on every step from (x1, y1) to (x2, y2)
func bresenham(img *image.RGBA, x1, y1, x2, y2, width int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx, sy := 1, 1
	if x1 >= x2 {
		sx = -1
	}
	if y1 >= y2 {
		sy = -1
	}
	err := dx - dy

	for {
		stamp(img, x1, y1, width, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// drawPolyline joins consecutive points with lines
func drawPolyline(img *image.RGBA, pts []image.Point, width int, c color.RGBA) {
	if len(pts) == 1 {
		stamp(img, pts[0].X, pts[0].Y, width, c)
		return
	}
	for _, seg := range SlidingJoin(pts, 2) {
		drawLine(img, seg[0].X, seg[0].Y, seg[1].X, seg[1].Y, width, c)
	}
}

// fillCircle fills a disc and, when outline > 0, a ring of that width around it
func fillCircle(img *image.RGBA, cx, cy, radius int, fill color.RGBA, outline int, ring color.RGBA) {
	outer := radius + outline
	for dy := -outer; dy <= outer; dy++ {
		for dx := -outer; dx <= outer; dx++ {
			d := dx*dx + dy*dy
			switch {
			case d <= radius*radius:
				img.SetRGBA(cx+dx, cy+dy, fill)
			case outline > 0 && d <= outer*outer:
				img.SetRGBA(cx+dx, cy+dy, ring)
			}
		}
	}
}

// fillPolygon fills every pixel whose centre lies inside the ring
func fillPolygon(img *image.RGBA, pts []image.Point, c color.RGBA) {
	if len(pts) < 3 {
		return
	}
	ring := make(orb.Ring, 0, len(pts)+1)
	for _, p := range pts {
		ring = append(ring, orb.Point{float64(p.X), float64(p.Y)})
	}
	ring = append(ring, ring[0])

	b := ring.Bound()
	minX, minY := int(math.Floor(b.Min.X())), int(math.Floor(b.Min.Y()))
	maxX, maxY := int(math.Ceil(b.Max.X())), int(math.Ceil(b.Max.Y()))
	clip := image.Rect(minX, minY, maxX+1, maxY+1).Intersect(img.Bounds())

	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		for x := clip.Min.X; x < clip.Max.X; x++ {
			if planar.RingContains(ring, orb.Point{float64(x), float64(y)}) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// outlinePolygon strokes the closed ring through pts
func outlinePolygon(img *image.RGBA, pts []image.Point, width int, c color.RGBA) {
	for i := range pts {
		next := pts[(i+1)%len(pts)]
		drawLine(img, pts[i].X, pts[i].Y, next.X, next.Y, width, c)
	}
}

// dotZone covers the bounding box of pts with a grid of small dots
func dotZone(img *image.RGBA, pts []image.Point, c color.RGBA) {
	if len(pts) == 0 {
		return
	}
	r := image.Rectangle{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		r.Min.X, r.Min.Y = min(r.Min.X, p.X), min(r.Min.Y, p.Y)
		r.Max.X, r.Max.Y = max(r.Max.X, p.X), max(r.Max.Y, p.Y)
	}
	half := zoneDotSize / 2
	// keep the grid anchored on the zone corner while skipping off-canvas rows
	vis := r.Intersect(img.Bounds().Inset(-half))
	if vis.Empty() {
		return
	}
	x0 := r.Min.X + ceilStep(vis.Min.X-r.Min.X, zoneDotSpacing)
	y0 := r.Min.Y + ceilStep(vis.Min.Y-r.Min.Y, zoneDotSpacing)
	for y := y0; y < vis.Max.Y; y += zoneDotSpacing {
		for x := x0; x < vis.Max.X; x += zoneDotSpacing {
			fillRect(img, image.Rect(x-half, y-half, x+half, y+half), c)
		}
	}
}

// drawCharger draws the charger rectangle centred at (x, y)
func drawCharger(img *image.RGBA, x, y int, c color.RGBA) {
	x0 := x - chargerWidth/2
	y0 := y - chargerHeight/2
	fillRect(img, image.Rect(x0, y0, x0+chargerWidth, y0+chargerHeight), c)
}

// drawFlag draws the go-to flag: a filled pennant at (x, y) on a pole
func drawFlag(img *image.RGBA, x, y int, c color.RGBA) {
	pennant := []image.Point{
		{X: x, Y: y},
		{X: x + flagSize/2, Y: y + flagSize/4},
		{X: x, Y: y + flagSize/2},
	}
	fillPolygon(img, pennant, c)
	outlinePolygon(img, pennant, 1, c)
	drawLine(img, x-poleWidth/2, y, x-poleWidth/2, y+flagSize, poleWidth, poleColor)
}

// drawRobot draws the robot body with its outline, bin cover, LIDAR turret
// and button. Heading 0 points up; the turret sits along angle-90 degrees in
// screen space.
func drawRobot(img *image.RGBA, cx, cy int, angle float64, fill color.NRGBA) {
	outline := premultiply(color.NRGBA{fill.R / 2, fill.G / 2, fill.B / 2, fill.A})
	fillCircle(img, cx, cy, robotRadius, premultiply(fill), 1, outline)

	a1 := (angle - 80) * math.Pi / 180
	a2 := (angle + 80) * math.Pi / 180
	drawLine(img,
		cx-int(coverRadius*math.Sin(a1)), cy+int(coverRadius*math.Cos(a1)),
		cx-int(coverRadius*math.Sin(a2)), cy+int(coverRadius*math.Cos(a2)),
		1, outline)

	heading := (angle - 90) * math.Pi / 180
	lx := cx + int(lidarOffset*math.Cos(heading))
	ly := cy + int(lidarOffset*math.Sin(heading))
	fillCircle(img, lx, ly, lidarRadius, outline, 0, outline)

	bx := cx - int(buttonOffset*math.Cos(heading))
	by := cy - int(buttonOffset*math.Sin(heading))
	fillCircle(img, bx, by, buttonRadius, outline, 0, outline)
}

// drawText renders text with its baseline at (x, y)
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

// ceilStep rounds a non-negative offset up to a multiple of step
func ceilStep(offset, step int) int {
	return (offset + step - 1) / step * step
}
