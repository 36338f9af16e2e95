package camera

import (
	"errors"
	"image/color"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws a snapshot as SVG. One canvas unit is one raster
// pixel, so the SVG lines up with the PNG frame of the same snapshot.
type VectorRenderer struct {
	Palette Palette
	// PathTolerance simplifies path lines, in map units; 0 keeps every point
	PathTolerance float64
}

// NewVectorRenderer creates a vector renderer with the given palette
func NewVectorRenderer(p Palette) *VectorRenderer {
	if p == (Palette{}) {
		p = DefaultPalette()
	}
	return &VectorRenderer{Palette: p, PathTolerance: DefaultPathTolerance}
}

// canvasRenderer is the subset of canvas renderers the drawing code needs
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the snapshot as an SVG document
func (r *VectorRenderer) RenderToSVG(w io.Writer, snap *MapSnapshot) error {
	if snap == nil {
		return &GeometryError{Reason: "nil snapshot"}
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	ps := float64(snap.PixelSize)
	width, height := float64(snap.Size.X)*ps, float64(snap.Size.Y)*ps

	out := svg.New(w, width, height, nil)
	r.draw(out, snap, height)
	if err := out.Close(); err != nil {
		return errors.Join(ErrGeometry, err)
	}
	return nil
}

func fillStyle(c color.NRGBA) canvas.Style {
	st := canvas.DefaultStyle
	st.Fill = canvas.Paint{Color: premultiply(c)}
	st.Stroke = canvas.Paint{Color: canvas.Transparent}
	return st
}

func strokeStyle(c color.NRGBA, width float64) canvas.Style {
	st := canvas.DefaultStyle
	st.Fill = canvas.Paint{Color: canvas.Transparent}
	st.Stroke = canvas.Paint{Color: premultiply(c)}
	st.StrokeWidth = width
	st.StrokeCapper = canvas.RoundCap
	st.StrokeJoiner = canvas.RoundJoin
	return st
}

// draw follows the raster z-order. Canvas y points up, so every y is
// mirrored against height.
func (r *VectorRenderer) draw(out canvasRenderer, snap *MapSnapshot, height float64) {
	p := r.Palette
	ps := float64(snap.PixelSize)
	at := func(pt Point) (float64, float64) {
		return pt.X * ps, height - pt.Y*ps
	}

	bg := canvas.Rectangle(float64(snap.Size.X)*ps, height)
	out.RenderPath(bg, fillStyle(p.Background), canvas.Identity)

	spans := func(list []Span) *canvas.Path {
		path := &canvas.Path{}
		for _, sp := range list {
			x0, y0 := float64(sp.X)*ps, height-float64(sp.Y+1)*ps
			path = path.Append(canvas.Rectangle(float64(sp.Length)*ps, ps).Translate(x0, y0))
		}
		return path
	}
	out.RenderPath(spans(snap.Layers[LayerFloor]), fillStyle(p.Floor), canvas.Identity)
	out.RenderPath(spans(snap.Layers[LayerWall]), fillStyle(p.Wall), canvas.Identity)
	for slot, id := range snap.RoomSegments() {
		c := p.Room(slot)
		if snap.IsActive(id) {
			c = p.ActiveRoom(slot)
		}
		out.RenderPath(spans(snap.Layers[RoomLayer(id)]), fillStyle(c), canvas.Identity)
	}

	polyline := func(points []Point, closed bool) *canvas.Path {
		path := &canvas.Path{}
		for i, pt := range points {
			x, y := at(pt)
			if i == 0 {
				path.MoveTo(x, y)
			} else {
				path.LineTo(x, y)
			}
		}
		if closed && len(points) > 2 {
			path.Close()
		}
		return path
	}
	for _, e := range snap.Entities[EntityPredictedPath] {
		out.RenderPath(polyline(SimplifyPath(e.Points, r.PathTolerance), false), strokeStyle(p.PredictedPath, 2), canvas.Identity)
	}
	for _, e := range snap.Entities[EntityPath] {
		out.RenderPath(polyline(SimplifyPath(e.Points, r.PathTolerance), false), strokeStyle(p.Path, 5), canvas.Identity)
	}

	if e, ok := snap.Entity(EntityCharger); ok && len(e.Points) > 0 {
		x, y := at(e.Points[0])
		glyph := canvas.Rectangle(chargerWidth, chargerHeight).Translate(x-chargerWidth/2, y-chargerHeight/2)
		out.RenderPath(glyph, fillStyle(p.Charger), canvas.Identity)
	}
	if e, ok := snap.Entity(EntityGoTo); ok && len(e.Points) > 0 {
		x, y := at(e.Points[0])
		pole := canvas.Rectangle(poleWidth, flagSize).Translate(x-poleWidth, y-flagSize)
		poleStyle := fillStyle(color.NRGBA{})
		poleStyle.Fill = canvas.Paint{Color: poleColor}
		out.RenderPath(pole, poleStyle, canvas.Identity)
		pennant := &canvas.Path{}
		pennant.MoveTo(x, y)
		pennant.LineTo(x+flagSize/2, y-flagSize/4)
		pennant.LineTo(x, y-flagSize/2)
		pennant.Close()
		out.RenderPath(pennant, fillStyle(p.GoTo), canvas.Identity)
	}

	areas := []struct {
		kind EntityKind
		c    color.NRGBA
	}{{EntityZone, p.ZoneClean}, {EntityNoGo, p.NoGo}, {EntityNoMop, p.NoMop}}
	for _, a := range areas {
		for _, e := range snap.Entities[a.kind] {
			out.RenderPath(polyline(e.Points, true), fillStyle(a.c), canvas.Identity)
		}
	}
	for _, e := range snap.Entities[EntityVirtualWall] {
		out.RenderPath(polyline(e.Points, false), strokeStyle(p.VirtualWall, 6), canvas.Identity)
	}
	for _, e := range snap.Entities[EntityObstacle] {
		if len(e.Points) > 0 {
			x, y := at(e.Points[0])
			out.RenderPath(canvas.Circle(obstacleRadius).Translate(x, y), fillStyle(p.Obstacle), canvas.Identity)
		}
	}

	if e, ok := snap.Entity(EntityRobot); ok && len(e.Points) > 0 {
		x, y := at(e.Points[0])
		body := fillStyle(p.Robot)
		body.Stroke = canvas.Paint{Color: premultiply(color.NRGBA{p.Robot.R / 2, p.Robot.G / 2, p.Robot.B / 2, p.Robot.A})}
		body.StrokeWidth = 1
		out.RenderPath(canvas.Circle(robotRadius).Translate(x, y), body, canvas.Identity)

		// heading 0 is up; canvas y is mirrored so the screen angle flips sign
		rad := (e.Angle - 90) * math.Pi / 180
		lx, ly := x+lidarOffset*math.Cos(rad), y-lidarOffset*math.Sin(rad)
		out.RenderPath(canvas.Circle(lidarRadius).Translate(lx, ly), fillStyle(color.NRGBA{0, 0, 0, 255}), canvas.Identity)
	}
}
