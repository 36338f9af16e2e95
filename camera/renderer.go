package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/google/uuid"
)

// RenderOptions control the rasterizer and the frame post-processing
type RenderOptions struct {
	Palette Palette
	// Rotation turns the finished frame counter-clockwise: 0, 90, 180 or 270
	Rotation int
	// Trim crops the canvas to the drawn content plus Margin pixels
	Trim   bool
	Margin int
}

// DefaultRenderOptions returns the stock palette, no rotation and no trim
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Palette: DefaultPalette(), Margin: 20}
}

// RenderedFrame is a raster together with the snapshot it was drawn from
type RenderedFrame struct {
	ID       string
	Image    *image.RGBA
	Snapshot *MapSnapshot
	// Origin is the map pixel shown at the frame's top-left corner before rotation
	Origin image.Point
}

// Equivalent compares frames by the content of their source snapshots
func (f *RenderedFrame) Equivalent(o *RenderedFrame) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Snapshot.Equal(o.Snapshot)
}

// EncodePNG writes the frame as PNG
func (f *RenderedFrame) EncodePNG(w io.Writer) error {
	return png.Encode(w, f.Image)
}

// PNG returns the PNG encoding of the frame
func (f *RenderedFrame) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encoding frame %s: %w", f.ID, err)
	}
	return buf.Bytes(), nil
}

// Renderer draws snapshots onto RGBA canvases
type Renderer struct {
	opts RenderOptions
}

// NewRenderer creates a renderer; a zero palette is replaced by the default one
func NewRenderer(opts RenderOptions) *Renderer {
	if opts.Palette == (Palette{}) {
		opts.Palette = DefaultPalette()
	}
	return &Renderer{opts: opts}
}

// Options returns the renderer configuration
func (r *Renderer) Options() RenderOptions {
	return r.opts
}

// Render rasterizes a snapshot. Passes run back to front and each pass
// overwrites the pixels it touches:
//
//	floor, wall, rooms, paths, charger, go-to flag, zones, robot
//
// The same snapshot always produces the same pixels.
func (r *Renderer) Render(snap *MapSnapshot) (*RenderedFrame, error) {
	if snap == nil {
		return nil, &GeometryError{Reason: "nil snapshot"}
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	switch r.opts.Rotation {
	case 0, 90, 180, 270:
	default:
		return nil, &GeometryError{Reason: fmt.Sprintf("unsupported rotation %d", r.opts.Rotation)}
	}

	ps := snap.PixelSize
	full := image.Rect(0, 0, snap.Size.X*ps, snap.Size.Y*ps)
	bounds := full
	if r.opts.Trim {
		if content := contentBounds(snap).Inset(-r.opts.Margin).Intersect(full); !content.Empty() {
			bounds = content
		}
	}

	img := image.NewRGBA(bounds)
	fillRect(img, bounds, premultiply(r.opts.Palette.Background))
	r.drawLayers(img, snap)
	r.drawEntities(img, snap)

	return &RenderedFrame{
		ID:       uuid.NewString(),
		Image:    rotate(rebase(img), r.opts.Rotation),
		Snapshot: snap,
		Origin:   bounds.Min,
	}, nil
}

func (r *Renderer) drawLayers(img *image.RGBA, snap *MapSnapshot) {
	p := r.opts.Palette
	ps := snap.PixelSize

	fillSpans(img, snap.Layers[LayerFloor], ps, premultiply(p.Floor))
	fillSpans(img, snap.Layers[LayerWall], ps, premultiply(p.Wall))

	for slot, id := range snap.RoomSegments() {
		c := p.Room(slot)
		if snap.IsActive(id) {
			c = p.ActiveRoom(slot)
		}
		fillSpans(img, snap.Layers[RoomLayer(id)], ps, premultiply(c))
	}
}

func (r *Renderer) drawEntities(img *image.RGBA, snap *MapSnapshot) {
	p := r.opts.Palette
	ps := snap.PixelSize

	for _, e := range snap.Entities[EntityPredictedPath] {
		drawPolyline(img, toPixels(e.Points, ps), 2, premultiply(p.PredictedPath))
	}
	for _, e := range snap.Entities[EntityPath] {
		drawPolyline(img, toPixels(e.Points, ps), 5, premultiply(p.Path))
	}

	if e, ok := snap.Entity(EntityCharger); ok && len(e.Points) > 0 {
		c := toPixel(e.Points[0], ps)
		drawCharger(img, c.X, c.Y, premultiply(p.Charger))
	}

	if e, ok := snap.Entity(EntityGoTo); ok && len(e.Points) > 0 {
		c := toPixel(e.Points[0], ps)
		drawFlag(img, c.X, c.Y, premultiply(p.GoTo))
	}

	for _, e := range snap.Entities[EntityZone] {
		dotZone(img, toPixels(e.Points, ps), premultiply(p.ZoneClean))
	}
	for _, e := range snap.Entities[EntityNoGo] {
		pts := toPixels(e.Points, ps)
		fillPolygon(img, pts, premultiply(p.NoGo))
		outlinePolygon(img, pts, 1, premultiply(p.NoGo))
	}
	for _, e := range snap.Entities[EntityNoMop] {
		pts := toPixels(e.Points, ps)
		fillPolygon(img, pts, premultiply(p.NoMop))
		outlinePolygon(img, pts, 1, premultiply(p.NoMop))
	}
	for _, e := range snap.Entities[EntityVirtualWall] {
		drawPolyline(img, toPixels(e.Points, ps), 6, premultiply(p.VirtualWall))
	}
	for _, e := range snap.Entities[EntityObstacle] {
		if len(e.Points) == 0 {
			continue
		}
		c := toPixel(e.Points[0], ps)
		fillCircle(img, c.X, c.Y, obstacleRadius, premultiply(p.Obstacle), 0, premultiply(p.Obstacle))
		if e.Label != "" {
			drawText(img, c.X+obstacleRadius+2, c.Y+4, e.Label, premultiply(p.Text))
		}
	}

	if e, ok := snap.Entity(EntityRobot); ok && len(e.Points) > 0 {
		c := toPixel(e.Points[0], ps)
		drawRobot(img, c.X, c.Y, e.Angle, p.Robot)
	}
}

// fillSpans paints each span as a pixelSize-high band
func fillSpans(img *image.RGBA, spans []Span, ps int, c color.RGBA) {
	for _, sp := range spans {
		fillRect(img, image.Rect(sp.X*ps, sp.Y*ps, (sp.X+sp.Length)*ps, (sp.Y+1)*ps), c)
	}
}

func toPixel(p Point, ps int) image.Point {
	return image.Pt(int(p.X*float64(ps)), int(p.Y*float64(ps)))
}

func toPixels(pts []Point, ps int) []image.Point {
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = toPixel(p, ps)
	}
	return out
}

// contentBounds is the pixel rectangle covering every span and entity point
func contentBounds(snap *MapSnapshot) image.Rectangle {
	ps := snap.PixelSize
	var r image.Rectangle
	for _, spans := range snap.Layers {
		for _, sp := range spans {
			r = r.Union(image.Rect(sp.X*ps, sp.Y*ps, (sp.X+sp.Length)*ps, (sp.Y+1)*ps))
		}
	}
	for _, list := range snap.Entities {
		for _, e := range list {
			for _, p := range e.Points {
				px := toPixel(p, ps)
				r = r.Union(image.Rect(px.X, px.Y, px.X+1, px.Y+1))
			}
		}
	}
	return r
}

// rebase copies a canvas with a non-zero origin into one starting at (0, 0)
func rebase(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	if b.Min == (image.Point{}) {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+4*b.Dx()], img.Pix[src:src+4*b.Dx()])
	}
	return out
}

// rotate turns a zero-origin image counter-clockwise by a multiple of 90 degrees
func rotate(img *image.RGBA, degrees int) *image.RGBA {
	if degrees == 0 {
		return img
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var out *image.RGBA
	if degrees == 180 {
		out = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		out = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(x, y)
			switch degrees {
			case 90:
				out.SetRGBA(y, w-1-x, c)
			case 180:
				out.SetRGBA(w-1-x, h-1-y, c)
			case 270:
				out.SetRGBA(h-1-y, x, c)
			}
		}
	}
	return out
}
