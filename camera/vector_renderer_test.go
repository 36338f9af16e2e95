package camera

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdewolff/canvas"
)

// recordingCanvas keeps every style handed to RenderPath
type recordingCanvas struct {
	styles []canvas.Style
}

func (c *recordingCanvas) RenderPath(_ *canvas.Path, style canvas.Style, _ canvas.Matrix) {
	c.styles = append(c.styles, style)
}

func (c *recordingCanvas) fills(col color.NRGBA) int {
	n := 0
	for _, st := range c.styles {
		if st.Fill.Color == premultiply(col) {
			n++
		}
	}
	return n
}

func TestVectorRenderer_SVGDocument(t *testing.T) {
	snap := gridSnapshot(20, 5)
	snap.Entities[EntityRobot] = []Entity{{Kind: EntityRobot, Points: []Point{{X: 10, Y: 10}}, Angle: 90, HasAngle: true}}

	var buf bytes.Buffer
	require.NoError(t, NewVectorRenderer(Palette{}).RenderToSVG(&buf, snap))

	out := buf.String()
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "</svg>")
	assert.Contains(t, out, "#87cefa", "floor colour")
}

func TestVectorRenderer_Invalid(t *testing.T) {
	r := NewVectorRenderer(DefaultPalette())
	var buf bytes.Buffer

	err := r.RenderToSVG(&buf, nil)
	assert.ErrorIs(t, err, ErrGeometry)

	bad := gridSnapshot(4, 1)
	bad.Layers[LayerWall] = []Span{{X: 2, Y: 0, Length: 5}}
	assert.ErrorIs(t, r.RenderToSVG(&buf, bad), ErrGeometry)
}

func TestVectorRenderer_DrawsEveryKind(t *testing.T) {
	p := DefaultPalette()
	snap := gridSnapshot(40, 2)
	snap.Layers[RoomLayer(7)] = []Span{{X: 0, Y: 0, Length: 10}}
	snap.Layers[RoomLayer(9)] = []Span{{X: 0, Y: 1, Length: 10}}
	snap.Metadata.ActiveSegments = []int{9}
	square := []Point{{X: 1, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 5}, {X: 1, Y: 5}}
	snap.Entities[EntityNoGo] = []Entity{{Kind: EntityNoGo, Points: square}}
	snap.Entities[EntityNoMop] = []Entity{{Kind: EntityNoMop, Points: square}}
	snap.Entities[EntityObstacle] = []Entity{{Kind: EntityObstacle, Points: []Point{{X: 3, Y: 3}}}, {Kind: EntityObstacle, Points: []Point{{X: 8, Y: 8}}}}
	snap.Entities[EntityCharger] = []Entity{{Kind: EntityCharger, Points: []Point{{X: 20, Y: 20}}}}
	snap.Entities[EntityRobot] = []Entity{{Kind: EntityRobot, Points: []Point{{X: 10, Y: 10}}}}
	snap.Entities[EntityGoTo] = []Entity{{Kind: EntityGoTo, Points: []Point{{X: 30, Y: 30}}}}

	rec := &recordingCanvas{}
	NewVectorRenderer(p).draw(rec, snap, 80)

	assert.Equal(t, 1, rec.fills(p.Background))
	// room slot 0 shares the floor colour
	assert.Equal(t, 2, rec.fills(p.Floor))
	assert.Equal(t, 1, rec.fills(p.ActiveRoom(1)))
	assert.Equal(t, 1, rec.fills(p.NoGo))
	assert.Equal(t, 1, rec.fills(p.NoMop))
	assert.Equal(t, 2, rec.fills(p.Obstacle))
	assert.Equal(t, 1, rec.fills(p.Charger))
	assert.Equal(t, 1, rec.fills(p.Robot))
	assert.Equal(t, 1, rec.fills(p.GoTo))
}
