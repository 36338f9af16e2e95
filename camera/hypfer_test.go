package camera

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHypfer_SquareMap(t *testing.T) {
	doc := squareHypferDoc(100, 5, [2]int{50, 50}, [2]int{10, 10}, 90)

	snap, err := ParseHypfer(doc, DecodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, FormatHypfer, snap.Format)
	assert.Equal(t, Size{X: 100, Y: 100}, snap.Size)
	assert.Equal(t, 5, snap.PixelSize)
	assert.Equal(t, "n-100", snap.Metadata.Nonce)
	assert.Equal(t, 2, snap.Metadata.Sequence)
	require.Len(t, snap.Layers[LayerFloor], 100)
	assert.Equal(t, Span{X: 0, Y: 99, Length: 100}, snap.Layers[LayerFloor][99])

	robot, ok := snap.Entity(EntityRobot)
	require.True(t, ok)
	assert.Equal(t, []Point{{X: 50, Y: 50}}, robot.Points)
	assert.True(t, robot.HasAngle)
	assert.Equal(t, 90.0, robot.Angle)

	charger, ok := snap.Entity(EntityCharger)
	require.True(t, ok)
	assert.Equal(t, []Point{{X: 10, Y: 10}}, charger.Points)
	assert.False(t, charger.HasAngle)

	_, ok = snap.Entity(EntityGoTo)
	assert.False(t, ok, "absent entity kinds are not an error")
	assert.NoError(t, snap.Validate())
}

func TestParseHypfer_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "no size",
			doc:   `{"pixelSize": 5, "layers": [{"__class": "MapLayer", "type": "floor", "compressedPixels": [0,0,1]}]}`,
			field: "size",
		},
		{
			name:  "no pixelSize",
			doc:   `{"size": {"x": 10, "y": 10}, "layers": [{"__class": "MapLayer", "type": "floor", "compressedPixels": [0,0,1]}]}`,
			field: "pixelSize",
		},
		{
			name:  "no floor or wall layer",
			doc:   `{"size": {"x": 10, "y": 10}, "pixelSize": 5, "layers": [{"__class": "MapLayer", "type": "segment", "compressedPixels": [0,0,1]}]}`,
			field: "layers[floor|wall]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHypfer([]byte(tt.doc), DecodeOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchema)
			assert.ErrorIs(t, err, ErrDecode)

			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr))
			assert.Equal(t, tt.field, schemaErr.Field)
		})
	}
}

func TestParseHypfer_MalformedJSON(t *testing.T) {
	_, err := ParseHypfer([]byte(`{"size": `), DecodeOptions{})
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrSchema)
}

func TestParseHypfer_Segments(t *testing.T) {
	doc := []byte(`{
		"metaData": {"nonce": "abc"},
		"size": {"x": 20, "y": 20},
		"pixelSize": 5,
		"layers": [
			{"__class": "MapLayer", "type": "wall", "compressedPixels": [0, 0, 20]},
			{"__class": "MapLayer", "type": "segment", "compressedPixels": [1, 1, 4, 1, 2, 4],
			 "metaData": {"segmentId": "3", "name": "Kitchen", "active": true}},
			{"__class": "MapLayer", "type": "segment", "compressedPixels": [10, 1, 5],
			 "metaData": {"segmentId": 1, "name": "Hall"}}
		]
	}`)

	snap, err := ParseHypfer(doc, DecodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 1}, snap.RoomSegments(), "colour slots follow document order")
	assert.Equal(t, map[int]string{1: "Hall", 3: "Kitchen"}, snap.Metadata.RoomNames)
	assert.Equal(t, []int{3}, snap.Metadata.ActiveSegments)
	assert.True(t, snap.IsActive(3))
	assert.False(t, snap.IsActive(1))
	assert.Equal(t, []Span{
		{X: 1, Y: 1, Length: 4, Segment: 3},
		{X: 1, Y: 2, Length: 4, Segment: 3},
	}, snap.Layers[RoomLayer(3)])
	assert.Equal(t, []Span{{X: 0, Y: 0, Length: 20}}, snap.Layers[LayerWall])
}

func TestParseHypfer_Entities(t *testing.T) {
	doc := []byte(`{
		"size": {"x": 50, "y": 50},
		"pixelSize": 5,
		"layers": [{"__class": "MapLayer", "type": "floor", "pixels": [0, 0, 1, 0, 2, 0, 5, 5]}],
		"entities": [
			{"__class": "PathMapEntity", "type": "path", "points": [0, 0, 10, 0, 10, 10]},
			{"__class": "PathMapEntity", "type": "predicted_path", "points": [10, 10, 20, 20]},
			{"__class": "PolygonMapEntity", "type": "no_go_area", "points": [1, 1, 5, 1, 5, 5, 1, 5]},
			{"__class": "PolygonMapEntity", "type": "active_zone", "points": [2, 2, 4, 2, 4, 4, 2, 4]},
			{"__class": "PointMapEntity", "type": "go_to_target", "points": [30, 30]},
			{"__class": "PointMapEntity", "type": "obstacle", "points": [7, 8], "metaData": {"label": "sock"}},
			{"__class": "LineMapEntity", "type": "virtual_wall", "points": [0, 0, 9, 9]}
		]
	}`)

	snap, err := ParseHypfer(doc, DecodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []Span{{X: 0, Y: 0, Length: 3}, {X: 5, Y: 5, Length: 1}}, snap.Layers[LayerFloor])

	path, ok := snap.Entity(EntityPath)
	require.True(t, ok)
	assert.Equal(t, []Point{{0, 0}, {10, 0}, {10, 10}}, path.Points)

	pred, ok := snap.Entity(EntityPredictedPath)
	require.True(t, ok)
	assert.Len(t, pred.Points, 2)

	nogo, ok := snap.Entity(EntityNoGo)
	require.True(t, ok)
	assert.Len(t, nogo.Points, 4)

	zone, ok := snap.Entity(EntityZone)
	require.True(t, ok)
	assert.Equal(t, Point{X: 2, Y: 2}, zone.Points[0])

	goTo, ok := snap.Entity(EntityGoTo)
	require.True(t, ok)
	assert.Equal(t, []Point{{30, 30}}, goTo.Points)

	obstacle, ok := snap.Entity(EntityObstacle)
	require.True(t, ok)
	assert.Equal(t, "sock", obstacle.Label)

	_, ok = snap.Entity(EntityVirtualWall)
	assert.False(t, ok, "unrecognised discriminators are ignored")
}

func TestParseHypfer_NativeUnits(t *testing.T) {
	doc := []byte(`{
		"size": {"x": 500, "y": 250},
		"pixelSize": 5,
		"layers": [{"__class": "MapLayer", "type": "floor", "compressedPixels": [0, 0, 10]}],
		"entities": [{"__class": "PointMapEntity", "type": "robot_position", "points": [250, 100]}]
	}`)

	snap, err := ParseHypfer(doc, DecodeOptions{NativeUnits: true})
	require.NoError(t, err)
	assert.Equal(t, Size{X: 100, Y: 50}, snap.Size)

	robot, ok := snap.Entity(EntityRobot)
	require.True(t, ok)
	assert.Equal(t, []Point{{X: 50, Y: 20}}, robot.Points)
}

func TestParseHypfer_OddPointListIgnoresTail(t *testing.T) {
	doc := []byte(`{
		"size": {"x": 50, "y": 50},
		"pixelSize": 5,
		"layers": [{"__class": "MapLayer", "type": "floor", "compressedPixels": [0, 0, 1, 9]}],
		"entities": [{"__class": "PathMapEntity", "type": "path", "points": [1, 2, 3, 4, 5]}]
	}`)

	snap, err := ParseHypfer(doc, DecodeOptions{})
	require.NoError(t, err)

	path, _ := snap.Entity(EntityPath)
	assert.Equal(t, []Point{{1, 2}, {3, 4}}, path.Points)
	assert.Equal(t, []Span{{X: 0, Y: 0, Length: 1}}, snap.Layers[LayerFloor])
}
