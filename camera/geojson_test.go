package camera

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featuresBy(fc *geojson.FeatureCollection, key, value string) []*geojson.Feature {
	var out []*geojson.Feature
	for _, f := range fc.Features {
		if v, ok := f.Properties[key].(string); ok && v == value {
			out = append(out, f)
		}
	}
	return out
}

func TestSimplifyPath(t *testing.T) {
	line := []Point{{X: 0, Y: 0}, {X: 1, Y: 0.1}, {X: 2, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 5}}

	tests := []struct {
		name      string
		tolerance float64
		want      int
	}{
		{"disabled", 0, 5},
		{"collinear points removed", 0.5, 3},
		{"fine tolerance keeps the bump", 0.08, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SimplifyPath(line, tt.tolerance)
			assert.Len(t, got, tt.want)
			assert.Equal(t, line[0], got[0])
			assert.Equal(t, line[len(line)-1], got[len(got)-1])
		})
	}
}

func TestSnapshotGeoJSON(t *testing.T) {
	snap := gridSnapshot(10, 5)
	snap.Metadata.Nonce = "geo"
	snap.Layers[LayerWall] = []Span{{X: 0, Y: 0, Length: 10}}
	snap.Layers[RoomLayer(3)] = []Span{{X: 1, Y: 1, Length: 2}, {X: 1, Y: 2, Length: 2}}
	snap.Metadata.RoomNames = map[int]string{3: "Kitchen"}
	snap.Metadata.ActiveSegments = []int{3}
	snap.Entities[EntityPath] = []Entity{{Kind: EntityPath, Points: []Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 4}}}}
	snap.Entities[EntityNoGo] = []Entity{{Kind: EntityNoGo, Points: []Point{{X: 1, Y: 1}, {X: 4, Y: 1}, {X: 4, Y: 4}, {X: 1, Y: 4}}}}
	snap.Entities[EntityRobot] = []Entity{{Kind: EntityRobot, Points: []Point{{X: 5, Y: 5}}, Angle: 180, HasAngle: true}}

	fc := SnapshotGeoJSON(snap, DefaultPathTolerance)
	assert.Equal(t, "geo", fc.ExtraMembers["nonce"])
	assert.Equal(t, 5, fc.ExtraMembers["pixelSize"])

	floor := featuresBy(fc, "layer", "floor")
	require.Len(t, floor, 1)
	assert.Len(t, floor[0].Geometry.(orb.MultiPolygon), 10)
	require.Len(t, featuresBy(fc, "layer", "wall"), 1)

	rooms := featuresBy(fc, "layer", "room")
	require.Len(t, rooms, 1)
	assert.Equal(t, "Kitchen", rooms[0].Properties["name"])
	assert.Equal(t, true, rooms[0].Properties["active"])
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{3, 3}}, rooms[0].Geometry.Bound())

	path := featuresBy(fc, "entity", string(EntityPath))
	require.Len(t, path, 1)
	assert.Len(t, path[0].Geometry.(orb.LineString), 3)

	nogo := featuresBy(fc, "entity", string(EntityNoGo))
	require.Len(t, nogo, 1)
	ring := nogo[0].Geometry.(orb.Polygon)[0]
	assert.Len(t, ring, 5)
	assert.True(t, ring.Closed())

	robot := featuresBy(fc, "entity", string(EntityRobot))
	require.Len(t, robot, 1)
	assert.Equal(t, orb.Point{5, 5}, robot[0].Geometry)
	assert.Equal(t, 180.0, robot[0].Properties["angle"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"FeatureCollection"`)
	assert.Contains(t, string(data), `"format":"hypfer"`)
}

func TestSnapshotGeoJSON_Nil(t *testing.T) {
	fc := SnapshotGeoJSON(nil, 0)
	assert.Empty(t, fc.Features)
}
