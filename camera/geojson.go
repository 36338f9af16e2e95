package camera

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
)

// DefaultPathTolerance is the Douglas-Peucker tolerance, in map units, used
// for path lines in exports
const DefaultPathTolerance = 0.5

// spanRing returns the outline of a span as a closed rectangle in map units
func spanRing(sp Span) orb.Ring {
	x0, y0 := float64(sp.X), float64(sp.Y)
	x1, y1 := float64(sp.X+sp.Length), float64(sp.Y+1)
	return orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
}

// layerGeometry merges the spans of one layer into a MultiPolygon
func layerGeometry(spans []Span) orb.MultiPolygon {
	mp := make(orb.MultiPolygon, 0, len(spans))
	for _, sp := range spans {
		mp = append(mp, orb.Polygon{spanRing(sp)})
	}
	return mp
}

func lineString(points []Point) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = orb.Point{p.X, p.Y}
	}
	return ls
}

func polygon(points []Point) orb.Polygon {
	ring := orb.Ring(lineString(points))
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// SimplifyPath reduces a polyline with Douglas-Peucker; tolerance <= 0 keeps it
func SimplifyPath(points []Point, tolerance float64) []Point {
	if tolerance <= 0 || len(points) < 3 {
		return points
	}
	ls := simplify.DouglasPeucker(tolerance).Simplify(lineString(points).Clone()).(orb.LineString)
	out := make([]Point, len(ls))
	for i, p := range ls {
		out[i] = Point{X: p[0], Y: p[1]}
	}
	return out
}

var lineKinds = map[EntityKind]bool{
	EntityPath:          true,
	EntityPredictedPath: true,
	EntityVirtualWall:   true,
}

var areaKinds = map[EntityKind]bool{
	EntityZone:  true,
	EntityNoGo:  true,
	EntityNoMop: true,
}

// SnapshotGeoJSON exports a snapshot as a FeatureCollection in map units,
// y pointing down. Layers become MultiPolygons, lines are simplified with
// tolerance and areas become Polygons.
func SnapshotGeoJSON(snap *MapSnapshot, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if snap == nil {
		return fc
	}
	fc.ExtraMembers = geojson.Properties{
		"format":    string(snap.Format),
		"nonce":     snap.Metadata.Nonce,
		"size":      []int{snap.Size.X, snap.Size.Y},
		"pixelSize": snap.PixelSize,
	}

	for _, kind := range []LayerKind{LayerFloor, LayerWall} {
		if spans := snap.Layers[kind]; len(spans) > 0 {
			f := geojson.NewFeature(layerGeometry(spans))
			f.Properties["layer"] = string(kind)
			fc.Append(f)
		}
	}
	for _, id := range snap.RoomSegments() {
		f := geojson.NewFeature(layerGeometry(snap.Layers[RoomLayer(id)]))
		f.ID = id
		f.Properties["layer"] = "room"
		f.Properties["segment"] = id
		f.Properties["active"] = snap.IsActive(id)
		if name, ok := snap.Metadata.RoomNames[id]; ok {
			f.Properties["name"] = name
		}
		fc.Append(f)
	}

	kinds := make([]string, 0, len(snap.Entities))
	for kind := range snap.Entities {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	for _, k := range kinds {
		kind := EntityKind(k)
		for _, e := range snap.Entities[kind] {
			if len(e.Points) == 0 {
				continue
			}
			var geom orb.Geometry
			switch {
			case lineKinds[kind]:
				geom = lineString(SimplifyPath(e.Points, tolerance))
			case areaKinds[kind]:
				geom = polygon(e.Points)
			default:
				geom = orb.Point{e.Points[0].X, e.Points[0].Y}
			}
			f := geojson.NewFeature(geom)
			f.Properties["entity"] = k
			if e.HasAngle {
				f.Properties["angle"] = e.Angle
			}
			if e.Label != "" {
				f.Properties["label"] = e.Label
			}
			fc.Append(f)
		}
	}
	return fc
}
