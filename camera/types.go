package camera

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Format identifies the vendor firmware family that produced a payload
type Format string

const (
	FormatHypfer  Format = "hypfer"
	FormatRand256 Format = "rand256"
)

// LayerKind names a raster layer: "floor", "wall" or "room_N"
type LayerKind string

const (
	LayerFloor LayerKind = "floor"
	LayerWall  LayerKind = "wall"

	roomLayerPrefix = "room_"
)

// RoomLayer returns the layer kind for a room segment
func RoomLayer(segmentID int) LayerKind {
	return LayerKind(roomLayerPrefix + strconv.Itoa(segmentID))
}

// SegmentID returns the room segment id of a room layer
func (k LayerKind) SegmentID() (int, bool) {
	s, ok := strings.CutPrefix(string(k), roomLayerPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EntityKind names a typed overlay object
type EntityKind string

const (
	EntityRobot         EntityKind = "robot_position"
	EntityCharger       EntityKind = "charger_location"
	EntityGoTo          EntityKind = "go_to_target"
	EntityPath          EntityKind = "path"
	EntityPredictedPath EntityKind = "predicted_path"
	EntityZone          EntityKind = "zone"
	EntityNoGo          EntityKind = "no_go_area"
	EntityNoMop         EntityKind = "no_mop_area"
	EntityVirtualWall   EntityKind = "virtual_wall"
	EntityObstacle      EntityKind = "obstacle"
)

// Size is a width/height pair in map units
type Size struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Point is a coordinate in map units
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Span is a horizontal run of filled map cells starting at (X, Y)
type Span struct {
	X       int `json:"x"`
	Y       int `json:"y"`
	Length  int `json:"length"`
	Segment int `json:"segment,omitempty"`
}

// Entity is a point, polyline or polygon overlay
type Entity struct {
	Kind     EntityKind `json:"kind"`
	Points   []Point    `json:"points"`
	Angle    float64    `json:"angle,omitempty"`
	HasAngle bool       `json:"hasAngle,omitempty"`
	Segment  int        `json:"segment,omitempty"`
	Label    string     `json:"label,omitempty"`
}

// Metadata carries the non-geometric part of a snapshot
type Metadata struct {
	Nonce          string         `json:"nonce"`
	Sequence       int            `json:"sequence"`
	Status         string         `json:"status,omitempty"`
	Battery        int            `json:"battery"`
	Error          string         `json:"error,omitempty"`
	RoomNames      map[int]string `json:"roomNames,omitempty"`
	ActiveSegments []int          `json:"activeSegments,omitempty"`
}

// MapSnapshot is the format-agnostic result of decoding one vendor payload.
// A snapshot is never mutated after it has been handed to the cache.
type MapSnapshot struct {
	Format    Format                  `json:"format"`
	Size      Size                    `json:"size"`
	PixelSize int                     `json:"pixelSize"`
	Layers    map[LayerKind][]Span    `json:"layers"`
	Entities  map[EntityKind][]Entity `json:"entities"`
	Metadata  Metadata                `json:"metadata"`
	// RoomOrder lists segment ids in the order their layers were decoded
	RoomOrder []int `json:"roomOrder,omitempty"`

	// DecodedAt is transient and ignored by Equal
	DecodedAt time.Time `json:"-"`
}

// NewSnapshot returns an empty snapshot ready to be filled by a parser
func NewSnapshot(format Format) *MapSnapshot {
	return &MapSnapshot{
		Format:   format,
		Layers:   make(map[LayerKind][]Span),
		Entities: make(map[EntityKind][]Entity),
		Metadata: Metadata{RoomNames: make(map[int]string)},
	}
}

// Entity returns the first entity of the given kind
func (s *MapSnapshot) Entity(kind EntityKind) (Entity, bool) {
	list := s.Entities[kind]
	if len(list) == 0 {
		return Entity{}, false
	}
	return list[0], true
}

// RoomSegments returns the segment ids of all room layers, which is also
// their colour slot order: decode order first, then any layer missing from
// RoomOrder in ascending id order.
func (s *MapSnapshot) RoomSegments() []int {
	ids := make([]int, 0, len(s.Layers))
	seen := make(map[int]bool, len(s.RoomOrder))
	for _, id := range s.RoomOrder {
		if _, ok := s.Layers[RoomLayer(id)]; ok && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var rest []int
	for kind := range s.Layers {
		if id, ok := kind.SegmentID(); ok && !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Ints(rest)
	return append(ids, rest...)
}

// addRoom appends spans to a room layer and records first appearances
func (s *MapSnapshot) addRoom(id int, spans []Span) {
	kind := RoomLayer(id)
	if _, ok := s.Layers[kind]; !ok {
		s.RoomOrder = append(s.RoomOrder, id)
	}
	s.Layers[kind] = append(s.Layers[kind], spans...)
}

// IsActive reports whether the segment is part of the active cleaning set
func (s *MapSnapshot) IsActive(segmentID int) bool {
	for _, id := range s.Metadata.ActiveSegments {
		if id == segmentID {
			return true
		}
	}
	return false
}

// MaxCanvasSide bounds the width and height of a rendered frame in pixels
const MaxCanvasSide = 8192

// Validate checks the geometric invariants of the snapshot. Entity points
// may sit off the map, but no further than one map size beyond any edge.
func (s *MapSnapshot) Validate() error {
	if s.Size.X <= 0 || s.Size.Y <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("non-positive size %dx%d", s.Size.X, s.Size.Y)}
	}
	if s.PixelSize <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("non-positive pixel size %d", s.PixelSize)}
	}
	if s.Size.X > MaxCanvasSide/s.PixelSize || s.Size.Y > MaxCanvasSide/s.PixelSize {
		return &GeometryError{Reason: fmt.Sprintf("canvas %dx%d at pixel size %d exceeds %d pixels",
			s.Size.X, s.Size.Y, s.PixelSize, MaxCanvasSide)}
	}
	for kind, entities := range s.Entities {
		for _, e := range entities {
			for _, p := range e.Points {
				if !s.nearMap(p) {
					return &GeometryError{Reason: fmt.Sprintf("%s point (%g,%g) far outside %dx%d",
						kind, p.X, p.Y, s.Size.X, s.Size.Y)}
				}
			}
		}
	}
	for kind, spans := range s.Layers {
		for _, sp := range spans {
			if sp.Length <= 0 || sp.X < 0 || sp.Y < 0 || sp.Y >= s.Size.Y || sp.X+sp.Length > s.Size.X {
				return &GeometryError{Reason: fmt.Sprintf("span (%d,%d,%d) of %s outside %dx%d",
					sp.X, sp.Y, sp.Length, kind, s.Size.X, s.Size.Y)}
			}
		}
	}
	return nil
}

func (s *MapSnapshot) nearMap(p Point) bool {
	w, h := float64(s.Size.X), float64(s.Size.Y)
	// NaN fails every comparison, infinities fail the range
	return p.X >= -w && p.X <= 2*w && p.Y >= -h && p.Y <= 2*h
}

// Equal reports content equality: layers, entities and the metadata nonce.
// Decode timestamps and status fields do not participate.
func (s *MapSnapshot) Equal(o *MapSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Metadata.Nonce != o.Metadata.Nonce {
		return false
	}
	if !equalLayers(s.Layers, o.Layers) {
		return false
	}
	return equalEntities(s.Entities, o.Entities)
}

func equalLayers(a, b map[LayerKind][]Span) bool {
	if len(a) != len(b) {
		return false
	}
	for kind, spans := range a {
		other, ok := b[kind]
		if !ok || len(other) != len(spans) {
			return false
		}
		for i := range spans {
			if spans[i] != other[i] {
				return false
			}
		}
	}
	return true
}

func equalEntities(a, b map[EntityKind][]Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for kind, list := range a {
		other, ok := b[kind]
		if !ok || !reflect.DeepEqual(list, other) {
			return false
		}
	}
	return true
}

// Status is the structured status record served alongside a frame
type Status struct {
	VacuumID       string         `json:"vacuumId"`
	State          string         `json:"state"`
	Battery        int            `json:"battery"`
	Error          string         `json:"error,omitempty"`
	Connected      bool           `json:"connected"`
	Connection     string         `json:"connection"`
	RoomNames      map[int]string `json:"roomNames,omitempty"`
	ActiveSegments []bool         `json:"activeSegments,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}
