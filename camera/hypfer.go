package camera

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// hypferEntityKinds maps Valetudo entity "type" values to entity kinds
var hypferEntityKinds = map[string]EntityKind{
	"robot_position":   EntityRobot,
	"charger_location": EntityCharger,
	"go_to_target":     EntityGoTo,
	"path":             EntityPath,
	"predicted_path":   EntityPredictedPath,
	"active_zone":      EntityZone,
	"no_go_area":       EntityNoGo,
	"no_mop_area":      EntityNoMop,
	"virtual_wall":     EntityVirtualWall,
	"obstacle":         EntityObstacle,
}

type hypferHeader struct {
	MetaData struct {
		Version int    `json:"version"`
		Nonce   string `json:"nonce"`
	} `json:"metaData"`
	Size      *Size `json:"size"`
	PixelSize *int  `json:"pixelSize"`
}

type hypferLayer struct {
	Type             string `json:"type"`
	Pixels           []int  `json:"pixels"`
	CompressedPixels []int  `json:"compressedPixels"`
	MetaData         struct {
		SegmentID flexInt `json:"segmentId"`
		Name      string  `json:"name"`
		Active    bool    `json:"active"`
	} `json:"metaData"`
}

type hypferEntity struct {
	Type     string         `json:"type"`
	Points   []float64      `json:"points"`
	MetaData map[string]any `json:"metaData"`
}

// flexInt accepts both 16 and "16"
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("segment id %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// ParseHypfer builds a snapshot from a decompressed Valetudo map document.
// size, pixelSize and at least one floor or wall layer are required.
func ParseHypfer(doc []byte, opts DecodeOptions) (*MapSnapshot, error) {
	var head hypferHeader
	if err := json.Unmarshal(doc, &head); err != nil {
		return nil, &DecodeError{Format: FormatHypfer, Err: fmt.Errorf("parsing map JSON: %w", err)}
	}
	if head.Size == nil {
		return nil, &SchemaError{Format: FormatHypfer, Field: "size"}
	}
	if head.PixelSize == nil {
		return nil, &SchemaError{Format: FormatHypfer, Field: "pixelSize"}
	}

	nodes, err := ExtractEntities(doc)
	if err != nil {
		return nil, &DecodeError{Format: FormatHypfer, Err: err}
	}

	snap := NewSnapshot(FormatHypfer)
	snap.PixelSize = *head.PixelSize
	snap.Size = *head.Size
	snap.Metadata.Nonce = head.MetaData.Nonce
	snap.Metadata.Sequence = head.MetaData.Version

	scale := 1.0
	if opts.NativeUnits && snap.PixelSize > 0 {
		scale = 1 / float64(snap.PixelSize)
		snap.Size = Size{X: snap.Size.X / snap.PixelSize, Y: snap.Size.Y / snap.PixelSize}
	}

	found := false
	for _, kind := range []LayerKind{LayerFloor, LayerWall} {
		for _, node := range ByClass(nodes[string(kind)], ClassLayer) {
			var l hypferLayer
			if err := node.Decode(&l); err != nil {
				return nil, &DecodeError{Format: FormatHypfer, Err: fmt.Errorf("%s layer: %w", kind, err)}
			}
			snap.Layers[kind] = append(snap.Layers[kind], l.spans(0)...)
			found = true
		}
	}
	if !found {
		return nil, &SchemaError{Format: FormatHypfer, Field: "layers[floor|wall]"}
	}

	for _, node := range ByClass(nodes["segment"], ClassLayer) {
		var l hypferLayer
		if err := node.Decode(&l); err != nil {
			return nil, &DecodeError{Format: FormatHypfer, Err: fmt.Errorf("segment layer: %w", err)}
		}
		id := int(l.MetaData.SegmentID)
		snap.addRoom(id, l.spans(id))
		if l.MetaData.Name != "" {
			snap.Metadata.RoomNames[id] = l.MetaData.Name
		}
		if l.MetaData.Active {
			snap.Metadata.ActiveSegments = append(snap.Metadata.ActiveSegments, id)
		}
	}
	sort.Ints(snap.Metadata.ActiveSegments)

	for typ, kind := range hypferEntityKinds {
		for _, node := range nodes[typ] {
			if node.Class == ClassLayer {
				continue
			}
			var e hypferEntity
			if err := node.Decode(&e); err != nil {
				return nil, &DecodeError{Format: FormatHypfer, Err: fmt.Errorf("%s entity: %w", typ, err)}
			}
			snap.Entities[kind] = append(snap.Entities[kind], e.toEntity(kind, scale))
		}
	}

	return snap, nil
}

func (l hypferLayer) spans(segment int) []Span {
	if len(l.CompressedPixels) > 0 {
		return DecodeCompressedPixels(l.CompressedPixels, segment)
	}
	return DecodePixelPairs(l.Pixels, segment)
}

func (e hypferEntity) toEntity(kind EntityKind, scale float64) Entity {
	out := Entity{Kind: kind}
	for _, pair := range Group(e.Points, 2) {
		if len(pair) < 2 {
			continue
		}
		out.Points = append(out.Points, Point{X: pair[0] * scale, Y: pair[1] * scale})
	}
	if angle, ok := e.MetaData["angle"].(float64); ok {
		out.Angle = angle
		out.HasAngle = true
	}
	if label, ok := e.MetaData["label"].(string); ok {
		out.Label = label
	}
	if seg, ok := e.MetaData["segmentId"].(float64); ok {
		out.Segment = int(seg)
	}
	return out
}
