package camera

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Rand256 map geometry: a 1024x1024 cell grid covering 51.2m, 50mm per cell.
const (
	rrDimensionPixels = 1024
	rrDimensionMM     = 50 * rrDimensionPixels
	rrMMPerCell       = rrDimensionMM / rrDimensionPixels
	rrPixelSize       = 5
	rrHeaderSize      = 0x14
)

// Rand256 block types
const (
	rrBlockCharger           = 1
	rrBlockImage             = 2
	rrBlockPath              = 3
	rrBlockGotoPath          = 4
	rrBlockGotoPredictedPath = 5
	rrBlockCleanedZones      = 6
	rrBlockGotoTarget        = 7
	rrBlockRobot             = 8
	rrBlockForbiddenZones    = 9
	rrBlockVirtualWalls      = 10
	rrBlockCleanedBlocks     = 11
	rrBlockForbiddenMopZones = 12
	rrBlockDigest            = 1024
)

// rrHeader is the fixed map header
type rrHeader struct {
	HeaderLength int
	DataLength   int
	Major        int
	Minor        int
	MapIndex     int
	MapSequence  int
}

type rrBlock struct {
	typ    int
	hlen   int
	length int
	buf    []byte
}

func (b rrBlock) u16(off int) int {
	if off < 0 || off+2 > len(b.buf) {
		return 0
	}
	return int(binary.LittleEndian.Uint16(b.buf[off:]))
}

func (b rrBlock) u32(off int) int {
	if off < 0 || off+4 > len(b.buf) {
		return 0
	}
	return int(binary.LittleEndian.Uint32(b.buf[off:]))
}

func (b rrBlock) i32(off int) int {
	return int(int32(uint32(b.u32(off))))
}

func isRRMap(data []byte) bool {
	return len(data) >= 2 && data[0] == 'r' && data[1] == 'r'
}

func parseRRHeader(blob []byte) rrHeader {
	u16 := func(off int) int { return int(binary.LittleEndian.Uint16(blob[off:])) }
	return rrHeader{
		HeaderLength: u16(0x02),
		DataLength:   u16(0x04),
		Major:        u16(0x08),
		Minor:        u16(0x0A),
		MapIndex:     u16(0x0C),
		MapSequence:  u16(0x10),
	}
}

// ParseRand256 builds a snapshot from a decompressed Rand256 map blob.
// Entity coordinates are converted from millimetres to map cells with the y
// axis flipped so that the origin is top-left like the Hypfer format.
func ParseRand256(blob []byte) (*MapSnapshot, error) {
	if len(blob) < rrHeaderSize || !isRRMap(blob) {
		return nil, decodeErr(FormatRand256, "missing rr map header")
	}
	header := parseRRHeader(blob)
	if header.MapIndex == 0 {
		return nil, &SchemaError{Format: FormatRand256, Field: "map_index"}
	}

	snap := NewSnapshot(FormatRand256)
	snap.Size = Size{X: rrDimensionPixels, Y: rrDimensionPixels}
	snap.PixelSize = rrPixelSize
	snap.Metadata.Nonce = fmt.Sprintf("%d-%d", header.MapIndex, header.MapSequence)
	snap.Metadata.Sequence = header.MapSequence

	var (
		robot      *rrBlock
		hasImage   bool
		pathAngle  float64
		hasHeading bool
	)

	offset := rrHeaderSize
	for offset+8 <= len(blob) {
		typ := int(binary.LittleEndian.Uint16(blob[offset:]))
		hlen := int(binary.LittleEndian.Uint16(blob[offset+2:]))
		length := int(binary.LittleEndian.Uint32(blob[offset+4:]))
		end := offset + hlen + length
		if hlen < 8 || end > len(blob) || end <= offset {
			return nil, decodeErr(FormatRand256, "block %d at offset %#x truncated", typ, offset)
		}
		blk := rrBlock{typ: typ, hlen: hlen, length: length, buf: blob[offset:end]}

		switch typ {
		case rrBlockImage:
			if err := parseRRImage(blk, snap); err != nil {
				return nil, err
			}
			hasImage = true
		case rrBlockRobot:
			b := blk
			robot = &b
		case rrBlockCharger:
			snap.Entities[EntityCharger] = []Entity{{
				Kind:   EntityCharger,
				Points: []Point{rrPoint(blk.u16(0x08), blk.u16(0x0C))},
			}}
		case rrBlockPath, rrBlockGotoPredictedPath:
			path, heading, ok := parseRRPath(blk)
			snap.Entities[path.Kind] = []Entity{path}
			if path.Kind == EntityPath && ok {
				pathAngle, hasHeading = heading, true
			}
		case rrBlockGotoTarget:
			snap.Entities[EntityGoTo] = []Entity{{
				Kind:   EntityGoTo,
				Points: []Point{rrPoint(blk.u16(0x08), blk.u16(0x0A))},
			}}
		case rrBlockCleanedZones:
			snap.Entities[EntityZone] = parseRRRects(blk)
		case rrBlockForbiddenZones:
			snap.Entities[EntityNoGo] = parseRRPolygons(blk, EntityNoGo)
		case rrBlockForbiddenMopZones:
			snap.Entities[EntityNoMop] = parseRRPolygons(blk, EntityNoMop)
		case rrBlockVirtualWalls:
			snap.Entities[EntityVirtualWall] = parseRRWalls(blk)
		case rrBlockGotoPath, rrBlockCleanedBlocks, rrBlockDigest:
			// not rendered
		}
		offset = end
	}

	if !hasImage {
		return nil, &SchemaError{Format: FormatRand256, Field: "image"}
	}

	if robot != nil {
		e := Entity{
			Kind:   EntityRobot,
			Points: []Point{rrPoint(robot.u16(0x08), robot.u16(0x0C))},
		}
		switch {
		case robot.length >= 12:
			e.Angle, e.HasAngle = float64(robot.i32(0x10)), true
		case hasHeading:
			e.Angle, e.HasAngle = pathAngle, true
		}
		snap.Entities[EntityRobot] = []Entity{e}
	}

	return snap, nil
}

// rrPoint converts device millimetres to map cells, flipping y
func rrPoint(x, y int) Point {
	return Point{
		X: float64(x) / rrMMPerCell,
		Y: float64(rrDimensionMM-y) / rrMMPerCell,
	}
}

// parseRRImage classifies every cell byte: low 3 bits 0 = outside,
// 1 = wall, otherwise floor with the segment id in the high 5 bits.
func parseRRImage(blk rrBlock, snap *MapSnapshot) error {
	g3 := 0
	segmentCount := 0
	if blk.hlen > 24 {
		g3 = 4
		segmentCount = blk.i32(0x08)
	}
	top := blk.i32(0x08 + g3)
	left := blk.i32(0x0C + g3)
	height := blk.i32(0x10 + g3)
	width := blk.i32(0x14 + g3)
	top = rrDimensionPixels - top - height

	if height <= 0 || width <= 0 {
		return nil
	}
	if left < 0 || top < 0 || left+width > rrDimensionPixels || top+height > rrDimensionPixels {
		return &GeometryError{Reason: fmt.Sprintf("image block %dx%d at (%d,%d) outside map grid", width, height, left, top)}
	}

	start := 0x18 + g3
	end := min(start+blk.length, len(blk.buf))
	if start > end {
		return decodeErr(FormatRand256, "image block shorter than its header")
	}

	var floor, walls []int
	segments := make(map[int][]int)
	var order []int
	for i, v := range blk.buf[start:end] {
		switch v & 0x07 {
		case 0:
			continue
		case 1:
			walls = append(walls, i)
		default:
			s := int(v&0xF8) >> 3
			if s == 0 || segmentCount == 0 {
				floor = append(floor, i)
				continue
			}
			if _, seen := segments[s]; !seen {
				order = append(order, s)
			}
			segments[s] = append(segments[s], i)
		}
	}

	if len(floor) > 0 {
		snap.Layers[LayerFloor] = IndexRuns(floor, width, height, left, top, 0)
	}
	if len(walls) > 0 {
		snap.Layers[LayerWall] = IndexRuns(walls, width, height, left, top, 0)
	}
	for _, s := range order {
		snap.addRoom(s, IndexRuns(segments[s], width, height, left, top, s))
	}
	return nil
}

// parseRRPath reads u16 point pairs and returns the heading of the last segment
func parseRRPath(blk rrBlock) (Entity, float64, bool) {
	kind := EntityPath
	if blk.typ == rrBlockGotoPredictedPath {
		kind = EntityPredictedPath
	}
	e := Entity{Kind: kind}
	var mm [][2]int
	for i := 0; i+4 <= blk.length; i += 4 {
		x, y := blk.u16(0x14+i), blk.u16(0x16+i)
		mm = append(mm, [2]int{x, rrDimensionMM - y})
		e.Points = append(e.Points, rrPoint(x, y))
	}
	if len(mm) < 2 {
		return e, 0, false
	}
	a, b := mm[len(mm)-2], mm[len(mm)-1]
	heading := math.Atan2(float64(b[1]-a[1]), float64(b[0]-a[0])) * 180 / math.Pi
	return e, heading, true
}

// parseRRRects reads x0,y0,x1,y1 rectangles into four-corner polygons
func parseRRRects(blk rrBlock) []Entity {
	count := blk.u32(0x08)
	var out []Entity
	for k := 0; k < count; k++ {
		off := 0x0C + k*8
		if off+8 > len(blk.buf) {
			break
		}
		p0 := rrPoint(blk.u16(off), blk.u16(off+2))
		p1 := rrPoint(blk.u16(off+4), blk.u16(off+6))
		out = append(out, Entity{Kind: EntityZone, Points: []Point{
			{X: p0.X, Y: p0.Y}, {X: p1.X, Y: p0.Y}, {X: p1.X, Y: p1.Y}, {X: p0.X, Y: p1.Y},
		}})
	}
	return out
}

// parseRRPolygons reads four-corner polygons of eight u16 values each
func parseRRPolygons(blk rrBlock, kind EntityKind) []Entity {
	count := blk.u32(0x08)
	var out []Entity
	for k := 0; k < count; k++ {
		off := 0x0C + k*16
		if off+16 > len(blk.buf) {
			break
		}
		e := Entity{Kind: kind}
		for c := 0; c < 4; c++ {
			e.Points = append(e.Points, rrPoint(blk.u16(off+c*4), blk.u16(off+c*4+2)))
		}
		out = append(out, e)
	}
	return out
}

// parseRRWalls reads x0,y0,x1,y1 line segments
func parseRRWalls(blk rrBlock) []Entity {
	count := blk.u32(0x08)
	var out []Entity
	for k := 0; k < count; k++ {
		off := 0x0C + k*8
		if off+8 > len(blk.buf) {
			break
		}
		out = append(out, Entity{Kind: EntityVirtualWall, Points: []Point{
			rrPoint(blk.u16(off), blk.u16(off+2)),
			rrPoint(blk.u16(off+4), blk.u16(off+6)),
		}})
	}
	return out
}
