package camera

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// squareHypferDoc returns a Valetudo document with one floor layer covering
// a size x size area, a robot and a charger.
func squareHypferDoc(size, pixelSize int, robot, charger [2]int, angle float64) []byte {
	var floor []string
	for y := 0; y < size; y++ {
		floor = append(floor, fmt.Sprintf("0,%d,%d", y, size))
	}
	return []byte(fmt.Sprintf(`{
		"__class": "ValetudoMap",
		"metaData": {"version": 2, "nonce": "n-%d"},
		"size": {"x": %d, "y": %d},
		"pixelSize": %d,
		"layers": [
			{"__class": "MapLayer", "type": "floor", "compressedPixels": [%s], "metaData": {"area": 1}}
		],
		"entities": [
			{"__class": "PointMapEntity", "type": "robot_position", "points": [%d, %d], "metaData": {"angle": %g}},
			{"__class": "PointMapEntity", "type": "charger_location", "points": [%d, %d], "metaData": {}}
		]
	}`, size, size, size, pixelSize, strings.Join(floor, ","), robot[0], robot[1], angle, charger[0], charger[1]))
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// rrBuilder assembles Rand256 map blobs block by block
type rrBuilder struct {
	buf bytes.Buffer
}

func newRRBlob(mapIndex, sequence uint16) *rrBuilder {
	b := &rrBuilder{}
	header := make([]byte, rrHeaderSize)
	header[0], header[1] = 'r', 'r'
	binary.LittleEndian.PutUint16(header[0x02:], rrHeaderSize)
	binary.LittleEndian.PutUint16(header[0x08:], 1)
	binary.LittleEndian.PutUint16(header[0x0C:], mapIndex)
	binary.LittleEndian.PutUint16(header[0x10:], sequence)
	b.buf.Write(header)
	return b
}

// block appends a block whose header is 8 bytes plus extra, followed by data
func (b *rrBuilder) block(typ uint16, extra, data []byte) *rrBuilder {
	head := make([]byte, 8)
	binary.LittleEndian.PutUint16(head[0:], typ)
	binary.LittleEndian.PutUint16(head[2:], uint16(8+len(extra)))
	binary.LittleEndian.PutUint32(head[4:], uint32(len(data)))
	b.buf.Write(head)
	b.buf.Write(extra)
	b.buf.Write(data)
	return b
}

func (b *rrBuilder) image(top, left, height, width int32, cells []byte) *rrBuilder {
	extra := le32(top, left, height, width)
	return b.block(rrBlockImage, extra, cells)
}

func (b *rrBuilder) imageWithSegments(segments, top, left, height, width int32, cells []byte) *rrBuilder {
	extra := le32(segments, top, left, height, width)
	return b.block(rrBlockImage, extra, cells)
}

func (b *rrBuilder) position(typ uint16, x, y uint32, angle int32) *rrBuilder {
	return b.block(typ, nil, le32(int32(x), int32(y), angle))
}

func (b *rrBuilder) path(typ uint16, points ...[2]uint16) *rrBuilder {
	extra := le32(int32(len(points)), int32(len(points)*4), 0)
	var data []byte
	for _, p := range points {
		data = append(data, le16(p[0], p[1])...)
	}
	return b.block(typ, extra, data)
}

func (b *rrBuilder) gotoTarget(x, y uint16) *rrBuilder {
	return b.block(rrBlockGotoTarget, nil, le16(x, y))
}

func (b *rrBuilder) zones(typ uint16, values ...[]uint16) *rrBuilder {
	extra := le32(int32(len(values)))
	var data []byte
	for _, v := range values {
		data = append(data, le16(v...)...)
	}
	return b.block(typ, extra, data)
}

func (b *rrBuilder) bytes() []byte {
	return b.buf.Bytes()
}

func le16(values ...uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func le32(values ...int32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
	}
	return out
}
