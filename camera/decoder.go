package camera

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// DecodeOptions tune how a payload is turned into a snapshot
type DecodeOptions struct {
	// NativeUnits marks Hypfer documents whose size and entity coordinates are
	// expressed in device units (size * pixelSize) rather than map cells.
	NativeUnits bool
}

// Decode decompresses and parses a vendor payload into a snapshot
func Decode(format Format, payload []byte, opts DecodeOptions) (*MapSnapshot, error) {
	var (
		snap *MapSnapshot
		err  error
	)
	switch format {
	case FormatHypfer:
		var doc []byte
		doc, err = InflateHypfer(payload)
		if err != nil {
			return nil, err
		}
		snap, err = ParseHypfer(doc, opts)
	case FormatRand256:
		var blob []byte
		blob, err = GunzipRand256(payload)
		if err != nil {
			return nil, err
		}
		snap, err = ParseRand256(blob)
	default:
		return nil, decodeErr(format, "unsupported format")
	}
	if err != nil {
		return nil, err
	}
	snap.DecodedAt = time.Now()
	return snap, nil
}

// DecodeFile reads a payload from disk and decodes it
func DecodeFile(path string, format Format, opts DecodeOptions) (*MapSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload file: %w", err)
	}
	return Decode(format, data, opts)
}

// InflateHypfer extracts the JSON document from a Hypfer payload:
// - PNG with a zTXt chunk
// - raw JSON
// - zlib-compressed JSON
// - raw DEFLATE stream
func InflateHypfer(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, decodeErr(FormatHypfer, "empty payload")
	}

	var (
		doc []byte
		err error
	)
	switch {
	case IsPNG(data):
		doc, err = extractPNGzTXt(data)
		if err != nil {
			return nil, &DecodeError{Format: FormatHypfer, Err: fmt.Errorf("extracting PNG zTXt: %w", err)}
		}
	case firstByte(data) == '{':
		doc = data
	default:
		doc, err = inflateZlib(data)
		if err != nil {
			doc, err = inflateRaw(data)
		}
		if err != nil {
			return nil, decodeErr(FormatHypfer, "unknown container: not PNG, JSON, zlib or deflate")
		}
	}

	if len(doc) == 0 {
		return nil, decodeErr(FormatHypfer, "decoded document is empty")
	}
	return doc, nil
}

// GunzipRand256 returns the binary map blob of a Rand256 payload.
// Payloads already carrying the "rr" magic are returned as-is.
func GunzipRand256(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, decodeErr(FormatRand256, "payload too short")
	}
	if isRRMap(data) {
		return data, nil
	}
	if data[0] != 0x1f || data[1] != 0x8b {
		return nil, decodeErr(FormatRand256, "not a gzip stream")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: FormatRand256, Err: fmt.Errorf("creating gzip reader: %w", err)}
	}
	defer func() { _ = reader.Close() }()

	blob, err := io.ReadAll(reader)
	if err != nil {
		return nil, &DecodeError{Format: FormatRand256, Err: fmt.Errorf("decompressing gzip data: %w", err)}
	}
	return blob, nil
}

// IsPNG checks if data starts with PNG magic bytes
func IsPNG(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G'
}

// extractPNGzTXt walks PNG chunks (length, type, data, CRC) and inflates
// the first zTXt chunk.
func extractPNGzTXt(data []byte) ([]byte, error) {
	pos := 8
	for pos+12 <= len(data) {
		chunkLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		chunkType := string(data[pos+4 : pos+8])
		pos += 8

		if chunkLen < 0 || pos+chunkLen+4 > len(data) {
			return nil, fmt.Errorf("truncated PNG chunk %q", chunkType)
		}

		if chunkType == "zTXt" {
			return extractZTXtData(data[pos : pos+chunkLen])
		}
		if chunkType == "IEND" {
			break
		}
		pos += chunkLen + 4
	}
	return nil, fmt.Errorf("no zTXt chunk found in PNG")
}

// extractZTXtData parses keyword\0method compressed_text
func extractZTXtData(chunk []byte) ([]byte, error) {
	nullIdx := bytes.IndexByte(chunk, 0)
	if nullIdx == -1 || nullIdx+1 >= len(chunk) {
		return nil, fmt.Errorf("malformed zTXt chunk")
	}
	if method := chunk[nullIdx+1]; method != 0 {
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
	return inflateZlib(chunk[nullIdx+2:])
}

func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return out, nil
}

func inflateRaw(data []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing deflate data: %w", err)
	}
	if firstByte(out) != '{' {
		return nil, fmt.Errorf("deflate stream is not a JSON document")
	}
	return out, nil
}
