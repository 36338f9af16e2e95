package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kwv/tudocam/camera"
)

// hypferDoc returns an uncompressed Valetudo map: a size x size floor, one
// room in the top-left quarter, a robot and a charger
func hypferDoc(size int, nonce string) []byte {
	var floor, room []string
	for y := 0; y < size; y++ {
		floor = append(floor, fmt.Sprintf("0,%d,%d", y, size))
		if y < size/2 {
			room = append(room, fmt.Sprintf("0,%d,%d", y, size/2))
		}
	}
	return []byte(fmt.Sprintf(`{
		"__class": "ValetudoMap",
		"metaData": {"version": 2, "nonce": %q},
		"size": {"x": %d, "y": %d},
		"pixelSize": 2,
		"layers": [
			{"__class": "MapLayer", "type": "floor", "compressedPixels": [%s], "metaData": {"area": 1}},
			{"__class": "MapLayer", "type": "segment", "compressedPixels": [%s], "metaData": {"segmentId": "4", "name": "Kitchen", "active": false, "area": 1}}
		],
		"entities": [
			{"__class": "PointMapEntity", "type": "robot_position", "points": [%d, %d], "metaData": {"angle": 90}},
			{"__class": "PointMapEntity", "type": "charger_location", "points": [2, 2], "metaData": {}}
		]
	}`, nonce, size, size, strings.Join(floor, ","), strings.Join(room, ","), size/2, size/2))
}

const testConfigYAML = `mqtt:
  broker: "tcp://localhost:1883"
vacuums:
  - id: rocky
    topic: valetudo/rocky
    format: hypfer
  - id: robo
    topic: valetudo/robo/
    format: rand256
    colors:
      floor: "#101010"
`

// newTestApp builds an initialized App without a broker connection
func newTestApp(t *testing.T, mutate func(*camera.Config)) *App {
	t.Helper()
	cfg, err := camera.ParseConfig([]byte(testConfigYAML))
	require.NoError(t, err)
	cfg.SnapshotDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	a := NewApp(nil)
	a.Logger = zap.NewNop()
	require.NoError(t, a.Init(cfg))
	t.Cleanup(a.shutdown)
	return a
}

// seedFrame pushes a Hypfer document through the session and waits for the frame
func seedFrame(t *testing.T, a *App, id string, doc []byte) *camera.RenderedFrame {
	t.Helper()
	s := a.Session(id)
	require.NotNil(t, s)
	require.True(t, s.Seed(doc))
	frame, rendered, err := s.UpdateData(context.Background())
	require.NoError(t, err)
	require.True(t, rendered)
	return frame
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNewApp(t *testing.T) {
	app := NewApp(nil)
	require.NotNil(t, app)
	assert.NotNil(t, app.byID)
	assert.Nil(t, app.Session("rocky"))
}

func TestApplyOptions(t *testing.T) {
	app := NewApp(nil)
	opts := AppOptions{ConfigFile: "test-config.yaml", Format: "rand256", HttpPort: 9090}
	app.ApplyOptions(opts)
	assert.Equal(t, opts, app.opts)
}

func TestRunDecode(t *testing.T) {
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{DecodeFile: writeTemp(t, "rocky.json", hypferDoc(20, "abc")), Format: "hypfer"})

	require.NoError(t, app.RunDecode())
	text := out.String()
	assert.Contains(t, text, "=== rocky.json ===")
	assert.Contains(t, text, "Map Size: 20x20 (pixel size: 2)")
	assert.Contains(t, text, "Nonce: abc")
	assert.Contains(t, text, "Layer floor: 20 spans, 400 cells")
	assert.Contains(t, text, "Robot Position: (10, 10) angle: 90°")
	assert.Contains(t, text, "Segments: 1 [Kitchen]")
}

func TestRunDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		file   func(t *testing.T) string
		format string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.raw") }, "hypfer"},
		{"garbage", func(t *testing.T) string { return writeTemp(t, "x.raw", []byte("not a map")) }, "hypfer"},
		{"unknown format", func(t *testing.T) string { return writeTemp(t, "x.json", hypferDoc(4, "n")) }, "roomba"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(nil)
			app.ApplyOptions(AppOptions{DecodeFile: tt.file(t), Format: tt.format})
			assert.Error(t, app.RunDecode())
		})
	}
}

func TestRunRender(t *testing.T) {
	input := writeTemp(t, "rocky.json", hypferDoc(20, "abc"))

	tests := []struct {
		name   string
		output string
		check  func(t *testing.T, data []byte)
	}{
		{
			name:   "png",
			output: "map.png",
			check: func(t *testing.T, data []byte) {
				img, err := png.Decode(bytes.NewReader(data))
				require.NoError(t, err)
				assert.Equal(t, 40, img.Bounds().Dy(), "rotated 90 keeps a square")
			},
		},
		{
			name:   "svg",
			output: "map.svg",
			check: func(t *testing.T, data []byte) {
				assert.Contains(t, string(data), "<svg")
			},
		},
		{
			name:   "geojson",
			output: "map.geojson",
			check: func(t *testing.T, data []byte) {
				var doc map[string]any
				require.NoError(t, json.Unmarshal(data, &doc))
				assert.Equal(t, "FeatureCollection", doc["type"])
				assert.Equal(t, "abc", doc["nonce"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			output := filepath.Join(t.TempDir(), tt.output)
			app := NewApp(&out)
			app.ApplyOptions(AppOptions{RenderFile: input, OutputFile: output, Format: "hypfer", Rotation: 90})

			require.NoError(t, app.RunRender())
			assert.Contains(t, out.String(), "Created: "+output)
			data, err := os.ReadFile(output)
			require.NoError(t, err)
			tt.check(t, data)
		})
	}
}

func TestInit_Sessions(t *testing.T) {
	a := newTestApp(t, nil)

	require.Len(t, a.sessions, 2)
	rocky := a.Session("rocky")
	require.NotNil(t, rocky)
	assert.Equal(t, camera.FormatHypfer, rocky.Format())
	assert.Equal(t, "valetudo/rocky", rocky.BaseTopic())

	robo := a.Session("robo")
	require.NotNil(t, robo)
	assert.Equal(t, "valetudo/robo", robo.BaseTopic())
	assert.Equal(t, uint8(0x10), robo.Renderer().Options().Palette.Floor.R)

	assert.Equal(t, 2, a.Pool.Workers())
	assert.NotNil(t, a.Metrics)
}

func TestInit_OptionOverrides(t *testing.T) {
	cfg, err := camera.ParseConfig([]byte(testConfigYAML))
	require.NoError(t, err)

	a := NewApp(nil)
	a.Logger = zap.NewNop()
	a.ApplyOptions(AppOptions{HttpPort: 9191, LogLevel: "debug"})
	require.NoError(t, a.Init(cfg))
	t.Cleanup(a.shutdown)

	assert.Equal(t, 9191, a.Config.HTTP.Port)
	assert.Equal(t, "debug", a.Config.Log.Level)
}

func TestInit_BadColors(t *testing.T) {
	cfg := &camera.Config{
		Workers: 1,
		Vacuums: []camera.VacuumConfig{{
			ID: "x", Topic: "t", Format: camera.FormatHypfer,
			Colors: map[string]string{"floor": "zzz"},
		}},
	}
	a := NewApp(nil)
	a.Logger = zap.NewNop()
	t.Cleanup(a.shutdown)
	assert.Error(t, a.Init(cfg))
}

func TestServe_SeedsPublishesAndStops(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(hypferDoc(16, "from-api"))
	}))
	defer api.Close()

	a := newTestApp(t, func(cfg *camera.Config) {
		cfg.HTTP.Port = 0
		cfg.Vacuums[0].ApiURL = api.URL
	})
	broker := camera.NewMockClient()
	broker.SetConnected(true)
	a.Publisher = camera.NewPublisher(broker, "tudocam", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	rocky := a.Session("rocky")
	require.Eventually(t, func() bool { return rocky.Frame() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "from-api", rocky.Snapshot().Metadata.Nonce)

	require.Eventually(t, func() bool {
		return len(broker.PublishedTo("tudocam/rocky/map")) == 1 &&
			len(broker.PublishedTo("tudocam/rocky/status")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	var status camera.Status
	require.NoError(t, json.Unmarshal(broker.PublishedTo("tudocam/rocky/status")[0].Payload, &status))
	assert.Equal(t, "rocky", status.VacuumID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not stop")
	}
	assert.False(t, rocky.Seed(hypferDoc(16, "late")), "sessions are closed after shutdown")
}
