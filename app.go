package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/tudocam/camera"
)

const shutdownTimeout = 5 * time.Second

// App encapsulates the application state and dependencies
type App struct {
	Config     *camera.Config
	Logger     *zap.Logger
	Metrics    *camera.Metrics
	Pool       *camera.Pool
	MQTTClient *camera.MQTTClient
	Publisher  *camera.Publisher

	sessions []*camera.Session
	byID     map[string]*camera.Session

	out  io.Writer
	opts AppOptions
}

// NewApp creates a new App writing one-shot output to out
func NewApp(out io.Writer) *App {
	if out == nil {
		out = io.Discard
	}
	return &App{out: out, byID: make(map[string]*camera.Session)}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

func (a *App) decodeOptions() camera.DecodeOptions {
	return camera.DecodeOptions{NativeUnits: a.opts.NativeUnits}
}

// RunDecode decodes one payload file and prints what it contains
func (a *App) RunDecode() error {
	snap, err := camera.DecodeFile(a.opts.DecodeFile, camera.Format(a.opts.Format), a.decodeOptions())
	if err != nil {
		return err
	}
	printSummary(a.out, a.opts.DecodeFile, snap)
	return nil
}

func printSummary(w io.Writer, path string, snap *camera.MapSnapshot) {
	fmt.Fprintf(w, "=== %s ===\n", filepath.Base(path))
	fmt.Fprintf(w, "Format: %s\n", snap.Format)
	fmt.Fprintf(w, "Map Size: %dx%d (pixel size: %d)\n", snap.Size.X, snap.Size.Y, snap.PixelSize)
	fmt.Fprintf(w, "Nonce: %s\n", snap.Metadata.Nonce)

	kinds := make([]string, 0, len(snap.Layers))
	for kind := range snap.Layers {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		spans := snap.Layers[camera.LayerKind(k)]
		cells := 0
		for _, sp := range spans {
			cells += sp.Length
		}
		fmt.Fprintf(w, "Layer %s: %d spans, %d cells\n", k, len(spans), cells)
	}

	if robot, ok := snap.Entity(camera.EntityRobot); ok && len(robot.Points) > 0 {
		fmt.Fprintf(w, "Robot Position: (%.0f, %.0f) angle: %.0f°\n", robot.Points[0].X, robot.Points[0].Y, robot.Angle)
	}
	if charger, ok := snap.Entity(camera.EntityCharger); ok && len(charger.Points) > 0 {
		fmt.Fprintf(w, "Charger Position: (%.0f, %.0f)\n", charger.Points[0].X, charger.Points[0].Y)
	}

	rooms := snap.RoomSegments()
	fmt.Fprintf(w, "Segments: %d", len(rooms))
	if len(rooms) > 0 {
		names := make([]string, 0, len(rooms))
		for _, id := range rooms {
			name := snap.Metadata.RoomNames[id]
			if name == "" {
				name = fmt.Sprint(id)
			}
			names = append(names, name)
		}
		fmt.Fprintf(w, " [%s]", strings.Join(names, ", "))
	}
	fmt.Fprintln(w)

	entities := make([]string, 0, len(snap.Entities))
	for kind, list := range snap.Entities {
		entities = append(entities, fmt.Sprintf("%s=%d", kind, len(list)))
	}
	sort.Strings(entities)
	fmt.Fprintf(w, "Entities: %s\n", strings.Join(entities, " "))
}

// RunRender decodes one payload file and writes it as PNG, SVG or GeoJSON,
// chosen by the output extension
func (a *App) RunRender() error {
	snap, err := camera.DecodeFile(a.opts.RenderFile, camera.Format(a.opts.Format), a.decodeOptions())
	if err != nil {
		return err
	}

	f, err := os.Create(a.opts.OutputFile)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := a.writeRender(f, snap); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	fmt.Fprintf(a.out, "Created: %s\n", a.opts.OutputFile)
	return nil
}

func (a *App) writeRender(w io.Writer, snap *camera.MapSnapshot) error {
	switch strings.ToLower(filepath.Ext(a.opts.OutputFile)) {
	case ".svg":
		return camera.NewVectorRenderer(camera.DefaultPalette()).RenderToSVG(w, snap)
	case ".geojson", ".json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(camera.SnapshotGeoJSON(snap, camera.DefaultPathTolerance))
	default:
		opts := camera.DefaultRenderOptions()
		opts.Rotation = a.opts.Rotation
		opts.Trim = a.opts.Trim
		frame, err := camera.NewRenderer(opts).Render(snap)
		if err != nil {
			return err
		}
		return frame.EncodePNG(w)
	}
}

// Init builds the logger, metrics, worker pool and one session per vacuum
func (a *App) Init(cfg *camera.Config) error {
	a.Config = cfg
	if a.opts.LogLevel != "" {
		cfg.Log.Level = a.opts.LogLevel
	}
	if a.opts.HttpPort != 0 {
		cfg.HTTP.Port = a.opts.HttpPort
	}

	if a.Logger == nil {
		logger, err := camera.NewLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		a.Logger = logger
	}
	if a.Metrics == nil {
		a.Metrics = camera.NewMetrics()
	}
	a.Pool = camera.NewPool(cfg.Workers, a.Logger.Named("pool"))

	for _, vc := range cfg.Vacuums {
		ropts, err := vc.RenderOptions()
		if err != nil {
			return fmt.Errorf("vacuum %s: %w", vc.ID, err)
		}
		s, err := camera.NewSession(camera.SessionOptions{
			VacuumID:  vc.ID,
			BaseTopic: vc.Topic,
			Format:    vc.Format,
			Decode:    camera.DecodeOptions{NativeUnits: vc.NativeUnits},
			Renderer:  camera.NewRenderer(ropts),
			Pool:      a.Pool,
			Logger:    a.Logger,
			Metrics:   a.Metrics,
		})
		if err != nil {
			return err
		}
		a.sessions = append(a.sessions, s)
		a.byID[vc.ID] = s
	}
	a.Logger.Info("sessions created",
		zap.Int("vacuums", len(a.sessions)),
		zap.Int("workers", a.Pool.Workers()))
	return nil
}

// Session returns the session of a vacuum, or nil
func (a *App) Session(id string) *camera.Session {
	return a.byID[id]
}

// RunService loads the config and serves MQTT and HTTP until interrupted
func (a *App) RunService() error {
	cfg, err := camera.LoadConfig(a.opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", a.opts.ConfigFile, err)
	}
	if err := a.Init(cfg); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	client, err := camera.NewMQTTClient(cfg, a.sessions, a.Logger)
	if err != nil {
		return err
	}
	a.MQTTClient = client
	a.Publisher = camera.NewPublisher(client.GetClient(), cfg.MQTT.PublishPrefix, a.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Start(ctx)
	a.Logger.Info("service running",
		zap.String("config", a.opts.ConfigFile),
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("publishPrefix", cfg.MQTT.PublishPrefix),
		zap.Int("httpPort", cfg.HTTP.Port))
	return a.Serve(ctx)
}

// Serve runs the session loops and the HTTP server until ctx ends, then
// tears everything down
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, vc := range a.Config.Vacuums {
		if vc.ApiURL == "" || vc.Format != camera.FormatHypfer {
			continue
		}
		s := a.byID[vc.ID]
		url := vc.ApiURL
		g.Go(func() error {
			a.seed(gctx, s, url)
			return nil
		})
	}

	for _, s := range a.sessions {
		g.Go(func() error {
			err := s.Run(gctx, func(frame *camera.RenderedFrame) {
				a.publishFrame(gctx, s, frame)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.Config.HTTP.Port),
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.Logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("http shutdown", zap.Error(err))
		}
		a.shutdown()
		return nil
	})

	err := g.Wait()
	a.Logger.Info("service stopped", zap.Error(err))
	return err
}

// shutdown closes sessions, the broker connection and the pool, in that order
func (a *App) shutdown() {
	for _, s := range a.sessions {
		if a.MQTTClient != nil {
			a.MQTTClient.Unsubscribe(s)
		}
		s.Unsubscribe()
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Pool != nil {
		if err := a.Pool.Shutdown(); err != nil {
			a.Logger.Warn("pool shutdown", zap.Error(err))
		}
	}
}

// seed fetches the current map over HTTP so the first frame does not wait
// for the vacuum to publish
func (a *App) seed(ctx context.Context, s *camera.Session, url string) {
	payload, err := camera.FetchMapPayload(ctx, url)
	if err != nil {
		a.Logger.Warn("initial map fetch failed",
			zap.String("vacuum", s.VacuumID()),
			zap.String("url", url),
			zap.Error(err))
		return
	}
	if s.Seed(payload) {
		a.Logger.Info("initial map seeded",
			zap.String("vacuum", s.VacuumID()),
			zap.Int("bytes", len(payload)))
	}
}

func (a *App) publishFrame(ctx context.Context, s *camera.Session, frame *camera.RenderedFrame) {
	if a.Publisher == nil {
		return
	}
	id := s.VacuumID()
	if err := a.Publisher.PublishFrame(ctx, id, frame); err != nil {
		a.Logger.Warn("frame publish failed", zap.String("vacuum", id), zap.Error(err))
	}
	if err := a.Publisher.PublishStatus(ctx, s.Status()); err != nil {
		a.Logger.Warn("status publish failed", zap.String("vacuum", id), zap.Error(err))
	}
}
