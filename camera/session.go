package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic suffixes, relative to a vacuum's base topic
const (
	TopicHypferMap      = "/MapData/map-data"
	TopicHypferSegments = "/MapData/segments"
	TopicHypferStatus   = "/StatusStateAttribute/status"
	TopicHypferError    = "/StatusStateAttribute/error_description"
	TopicHypferBattery  = "/BatteryStateAttribute/level"
	TopicConnectivity   = "/$state"
	TopicRand256Map     = "/map_data"
	TopicRand256State   = "/state"
	TopicDestinations   = "/destinations"
	TopicCustomCommand  = "/custom_command"
	TopicAttributes     = "/attributes"
)

const (
	statusDocked       = "docked"
	statusIdle         = "idle"
	statusDisconnected = "disconnected"

	cmdGetDestinations  = "get_destinations"
	cmdSegmentedCleanup = "segmented_cleanup"
	cmdGoTo             = "go_to"
	cmdZonedCleanup     = "zoned_cleanup"
)

var (
	// ErrSessionClosed is returned by a session after Unsubscribe
	ErrSessionClosed = errors.New("session closed")
	// ErrNoPayload is returned by SavePayload before any image arrived
	ErrNoPayload = errors.New("no payload received yet")
)

// CommandPublisher sends outbound commands to the vacuum
type CommandPublisher interface {
	PublishCommand(ctx context.Context, topic string, payload []byte) error
}

// SessionOptions configure one vacuum session
type SessionOptions struct {
	VacuumID  string
	BaseTopic string
	Format    Format
	Decode    DecodeOptions

	// Renderer draws frames; nil uses the default options
	Renderer *Renderer
	// Pool runs decode and render work; nil runs it on the calling goroutine
	Pool      *Pool
	Publisher CommandPublisher
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Destination is one entry of the Rand256 room table
type Destination struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// sessionState is everything the message handlers mutate. It is guarded by
// Session.mu and never leaves the session except as a copy.
type sessionState struct {
	status        string
	battery       int
	errText       string
	ignoreData    bool
	destRequested bool
	lastCommand   string

	destinations   []Destination
	roomNames      map[int]string
	activeSegments []bool
}

// Session tracks one vacuum: connectivity, status, the single-slot image
// mailbox and the frame cache. Handlers are synchronous; only UpdateData
// waits, on the worker pool and on the one-shot destinations request.
type Session struct {
	id      string
	opts    SessionOptions
	logger  *zap.Logger
	metrics *Metrics
	conn    *connectivityMachine
	cache   *SnapshotCache
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once

	mu          sync.Mutex
	publisher   CommandPublisher
	state       sessionState
	slot        []byte
	dataIn      bool
	lastPayload []byte
	generation  uint64
	closed      bool
	updatedAt   time.Time
}

// NewSession creates a session in the disconnected state
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.VacuumID == "" {
		return nil, errors.New("session: vacuum id is required")
	}
	if opts.Format != FormatHypfer && opts.Format != FormatRand256 {
		return nil, fmt.Errorf("session %s: unsupported format %q", opts.VacuumID, opts.Format)
	}
	opts.BaseTopic = strings.TrimSuffix(opts.BaseTopic, "/")
	if opts.Renderer == nil {
		opts.Renderer = NewRenderer(DefaultRenderOptions())
	}

	s := &Session{
		id:      uuid.NewString(),
		opts:    opts,
		metrics: opts.Metrics,
		cache:   NewSnapshotCache(opts.Renderer),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		state:   sessionState{roomNames: make(map[int]string)},
	}
	s.publisher = opts.Publisher
	s.logger = orNop(opts.Logger).With(
		zap.String("vacuum", opts.VacuumID),
		zap.String("session", s.id),
		zap.String("format", string(opts.Format)),
	)
	s.conn = newConnectivityMachine(s.onConnectivity)
	return s, nil
}

// ID returns the session instance id
func (s *Session) ID() string { return s.id }

// VacuumID returns the configured vacuum id
func (s *Session) VacuumID() string { return s.opts.VacuumID }

// Format returns the vendor format of the session
func (s *Session) Format() Format { return s.opts.Format }

// BaseTopic returns the vacuum's base topic without a trailing slash
func (s *Session) BaseTopic() string { return s.opts.BaseTopic }

// Topics lists the full topics the session consumes
func (s *Session) Topics() []string {
	var suffixes []string
	switch s.opts.Format {
	case FormatHypfer:
		suffixes = []string{TopicHypferMap, TopicHypferSegments, TopicHypferStatus,
			TopicHypferError, TopicHypferBattery, TopicConnectivity}
	case FormatRand256:
		suffixes = []string{TopicRand256Map, TopicRand256State, TopicDestinations,
			TopicCustomCommand, TopicAttributes, TopicConnectivity}
	}
	topics := make([]string, len(suffixes))
	for i, suffix := range suffixes {
		topics[i] = s.opts.BaseTopic + suffix
	}
	return topics
}

// Updates signals when an image payload is waiting for UpdateData
func (s *Session) Updates() <-chan struct{} { return s.notify }

// Done is closed by Unsubscribe
func (s *Session) Done() <-chan struct{} { return s.done }

// HandleMessage applies one inbound message. Malformed payloads return an
// error and leave the session untouched; topics outside the session are ignored.
func (s *Session) HandleMessage(topic string, payload []byte) error {
	suffix, ok := strings.CutPrefix(topic, s.opts.BaseTopic)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	switch {
	case suffix == TopicHypferMap && s.opts.Format == FormatHypfer,
		suffix == TopicRand256Map && s.opts.Format == FormatRand256:
		s.offerLocked(payload)
		return nil
	case suffix == TopicConnectivity:
		return s.handleConnectivityLocked(string(payload))
	case suffix == TopicHypferStatus:
		s.setStatusLocked(strings.TrimSpace(string(payload)))
	case suffix == TopicHypferBattery:
		level, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil {
			return decodeErr(s.opts.Format, "battery level %q: %v", payload, err)
		}
		s.setBatteryLocked(level)
	case suffix == TopicHypferError:
		s.state.errText = strings.TrimSpace(string(payload))
	case suffix == TopicHypferSegments:
		return s.handleSegmentsLocked(payload)
	case suffix == TopicRand256State:
		return s.handleRand256StateLocked(payload)
	case suffix == TopicDestinations:
		return s.handleDestinationsLocked(payload)
	case suffix == TopicCustomCommand:
		return s.handleCommandLocked(payload)
	case suffix == TopicAttributes:
		return s.handleAttributesLocked(payload)
	default:
		return nil
	}
	s.touchLocked()
	return nil
}

// Seed offers a payload fetched out of band, e.g. from the vacuum's HTTP API
func (s *Session) Seed(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.offerLocked(payload)
}

// offerLocked puts an image payload into the mailbox. Hypfer drops the new
// payload while the slot is full; Rand256 overwrites it.
func (s *Session) offerLocked(payload []byte) bool {
	if s.opts.Format == FormatRand256 && s.conn.State() == ConnDisconnected {
		s.transitionLocked(ConnReady)
	}
	if s.state.ignoreData {
		s.metrics.dropPayload(s.opts.VacuumID, DropSuppressed)
		s.logger.Debug("image payload suppressed while docked", zap.Int("bytes", len(payload)))
		return false
	}
	if s.dataIn && s.opts.Format == FormatHypfer {
		s.metrics.dropPayload(s.opts.VacuumID, DropMailboxFull)
		s.logger.Debug("image payload dropped, previous one not consumed", zap.Int("bytes", len(payload)))
		return false
	}

	buf := append([]byte(nil), payload...)
	s.slot = buf
	s.lastPayload = buf
	s.dataIn = true
	s.signal()
	return true
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) touchLocked() {
	s.updatedAt = time.Now()
}

func (s *Session) handleConnectivityLocked(payload string) error {
	to, ok := ParseConnectivity(payload)
	if !ok {
		return decodeErr(s.opts.Format, "unknown connectivity %q", payload)
	}
	s.transitionLocked(to)
	s.touchLocked()
	return nil
}

// TransportLost is called when the broker connection drops. The session
// degrades exactly as if the vacuum had reported "disconnected".
func (s *Session) TransportLost(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.logger.Warn("transport lost", zap.Error(errors.Join(ErrTransportDisconnected, cause)))
	s.transitionLocked(ConnDisconnected)
	s.touchLocked()
}

// transitionLocked moves the connectivity machine. Every disconnected
// message degrades the session, even when the machine is already there.
func (s *Session) transitionLocked(to Connectivity) {
	if err := s.conn.Transition(context.Background(), to); err != nil {
		s.logger.Warn("connectivity transition failed", zap.String("to", string(to)), zap.Error(err))
	}
	if to == ConnDisconnected {
		s.degradeLocked()
	}
}

// onConnectivity runs inside transitionLocked, so s.mu is already held
func (s *Session) onConnectivity(from, to Connectivity) {
	s.logger.Info("connectivity changed", zap.String("from", string(from)), zap.String("to", string(to)))
	s.metrics.setConnected(s.opts.VacuumID, to == ConnReady)
}

func (s *Session) degradeLocked() {
	s.state.status = statusDisconnected
	s.state.ignoreData = false
	s.state.lastCommand = ""
	if s.lastPayload != nil {
		// re-offer the last map so the frame keeps being served
		s.slot = s.lastPayload
		s.dataIn = true
		s.signal()
	}
}

// setStatusLocked applies the docked suppression rule. A go-to or zone
// echo is consulted by the first docked status only; idle clears it too.
func (s *Session) setStatusLocked(status string) {
	s.state.status = status
	switch status {
	case statusDocked:
		s.state.ignoreData = !s.actionPendingLocked()
		s.state.lastCommand = ""
	case statusIdle:
		s.state.ignoreData = false
		s.state.lastCommand = ""
	default:
		s.state.ignoreData = false
	}
}

// actionPendingLocked reports an outstanding go-to or zone command, either
// drawn on the last map or echoed on the command topic.
func (s *Session) actionPendingLocked() bool {
	switch s.state.lastCommand {
	case cmdGoTo, cmdZonedCleanup:
		return true
	}
	if snap := s.cache.Snapshot(); snap != nil {
		return len(snap.Entities[EntityGoTo]) > 0 || len(snap.Entities[EntityZone]) > 0
	}
	return false
}

func (s *Session) setBatteryLocked(level int) {
	s.state.battery = level
	s.metrics.setBattery(s.opts.VacuumID, level)
}

func (s *Session) handleRand256StateLocked(payload []byte) error {
	var msg struct {
		State        string   `json:"state"`
		BatteryLevel *flexInt `json:"battery_level"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return decodeErr(s.opts.Format, "state message: %v", err)
	}
	if msg.State != "" {
		s.setStatusLocked(msg.State)
	}
	if msg.BatteryLevel != nil {
		s.setBatteryLocked(int(*msg.BatteryLevel))
	}
	s.touchLocked()
	return nil
}

func (s *Session) handleDestinationsLocked(payload []byte) error {
	var msg struct {
		Rooms []struct {
			ID   flexInt `json:"id"`
			Name string  `json:"name"`
		} `json:"rooms"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return decodeErr(s.opts.Format, "destinations: %v", err)
	}
	dests := make([]Destination, len(msg.Rooms))
	names := make(map[int]string, len(msg.Rooms))
	for i, room := range msg.Rooms {
		name := strings.TrimSpace(strings.ReplaceAll(room.Name, "#", ""))
		dests[i] = Destination{ID: int(room.ID), Name: name}
		names[int(room.ID)] = name
	}
	s.state.destinations = dests
	s.state.roomNames = names
	if len(s.state.activeSegments) != len(dests) {
		s.state.activeSegments = make([]bool, len(dests))
	}
	s.logger.Debug("destinations received", zap.Int("rooms", len(dests)))
	s.touchLocked()
	return nil
}

func (s *Session) handleCommandLocked(payload []byte) error {
	var msg struct {
		Command    string    `json:"command"`
		SegmentIDs []flexInt `json:"segment_ids"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return decodeErr(s.opts.Format, "command echo: %v", err)
	}
	s.state.lastCommand = msg.Command
	if msg.Command != cmdSegmentedCleanup {
		return nil
	}

	active := make([]bool, len(s.state.destinations))
	for _, id := range msg.SegmentIDs {
		for slot, dest := range s.state.destinations {
			if dest.ID == int(id) {
				active[slot] = true
				break
			}
		}
	}
	s.state.activeSegments = active
	s.touchLocked()
	return nil
}

func (s *Session) handleAttributesLocked(payload []byte) error {
	var msg struct {
		LastRunStats struct {
			ErrorDescription string `json:"errorDescription"`
		} `json:"last_run_stats"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return decodeErr(s.opts.Format, "attributes: %v", err)
	}
	s.state.errText = msg.LastRunStats.ErrorDescription
	s.touchLocked()
	return nil
}

func (s *Session) handleSegmentsLocked(payload []byte) error {
	var table map[string]string
	if err := json.Unmarshal(payload, &table); err != nil {
		return decodeErr(s.opts.Format, "segments: %v", err)
	}
	for key, name := range table {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		s.state.roomNames[id] = name
	}
	s.touchLocked()
	return nil
}

// DataAvailable reports whether an image payload is waiting in the mailbox
func (s *Session) DataAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataIn
}

type updateResult struct {
	snap     *MapSnapshot
	frame    *RenderedFrame
	rendered bool
}

// UpdateData consumes the mailbox and returns the current frame. The bool
// reports whether a new frame was rasterized. With nothing to do, or while
// rendering is suppressed, the previous frame is returned. A DecodeError
// means "no new data this cycle"; the previous frame stays valid.
func (s *Session) UpdateData(ctx context.Context) (*RenderedFrame, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrSessionClosed
	}
	if !s.dataIn {
		s.mu.Unlock()
		return s.cache.Frame(), false, nil
	}
	payload := s.slot
	s.slot, s.dataIn = nil, false
	if s.state.ignoreData {
		s.mu.Unlock()
		s.metrics.dropPayload(s.opts.VacuumID, DropSuppressed)
		return s.cache.Frame(), false, nil
	}
	gen := s.generation
	meta := s.metadataLocked()
	s.mu.Unlock()

	res, err := s.process(ctx, payload, meta)

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		s.metrics.dropPayload(s.opts.VacuumID, DropStale)
		return nil, false, ErrSessionClosed
	}
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrDecode) {
			s.metrics.dropPayload(s.opts.VacuumID, DropDecodeError)
		}
		s.logger.Warn("map update skipped", zap.Error(err))
		return s.cache.Frame(), false, err
	}
	if res.rendered {
		s.cache.Store(res.snap, res.frame)
	}
	s.touchLocked()
	pub := s.publisher
	request := s.opts.Format == FormatRand256 && !s.state.destRequested && pub != nil
	if request {
		s.state.destRequested = true
	}
	s.mu.Unlock()

	if request {
		s.requestDestinations(ctx, pub)
	}
	return res.frame, res.rendered, nil
}

// process decodes and renders on the pool. It never touches session state.
func (s *Session) process(ctx context.Context, payload []byte, meta Metadata) (updateResult, error) {
	work := func(ctx context.Context) (updateResult, error) {
		start := time.Now()
		snap, err := Decode(s.opts.Format, payload, s.opts.Decode)
		s.metrics.observeDecode(s.opts.VacuumID, s.opts.Format, time.Since(start), err)
		if err != nil {
			return updateResult{}, err
		}
		mergeMetadata(snap, meta)

		start = time.Now()
		frame, rendered, err := s.cache.Prepare(snap)
		s.metrics.observeRender(s.opts.VacuumID, time.Since(start), rendered, err)
		if err != nil {
			return updateResult{}, err
		}
		return updateResult{snap: snap, frame: frame, rendered: rendered}, nil
	}
	if s.opts.Pool == nil {
		return work(ctx)
	}
	return Run(ctx, s.opts.Pool, work)
}

// metadataLocked captures the out-of-band metadata merged into the next snapshot
func (s *Session) metadataLocked() Metadata {
	meta := Metadata{
		Status:    s.state.status,
		Battery:   s.state.battery,
		Error:     s.state.errText,
		RoomNames: make(map[int]string, len(s.state.roomNames)),
	}
	for id, name := range s.state.roomNames {
		meta.RoomNames[id] = name
	}
	for slot, on := range s.state.activeSegments {
		if on && slot < len(s.state.destinations) {
			meta.ActiveSegments = append(meta.ActiveSegments, s.state.destinations[slot].ID)
		}
	}
	return meta
}

// mergeMetadata fills session status into a fresh snapshot. Names and active
// segments carried by the map itself win over the out-of-band tables.
func mergeMetadata(snap *MapSnapshot, meta Metadata) {
	snap.Metadata.Status = meta.Status
	snap.Metadata.Battery = meta.Battery
	snap.Metadata.Error = meta.Error
	if snap.Metadata.RoomNames == nil {
		snap.Metadata.RoomNames = make(map[int]string, len(meta.RoomNames))
	}
	for id, name := range meta.RoomNames {
		if _, ok := snap.Metadata.RoomNames[id]; !ok {
			snap.Metadata.RoomNames[id] = name
		}
	}
	if len(snap.Metadata.ActiveSegments) == 0 {
		snap.Metadata.ActiveSegments = meta.ActiveSegments
	}
}

func (s *Session) requestDestinations(ctx context.Context, pub CommandPublisher) {
	payload, _ := json.Marshal(map[string]string{"command": cmdGetDestinations})
	topic := s.opts.BaseTopic + TopicCustomCommand
	err := pub.PublishCommand(ctx, topic, payload)
	s.metrics.commandPublished(s.opts.VacuumID, cmdGetDestinations, err)
	if err != nil {
		s.logger.Warn("requesting destinations failed", zap.String("topic", topic), zap.Error(err))
		s.ResetDestinationsRequest()
		return
	}
	s.logger.Info("destinations requested", zap.String("topic", topic))
}

// SetPublisher replaces the command publisher. Passing nil disables
// outbound commands.
func (s *Session) SetPublisher(p CommandPublisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

// HasPublisher reports whether outbound commands are enabled
func (s *Session) HasPublisher() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisher != nil
}

// ResetDestinationsRequest re-arms the one-shot destinations request
func (s *Session) ResetDestinationsRequest() {
	s.mu.Lock()
	s.state.destRequested = false
	s.mu.Unlock()
}

// Run calls UpdateData whenever a payload arrives and hands every newly
// rasterized frame to onFrame. It returns when ctx ends or the session closes.
func (s *Session) Run(ctx context.Context, onFrame func(*RenderedFrame)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-s.notify:
		}

		frame, rendered, err := s.UpdateData(ctx)
		switch {
		case errors.Is(err, ErrSessionClosed):
			return nil
		case err != nil:
			continue
		case rendered && onFrame != nil:
			onFrame(frame)
		}
	}
}

// Frame returns the last rendered frame, or nil
func (s *Session) Frame() *RenderedFrame { return s.cache.Frame() }

// Snapshot returns the snapshot of the last rendered frame, or nil
func (s *Session) Snapshot() *MapSnapshot { return s.cache.Snapshot() }

// Renderer returns the rasterizer the session draws frames with
func (s *Session) Renderer() *Renderer { return s.cache.Renderer() }

// Connectivity returns the transport state
func (s *Session) Connectivity() Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.State()
}

// Destinations returns a copy of the Rand256 room table
func (s *Session) Destinations() []Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Destination(nil), s.state.destinations...)
}

// Status returns the status record for the host
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn.State()
	st := Status{
		VacuumID:       s.opts.VacuumID,
		State:          s.state.status,
		Battery:        s.state.battery,
		Error:          s.state.errText,
		Connected:      conn == ConnReady,
		Connection:     string(conn),
		RoomNames:      make(map[int]string, len(s.state.roomNames)),
		ActiveSegments: append([]bool(nil), s.state.activeSegments...),
		UpdatedAt:      s.updatedAt,
	}
	for id, name := range s.state.roomNames {
		st.RoomNames[id] = name
	}
	return st
}

// SavePayload writes the last image payload verbatim to <dir>/<vacuum>.raw
func (s *Session) SavePayload(dir string) (string, error) {
	s.mu.Lock()
	payload := s.lastPayload
	s.mu.Unlock()
	if payload == nil {
		return "", ErrNoPayload
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	path := filepath.Join(dir, s.opts.VacuumID+".raw")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("writing raw payload: %w", err)
	}
	s.logger.Info("raw payload saved", zap.String("path", path), zap.Int("bytes", len(payload)))
	return path, nil
}

// Unsubscribe tears the session down. Results of work still in flight are
// discarded. Calling it again is a no-op.
func (s *Session) Unsubscribe() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.generation++
		s.slot, s.dataIn = nil, false
	}
	s.mu.Unlock()
	s.once.Do(func() {
		close(s.done)
		s.logger.Info("session closed")
	})
}
