package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher sends rendered frames and status records back to the broker:
// the PNG to <prefix>/<vacuum>/map and the status JSON to
// <prefix>/<vacuum>/status, both retained.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	timeout       time.Duration
	logger        *zap.Logger

	mu        sync.RWMutex
	lastFrame map[string]string
}

// NewPublisher creates a publisher. With a nil client publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = defaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		timeout:       2 * time.Second,
		logger:        orNop(logger).Named("publisher"),
		lastFrame:     make(map[string]string),
	}
}

// MapTopic returns the topic frames of a vacuum are published to
func (p *Publisher) MapTopic(vacuumID string) string {
	return fmt.Sprintf("%s/%s/map", p.publishPrefix, vacuumID)
}

// StatusTopic returns the topic status records of a vacuum are published to
func (p *Publisher) StatusTopic(vacuumID string) string {
	return fmt.Sprintf("%s/%s/status", p.publishPrefix, vacuumID)
}

// PublishFrame publishes a frame as PNG. A frame already published for the
// vacuum is not sent twice.
func (p *Publisher) PublishFrame(ctx context.Context, vacuumID string, frame *RenderedFrame) error {
	if frame == nil {
		return nil
	}
	p.mu.RLock()
	same := p.lastFrame[vacuumID] == frame.ID
	p.mu.RUnlock()
	if same {
		return nil
	}

	data, err := frame.PNG()
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.MapTopic(vacuumID), data); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastFrame[vacuumID] = frame.ID
	p.mu.Unlock()
	p.logger.Debug("frame published",
		zap.String("vacuum", vacuumID),
		zap.String("frame", frame.ID),
		zap.Int("bytes", len(data)))
	return nil
}

// PublishStatus publishes the status record as JSON
func (p *Publisher) PublishStatus(ctx context.Context, status Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	return p.publish(ctx, p.StatusTopic(status.VacuumID), payload)
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrTransportDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return waitToken(ctx, p.client.Publish(topic, p.qos, p.retain, payload), topic)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
