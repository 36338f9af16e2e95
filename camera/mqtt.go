package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTClient manages the broker connection and routes vacuum topics to sessions
type MQTTClient struct {
	client   mqtt.Client
	sessions []*Session
	logger   *zap.Logger

	mu          sync.RWMutex
	isConnected bool
}

// NewMQTTClient builds the paho client from config. The connection is not
// opened until Start.
func NewMQTTClient(config *Config, sessions []*Session, logger *zap.Logger) (*MQTTClient, error) {
	if config == nil || config.MQTT.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if len(sessions) == 0 {
		return nil, errors.New("mqtt: no vacuum sessions to route to")
	}

	c := &MQTTClient{sessions: sessions, logger: orNop(logger).Named("mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTT.Broker)
	opts.SetClientID(config.MQTT.ClientID)
	if config.MQTT.Username != "" {
		opts.SetUsername(config.MQTT.Username)
		opts.SetPassword(config.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// per-vacuum ordering is required by the session state machine
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	c.attach()
	return c, nil
}

// newMQTTClientWithClient wraps an existing mqtt.Client, used with MockClient
func newMQTTClientWithClient(client mqtt.Client, sessions []*Session, logger *zap.Logger) *MQTTClient {
	c := &MQTTClient{client: client, sessions: sessions, logger: orNop(logger).Named("mqtt")}
	c.attach()
	return c
}

// attach makes the client the command publisher of every session that has none
func (c *MQTTClient) attach() {
	for _, s := range c.sessions {
		if !s.HasPublisher() {
			s.SetPublisher(c)
		}
	}
}

// Start connects in the background, retrying with exponential backoff until
// ctx is cancelled.
func (c *MQTTClient) Start(ctx context.Context) {
	go c.connectWithRetry(ctx)
}

func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info("connecting to MQTT broker")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.logger.Warn("MQTT connection failed", zap.Error(token.Error()))
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Info("retrying MQTT connection", zap.Duration("delay", retryDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

// onConnect subscribes every session topic. It runs again after each reconnect.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected, subscribing to vacuum topics")
	c.setConnected(true)

	for _, s := range c.sessions {
		for _, topic := range s.Topics() {
			token := client.Subscribe(topic, 0, c.createMessageHandler(s))
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				c.logger.Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
				continue
			}
			c.logger.Debug("subscribed", zap.String("topic", topic), zap.String("vacuum", s.VacuumID()))
		}
	}
}

// onConnectionLost marks every session disconnected; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", zap.Error(err))
	c.setConnected(false)
	for _, s := range c.sessions {
		s.TransportLost(err)
	}
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

// createMessageHandler routes a topic's messages to one session
func (c *MQTTClient) createMessageHandler(s *Session) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		c.logger.Debug("message received",
			zap.String("vacuum", s.VacuumID()),
			zap.String("topic", msg.Topic()),
			zap.Int("bytes", len(payload)))

		if err := s.HandleMessage(msg.Topic(), payload); err != nil && !errors.Is(err, ErrSessionClosed) {
			c.logger.Warn("message rejected",
				zap.String("vacuum", s.VacuumID()),
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	}
}

// PublishCommand implements CommandPublisher with QoS 1 and no retain
func (c *MQTTClient) PublishCommand(ctx context.Context, topic string, payload []byte) error {
	if c.client == nil || !c.client.IsConnected() {
		return ErrTransportDisconnected
	}
	return waitToken(ctx, c.client.Publish(topic, 1, false, payload), topic)
}

// waitToken waits for a paho token or the context, whichever ends first
func waitToken(ctx context.Context, token mqtt.Token, topic string) error {
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops the topics of one session and tears the session down
func (c *MQTTClient) Unsubscribe(s *Session) {
	if c.client != nil && c.client.IsConnected() {
		token := c.client.Unsubscribe(s.Topics()...)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Warn("unsubscribe failed", zap.String("vacuum", s.VacuumID()), zap.Error(token.Error()))
		}
	}
	s.Unsubscribe()
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
