package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/config"
	"github.com/kozaktomas/face-greeter/internal/logging"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// publisher is the part of mqtt.Client the speaker needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Announcement is the JSON payload published for a remote text-to-speech device.
type Announcement struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTSpeaker publishes announcements to a broker topic. The remote subscriber does the speaking,
// so Speak returns once the broker acknowledged the message.
type MQTTSpeaker struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	pub    publisher
	logger *zap.Logger

	published atomic.Uint64
	connected atomic.Bool
}

// NewMQTTSpeaker creates an unconnected speaker. Call Connect before Speak.
func NewMQTTSpeaker(cfg config.MQTTConfig, logger *zap.Logger) *MQTTSpeaker {
	return &MQTTSpeaker{cfg: cfg, logger: logging.OrNop(logger)}
}

// Connect dials the broker. Reconnects happen in the background after that.
func (s *MQTTSpeaker) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		s.connected.Store(true)
		s.logger.Info("mqtt connection established", zap.String("broker", s.cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		s.logger.Warn("mqtt connection lost, will auto-reconnect", zap.Error(err))
	}

	s.client = mqtt.NewClient(opts)
	s.pub = s.client

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttConnectTimeout):
		return errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	s.connected.Store(true)
	return nil
}

func (s *MQTTSpeaker) Speak(ctx context.Context, text string) error {
	if s.pub == nil {
		return errors.New("mqtt not connected")
	}

	payload, err := json.Marshal(Announcement{Text: text, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}

	token := s.pub.Publish(s.cfg.Topic, byte(s.cfg.QoS), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	s.published.Add(1)
	s.logger.Debug("announcement published", zap.String("topic", s.cfg.Topic), zap.Int("size", len(payload)))
	return nil
}

// Published returns how many announcements the broker accepted.
func (s *MQTTSpeaker) Published() uint64 {
	return s.published.Load()
}

// Connected reports the last known broker connection state.
func (s *MQTTSpeaker) Connected() bool {
	return s.connected.Load()
}

// Close disconnects with a short grace period.
func (s *MQTTSpeaker) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.connected.Store(false)
	return nil
}
