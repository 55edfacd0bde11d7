// Package mqttpub publishes location and source-state changes to an
// MQTT broker, adapted from the client's connect/publish idiom for the
// narrower geolocation-daemon telemetry surface.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
)

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
	Retain      bool
	Enabled     bool
}

// DefaultConfig returns a disabled, localhost-pointed default.
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "geoclued",
		TopicPrefix: "geoclued",
		QoS:         1,
		Retain:      true,
		Enabled:     false,
	}
}

// Publisher publishes LocationValue and availability-level changes for
// each named source kind to MQTT.
type Publisher struct {
	client    MQTT.Client
	logger    *logx.Logger
	config    *Config
	connected bool
}

// New creates a Publisher. Connect must be called before any Publish*
// call has effect.
func New(config *Config, logger *logx.Logger) *Publisher {
	return &Publisher{logger: logger, config: config}
}

// Connect establishes the broker connection. A disabled config is a
// no-op success, matching the MQTT client's existing idiom.
func (p *Publisher) Connect() error {
	if !p.config.Enabled {
		p.logger.Debug("mqtt publisher disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = MQTT.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker connection.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.connected {
		p.client.Disconnect(250)
		p.connected = false
	}
}

func (p *Publisher) onConnect(MQTT.Client) {
	p.connected = true
	p.logger.Info("mqtt publisher connected", "broker", p.config.Broker)
}

func (p *Publisher) onConnectionLost(_ MQTT.Client, err error) {
	p.connected = false
	p.logger.Warn("mqtt publisher connection lost", "error", err.Error())
}

// locationPayload is the wire shape published for each location change.
type locationPayload struct {
	Source      string  `json:"source"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    *float64 `json:"accuracy,omitempty"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	Timestamp   int64   `json:"timestamp"`
	Description string  `json:"description,omitempty"`
}

func omitUnknown(v float64) *float64 {
	if v == geo.Unknown {
		return nil
	}
	return &v
}

// PublishLocation publishes sourceName's latest LocationValue to
// "<prefix>/location/<sourceName>".
func (p *Publisher) PublishLocation(sourceName string, loc geo.LocationValue) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}
	payload := locationPayload{
		Source:      sourceName,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Accuracy:    omitUnknown(loc.Accuracy),
		Altitude:    omitUnknown(loc.Altitude),
		Speed:       omitUnknown(loc.Speed),
		Heading:     omitUnknown(loc.Heading),
		Timestamp:   loc.Timestamp.UnixMilli(),
		Description: loc.Description,
	}
	topic := fmt.Sprintf("%s/location/%s", p.config.TopicPrefix, sourceName)
	return p.publishJSON(topic, payload)
}

// PublishAccuracy publishes sourceName's available-accuracy-level to
// "<prefix>/accuracy/<sourceName>".
func (p *Publisher) PublishAccuracy(sourceName string, level geo.AccuracyLevel) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}
	topic := fmt.Sprintf("%s/accuracy/%s", p.config.TopicPrefix, sourceName)
	return p.publishJSON(topic, map[string]string{"level": level.String()})
}

func (p *Publisher) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}
	token := p.client.Publish(topic, byte(p.config.QoS), p.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// IsConnected reports the current broker connection state.
func (p *Publisher) IsConnected() bool {
	return p.connected && p.client != nil && p.client.IsConnected()
}
