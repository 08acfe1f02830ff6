// Package config loads the gateway configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/canfd.gateway/internal/diag"
	"github.com/banshee-data/canfd.gateway/internal/mqttsink"
	"github.com/banshee-data/canfd.gateway/internal/rpmsg"
	"github.com/banshee-data/canfd.gateway/internal/sensor"
)

// ExampleConfigPath is the annotated example shipped with the repository.
const ExampleConfigPath = "config/gateway.example.json"

// Trace sources.
const (
	SourceRPMsg     = "rpmsg"
	SourceSocketCAN = "socketcan"
	SourceFile      = "file"
)

const (
	defaultCanInterface = "can0"
	defaultAdminListen  = "localhost:8081"
	maxReceiverID       = 0xF
)

// GatewayConfig is the root of the configuration file. Omitted fields fall
// back to the defaults returned by the Get* methods.
type GatewayConfig struct {
	Device          *string            `json:"device,omitempty"`
	Source          *string            `json:"source,omitempty"`
	CanInterface    *string            `json:"can_interface,omitempty"`
	Serial          *rpmsg.PortOptions `json:"serial,omitempty"`
	QueueCapacity   *int               `json:"queue_capacity,omitempty"`
	BusLoadInterval *string            `json:"bus_load_interval,omitempty"` // duration string like "5s"
	RawDump         *bool              `json:"raw_dump,omitempty"`
	Debug           *bool              `json:"debug,omitempty"`
	AdminListen     *string            `json:"admin_listen,omitempty"`
	MQTT            *MQTTConfig        `json:"mqtt,omitempty"`
	Sensors         []SensorConfig     `json:"sensors,omitempty"`
}

// MQTTConfig enables forwarding of sensor queues to a broker.
type MQTTConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	Encoding    string `json:"encoding,omitempty"` // json (default) or msgpack
	QoS         int    `json:"qos,omitempty"`
	Retain      bool   `json:"retain,omitempty"`
}

// SensorConfig is a sensor attached at start-up.
type SensorConfig struct {
	ID         string `json:"id"`
	ReceiverID uint32 `json:"receiver_id"`
}

// LoadGatewayConfig reads and validates a JSON configuration file.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &GatewayConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *GatewayConfig) Validate() error {
	switch c.GetSource() {
	case SourceRPMsg, SourceSocketCAN, SourceFile:
	default:
		return fmt.Errorf("source must be one of %q, %q or %q, got %q",
			SourceRPMsg, SourceSocketCAN, SourceFile, c.GetSource())
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	if c.QueueCapacity != nil && *c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", *c.QueueCapacity)
	}

	if c.BusLoadInterval != nil && *c.BusLoadInterval != "" {
		d, err := time.ParseDuration(*c.BusLoadInterval)
		if err != nil {
			return fmt.Errorf("invalid bus_load_interval '%s': %w", *c.BusLoadInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("bus_load_interval must be positive, got %s", d)
		}
	}

	if c.MQTT != nil {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt: broker is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
		if _, err := mqttsink.ParseEncoding(c.MQTT.Encoding); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if _, err := strconv.ParseUint(s.ID, 10, 64); err != nil {
			return fmt.Errorf("sensors[%d]: id %q must be a decimal number", i, s.ID)
		}
		if s.ReceiverID > maxReceiverID {
			return fmt.Errorf("sensors[%d]: receiver_id %d out of range 0..%d", i, s.ReceiverID, maxReceiverID)
		}
		if seen[s.ID] {
			return fmt.Errorf("sensors[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// GetSource returns the trace source, defaulting to the RPMsg tty.
func (c *GatewayConfig) GetSource() string {
	if c.Source == nil || *c.Source == "" {
		return SourceRPMsg
	}
	return *c.Source
}

// GetDevice returns the tty or trace file path.
func (c *GatewayConfig) GetDevice() string {
	if c.Device == nil || *c.Device == "" {
		return rpmsg.DefaultDevice
	}
	return *c.Device
}

// GetCanInterface returns the interface name used for logging and for the
// socketcan source.
func (c *GatewayConfig) GetCanInterface() string {
	if c.CanInterface == nil || *c.CanInterface == "" {
		return defaultCanInterface
	}
	return *c.CanInterface
}

// GetSerial returns the tty line settings.
func (c *GatewayConfig) GetSerial() rpmsg.PortOptions {
	if c.Serial == nil {
		return rpmsg.PortOptions{}
	}
	return *c.Serial
}

// GetQueueCapacity returns the per-sensor queue capacity.
func (c *GatewayConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return sensor.DefaultQueueCapacity
	}
	return *c.QueueCapacity
}

// GetBusLoadInterval returns how often the bus load is reported.
func (c *GatewayConfig) GetBusLoadInterval() time.Duration {
	if c.BusLoadInterval == nil || *c.BusLoadInterval == "" {
		return diag.DefaultBusLoadInterval
	}
	d, err := time.ParseDuration(*c.BusLoadInterval)
	if err != nil || d <= 0 {
		return diag.DefaultBusLoadInterval
	}
	return d
}

// GetRawDump reports whether every decoded frame is logged.
func (c *GatewayConfig) GetRawDump() bool {
	return c.RawDump != nil && *c.RawDump
}

// GetDebug reports whether debug logging is on.
func (c *GatewayConfig) GetDebug() bool {
	return c.Debug != nil && *c.Debug
}

// GetAdminListen returns the debug HTTP listen address. An explicit empty
// string disables the server.
func (c *GatewayConfig) GetAdminListen() string {
	if c.AdminListen == nil {
		return defaultAdminListen
	}
	return *c.AdminListen
}

// GetTopicPrefix returns the MQTT topic prefix.
func (m *MQTTConfig) GetTopicPrefix() string {
	if m.TopicPrefix == "" {
		return mqttsink.DefaultTopicPrefix
	}
	return m.TopicPrefix
}

// GetClientID returns the MQTT client id.
func (m *MQTTConfig) GetClientID() string {
	if m.ClientID == "" {
		return "canfd-gateway"
	}
	return m.ClientID
}

// GetEncoding returns the payload encoding. Call after Validate.
func (m *MQTTConfig) GetEncoding() mqttsink.Encoding {
	e, err := mqttsink.ParseEncoding(m.Encoding)
	if err != nil {
		return mqttsink.EncodingJSON
	}
	return e
}

// SinkOptions converts the section into mqttsink dial options.
func (m *MQTTConfig) SinkOptions() mqttsink.Options {
	return mqttsink.Options{
		Broker:   m.Broker,
		ClientID: m.GetClientID(),
		Username: m.Username,
		Password: m.Password,
		QoS:      byte(m.QoS),
		Retain:   m.Retain,
	}
}
