package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canfd.gateway/internal/mqttsink"
	"github.com/banshee-data/canfd.gateway/internal/rpmsg"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func ptr[T any](v T) *T { return &v }

func TestGatewayConfig_Defaults(t *testing.T) {
	cfg := &GatewayConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceRPMsg, cfg.GetSource())
	assert.Equal(t, rpmsg.DefaultDevice, cfg.GetDevice())
	assert.Equal(t, "can0", cfg.GetCanInterface())
	assert.Equal(t, rpmsg.PortOptions{}, cfg.GetSerial())
	assert.Equal(t, 1000, cfg.GetQueueCapacity())
	assert.Equal(t, 5*time.Second, cfg.GetBusLoadInterval())
	assert.False(t, cfg.GetRawDump())
	assert.False(t, cfg.GetDebug())
	assert.Equal(t, "localhost:8081", cfg.GetAdminListen())

	cfg.AdminListen = ptr("")
	assert.Equal(t, "", cfg.GetAdminListen(), "explicit empty disables the admin server")
}

func TestLoadGatewayConfig(t *testing.T) {
	path := writeConfig(t, "gw.json", `{
  "source": "socketcan",
  "can_interface": "can1",
  "queue_capacity": 50,
  "bus_load_interval": "10s",
  "raw_dump": true,
  "serial": {"baud_rate": 9600},
  "mqtt": {"broker": "tcp://broker:1883", "qos": 1},
  "sensors": [{"id": "4", "receiver_id": 2}, {"id": "5", "receiver_id": 15}]
}`)

	cfg, err := LoadGatewayConfig(path)
	require.NoError(t, err)
	assert.Equal(t, SourceSocketCAN, cfg.GetSource())
	assert.Equal(t, "can1", cfg.GetCanInterface())
	assert.Equal(t, 50, cfg.GetQueueCapacity())
	assert.Equal(t, 10*time.Second, cfg.GetBusLoadInterval())
	assert.True(t, cfg.GetRawDump())
	assert.Equal(t, 9600, cfg.GetSerial().BaudRate)
	assert.Equal(t, []SensorConfig{{ID: "4", ReceiverID: 2}, {ID: "5", ReceiverID: 15}}, cfg.Sensors)

	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, mqttsink.Options{
		Broker:   "tcp://broker:1883",
		ClientID: "canfd-gateway",
		QoS:      1,
	}, cfg.MQTT.SinkOptions())
	assert.Equal(t, mqttsink.DefaultTopicPrefix, cfg.MQTT.GetTopicPrefix())
	assert.Equal(t, mqttsink.EncodingJSON, cfg.MQTT.GetEncoding())
}

func TestLoadGatewayConfig_Example(t *testing.T) {
	cfg, err := LoadGatewayConfig(filepath.Join("..", "..", ExampleConfigPath))
	require.NoError(t, err)
	assert.Len(t, cfg.Sensors, 3)
	assert.Equal(t, "canfd/sensor", cfg.MQTT.GetTopicPrefix())
}

func TestLoadGatewayConfig_FileErrors(t *testing.T) {
	_, err := LoadGatewayConfig(writeConfig(t, "gw.yaml", "{}"))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadGatewayConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadGatewayConfig(writeConfig(t, "bad.json", "{"))
	assert.ErrorContains(t, err, "failed to parse config JSON")

	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	_, err = LoadGatewayConfig(writeConfig(t, "big.json", string(big)))
	assert.ErrorContains(t, err, "too large")
}

func TestGatewayConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  GatewayConfig
		want string
	}{
		{"unknown source", GatewayConfig{Source: ptr("usb")}, "source must be one of"},
		{"serial", GatewayConfig{Serial: &rpmsg.PortOptions{Parity: "X"}}, "serial"},
		{"queue capacity", GatewayConfig{QueueCapacity: ptr(0)}, "queue_capacity"},
		{"bus load interval", GatewayConfig{BusLoadInterval: ptr("soon")}, "bus_load_interval"},
		{"negative bus load interval", GatewayConfig{BusLoadInterval: ptr("-1s")}, "must be positive"},
		{"mqtt broker", GatewayConfig{MQTT: &MQTTConfig{}}, "broker is required"},
		{"mqtt qos", GatewayConfig{MQTT: &MQTTConfig{Broker: "tcp://b:1883", QoS: 3}}, "qos"},
		{"mqtt encoding", GatewayConfig{MQTT: &MQTTConfig{Broker: "tcp://b:1883", Encoding: "xml"}}, "unknown encoding"},
		{"sensor id", GatewayConfig{Sensors: []SensorConfig{{ID: "temp"}}}, "decimal number"},
		{"receiver id", GatewayConfig{Sensors: []SensorConfig{{ID: "1", ReceiverID: 16}}}, "out of range"},
		{"duplicate sensor", GatewayConfig{Sensors: []SensorConfig{{ID: "1"}, {ID: "1", ReceiverID: 2}}}, "duplicate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorContains(t, tc.cfg.Validate(), tc.want)
		})
	}
}
