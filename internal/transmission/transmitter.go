package transmission

import "github.com/jkaberg/fueltrim-hass/internal/sensors"

// Transmitter defines the interface for transmitting sensor data
type Transmitter interface {
	Transmit(data *sensors.SensorData) error
	IsConnected() bool
	// ResetDiscovery makes the next Transmit resend discovery configs.
	ResetDiscovery()
}

// Publisher is the slice of the MQTT client the transmitter needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
}
