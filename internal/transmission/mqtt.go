package transmission

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/jkaberg/fueltrim-hass/internal/fueltrim"
	"github.com/jkaberg/fueltrim-hass/internal/mqtt"
	"github.com/jkaberg/fueltrim-hass/internal/sensors"
	"github.com/sirupsen/logrus"
)

// MQTTTransmitter publishes Traccar device snapshots to Home Assistant.
type MQTTTransmitter struct {
	client          Publisher
	bridgeID        string
	discoveryPrefix string
	sensors         []sensors.SensorDefinition
	logger          *logrus.Logger

	mu               sync.Mutex
	publishedSensors map[string]bool // Tracks published discovery configs by unique id
}

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	Device            HADevice `json:"device"`
	AvailabilityTopic string   `json:"availability_topic"`
	Icon              string   `json:"icon,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Options           []string `json:"options,omitempty"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// NewMQTTTransmitter creates a transmitter for the given sensor selection.
func NewMQTTTransmitter(client Publisher, bridgeID, discoveryPrefix string, defs []sensors.SensorDefinition, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:           client,
		bridgeID:         bridgeID,
		discoveryPrefix:  discoveryPrefix,
		sensors:          defs,
		logger:           logger,
		publishedSensors: make(map[string]bool),
	}
}

func (t *MQTTTransmitter) haDevice(data *sensors.SensorData) HADevice {
	name := data.DeviceName
	if name == "" {
		name = fmt.Sprintf("Traccar Device %d", data.DeviceID)
	}
	return HADevice{
		Identifiers:  []string{fmt.Sprintf("fueltrim_%d", data.DeviceID)},
		Name:         name,
		Model:        "OBD-II Tracker",
		Manufacturer: "Traccar",
		ViaDevice:    fmt.Sprintf("fueltrim_bridge_%s", t.bridgeID),
	}
}

// discoveryConfig builds the Home Assistant config for one sensor of one device.
func (t *MQTTTransmitter) discoveryConfig(def sensors.SensorDefinition, deviceID int64, device HADevice) HADiscoveryConfig {
	entityID := def.EntityID()
	config := HADiscoveryConfig{
		Name:              def.Name,
		UniqueID:          fmt.Sprintf("fueltrim_%d_%s", deviceID, entityID),
		StateTopic:        mqtt.DeviceStateTopic(deviceID),
		AvailabilityTopic: mqtt.AvailabilityTopic(t.bridgeID),
		Device:            device,
		DeviceClass:       def.DeviceClass,
		UnitOfMeasurement: def.Unit,
		Icon:              def.Icon,
		StateClass:        def.StateClass,
	}

	switch {
	case def.Category == "binary_sensor":
		config.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", entityID)
	case def.DeviceClass == "enum":
		config.ValueTemplate = fmt.Sprintf("{{ value_json.%s | default('%s') }}", entityID, fueltrim.Unknown)
		for _, s := range fueltrim.Statuses() {
			config.Options = append(config.Options, s.String())
		}
	default:
		config.ValueTemplate = fmt.Sprintf("{{ value_json.%s | default(0) }}", entityID)
	}
	return config
}

// publishDiscoveryConfigs publishes discovery for every selected sensor of the
// device, once per bridge lifetime.
func (t *MQTTTransmitter) publishDiscoveryConfigs(data *sensors.SensorData) {
	device := t.haDevice(data)

	if data.Latitude != nil && data.Longitude != nil {
		key := fmt.Sprintf("fueltrim_%d_location", data.DeviceID)
		if !t.isPublished(key) {
			if err := t.publishDeviceTrackerDiscovery(data.DeviceID, device); err != nil {
				t.logger.WithError(err).Warn("Failed to publish device_tracker discovery")
			} else {
				t.markPublished(key)
			}
		}
	}

	for _, def := range t.sensors {
		config := t.discoveryConfig(def, data.DeviceID, device)
		if t.isPublished(config.UniqueID) {
			continue
		}

		topic := mqtt.DiscoveryTopic(t.discoveryPrefix, def.Category, data.DeviceID, def.EntityID())
		if err := t.publishConfigRaw(topic, config); err != nil {
			t.logger.WithError(err).WithField("sensor", def.Name).Error("Failed to publish discovery config")
			continue
		}

		t.logger.WithFields(logrus.Fields{
			"sensor_name": def.Name,
			"device_id":   data.DeviceID,
			"topic":       topic,
		}).Info("Published sensor discovery config")
		t.markPublished(config.UniqueID)
	}
}

func (t *MQTTTransmitter) isPublished(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publishedSensors[key]
}

func (t *MQTTTransmitter) markPublished(key string) {
	t.mu.Lock()
	t.publishedSensors[key] = true
	t.mu.Unlock()
}

// ResetDiscovery forgets which discovery configs were sent, e.g. after Home
// Assistant restarts and needs them again.
func (t *MQTTTransmitter) ResetDiscovery() {
	t.mu.Lock()
	t.publishedSensors = make(map[string]bool)
	t.mu.Unlock()
}

// publishConfigRaw publishes a raw configuration object
func (t *MQTTTransmitter) publishConfigRaw(topic string, config interface{}) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}

	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish discovery config to %s: %w", topic, err)
	}
	return nil
}

// buildStatePayload builds the JSON payload for the device state topic,
// restricted to the selected sensors.
func (t *MQTTTransmitter) buildStatePayload(data *sensors.SensorData) ([]byte, error) {
	allowed := make(map[string]struct{}, len(t.sensors))
	for _, def := range t.sensors {
		allowed[def.EntityID()] = struct{}{}
	}

	state := make(map[string]interface{})
	for key, value := range sensors.GetNonNilFields(data) {
		if _, ok := allowed[key]; !ok {
			continue
		}
		// JSON has no NaN or Inf
		if f, isFloat := value.(float64); isFloat && (math.IsNaN(f) || math.IsInf(f, 0)) {
			continue
		}
		state[key] = value
	}
	if data.Event != nil {
		state["last_event"] = *data.Event
	}
	return json.Marshal(state)
}

// Transmit sends sensor data to MQTT
func (t *MQTTTransmitter) Transmit(data *sensors.SensorData) error {
	if !t.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	t.publishDiscoveryConfigs(data)

	if err := t.publishSensorData(data); err != nil {
		return fmt.Errorf("failed to publish sensor data: %w", err)
	}

	if data.Latitude != nil && data.Longitude != nil {
		if err := t.publishLocationData(data); err != nil {
			// Log error but don't block other publications
			t.logger.WithError(err).Warn("Failed to publish location data")
		}
	}

	if err := t.publishAvailability(true); err != nil {
		return fmt.Errorf("failed to publish availability: %w", err)
	}

	t.logger.WithField("device_id", data.DeviceID).Debug("Data transmitted successfully")
	return nil
}

// publishSensorData publishes the main sensor data payload
func (t *MQTTTransmitter) publishSensorData(data *sensors.SensorData) error {
	payload, err := t.buildStatePayload(data)
	if err != nil {
		return fmt.Errorf("failed to build state payload: %w", err)
	}

	topic := mqtt.DeviceStateTopic(data.DeviceID)
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish sensor data to %s: %w", topic, err)
	}

	t.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Info("Published sensor data")
	return nil
}

func locationTopic(deviceID int64) string {
	return mqtt.BuildCleanTopic(mqtt.BaseTopic, fmt.Sprintf("device_%d", deviceID), "location")
}

// publishLocationData publishes location data to the device_tracker entity
func (t *MQTTTransmitter) publishLocationData(data *sensors.SensorData) error {
	payload := map[string]interface{}{
		"latitude":  *data.Latitude,
		"longitude": *data.Longitude,
	}
	if data.Speed != nil {
		payload["speed"] = *data.Speed
	}
	if data.Course != nil {
		payload["course"] = *data.Course
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal location data: %w", err)
	}
	return t.client.Publish(locationTopic(data.DeviceID), jsonPayload, false)
}

// publishDeviceTrackerDiscovery publishes the discovery config for the device tracker.
func (t *MQTTTransmitter) publishDeviceTrackerDiscovery(deviceID int64, device HADevice) error {
	config := map[string]interface{}{
		"name":                  "Location",
		"unique_id":             fmt.Sprintf("fueltrim_%d_location", deviceID),
		"json_attributes_topic": locationTopic(deviceID),
		"source_type":           "gps",
		"device":                device,
		"availability_topic":    mqtt.AvailabilityTopic(t.bridgeID),
	}
	return t.publishConfigRaw(mqtt.DiscoveryTopic(t.discoveryPrefix, "device_tracker", deviceID, "location"), config)
}

// publishAvailability publishes the bridge availability status
func (t *MQTTTransmitter) publishAvailability(online bool) error {
	payload := "online"
	if !online {
		payload = "offline"
	}

	topic := mqtt.AvailabilityTopic(t.bridgeID)
	if err := t.client.Publish(topic, []byte(payload), true); err != nil {
		return fmt.Errorf("failed to publish availability to %s: %w", topic, err)
	}
	return nil
}

// IsConnected checks if the MQTT client is connected
func (t *MQTTTransmitter) IsConnected() bool {
	return t.client.IsConnected()
}
