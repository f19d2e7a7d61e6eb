package sensors

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

var (
	// ErrNoDeviceID is returned when a webhook carries no device identifier.
	ErrNoDeviceID = errors.New("no device id in payload")
	// ErrEmptyPayload is returned when a webhook has neither a position nor an event.
	ErrEmptyPayload = errors.New("payload has no position or event")
)

// WebhookPayload is the envelope Traccar forwards for positions and events.
type WebhookPayload struct {
	DeviceID json.RawMessage `json:"deviceId,omitempty"`
	Event    map[string]any  `json:"event,omitempty"`
	Position map[string]any  `json:"position,omitempty"`
	Device   map[string]any  `json:"device,omitempty"`
	Geofence map[string]any  `json:"geofence,omitempty"`
}

// ParseWebhook decodes a Traccar webhook body into a SensorData snapshot.
func ParseWebhook(body []byte) (*SensorData, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook payload: %w", err)
	}
	if payload.Position == nil && payload.Event == nil {
		return nil, ErrEmptyPayload
	}

	deviceID, err := payload.deviceID()
	if err != nil {
		return nil, err
	}

	sensorData := &SensorData{
		Timestamp: time.Now(),
		DeviceID:  deviceID,
	}
	if name, ok := payload.Device["name"].(string); ok {
		sensorData.DeviceName = name
	}
	if eventType, ok := payload.Event["type"].(string); ok && eventType != "" {
		sensorData.Event = &eventType
	}
	if payload.Position != nil {
		ParsePosition(payload.Position, sensorData)
	}
	return sensorData, nil
}

// deviceID looks in the event first, then the top level, then the position.
func (p *WebhookPayload) deviceID() (int64, error) {
	if id, ok := toInt64(p.Event["deviceId"]); ok {
		return id, nil
	}
	if len(p.DeviceID) > 0 {
		var raw any
		if err := json.Unmarshal(p.DeviceID, &raw); err == nil {
			if id, ok := toInt64(raw); ok {
				return id, nil
			}
		}
	}
	if id, ok := toInt64(p.Position["deviceId"]); ok {
		return id, nil
	}
	return 0, ErrNoDeviceID
}

// ParsePosition copies every known field of a Traccar position into sensorData.
// Unknown or non-numeric values are skipped.
func ParsePosition(position map[string]any, sensorData *SensorData) {
	attributes, _ := position["attributes"].(map[string]any)

	v := reflect.ValueOf(sensorData).Elem()
	for _, def := range AllSensors {
		var raw any
		switch def.Source {
		case FromPosition:
			raw = position[def.Key]
		case FromAttributes:
			raw = attributes[def.Key]
		default:
			continue
		}
		if raw == nil {
			continue
		}

		field := v.FieldByName(def.FieldName)
		if !field.IsValid() || !field.CanSet() {
			continue
		}
		if err := setFieldValue(field, raw, def.Convert); err != nil {
			// Skip this field but keep the rest of the position
			continue
		}
	}

	if deviceTime, ok := position["deviceTime"].(string); ok {
		if t, err := time.Parse(time.RFC3339, deviceTime); err == nil {
			sensorData.DeviceTime = &t
		}
	}
}

// setFieldValue stores raw into a pointer field, applying convert to numbers.
func setFieldValue(field reflect.Value, raw any, convert func(float64) float64) error {
	if field.Kind() != reflect.Ptr {
		return fmt.Errorf("field is not a pointer")
	}

	elemType := field.Type().Elem()
	newVal := reflect.New(elemType)

	switch elemType.Kind() {
	case reflect.Float64:
		f, ok := toFloat64(raw)
		if !ok {
			return fmt.Errorf("value %v is not numeric", raw)
		}
		if convert != nil {
			f = convert(f)
		}
		newVal.Elem().SetFloat(f)
	case reflect.Bool:
		switch b := raw.(type) {
		case bool:
			newVal.Elem().SetBool(b)
		default:
			f, ok := toFloat64(raw)
			if !ok {
				return fmt.Errorf("value %v is not a bool", raw)
			}
			newVal.Elem().SetBool(f != 0)
		}
	case reflect.String:
		newVal.Elem().SetString(fmt.Sprint(raw))
	default:
		return fmt.Errorf("unsupported field type: %s", elemType.Kind())
	}

	field.Set(newVal)
	return nil
}

// toFloat64 accepts JSON numbers and numeric strings. NaN and ±Inf are
// rejected because they cannot be encoded back to JSON.
func toFloat64(raw any) (float64, bool) {
	var f float64
	switch n := raw.(type) {
	case float64:
		f = n
	case json.Number:
		v, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = v
	case string:
		v, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt64(raw any) (int64, bool) {
	f, ok := toFloat64(raw)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// ValidateSensorData performs basic range checks and returns human-readable warnings.
func ValidateSensorData(data *SensorData) []string {
	var warnings []string

	v := reflect.ValueOf(data).Elem()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() != reflect.Ptr || field.IsNil() || field.Elem().Kind() != reflect.Float64 {
			continue
		}
		if f := field.Elem().Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			warnings = append(warnings, fmt.Sprintf("%s is not a finite number", v.Type().Field(i).Name))
		}
	}

	if data.EngineLoad != nil && (*data.EngineLoad < 0 || *data.EngineLoad > 100) {
		warnings = append(warnings, fmt.Sprintf("Engine load out of range: %.1f%%", *data.EngineLoad))
	}
	if data.FuelLevel != nil && (*data.FuelLevel < 0 || *data.FuelLevel > 100) {
		warnings = append(warnings, fmt.Sprintf("Fuel level out of range: %.1f%%", *data.FuelLevel))
	}
	// OBD-II PID 0x06 spans -100..99.2 %
	if data.ShortFuelTrim != nil && (*data.ShortFuelTrim < -100 || *data.ShortFuelTrim > 100) {
		warnings = append(warnings, fmt.Sprintf("Short fuel trim out of range: %.1f%%", *data.ShortFuelTrim))
	}
	if data.CoolantTemp != nil && (*data.CoolantTemp < -40 || *data.CoolantTemp > 215) {
		warnings = append(warnings, fmt.Sprintf("Coolant temperature out of range: %.1f°C", *data.CoolantTemp))
	}
	if data.Speed != nil && (*data.Speed < 0 || *data.Speed > 300) {
		warnings = append(warnings, fmt.Sprintf("Speed out of reasonable range: %.1f km/h", *data.Speed))
	}

	return warnings
}

// GetNonNilFields returns a map of JSON keys to values for all non-nil sensor fields.
func GetNonNilFields(data *SensorData) map[string]interface{} {
	result := make(map[string]interface{})

	v := reflect.ValueOf(data).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() != reflect.Ptr || field.IsNil() {
			continue
		}
		key := jsonKey(t.Field(i))
		if key == "" {
			continue
		}
		result[key] = field.Elem().Interface()
	}
	return result
}
