package sensors

import (
	"strings"
	"time"
	"unicode"
)

// SensorData holds one decoded Traccar position for a single device.
// Numeric values are pointers so a missing attribute (nil) is distinguishable
// from a reading of 0.
type SensorData struct {
	Timestamp  time.Time  `json:"timestamp"`
	DeviceID   int64      `json:"device_id"`
	DeviceName string     `json:"device_name,omitempty"`
	DeviceTime *time.Time `json:"device_time,omitempty"`
	Event      *string    `json:"event,omitempty"`

	// --- Position ---
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Course    *float64 `json:"course,omitempty"`
	Ignition  *bool    `json:"ignition,omitempty"`

	// --- OBD-II (Teltonika IO elements) ---
	DTCCount      *float64 `json:"dtc_count,omitempty"`
	EngineLoad    *float64 `json:"engine_load,omitempty"`
	CoolantTemp   *float64 `json:"coolant_temp,omitempty"`
	ShortFuelTrim *float64 `json:"short_fuel_trim,omitempty"`
	FuelPressure  *float64 `json:"fuel_pressure,omitempty"`
	EngineRPM     *float64 `json:"engine_rpm,omitempty"`
	OBDSpeed      *float64 `json:"obd_speed,omitempty"`
	FuelLevel     *float64 `json:"fuel_level,omitempty"`

	// --- Derived ---
	FuelTrimStatus *string `json:"fuel_trim_status,omitempty"`
}

// Source tells the parser where in the Traccar position a value lives.
type Source int

const (
	FromPosition   Source = iota // top-level position field
	FromAttributes               // position.attributes map
	Derived                      // computed after parsing
)

// SensorDefinition provides metadata for a sensor.
type SensorDefinition struct {
	Key         string // Traccar field or attribute name
	Source      Source
	FieldName   string // SensorData field
	Name        string
	Category    string // "sensor", "binary_sensor"
	DeviceClass string
	Unit        string
	StateClass  string
	Icon        string
	Convert     func(float64) float64
}

const knotsToKmh = 1.852

// AllSensors defines the metadata for all known sensors.
var AllSensors = []SensorDefinition{
	{Key: "latitude", Source: FromPosition, FieldName: "Latitude", Name: "Latitude", Category: "sensor", Icon: "mdi:latitude"},
	{Key: "longitude", Source: FromPosition, FieldName: "Longitude", Name: "Longitude", Category: "sensor", Icon: "mdi:longitude"},
	{Key: "altitude", Source: FromPosition, FieldName: "Altitude", Name: "Altitude", Category: "sensor", DeviceClass: "distance", Unit: "m", StateClass: "measurement"},
	{Key: "speed", Source: FromPosition, FieldName: "Speed", Name: "Speed", Category: "sensor", DeviceClass: "speed", Unit: "km/h", StateClass: "measurement",
		Convert: func(knots float64) float64 { return knots * knotsToKmh }},
	{Key: "course", Source: FromPosition, FieldName: "Course", Name: "Course", Category: "sensor", Unit: "°", Icon: "mdi:compass"},
	{Key: "ignition", Source: FromAttributes, FieldName: "Ignition", Name: "Ignition", Category: "binary_sensor", DeviceClass: "power"},

	{Key: "io30", Source: FromAttributes, FieldName: "DTCCount", Name: "Diagnostic Trouble Codes", Category: "sensor", StateClass: "measurement", Icon: "mdi:engine-outline"},
	{Key: "io31", Source: FromAttributes, FieldName: "EngineLoad", Name: "Engine Load", Category: "sensor", Unit: "%", StateClass: "measurement", Icon: "mdi:gauge"},
	{Key: "io32", Source: FromAttributes, FieldName: "CoolantTemp", Name: "Coolant Temperature", Category: "sensor", DeviceClass: "temperature", Unit: "°C", StateClass: "measurement"},
	{Key: "io33", Source: FromAttributes, FieldName: "ShortFuelTrim", Name: "Short Fuel Trim", Category: "sensor", Unit: "%", StateClass: "measurement", Icon: "mdi:gas-station"},
	{Key: "io35", Source: FromAttributes, FieldName: "FuelPressure", Name: "Fuel Pressure", Category: "sensor", DeviceClass: "pressure", Unit: "kPa", StateClass: "measurement"},
	{Key: "io36", Source: FromAttributes, FieldName: "EngineRPM", Name: "Engine RPM", Category: "sensor", Unit: "rpm", StateClass: "measurement", Icon: "mdi:engine"},
	{Key: "io38", Source: FromAttributes, FieldName: "OBDSpeed", Name: "OBD Speed", Category: "sensor", DeviceClass: "speed", Unit: "km/h", StateClass: "measurement"},
	// the tracker reports fuel used, not fuel remaining
	{Key: "io48", Source: FromAttributes, FieldName: "FuelLevel", Name: "Fuel Level", Category: "sensor", Unit: "%", StateClass: "measurement", Icon: "mdi:fuel",
		Convert: func(used float64) float64 { return 100 - used }},

	{Key: "fuel_trim_status", Source: Derived, FieldName: "FuelTrimStatus", Name: "Fuel Trim Status", Category: "sensor", DeviceClass: "enum", Icon: "mdi:car-wrench"},
}

// GetSensorByKey returns a sensor definition by its Traccar key.
func GetSensorByKey(key string) *SensorDefinition {
	for _, sensor := range AllSensors {
		if sensor.Key == key {
			return &sensor
		}
	}
	return nil
}

// ToSnakeCase converts a Go field name to its JSON key, e.g. "OBDSpeed" -> "obd_speed".
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// start a new word at lower->Upper, or at the last capital of an acronym
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
