package sensors

import (
	"reflect"
	"strings"
)

// DefaultPublished lists the sensor keys exposed over MQTT when the
// configuration does not name any. Position coordinates stay internal; the
// fuel trim pair comes first so it is discovered first.
var DefaultPublished = []string{
	"io33",             // ShortFuelTrim
	"fuel_trim_status", // derived from io33
	"io30",             // DTCCount
	"io31",             // EngineLoad
	"io32",             // CoolantTemp
	"io36",             // EngineRPM
	"io48",             // FuelLevel
	"speed",
	"ignition",
}

// PublishedSensors resolves keys to their definitions in the given order.
// Unknown and duplicate keys are dropped. An empty list selects DefaultPublished.
func PublishedSensors(keys []string) []SensorDefinition {
	if len(keys) == 0 {
		keys = DefaultPublished
	}
	seen := make(map[string]struct{}, len(keys))
	defs := make([]SensorDefinition, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if _, dup := seen[key]; dup {
			continue
		}
		if def := GetSensorByKey(key); def != nil {
			seen[key] = struct{}{}
			defs = append(defs, *def)
		}
	}
	return defs
}

// UnknownKeys returns the keys that match no sensor definition.
func UnknownKeys(keys []string) []string {
	var unknown []string
	for _, key := range keys {
		if GetSensorByKey(strings.TrimSpace(key)) == nil {
			unknown = append(unknown, key)
		}
	}
	return unknown
}

// EntityID is the JSON key a definition's value is published under.
func (d SensorDefinition) EntityID() string {
	return ToSnakeCase(d.FieldName)
}

func jsonKey(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	key := strings.Split(tag, ",")[0]
	if key == "-" {
		return ""
	}
	return key
}
