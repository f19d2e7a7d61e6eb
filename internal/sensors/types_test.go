package sensors

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"ShortFuelTrim":  "short_fuel_trim",
		"DTCCount":       "dtc_count",
		"OBDSpeed":       "obd_speed",
		"EngineRPM":      "engine_rpm",
		"FuelTrimStatus": "fuel_trim_status",
		"Speed":          "speed",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}

// Every definition must point at a settable field whose JSON key matches
// the entity id used in MQTT state payloads.
func TestAllSensorsMatchSensorData(t *testing.T) {
	typ := reflect.TypeOf(SensorData{})
	for _, def := range AllSensors {
		field, ok := typ.FieldByName(def.FieldName)
		require.True(t, ok, "missing field %s", def.FieldName)
		assert.Equal(t, reflect.Ptr, field.Type.Kind(), def.FieldName)
		assert.Equal(t, def.EntityID(), jsonKey(field), def.FieldName)
	}
}

func TestPublishedSensors(t *testing.T) {
	defs := PublishedSensors(nil)
	require.Len(t, defs, len(DefaultPublished))
	assert.Equal(t, "ShortFuelTrim", defs[0].FieldName)

	defs = PublishedSensors([]string{"io33", " io33", "bogus", "fuel_trim_status"})
	require.Len(t, defs, 2)
	assert.Equal(t, "FuelTrimStatus", defs[1].FieldName)

	assert.Equal(t, []string{"bogus"}, UnknownKeys([]string{"io33", "bogus"}))
}
