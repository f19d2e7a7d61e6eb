package sensors

import (
	"math"
	"testing"

	"github.com/jkaberg/fueltrim-hass/internal/fueltrim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const positionWebhook = `{
	"position": {
		"deviceId": 7,
		"latitude": 59.91,
		"longitude": 10.75,
		"altitude": 12.5,
		"speed": 10,
		"course": 180,
		"deviceTime": "2026-10-16T08:30:00Z",
		"attributes": {
			"ignition": true,
			"io30": 2,
			"io31": 38.5,
			"io32": 91,
			"io33": -7.03,
			"io35": 380,
			"io36": 2150,
			"io38": 19,
			"io48": 35,
			"io999": 1
		}
	},
	"device": {"id": 7, "name": "FMM920"}
}`

func TestParseWebhookPosition(t *testing.T) {
	data, err := ParseWebhook([]byte(positionWebhook))
	require.NoError(t, err)

	assert.Equal(t, int64(7), data.DeviceID)
	assert.Equal(t, "FMM920", data.DeviceName)
	assert.Nil(t, data.Event)
	require.NotNil(t, data.Latitude)
	assert.InDelta(t, 59.91, *data.Latitude, 1e-9)
	require.NotNil(t, data.Speed)
	assert.InDelta(t, 18.52, *data.Speed, 1e-9, "knots converted to km/h")
	require.NotNil(t, data.Ignition)
	assert.True(t, *data.Ignition)
	require.NotNil(t, data.ShortFuelTrim)
	assert.InDelta(t, -7.03, *data.ShortFuelTrim, 1e-9)
	require.NotNil(t, data.FuelLevel)
	assert.InDelta(t, 65.0, *data.FuelLevel, 1e-9, "fuel used inverted to fuel remaining")
	require.NotNil(t, data.DTCCount)
	assert.Equal(t, 2.0, *data.DTCCount)
	require.NotNil(t, data.DeviceTime)
	assert.Equal(t, 2026, data.DeviceTime.Year())

	// derived fields are filled by Derive, not by the parser
	assert.Nil(t, data.FuelTrimStatus)
}

func TestParseWebhookDeviceIDLookupOrder(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"event wins", `{"deviceId": 2, "event": {"type": "ignitionOn", "deviceId": 1}, "position": {"deviceId": 3}}`, 1},
		{"top level", `{"deviceId": 2, "position": {"deviceId": 3}}`, 2},
		{"position", `{"position": {"deviceId": 3}}`, 3},
		{"string id", `{"deviceId": "4", "position": {}}`, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ParseWebhook([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, data.DeviceID)
		})
	}
}

func TestParseWebhookEventOnly(t *testing.T) {
	data, err := ParseWebhook([]byte(`{"event": {"type": "geofenceEnter", "deviceId": 9}, "geofence": {"id": 1, "name": "Home"}}`))
	require.NoError(t, err)
	require.NotNil(t, data.Event)
	assert.Equal(t, "geofenceEnter", *data.Event)
	assert.Nil(t, data.ShortFuelTrim)
}

func TestParseWebhookErrors(t *testing.T) {
	_, err := ParseWebhook([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseWebhook([]byte(`{"device": {"id": 1}}`))
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = ParseWebhook([]byte(`{"position": {"latitude": 1}}`))
	assert.ErrorIs(t, err, ErrNoDeviceID)
}

func TestParsePositionSkipsBadValues(t *testing.T) {
	data := &SensorData{}
	ParsePosition(map[string]any{
		"speed":      "fast",
		"deviceTime": "yesterday",
		"attributes": map[string]any{"io33": "4.5", "io31": []any{1}},
	}, data)

	assert.Nil(t, data.Speed)
	assert.Nil(t, data.DeviceTime)
	assert.Nil(t, data.EngineLoad)
	require.NotNil(t, data.ShortFuelTrim)
	assert.Equal(t, 4.5, *data.ShortFuelTrim)
}

func TestParseWebhookDropsNonFiniteStrings(t *testing.T) {
	data, err := ParseWebhook([]byte(`{"position": {"deviceId": 7, "speed": "Inf", "attributes": {"io33": "NaN", "io31": "Infinity", "io32": "-Infinity", "io36": "800"}}}`))
	require.NoError(t, err)

	assert.Nil(t, data.ShortFuelTrim)
	assert.Nil(t, data.EngineLoad)
	assert.Nil(t, data.CoolantTemp)
	assert.Nil(t, data.Speed)
	require.NotNil(t, data.EngineRPM)
	assert.Equal(t, 800.0, *data.EngineRPM)

	Derive(data, 2.0)
	assert.Nil(t, data.FuelTrimStatus)
	assert.Empty(t, ValidateSensorData(data))
}

func TestDerive(t *testing.T) {
	trim, speed := 12.0, 1.5
	data := &SensorData{ShortFuelTrim: &trim, Speed: &speed}

	Derive(data, 2.0)

	require.NotNil(t, data.FuelTrimStatus)
	assert.Equal(t, fueltrim.Monitor.String(), *data.FuelTrimStatus)
	assert.Equal(t, 0.0, *data.Speed)

	empty := &SensorData{}
	Derive(empty, 2.0)
	assert.Nil(t, empty.FuelTrimStatus)
	assert.Equal(t, fueltrim.Unknown, DeriveFuelTrimStatus(empty))
}

func TestValidateSensorData(t *testing.T) {
	load, trim := 140.0, 3.0
	warnings := ValidateSensorData(&SensorData{EngineLoad: &load, ShortFuelTrim: &trim})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Engine load")

	nan := math.NaN()
	warnings = ValidateSensorData(&SensorData{ShortFuelTrim: &nan})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ShortFuelTrim is not a finite number")
}

func TestGetNonNilFields(t *testing.T) {
	trim := 1.0
	status := "Perfect"
	fields := GetNonNilFields(&SensorData{DeviceID: 1, ShortFuelTrim: &trim, FuelTrimStatus: &status})
	assert.Equal(t, map[string]interface{}{"short_fuel_trim": 1.0, "fuel_trim_status": "Perfect"}, fields)
}
