package domain

import (
	"testing"
	"time"

	"github.com/jkaberg/fueltrim-hass/internal/sensors"
	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func TestChangedNil(t *testing.T) {
	assert.False(t, Changed(nil, nil))
	assert.True(t, Changed(nil, &sensors.SensorData{}))
	assert.True(t, Changed(&sensors.SensorData{}, nil))
}

func TestChangedIgnoresTimestamps(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)
	prev := &sensors.SensorData{DeviceID: 1, Timestamp: now, DeviceTime: &now, ShortFuelTrim: f(3)}
	cur := &sensors.SensorData{DeviceID: 1, Timestamp: later, DeviceTime: &later, ShortFuelTrim: f(3)}
	assert.False(t, Changed(prev, cur))
}

func TestChangedDetectsValueChange(t *testing.T) {
	prev := &sensors.SensorData{DeviceID: 1, ShortFuelTrim: f(3)}
	cur := &sensors.SensorData{DeviceID: 1, ShortFuelTrim: f(3.5)}
	assert.True(t, Changed(prev, cur))
}

func TestChangedIgnoresGPSJitter(t *testing.T) {
	prev := &sensors.SensorData{Latitude: f(59.910000), Longitude: f(10.750000)}
	near := &sensors.SensorData{Latitude: f(59.910030), Longitude: f(10.750030)} // ~4 m
	far := &sensors.SensorData{Latitude: f(59.911000), Longitude: f(10.750000)}  // ~111 m

	assert.False(t, Changed(prev, near))
	assert.True(t, Changed(prev, far))
}
