package sensors

import "github.com/jkaberg/fueltrim-hass/internal/fueltrim"

// DeriveFuelTrimStatus grades the short fuel trim reading. A snapshot without
// a fuel trim value yields fueltrim.Unknown.
func DeriveFuelTrimStatus(data *SensorData) fueltrim.Status {
	if data == nil || data.ShortFuelTrim == nil {
		return fueltrim.Unknown
	}
	return fueltrim.ClassifyValue(*data.ShortFuelTrim)
}

// ApplySpeedThreshold zeroes GPS speeds below thresholdKmh so that signal
// drift while parked does not register as movement.
func ApplySpeedThreshold(data *SensorData, thresholdKmh float64) {
	if data == nil || data.Speed == nil {
		return
	}
	if *data.Speed < thresholdKmh {
		zero := 0.0
		data.Speed = &zero
	}
}

// Derive fills every derived field of data in place.
func Derive(data *SensorData, speedThresholdKmh float64) {
	if data == nil {
		return
	}
	ApplySpeedThreshold(data, speedThresholdKmh)
	if data.ShortFuelTrim != nil {
		status := DeriveFuelTrimStatus(data).String()
		data.FuelTrimStatus = &status
	}
}
