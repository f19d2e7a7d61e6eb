package domain

import (
	"math"
	"reflect"
	"time"

	"github.com/jkaberg/fueltrim-hass/internal/sensors"
)

// Changed returns true if *cur* differs from *prev* beyond tolerated jitter.
// It ignores the receive and device timestamps and GPS wander of less than
// 10 metres so that a parked tracker reporting every few seconds does not
// trigger a transmit.
func Changed(prev, cur *sensors.SensorData) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}

	p, c := *prev, *cur // copy
	p.Timestamp, c.Timestamp = time.Time{}, time.Time{}
	p.DeviceTime, c.DeviceTime = nil, nil

	if p.Latitude != nil && p.Longitude != nil && c.Latitude != nil && c.Longitude != nil {
		const distThr = 10.0 // metres
		dist := haversineMeters(*p.Latitude, *p.Longitude, *c.Latitude, *c.Longitude)
		if dist < distThr {
			p.Latitude, p.Longitude = nil, nil
			c.Latitude, c.Longitude = nil, nil
		}
	}

	return !reflect.DeepEqual(p, c)
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0 // Earth radius in metres
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	lat1Rad := toRad(lat1)
	lat2Rad := toRad(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return r * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
