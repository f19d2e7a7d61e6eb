package config

import "time"

// Central place for all application-wide timing constants and other defaults.

const (
	// Transmission
	MQTTTransmitInterval = 10 * time.Second // minimum spacing per device
	SchedulerTick        = time.Second

	// Operation time-outs (to avoid blocking goroutines)
	MQTTTimeout     = 5 * time.Second // MQTT publish / subscribe
	ShutdownTimeout = 5 * time.Second // webhook server drain

	// Webhook server
	DefaultListenAddr     = ":5055"
	DefaultSpeedThreshold = 2.0     // km/h
	MaxWebhookBody        = 1 << 20 // bytes
)
