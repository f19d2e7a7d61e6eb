package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jkaberg/fueltrim-hass/internal/bus"
	"github.com/jkaberg/fueltrim-hass/internal/config"
	"github.com/jkaberg/fueltrim-hass/internal/domain"
	"github.com/jkaberg/fueltrim-hass/internal/metrics"
	"github.com/jkaberg/fueltrim-hass/internal/mqtt"
	"github.com/jkaberg/fueltrim-hass/internal/sensors"
	"github.com/jkaberg/fueltrim-hass/internal/transform"
	"github.com/jkaberg/fueltrim-hass/internal/transmission"
	"github.com/jkaberg/fueltrim-hass/internal/webhook"
)

// Subscriber is the MQTT surface used to follow Home Assistant restarts.
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Components groups everything Run wires together. Tx, Broker and
// Transformer are optional and nil when MQTT is not configured.
type Components struct {
	Server      *webhook.Server
	Bus         *bus.Bus
	Tx          transmission.Transmitter
	Broker      Subscriber
	Transformer *transform.Transformer
	Metrics     *metrics.Registry
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func Run(parentCtx context.Context, cfg *config.Config, configPath string, c Components, logger *logrus.Logger) error {
	grp, ctx := errgroup.WithContext(parentCtx)

	// Webhook -------------------------------------------------------------
	grp.Go(func() error {
		if err := c.Server.Run(ctx); err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	// Scheduler -----------------------------------------------------------
	sub := c.Bus.Subscribe()
	resync := make(chan struct{}, 1)
	grp.Go(func() error {
		defer c.Bus.Close()
		s := newScheduler(cfg.MQTTInterval, cfg.ForceUpdateInterval, c.Tx, c.Metrics, logger)
		return s.run(ctx, sub, resync)
	})

	// Home Assistant birth message ----------------------------------------
	if c.Broker != nil && c.Tx != nil {
		grp.Go(func() error {
			topic := mqtt.HAStatusTopic(cfg.DiscoveryPrefix)
			if err := c.Broker.Subscribe(topic, haStatusHandler(resync, logger)); err != nil {
				// Discovery still goes out once per device; only HA restarts are missed
				logger.WithError(err).Warn("Failed to subscribe to Home Assistant status")
				return nil
			}
			<-ctx.Done()
			if err := c.Broker.Unsubscribe(topic); err != nil {
				logger.WithError(err).Debug("Failed to unsubscribe from Home Assistant status")
			}
			return nil
		})
	}

	// Transform -----------------------------------------------------------
	if c.Transformer != nil {
		grp.Go(func() error {
			return c.Transformer.Run(ctx)
		})
	}

	// Config reload -------------------------------------------------------
	if configPath != "" {
		grp.Go(func() error {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				applyReload(logger, cfg, next)
			})
			if err != nil {
				// Not fatal: the bridge still works with the startup config
				logger.WithError(err).Warn("Config watcher unavailable")
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// haStatusHandler requests a resync whenever Home Assistant announces "online".
func haStatusHandler(resync chan<- struct{}, logger *logrus.Logger) mqtt.MessageHandler {
	return func(_ string, payload []byte) {
		if string(payload) != "online" {
			return
		}
		logger.Info("Home Assistant came online, resending discovery")
		select {
		case resync <- struct{}{}:
		default:
		}
	}
}

// applyReload applies the settings that can change at runtime. Everything
// else only takes effect after a restart.
func applyReload(logger *logrus.Logger, cur, next *config.Config) {
	level := logrus.InfoLevel
	if next.Verbose {
		level = logrus.DebugLevel
	}
	if logger.GetLevel() != level {
		logger.SetLevel(level)
		logger.WithField("level", level.String()).Info("Log level changed")
	}
	if next.MQTTUrl != cur.MQTTUrl || next.ListenAddr != cur.ListenAddr ||
		len(next.Transforms) != len(cur.Transforms) || len(next.Sensors) != len(cur.Sensors) {
		logger.Warn("Connection, sensor and transform changes apply after restart")
	}
}

// deviceState tracks the last transmitted snapshot of one Traccar device.
type deviceState struct {
	latest   *sensors.SensorData
	lastSnap *sensors.SensorData
	lastSent time.Time
}

type scheduler struct {
	interval time.Duration
	force    time.Duration
	tx       transmission.Transmitter
	metrics  *metrics.Registry
	logger   *logrus.Logger
	devices  map[int64]*deviceState
	now      func() time.Time
}

func newScheduler(interval, force time.Duration, tx transmission.Transmitter, reg *metrics.Registry, logger *logrus.Logger) *scheduler {
	return &scheduler{
		interval: interval,
		force:    force,
		tx:       tx,
		metrics:  reg,
		logger:   logger,
		devices:  make(map[int64]*deviceState),
		now:      time.Now,
	}
}

func (s *scheduler) run(ctx context.Context, sub <-chan *sensors.SensorData, resync <-chan struct{}) error {
	ticker := time.NewTicker(config.SchedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-sub:
			if !ok {
				return nil
			}
			s.observe(snap)
		case <-resync:
			s.resync()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *scheduler) observe(snap *sensors.SensorData) {
	st, ok := s.devices[snap.DeviceID]
	if !ok {
		st = &deviceState{lastSent: s.now().Add(-s.interval)}
		s.devices[snap.DeviceID] = st
		s.logger.WithField("device_id", snap.DeviceID).Info("New Traccar device seen")
	}
	st.latest = mergeSnapshot(st.latest, snap)
}

// resync forgets what was sent so every device is rediscovered and
// republished on its next eligible tick.
func (s *scheduler) resync() {
	if s.tx == nil {
		return
	}
	s.tx.ResetDiscovery()
	for _, st := range s.devices {
		st.lastSnap = nil
	}
}

// tick transmits every device whose state changed (or whose force interval
// elapsed) and whose minimum spacing has passed.
func (s *scheduler) tick() {
	if s.tx == nil {
		return
	}
	now := s.now()
	for id, st := range s.devices {
		if st.latest == nil || now.Sub(st.lastSent) < s.interval {
			continue
		}
		forced := s.force > 0 && now.Sub(st.lastSent) >= s.force
		if !forced && !domain.Changed(st.lastSnap, st.latest) {
			continue
		}

		err := s.tx.Transmit(st.latest)
		s.metrics.ObservePublish("transmitter", err)
		if err != nil {
			s.logger.WithError(err).WithField("device_id", id).Warn("MQTT transmit failed")
			// Reset lastSnap so Changed() is true on the next tick while
			// lastSent still enforces the interval.
			st.lastSnap = nil
			st.lastSent = now
			continue
		}
		st.lastSnap = st.latest
		st.lastSent = now
	}
}

// mergeSnapshot overlays cur on prev so that an event-only webhook, or a
// position without OBD data, does not blank out the last known readings.
func mergeSnapshot(prev, cur *sensors.SensorData) *sensors.SensorData {
	if prev == nil {
		return cur
	}
	merged := *prev
	merged.Timestamp = cur.Timestamp
	if cur.DeviceName != "" {
		merged.DeviceName = cur.DeviceName
	}
	merged.Event = pick(cur.Event, prev.Event)
	merged.DeviceTime = pick(cur.DeviceTime, prev.DeviceTime)
	merged.Latitude = pick(cur.Latitude, prev.Latitude)
	merged.Longitude = pick(cur.Longitude, prev.Longitude)
	merged.Altitude = pick(cur.Altitude, prev.Altitude)
	merged.Speed = pick(cur.Speed, prev.Speed)
	merged.Course = pick(cur.Course, prev.Course)
	merged.Ignition = pick(cur.Ignition, prev.Ignition)
	merged.DTCCount = pick(cur.DTCCount, prev.DTCCount)
	merged.EngineLoad = pick(cur.EngineLoad, prev.EngineLoad)
	merged.CoolantTemp = pick(cur.CoolantTemp, prev.CoolantTemp)
	merged.ShortFuelTrim = pick(cur.ShortFuelTrim, prev.ShortFuelTrim)
	merged.FuelPressure = pick(cur.FuelPressure, prev.FuelPressure)
	merged.EngineRPM = pick(cur.EngineRPM, prev.EngineRPM)
	merged.OBDSpeed = pick(cur.OBDSpeed, prev.OBDSpeed)
	merged.FuelLevel = pick(cur.FuelLevel, prev.FuelLevel)
	merged.FuelTrimStatus = pick(cur.FuelTrimStatus, prev.FuelTrimStatus)
	return &merged
}

func pick[T any](cur, prev *T) *T {
	if cur != nil {
		return cur
	}
	return prev
}
