package app

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/fueltrim-hass/internal/bus"
	"github.com/jkaberg/fueltrim-hass/internal/config"
	"github.com/jkaberg/fueltrim-hass/internal/metrics"
	"github.com/jkaberg/fueltrim-hass/internal/mqtt"
	"github.com/jkaberg/fueltrim-hass/internal/sensors"
	"github.com/jkaberg/fueltrim-hass/internal/webhook"
)

type fakeTx struct {
	mu     sync.Mutex
	fail   bool
	resets int
	sent   []*sensors.SensorData
}

func (f *fakeTx) ResetDiscovery() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeTx) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// fakeBroker records the Home Assistant status subscription.
type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
}

func (b *fakeBroker) Subscribe(topic string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]mqtt.MessageHandler{}
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topics...)
	return nil
}

func (b *fakeBroker) handler(topic string) mqtt.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

func (f *fakeTx) Transmit(d *sensors.SensorData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.sent = append(f.sent, d)
	return nil
}

func (f *fakeTx) IsConnected() bool { return true }

func (f *fakeTx) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func trimSnapshot(id int64, trim float64) *sensors.SensorData {
	return &sensors.SensorData{DeviceID: id, ShortFuelTrim: &trim}
}

// testScheduler returns a scheduler whose clock is advanced by the caller.
func testScheduler(tx *fakeTx, force time.Duration) (*scheduler, *time.Time) {
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	s := newScheduler(10*time.Second, force, tx, metrics.New(), quietLogger())
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSchedulerTransmitsOnlyChanges(t *testing.T) {
	tx := &fakeTx{}
	s, now := testScheduler(tx, 0)

	s.observe(trimSnapshot(1, 3))
	s.tick()
	assert.Equal(t, 1, tx.count(), "first snapshot goes out immediately")

	*now = now.Add(11 * time.Second)
	s.observe(trimSnapshot(1, 3))
	s.tick()
	assert.Equal(t, 1, tx.count(), "unchanged snapshot is skipped")

	s.observe(trimSnapshot(1, 9))
	s.tick()
	assert.Equal(t, 2, tx.count())
}

func TestSchedulerHonoursInterval(t *testing.T) {
	tx := &fakeTx{}
	s, now := testScheduler(tx, 0)

	s.observe(trimSnapshot(1, 3))
	s.tick()
	s.observe(trimSnapshot(1, 12))
	*now = now.Add(5 * time.Second)
	s.tick()
	assert.Equal(t, 1, tx.count())

	*now = now.Add(5 * time.Second)
	s.tick()
	assert.Equal(t, 2, tx.count())
}

func TestSchedulerForceUpdate(t *testing.T) {
	tx := &fakeTx{}
	s, now := testScheduler(tx, time.Minute)

	s.observe(trimSnapshot(1, 3))
	s.tick()
	*now = now.Add(30 * time.Second)
	s.tick()
	assert.Equal(t, 1, tx.count())

	*now = now.Add(31 * time.Second)
	s.tick()
	assert.Equal(t, 2, tx.count())
}

func TestSchedulerRetriesAfterFailure(t *testing.T) {
	tx := &fakeTx{fail: true}
	s, now := testScheduler(tx, 0)

	s.observe(trimSnapshot(1, 3))
	s.tick()
	assert.Equal(t, 0, tx.count())

	tx.mu.Lock()
	tx.fail = false
	tx.mu.Unlock()
	*now = now.Add(10 * time.Second)
	s.tick()
	assert.Equal(t, 1, tx.count())
}

func TestSchedulerTracksDevicesSeparately(t *testing.T) {
	tx := &fakeTx{}
	s, _ := testScheduler(tx, 0)

	s.observe(trimSnapshot(1, 3))
	s.observe(trimSnapshot(2, 3))
	s.tick()
	assert.Equal(t, 2, tx.count())
}

func TestSchedulerResyncRepublishes(t *testing.T) {
	tx := &fakeTx{}
	s, now := testScheduler(tx, 0)

	s.observe(trimSnapshot(1, 3))
	s.tick()
	*now = now.Add(10 * time.Second)
	s.tick()
	assert.Equal(t, 1, tx.count())

	s.resync()
	assert.Equal(t, 1, tx.resetCount())
	s.tick()
	assert.Equal(t, 2, tx.count(), "unchanged state goes out again after a resync")
}

func TestHAStatusHandler(t *testing.T) {
	resync := make(chan struct{}, 1)
	h := haStatusHandler(resync, quietLogger())

	h("homeassistant/status", []byte("offline"))
	assert.Empty(t, resync)

	h("homeassistant/status", []byte("online"))
	h("homeassistant/status", []byte("online"))
	assert.Len(t, resync, 1, "pending resyncs coalesce")
}

func TestMergeSnapshotKeepsLastReadings(t *testing.T) {
	prev := trimSnapshot(1, 4)
	event := "ignitionOff"
	cur := &sensors.SensorData{DeviceID: 1, Event: &event}

	merged := mergeSnapshot(prev, cur)
	require.NotNil(t, merged.ShortFuelTrim)
	assert.Equal(t, 4.0, *merged.ShortFuelTrim)
	require.NotNil(t, merged.Event)
	assert.Equal(t, "ignitionOff", *merged.Event)
	assert.Nil(t, prev.Event, "previous snapshot is not mutated")
}

func TestApplyReloadChangesLogLevel(t *testing.T) {
	logger := quietLogger()
	cur := config.GetDefaultConfig()
	next := config.GetDefaultConfig()
	next.Verbose = true

	applyReload(logger, cur, next)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestRunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := config.GetDefaultConfig()
	cfg.ListenAddr = addr
	cfg.MQTTInterval = time.Second
	logger := quietLogger()
	reg := metrics.New()
	b := bus.New()
	tx := &fakeTx{}
	broker := &fakeBroker{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, "", Components{
			Server:  webhook.NewServer(addr, b, cfg.SpeedThreshold, reg, logger),
			Bus:     b,
			Tx:      tx,
			Broker:  broker,
			Metrics: reg,
		}, logger)
	}()

	// the scheduler subscribes before the server starts accepting
	trim := -1.0
	require.Eventually(t, func() bool {
		b.Publish(&sensors.SensorData{DeviceID: 4, ShortFuelTrim: &trim})
		return tx.count() > 0
	}, 5*time.Second, 100*time.Millisecond)

	// Home Assistant restarting triggers rediscovery and a republish
	var ha mqtt.MessageHandler
	require.Eventually(t, func() bool {
		ha = broker.handler("homeassistant/status")
		return ha != nil
	}, time.Second, 10*time.Millisecond)
	sent := tx.count()
	ha("homeassistant/status", []byte("online"))
	require.Eventually(t, func() bool {
		return tx.resetCount() == 1 && tx.count() > sent
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"homeassistant/status"}, broker.unsubscribed)
}
