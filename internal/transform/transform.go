// Package transform applies the fuel trim classifier to raw MQTT topics, the
// way a home automation binding transform maps a sensor value to a label.
package transform

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/fueltrim-hass/internal/config"
	"github.com/jkaberg/fueltrim-hass/internal/fueltrim"
	"github.com/jkaberg/fueltrim-hass/internal/metrics"
	"github.com/jkaberg/fueltrim-hass/internal/mqtt"
)

// Client is the MQTT surface the transformer needs.
type Client interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Transformer republishes the status label of every message on a rule's
// source topic to its target topic.
type Transformer struct {
	client  Client
	rules   []config.TransformRule
	metrics *metrics.Registry
	logger  *logrus.Logger
}

// New returns a Transformer for rules. Rules are expected to be validated.
func New(client Client, rules []config.TransformRule, reg *metrics.Registry, logger *logrus.Logger) *Transformer {
	return &Transformer{client: client, rules: rules, metrics: reg, logger: logger}
}

// Run subscribes every rule and blocks until ctx is cancelled, then
// unsubscribes. It fails fast if any subscription cannot be made.
func (t *Transformer) Run(ctx context.Context) error {
	sources := make([]string, 0, len(t.rules))
	defer func() {
		if len(sources) == 0 {
			return
		}
		if err := t.client.Unsubscribe(sources...); err != nil {
			t.logger.WithError(err).Debug("transform: unsubscribe failed")
		}
	}()

	for _, rule := range t.rules {
		if err := t.client.Subscribe(rule.Source, t.handler(rule)); err != nil {
			return fmt.Errorf("transform %s: %w", rule.Source, err)
		}
		sources = append(sources, rule.Source)
		t.logger.WithFields(logrus.Fields{
			"source": rule.Source,
			"target": rule.Target,
		}).Info("Fuel trim transform active")
	}

	<-ctx.Done()
	return nil
}

func (t *Transformer) handler(rule config.TransformRule) mqtt.MessageHandler {
	return func(topic string, payload []byte) {
		status := fueltrim.Classify(string(payload))
		t.metrics.Observe("transform", status)

		err := t.client.Publish(rule.Target, []byte(status), true)
		t.metrics.ObservePublish("transform", err)

		fields := logrus.Fields{
			"source": topic,
			"target": rule.Target,
			"input":  string(payload),
			"status": status,
		}
		if err != nil {
			t.logger.WithError(err).WithFields(fields).Warn("transform: publish failed")
			return
		}
		if !status.Known() {
			t.logger.WithFields(fields).Warn("transform: payload has no numeric value")
			return
		}
		t.logger.WithFields(fields).Debug("transform: classified")
	}
}
