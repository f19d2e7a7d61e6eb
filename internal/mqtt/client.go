package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// BaseTopic is the root of every state and availability topic the bridge owns.
const BaseTopic = "fueltrim"

// MessageHandler receives the topic and raw payload of a subscribed message.
type MessageHandler func(topic string, payload []byte)

// Client wraps the MQTT client with additional functionality
type Client struct {
	client   mqtt.Client
	bridgeID string
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewClient connects to the broker at mqttURL. ws, wss, mqtt and mqtts schemes
// are accepted; credentials may be embedded in the URL. The broker publishes a
// retained "offline" on the availability topic if the bridge drops off.
func NewClient(mqttURL, bridgeID string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	clientID := fmt.Sprintf("fueltrim-hass-%s", bridgeID)
	opts := mqtt.NewClientOptions()

	brokerURL, err := brokerURLFor(parsedURL, mqttURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "wss" || parsedURL.Scheme == "mqtts" {
		// Self-signed brokers are the norm on home networks
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	logger.WithField("protocol", parsedURL.Scheme).Debug("Using MQTT transport")

	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetWill(AvailabilityTopic(bridgeID), "offline", 1, true)

	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		password, _ := parsedURL.User.Password()
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})

	firstConnect := true
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if firstConnect {
			logger.Debug("MQTT connected")
			firstConnect = false
		} else {
			logger.Info("MQTT reconnected")
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"protocol":  parsedURL.Scheme,
		"client_id": clientID,
	}).Info("MQTT client connected")

	return &Client{
		client:   client,
		bridgeID: bridgeID,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// brokerURLFor maps the user-facing scheme to the one paho dials.
func brokerURLFor(parsedURL *url.URL, mqttURL string) (string, error) {
	switch parsedURL.Scheme {
	case "ws", "wss":
		return mqttURL, nil
	case "mqtt":
		return strings.Replace(mqttURL, "mqtt://", "tcp://", 1), nil
	case "mqtts":
		return strings.Replace(mqttURL, "mqtts://", "ssl://", 1), nil
	default:
		return "", fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", parsedURL.Scheme)
	}
}

// Publish publishes a message to the specified topic
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	qos := byte(1) // At least once delivery
	token := c.client.Publish(topic, qos, retained, payload)

	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, c.timeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")

	return nil
}

// Subscribe routes every message on topic to handler.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	qos := byte(1)
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})

	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("subscribe to topic %s timed out after %s", topic, c.timeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.logger.WithField("topic", topic).Debug("Subscribed to MQTT topic")
	return nil
}

// Unsubscribe stops delivery for the given topics.
func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("unsubscribe from %v timed out after %s", topics, c.timeout)
	}
	return token.Error()
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect marks the bridge offline and disconnects the client.
func (c *Client) Disconnect(quiesce uint) {
	if err := c.PublishAvailability(false); err != nil {
		c.logger.WithError(err).Debug("Failed to publish offline availability")
	}
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// BridgeID returns the bridge identifier used in the client id and topics.
func (c *Client) BridgeID() string {
	return c.bridgeID
}

// PublishAvailability publishes bridge availability status
func (c *Client) PublishAvailability(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	return c.Publish(AvailabilityTopic(c.bridgeID), []byte(status), true)
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}

	return parsed.String()
}
