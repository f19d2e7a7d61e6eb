package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/fueltrim-hass/internal/app"
	"github.com/jkaberg/fueltrim-hass/internal/bus"
	"github.com/jkaberg/fueltrim-hass/internal/config"
	"github.com/jkaberg/fueltrim-hass/internal/fueltrim"
	"github.com/jkaberg/fueltrim-hass/internal/metrics"
	"github.com/jkaberg/fueltrim-hass/internal/mqtt"
	"github.com/jkaberg/fueltrim-hass/internal/sensors"
	"github.com/jkaberg/fueltrim-hass/internal/transform"
	"github.com/jkaberg/fueltrim-hass/internal/transmission"
	"github.com/jkaberg/fueltrim-hass/internal/webhook"
)

// version is injected at build time via ldflags
var version = "dev"

type options struct {
	configPath          string
	classify            string
	showVersion         bool
	mqttURL             string
	listenAddr          string
	bridgeID            string
	discoveryPrefix     string
	verbose             string
	mqttInterval        string
	forceUpdateInterval string
	speedThreshold      string
}

func main() {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("fueltrim-hass %s\n", version)
		os.Exit(0)
	}

	// One-shot path ---------------------------------------------------------------
	if opts.classify != "" {
		fmt.Println(fueltrim.Classify(opts.classify))
		return
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fueltrim-hass: %v\n", err)
		os.Exit(2)
	}

	logger := setupLogger(cfg.Verbose)

	logFields := logrus.Fields{
		"version":   version,
		"bridge_id": cfg.BridgeID,
		"listen":    cfg.ListenAddr,
		"mqtt_int":  cfg.MQTTInterval,
	}
	if cfg.ForceUpdateInterval > 0 {
		logFields["force_update_int"] = cfg.ForceUpdateInterval
	}
	if len(cfg.Transforms) > 0 {
		logFields["transforms"] = len(cfg.Transforms)
	}
	logger.WithFields(logFields).Info("Starting fueltrim-hass")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Core components ------------------------------------------------------------
	reg := metrics.New()
	messageBus := bus.New()
	components := app.Components{
		Server:  webhook.NewServer(cfg.ListenAddr, messageBus, cfg.SpeedThreshold, reg, logger),
		Bus:     messageBus,
		Metrics: reg,
	}

	// Transmitters ---------------------------------------------------------------
	if cfg.HasMQTT() {
		mqttClient, err := mqtt.NewClient(cfg.MQTTUrl, cfg.BridgeID, config.MQTTTimeout, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		defer mqttClient.Disconnect(250)

		defs := sensors.PublishedSensors(cfg.Sensors)
		components.Tx = transmission.NewMQTTTransmitter(mqttClient, cfg.BridgeID, cfg.DiscoveryPrefix, defs, logger)
		components.Broker = mqttClient
		logger.WithField("sensors", len(defs)).Info("MQTT transmitter ready")

		if len(cfg.Transforms) > 0 {
			components.Transformer = transform.New(mqttClient, cfg.Transforms, reg, logger)
		}
	} else {
		logger.Warn("No MQTT broker configured; webhook data will only be logged")
	}

	// Run application ------------------------------------------------------------
	if err := app.Run(ctx, cfg, opts.configPath, components, logger); err != nil {
		logger.WithError(err).Error("fueltrim-hass stopped with error")
		cancel()
		os.Exit(1)
	}
	logger.Info("fueltrim-hass stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() options {
	var o options

	flag.BoolVar(&o.showVersion, "version", false, "Show version and exit")
	flag.StringVar(&o.classify, "classify", "", "Classify a single fuel trim value and exit")
	flag.StringVar(&o.configPath, "config", getEnv("FUELTRIM_HASS_CONFIG", ""), "Path to YAML config file (watched for changes)")

	flag.StringVar(&o.mqttURL, "mqtt-url", getEnv("FUELTRIM_HASS_MQTT_URL", ""), "MQTT URL")
	flag.StringVar(&o.listenAddr, "listen", getEnv("FUELTRIM_HASS_LISTEN", ""), "Webhook listen address (default "+config.DefaultListenAddr+")")
	flag.StringVar(&o.bridgeID, "bridge-id", getEnv("FUELTRIM_HASS_BRIDGE_ID", ""), "Bridge identifier")
	flag.StringVar(&o.discoveryPrefix, "discovery-prefix", getEnv("FUELTRIM_HASS_DISCOVERY_PREFIX", ""), "HA discovery prefix")
	flag.StringVar(&o.verbose, "verbose", getEnv("FUELTRIM_HASS_VERBOSE", ""), "Verbose logging (true/false)")
	flag.StringVar(&o.mqttInterval, "mqtt-interval", getEnv("FUELTRIM_HASS_MQTT_INTERVAL", ""), "MQTT interval (e.g. 10s)")
	flag.StringVar(&o.forceUpdateInterval, "force-update-interval", getEnv("FUELTRIM_HASS_FORCE_UPDATE_INTERVAL", ""), "Force update all sensors at this interval even if unchanged (e.g. 10m, 0 = disabled)")
	flag.StringVar(&o.speedThreshold, "speed-threshold", getEnv("FUELTRIM_HASS_SPEED_THRESHOLD", ""), "Speed in km/h below which GPS speed reads 0")

	flag.Parse()
	return o
}

// buildConfig loads the config file, if any, and lets flags and environment
// variables override it.
func buildConfig(o options) (*config.Config, error) {
	cfg := config.GetDefaultConfig()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if o.mqttURL != "" {
		cfg.MQTTUrl = o.mqttURL
	}
	if o.listenAddr != "" {
		cfg.ListenAddr = o.listenAddr
	}
	if o.bridgeID != "" {
		cfg.BridgeID = o.bridgeID
	}
	if o.discoveryPrefix != "" {
		cfg.DiscoveryPrefix = o.discoveryPrefix
	}
	if o.verbose != "" {
		cfg.Verbose = o.verbose == "true"
	}

	// Duration overrides
	if o.mqttInterval != "" {
		d, err := parseDuration(o.mqttInterval)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid mqtt interval %q", o.mqttInterval)
		}
		cfg.MQTTInterval = d
	}
	if o.forceUpdateInterval != "" {
		d, err := parseDuration(o.forceUpdateInterval)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid force update interval %q", o.forceUpdateInterval)
		}
		cfg.ForceUpdateInterval = d
	}
	if o.speedThreshold != "" {
		v, err := strconv.ParseFloat(o.speedThreshold, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid speed threshold %q", o.speedThreshold)
		}
		cfg.SpeedThreshold = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
