// Package webhook receives Traccar position and event forwards over HTTP and
// hands decoded snapshots to the rest of the bridge.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/fueltrim-hass/internal/config"
	"github.com/jkaberg/fueltrim-hass/internal/fueltrim"
	"github.com/jkaberg/fueltrim-hass/internal/metrics"
	"github.com/jkaberg/fueltrim-hass/internal/sensors"
)

// Sink receives every accepted snapshot. *bus.Bus satisfies it.
type Sink interface {
	Publish(*sensors.SensorData) bool
}

// Server is the Traccar webhook endpoint.
type Server struct {
	addr           string
	sink           Sink
	speedThreshold float64
	metrics        *metrics.Registry
	logger         *logrus.Logger
}

// NewServer creates a webhook server listening on addr.
func NewServer(addr string, sink Sink, speedThreshold float64, reg *metrics.Registry, logger *logrus.Logger) *Server {
	return &Server{
		addr:           addr,
		sink:           sink,
		speedThreshold: speedThreshold,
		metrics:        reg,
		logger:         logger,
	}
}

// Routes returns the HTTP handler with every endpoint mounted.
func (s *Server) Routes() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodPost, "/webhook", s.postWebhook)
	router.HandlerFunc(http.MethodGet, "/webhook", s.getWebhook)
	router.HandlerFunc(http.MethodGet, "/classify/:value", s.classify)
	router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	router.HandlerFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return router
}

// Run serves until ctx is cancelled and then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("Traccar webhook server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Traccar webhook server stopped")
	return nil
}

// Traccar forwards events with POST and a JSON body.
func (s *Server) postWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxWebhookBody))
	if err != nil {
		s.metrics.IncWebhook(metrics.WebhookInvalid)
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	s.handlePayload(w, body)
}

// Traccar position forwarding may use GET with the JSON in the "json" parameter.
func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("json")
	if raw == "" {
		s.logger.Debug("GET webhook without json parameter")
		s.metrics.IncWebhook(metrics.WebhookIgnored)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	s.handlePayload(w, []byte(raw))
}

func (s *Server) handlePayload(w http.ResponseWriter, body []byte) {
	data, err := sensors.ParseWebhook(body)
	switch {
	case errors.Is(err, sensors.ErrNoDeviceID), errors.Is(err, sensors.ErrEmptyPayload):
		s.logger.WithError(err).Debug("Ignoring webhook")
		s.metrics.IncWebhook(metrics.WebhookIgnored)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	case err != nil:
		s.logger.WithError(err).Warn("Failed to process webhook")
		s.metrics.IncWebhook(metrics.WebhookInvalid)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	sensors.Derive(data, s.speedThreshold)
	for _, warning := range sensors.ValidateSensorData(data) {
		s.logger.WithField("device_id", data.DeviceID).Warn(warning)
	}
	if data.ShortFuelTrim != nil {
		s.metrics.Observe("webhook", sensors.DeriveFuelTrimStatus(data))
	}

	fields := logrus.Fields{"device_id": data.DeviceID}
	if data.Event != nil {
		fields["event"] = *data.Event
	}
	if data.FuelTrimStatus != nil {
		fields["fuel_trim_status"] = *data.FuelTrimStatus
	}
	s.logger.WithFields(fields).Debug("Webhook accepted")

	if !s.sink.Publish(data) {
		s.logger.WithField("device_id", data.DeviceID).Debug("Snapshot dropped, consumer busy")
	}
	s.metrics.IncWebhook(metrics.WebhookAccepted)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type classifyResponse struct {
	Input  string          `json:"input"`
	Status fueltrim.Status `json:"status"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	input := httprouter.ParamsFromContext(r.Context()).ByName("value")
	status := fueltrim.Classify(input)
	s.metrics.Observe("http", status)
	writeJSON(w, http.StatusOK, classifyResponse{Input: input, Status: status})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
