package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
)

// mqttClient is the part of mqtt.Client the exporter uses.
type mqttClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTExporter publishes each capture as JSON to an MQTT topic, with TLS and
// mTLS support.
type MQTTExporter struct {
	cfg    config.MQTTConfig
	client mqttClient

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTExporter creates an exporter. Call Connect before use.
func NewMQTTExporter(cfg config.MQTTConfig, metadata map[string]interface{}) (*MQTTExporter, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("bottled-honey-%v", metadata["hostname"]))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := mqttTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newMQTTExporter(cfg, mqtt.NewClient(opts), metadata), nil
}

func newMQTTExporter(cfg config.MQTTConfig, client mqttClient, metadata map[string]interface{}) *MQTTExporter {
	return &MQTTExporter{
		cfg:      cfg,
		client:   client,
		metadata: metadata,
	}
}

func mqttTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Connect dials the broker.
func (h *MQTTExporter) Connect(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	if err := waitToken(ctx, h.client.Connect()); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}
	return nil
}

func (h *MQTTExporter) Name() string { return "mqtt" }

// Export publishes the capture with QoS 1 and waits for the broker ack.
func (h *MQTTExporter) Export(ctx context.Context, event events.Event) error {
	if !h.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := encodeMessage(h.metadata, event)
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT message: %w", err)
	}

	if err := waitToken(ctx, h.client.Publish(h.cfg.Topic, 1, false, data)); err != nil {
		return fmt.Errorf("MQTT publish to %s failed: %w", h.cfg.Topic, err)
	}
	return nil
}

// PublishStatus publishes a sensor status document to the status topic.
func (h *MQTTExporter) PublishStatus(ctx context.Context, status map[string]interface{}) error {
	if !h.client.IsConnected() {
		return ErrNotConnected
	}

	msg := make(map[string]interface{}, len(h.metadata)+len(status)+1)
	for k, v := range h.metadata {
		msg[k] = v
	}
	for k, v := range status {
		msg[k] = v
	}
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT status: %w", err)
	}
	return waitToken(ctx, h.client.Publish(h.statusTopic(), 1, false, data))
}

func (h *MQTTExporter) statusTopic() string {
	return h.cfg.Topic + "/status"
}

// Shutdown announces the sensor going offline and disconnects.
func (h *MQTTExporter) Shutdown(ctx context.Context) error {
	if h.client.IsConnected() {
		if err := h.PublishStatus(ctx, map[string]interface{}{"event": "shutdown"}); err != nil {
			log.Warn().Err(err).Msg("failed to publish MQTT shutdown message")
		}
	}
	h.client.Disconnect(250)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
