// Package telemetry exposes link metrics to Prometheus and publishes link
// and player events to an MQTT broker.
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
	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicStatus  = "status"
	TopicLink    = "link"
	TopicPlayers = "players"
)

// MQTTPublisher forwards bus events to an MQTT broker.
type MQTTPublisher struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Included in every message.
	metadata map[string]interface{}
}

// NewMQTTPublisher creates a publisher. It does not connect until Start.
func NewMQTTPublisher(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTPublisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "datalink"
	}

	sysInfo := util.GetSystemInfo()
	p := &MQTTPublisher{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID("datalink-" + sysInfo.Hostname)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

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

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

var publishedEvents = []events.EventType{
	events.EventLinkState,
	events.EventLinkTerminal,
	events.EventLinkStatus,
	events.EventPlayerJoined,
	events.EventPlayerQuit,
	events.EventPlayerMessage,
}

// Start connects, forwards events until ctx is cancelled, then announces
// shutdown and disconnects.
func (p *MQTTPublisher) Start(ctx context.Context) error {
	p.logger.Info().
		Str("broker", p.cfg.BrokerURL).
		Int("port", p.cfg.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	for _, et := range publishedEvents {
		p.eventBus.Subscribe(et, "mqtt."+string(et), p.onEvent)
	}

	<-ctx.Done()

	for _, et := range publishedEvents {
		p.eventBus.Unsubscribe(et, "mqtt."+string(et))
	}
	p.publish(p.cfg.TopicPrefix+"/"+TopicStatus, map[string]interface{}{"event": "shutdown"}).
		WaitTimeout(2 * time.Second)
	p.client.Disconnect(5000)
	p.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (p *MQTTPublisher) onEvent(_ context.Context, event events.Event) error {
	topic, payload, ok := route(p.cfg.TopicPrefix, event)
	if !ok {
		return nil
	}
	token := p.publish(topic, payload)
	go func() {
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
	return nil
}

// route maps a bus event to its topic and message body.
func route(prefix string, event events.Event) (string, interface{}, bool) {
	switch event.Type {
	case events.EventLinkState, events.EventLinkTerminal:
		return prefix + "/" + TopicLink, map[string]interface{}{
			"event":   string(event.Type),
			"payload": event.Payload,
		}, true

	case events.EventLinkStatus:
		return prefix + "/" + TopicStatus, event.Payload, true

	case events.EventPlayerJoined, events.EventPlayerQuit:
		return prefix + "/" + TopicPlayers, map[string]interface{}{
			"event":   string(event.Type),
			"payload": event.Payload,
		}, true

	case events.EventPlayerMessage:
		msg, ok := event.Payload.(events.PlayerMessagePayload)
		if !ok {
			return "", nil, false
		}
		return fmt.Sprintf("%s/%s/%s/message", prefix, TopicPlayers, msg.ID), msg, true
	}
	return "", nil, false
}

func (p *MQTTPublisher) publish(topic string, payload interface{}) mqtt.Token {
	data, err := json.Marshal(p.buildMessage(payload))
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		data = []byte("{}")
	}
	return p.client.Publish(topic, 1, false, data)
}

// buildMessage combines metadata with the event payload.
func (p *MQTTPublisher) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(p.metadata)+2)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
