// Package notify publishes agent activity notifications over MQTT.
// The broker is optional; a Notifier built without one is a no-op, so
// callers never need to nil-check.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"curator/internal/config"
)

// Notifier manages the MQTT connection and publishes event messages.
// An availability topic with a retained will message lets subscribers
// see when the agent goes offline.
type Notifier struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// Event is the JSON payload published to the event topic.
type Event struct {
	Event   string `json:"event"`
	Media   string `json:"media,omitempty"`
	Session string `json:"session,omitempty"`
	Message string `json:"message,omitempty"`
	Time    string `json:"time"`
}

// New creates a Notifier but does not connect. Call [Notifier.Start]
// to begin the connection. A cfg with an empty Broker yields a no-op
// notifier.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Notifier {
	return &Notifier{cfg: cfg, logger: logger}
}

// Enabled reports whether a broker is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.cfg.Broker != ""
}

// Start connects to the MQTT broker and returns once the connection
// manager is running; autopaho handles reconnects in the background.
func (n *Notifier) Start(ctx context.Context) error {
	if !n.Enabled() {
		return nil
	}

	brokerURL, err := url.Parse(n.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := n.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: n.cfg.Username,
		ConnectPassword: []byte(n.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected to broker", "broker", n.cfg.Broker)
			n.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "curator-" + n.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	n.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		n.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (n *Notifier) Stop(ctx context.Context) error {
	if n.cm == nil {
		return nil
	}
	n.publishAvailability(ctx, n.cm, "offline")
	return n.cm.Disconnect(ctx)
}

// DownloadStarted announces that a download was handed to a backend.
func (n *Notifier) DownloadStarted(ctx context.Context, mediaName string) {
	n.publishEvent(ctx, Event{Event: "download_started", Media: mediaName})
}

// TurnError announces that a conversation turn failed.
func (n *Notifier) TurnError(ctx context.Context, sessionID, message string) {
	n.publishEvent(ctx, Event{Event: "error", Session: sessionID, Message: message})
}

func (n *Notifier) publishEvent(ctx context.Context, ev Event) {
	if n == nil || n.cm == nil {
		return
	}
	ev.Time = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("mqtt marshal event payload", "event", ev.Event, "error", err)
		return
	}

	topic := n.baseTopic() + "/event"
	if _, err := n.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		n.logger.Warn("mqtt event publish failed", "event", ev.Event, "topic", topic, "error", err)
	} else {
		n.logger.Debug("mqtt event published", "event", ev.Event, "topic", topic)
	}
}

func (n *Notifier) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   n.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		n.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		n.logger.Info("mqtt availability published", "status", status)
	}
}

func (n *Notifier) baseTopic() string {
	return "curator/" + n.cfg.DeviceName
}

func (n *Notifier) availabilityTopic() string {
	return n.baseTopic() + "/availability"
}
