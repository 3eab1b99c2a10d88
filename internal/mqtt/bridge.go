//go:build !no_mqtt

// Package mqtt mirrors the session's status onto an MQTT broker and
// accepts device commands from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"datalink-sync/internal/session"
)

// Commands accepted on <prefix>/command.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandSend       = "send"
	// CommandSync connects if needed, sends and disconnects.
	CommandSync = "sync"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Discovery   bool
}

// publisher is the part of the paho client the bridge publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge connects a session to MQTT.
type Bridge struct {
	client    pahomqtt.Client
	pub       publisher
	sess      *session.Session
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(sess *session.Session, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		sess:      sess,
		prefix:    cfg.TopicPrefix,
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
		ctx:       ctx,
		cancel:    cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("datalink-sync-" + sess.ID()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishSnapshot()
			if b.discovery {
				b.publishDiscovery()
			}
			b.subscribeCommands(c)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	b.pub = client

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to session events.
func (b *Bridge) Start() {
	b.unsub = b.sess.Bus().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventStatus:
		b.publish(b.prefix+"/status", mustJSON(ev.Data), true)
	case session.EventDeviceState:
		if state, ok := ev.Data.(string); ok {
			b.publish(b.prefix+"/device/state", []byte(state), true)
		}
	case session.EventProgress:
		b.publish(b.prefix+"/device/progress", mustJSON(ev.Data), false)
	case session.EventActivity:
		b.publish(b.prefix+"/activity", mustJSON(ev.Data), true)
	case session.EventAuth:
		b.publish(b.prefix+"/auth", mustJSON(ev.Data), true)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

// publishSnapshot republishes the retained topics after a (re)connect.
func (b *Bridge) publishSnapshot() {
	b.publish(b.prefix+"/status", mustJSON(b.sess.Status()), true)
	b.publish(b.prefix+"/device/state", []byte(b.sess.DeviceStatus().State), true)
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "prefix", b.prefix)
}

func (b *Bridge) subscribeCommands(c pahomqtt.Client) {
	topic := b.prefix + "/command"
	c.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		// Sends take seconds; keep the paho router free.
		go b.handleCommand(msg.Payload())
	})
}

type commandMessage struct {
	Command string `json:"command"`
}

// parseCommand accepts a bare command word or {"command": "..."}.
func parseCommand(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var cm commandMessage
		if err := json.Unmarshal(payload, &cm); err == nil {
			s = cm.Command
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func (b *Bridge) handleCommand(payload []byte) {
	cmd := parseCommand(payload)
	b.logger.Info("MQTT command", "command", cmd)

	var err error
	switch cmd {
	case CommandConnect:
		err = b.sess.Connect(b.ctx)
	case CommandDisconnect:
		err = b.sess.Disconnect()
	case CommandSend:
		_, err = b.sess.Send(b.ctx)
	case CommandSync:
		if err = b.sess.Connect(b.ctx); err == nil {
			_, err = b.sess.Send(b.ctx)
			if derr := b.sess.Disconnect(); err == nil {
				err = derr
			}
		}
	default:
		b.logger.Warn("unknown MQTT command", "payload", string(payload))
		return
	}
	if err != nil {
		b.logger.Warn("MQTT command failed", "command", cmd, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.pub.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
