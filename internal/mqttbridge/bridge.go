// Package mqttbridge connects the daemon to an MQTT broker. It ingests raw
// step counter readings and browser navigation events, and publishes the
// display line as a retained message whenever the combined state changes.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/moodsense/internal/aggregator"
	"github.com/MrWong99/moodsense/internal/motion"
	"github.com/MrWong99/moodsense/internal/webwatch"
)

const (
	qos            = 1
	tokenTimeout   = 10 * time.Second
	disconnectWait = 250
)

// ErrNotConnected is returned by Ping while the broker connection is down.
var ErrNotConnected = errors.New("mqttbridge: not connected")

// broker is the subset of [mqtt.Client] the bridge uses.
type broker interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

var _ broker = (mqtt.Client)(nil)

// Config holds the connection settings and topics. Empty topics derive from
// the user id as moodsense/<user>/{steps,navigation,display}.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	UserID   string

	StepsTopic      string
	NavigationTopic string
	DisplayTopic    string
}

func (c Config) withDefaults() Config {
	user := c.UserID
	if user == "" {
		user = "default"
	}
	if c.StepsTopic == "" {
		c.StepsTopic = "moodsense/" + user + "/steps"
	}
	if c.NavigationTopic == "" {
		c.NavigationTopic = "moodsense/" + user + "/navigation"
	}
	if c.DisplayTopic == "" {
		c.DisplayTopic = "moodsense/" + user + "/display"
	}
	if c.ClientID == "" {
		c.ClientID = "moodsense-" + user
	}
	return c
}

// Bridge is safe for concurrent use.
//
// The broker forgets subscriptions when a clean session drops, so the bridge
// remembers every active one and re-issues it after each reconnect.
type Bridge struct {
	client broker
	cfg    Config

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// Dial connects to cfg.Broker with automatic reconnects.
func Dial(cfg Config) (*Bridge, error) {
	cfg = cfg.withDefaults()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt: connection lost", "err", err)
	})

	b := &Bridge{cfg: cfg, subs: map[string]mqtt.MessageHandler{}}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt: connected", "broker", cfg.Broker)
		b.resubscribe()
	})

	client := mqtt.NewClient(opts)
	b.client = client
	tok := client.Connect()
	if !tok.WaitTimeout(tokenTimeout) {
		return nil, fmt.Errorf("mqttbridge: connect %s: timeout", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqttbridge: connect %s: %w", cfg.Broker, err)
	}
	return b, nil
}

func newBridge(client broker, cfg Config) *Bridge {
	return &Bridge{client: client, cfg: cfg.withDefaults(), subs: map[string]mqtt.MessageHandler{}}
}

// subscribe subscribes topic and remembers the handler for reconnects.
func (b *Bridge) subscribe(topic string, h mqtt.MessageHandler) error {
	if err := wait(b.client.Subscribe(topic, qos, h)); err != nil {
		return fmt.Errorf("mqttbridge: subscribe %s: %w", topic, err)
	}
	b.mu.Lock()
	b.subs[topic] = h
	b.mu.Unlock()
	return nil
}

func (b *Bridge) unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.subs, topic)
	b.mu.Unlock()
	if err := wait(b.client.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("mqttbridge: unsubscribe %s: %w", topic, err)
	}
	return nil
}

// resubscribe re-issues every remembered subscription. It runs from the
// connect handler; on the first connect there is nothing to restore.
func (b *Bridge) resubscribe() {
	b.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(b.subs))
	for topic, h := range b.subs {
		subs[topic] = h
	}
	b.mu.Unlock()

	for topic, h := range subs {
		if err := wait(b.client.Subscribe(topic, qos, h)); err != nil {
			slog.Warn("mqtt: resubscribe failed", "topic", topic, "err", err)
			continue
		}
		slog.Info("mqtt: resubscribed", "topic", topic)
	}
}

func wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(tokenTimeout) {
		return errors.New("timeout")
	}
	return tok.Error()
}

// Ping reports whether the broker connection is up.
func (b *Bridge) Ping(context.Context) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() error {
	b.client.Disconnect(disconnectWait)
	return nil
}

// SubscribeSteps delivers raw step counter readings to fn. Payloads are
// either a bare integer or {"steps": n}.
func (b *Bridge) SubscribeSteps(fn func(raw int64)) error {
	err := b.subscribe(b.cfg.StepsTopic, func(_ mqtt.Client, msg mqtt.Message) {
		n, err := motion.ParseReading(msg.Payload())
		if err != nil {
			slog.Debug("mqtt: bad steps payload", "topic", msg.Topic(), "err", err)
			return
		}
		fn(n)
	})
	if err != nil {
		return err
	}
	slog.Info("mqtt: subscribed", "topic", b.cfg.StepsTopic)
	return nil
}

// Subscriber is the part of the aggregator the publisher needs.
type Subscriber interface {
	Subscribe(ctx context.Context, buffer int) (<-chan aggregator.Update, func())
}

// PublishUpdates publishes the display line of every update, retained, until
// ctx is done or the subscription closes.
func (b *Bridge) PublishUpdates(ctx context.Context, sub Subscriber) error {
	updates, cancel := sub.Subscribe(ctx, 4)
	defer cancel()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Line == last {
				continue
			}
			if err := wait(b.client.Publish(b.cfg.DisplayTopic, qos, true, u.Line)); err != nil {
				slog.Warn("mqtt: publish display failed", "topic", b.cfg.DisplayTopic, "err", err)
				continue
			}
			last = u.Line
		}
	}
}

// NavigationSource returns an event source fed by the navigation topic.
func (b *Bridge) NavigationSource() *NavigationSource {
	return &NavigationSource{bridge: b}
}

// NavigationSource is a [webwatch.EventSource] backed by an MQTT topic.
// Payloads are {"package": "...", "text": "..."}.
type NavigationSource struct {
	bridge *Bridge

	mu     sync.Mutex
	active bool
}

var _ webwatch.EventSource = (*NavigationSource)(nil)

// Name implements [webwatch.EventSource].
func (s *NavigationSource) Name() string { return "mqtt:" + s.bridge.cfg.NavigationTopic }

// Start implements [webwatch.EventSource].
func (s *NavigationSource) Start(ctx context.Context, h webwatch.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic := s.bridge.cfg.NavigationTopic
	err := s.bridge.subscribe(topic, func(_ mqtt.Client, msg mqtt.Message) {
		var ev webwatch.Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			slog.Debug("mqtt: bad navigation payload", "topic", msg.Topic(), "err", err)
			return
		}
		h(ctx, ev)
	})
	if err != nil {
		return err
	}
	s.active = true
	return nil
}

// Stop implements [webwatch.EventSource].
func (s *NavigationSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false
	return s.bridge.unsubscribe(s.bridge.cfg.NavigationTopic)
}
