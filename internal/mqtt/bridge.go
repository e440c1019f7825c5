//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"lanscout/internal/scan"
	"lanscout/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge publishes presence events to an MQTT broker and accepts
// scan triggers over it.
type Bridge struct {
	client pahomqtt.Client
	coord  *scan.Coordinator
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *scan.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		coord:  coord,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("lanscout").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishSnapshot()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to scan events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event scan.Event) {
	switch event.Type {
	case scan.EventDeviceOnline, scan.EventDeviceOffline:
		dev, ok := event.Data.(store.Device)
		if !ok {
			return
		}
		b.publishDeviceState(&dev)
	case scan.EventScanCompleted:
		b.publish(b.prefix+"/event/"+event.Type, mustJSON(event.Data), false)
		b.publishSnapshot()
	case scan.EventAuthState:
		b.publish(b.prefix+"/bridge/auth", mustJSON(event.Data), true)
	}
}

func (b *Bridge) publishDeviceState(dev *store.Device) {
	topic := b.prefix + "/device/" + deviceTopicID(dev)
	b.publish(topic, buildDevicePayload(dev), true)
}

// publishSnapshot publishes the full current device view as one retained
// message so late subscribers see state without waiting for a scan.
func (b *Bridge) publishSnapshot() {
	devices, err := b.coord.Devices()
	if err != nil {
		b.logger.Error("list devices for snapshot", "err", err)
		return
	}
	b.publish(b.prefix+"/bridge/devices", mustJSON(devices), true)
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/scan/set"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, _ pahomqtt.Message) {
		b.logger.Info("scan requested over MQTT")
		go func() {
			ctx, cancel := context.WithTimeout(b.ctx, 60*time.Second)
			defer cancel()
			if err := b.coord.Scan(ctx); err != nil && err != scan.ErrScanInProgress {
				b.logger.Warn("MQTT-triggered scan failed", "err", err)
			}
		}()
	})
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// deviceTopicID derives a stable topic segment from a device. Hardware
// addresses are preferred; probe-only entries fall back to the IP.
func deviceTopicID(dev *store.Device) string {
	if dev.MAC != "" {
		id := strings.ToLower(dev.MAC)
		return strings.ReplaceAll(id, ":", "_")
	}
	return strings.ReplaceAll(dev.IP, ".", "_")
}

func buildDevicePayload(dev *store.Device) []byte {
	return mustJSON(map[string]interface{}{
		"mac":       dev.MAC,
		"ip":        dev.IP,
		"hostname":  dev.Hostname,
		"is_online": dev.Online,
		"last_seen": dev.LastSeen,
		"source":    dev.Source,
	})
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
