package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the MQTT channel.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	UserID      string
	QoS         byte
	OnDial      DialHandler
	Logger      *slog.Logger
}

// MQTTChannel is the duplex CRM link over an MQTT broker. The client
// reconnects with backoff indefinitely and re-announces presence on
// every successful (re)connect so the server can keep targeting this
// device after a drop.
type MQTTChannel struct {
	client mqtt.Client
	opts   MQTTOptions
	logger *slog.Logger
}

// NewMQTTChannel creates and connects an MQTT channel for the given
// user. Inbound dial requests on the user's command topic are decoded
// and handed to OnDial.
func NewMQTTChannel(opts MQTTOptions) (*MQTTChannel, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("mqtt channel: user id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &MQTTChannel{
		opts:   opts,
		logger: logger.With("component", "channel"),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetOnConnectHandler(ch.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			ch.logger.Warn("channel disconnected, reconnecting", "error", err)
		})

	ch.client = mqtt.NewClient(clientOpts)
	token := ch.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker %s: %w", opts.Broker, err)
	}

	return ch, nil
}

// onConnect runs on every successful connect, including automatic
// reconnects: re-subscribe to the dial topic and announce presence.
func (c *MQTTChannel) onConnect(client mqtt.Client) {
	topic := c.topic("dial")
	token := client.Subscribe(topic, c.opts.QoS, c.handleDial)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error("subscribing to dial topic", "topic", topic, "error", err)
		return
	}

	join, _ := json.Marshal(map[string]any{
		"userId":    c.opts.UserID,
		"timestamp": time.Now().UnixMilli(),
	})
	// Retained so the server sees the device even if it connected first.
	pubToken := client.Publish(c.topic("join"), c.opts.QoS, true, join)
	pubToken.Wait()
	if err := pubToken.Error(); err != nil {
		c.logger.Error("announcing presence", "error", err)
		return
	}

	c.logger.Info("channel connected", "broker", c.opts.Broker, "user_id", c.opts.UserID)
}

func (c *MQTTChannel) handleDial(_ mqtt.Client, msg mqtt.Message) {
	var req DialRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		c.logger.Warn("dropping malformed dial request", "error", err)
		return
	}
	if req.PhoneNumber == "" {
		c.logger.Warn("dropping dial request without phone number", "call_id", req.CallID)
		return
	}

	c.logger.Info("dial request received", "call_id", req.CallID)
	if c.opts.OnDial != nil {
		c.opts.OnDial(req)
	}
}

// Notify publishes a status update to the user's status topic.
func (c *MQTTChannel) Notify(_ context.Context, update StatusUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshaling status update: %w", err)
	}

	token := c.client.Publish(c.topic("status"), c.opts.QoS, false, data)
	token.Wait()
	return token.Error()
}

func (c *MQTTChannel) Close() error {
	c.client.Disconnect(1000)
	return nil
}

func (c *MQTTChannel) topic(leaf string) string {
	return fmt.Sprintf("%s/users/%s/%s", c.opts.TopicPrefix, c.opts.UserID, leaf)
}
