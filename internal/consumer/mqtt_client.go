// Package consumer ingests device telemetry from the MQTT broker.
package consumer

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler receives one raw broker message.
type MessageHandler func(topic string, payload []byte) error

// MQTTOptions carries the broker connection settings.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// MQTTClient wraps the paho client with subscribe and publish helpers.
type MQTTClient struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewMQTTClient connects to the broker.
func NewMQTTClient(opts MQTTOptions, logger *zap.Logger) (*MQTTClient, error) {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)

	client := mqtt.NewClient(clientOpts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTClient{
		client: client,
		logger: logger,
	}, nil
}

// Subscribe registers a handler for a topic filter.
func (c *MQTTClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if token := c.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("message handler failed",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe removes topic subscriptions.
func (c *MQTTClient) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker connection.
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the connection state.
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}
