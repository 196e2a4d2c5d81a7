package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"fitgrid-session/internal/collab"
	"fitgrid-session/internal/models"
	"fitgrid-session/internal/router"
)

// Subscriber is the broker surface the consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
}

// TelemetryConsumer subscribes to the device topics, normalizes each
// payload through the router and applies the result to the device manager.
type TelemetryConsumer struct {
	subscriber Subscriber
	router     *router.Router
	devices    collab.DeviceManager
	topics     []string
	logger     *zap.Logger
}

// NewTelemetryConsumer creates a consumer over the given topic filters.
func NewTelemetryConsumer(
	subscriber Subscriber,
	r *router.Router,
	devices collab.DeviceManager,
	topics []string,
	logger *zap.Logger,
) *TelemetryConsumer {
	return &TelemetryConsumer{
		subscriber: subscriber,
		router:     r,
		devices:    devices,
		topics:     topics,
		logger:     logger,
	}
}

// Start subscribes to all topics and blocks until the context is canceled.
func (c *TelemetryConsumer) Start(ctx context.Context) error {
	for _, topic := range c.topics {
		if err := c.subscriber.Subscribe(topic, 1, c.HandleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.logger.Info("telemetry consumer started",
		zap.Strings("topics", c.topics))

	<-ctx.Done()
	return nil
}

// Stop removes the topic subscriptions.
func (c *TelemetryConsumer) Stop(ctx context.Context) error {
	if err := c.subscriber.Unsubscribe(c.topics...); err != nil {
		c.logger.Error("failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("telemetry consumer stopped")
	return nil
}

// HandleMessage decodes one broker message and routes it. The broker
// topic always wins over a topic carried inside the payload body.
func (c *TelemetryConsumer) HandleMessage(topic string, body []byte) error {
	var payload models.DevicePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload on %s: %w", topic, err)
	}
	payload.Topic = topic

	result := c.router.Route(payload)
	if result.Device == nil {
		return nil
	}

	c.devices.UpdateDevice(*result.Device)
	c.logger.Debug("device record updated",
		zap.String("device_id", result.Device.ID),
		zap.String("handler", result.HandlerName))
	return nil
}
