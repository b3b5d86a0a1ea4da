package producer

import (
	"context"
	"encoding/json"
	"strings"

	"backend-etaone/internal/ingest"
	"backend-etaone/internal/telemetry"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends producer output to the service.
type Publisher interface {
	PublishPosition(ctx context.Context, req telemetry.PositionRequest) error
	PublishNMEA(ctx context.Context, sentence string) error
}

// MQTTPublisher publishes on the topics the ingest bridge listens to.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
}

func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

func (p *MQTTPublisher) PublishPosition(ctx context.Context, req telemetry.PositionRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.publish(ctx, ingest.TopicPosition, 1, payload)
}

func (p *MQTTPublisher) PublishNMEA(ctx context.Context, sentence string) error {
	return p.publish(ctx, ingest.TopicNMEA, 0, []byte(sentence))
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	token := p.client.Publish(p.prefix+"/"+topic, qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
