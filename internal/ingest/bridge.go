package ingest

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"backend-etaone/internal/shared/geo"
	"backend-etaone/internal/telemetry"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	TopicPosition = "position"
	TopicNMEA     = "nmea"
	TopicStrategy = "strategy"

	subscribeTimeout = 5 * time.Second
)

// Sink receives decoded producer input.
type Sink interface {
	IngestPosition(coord geo.Coordinate, origin string) (telemetry.PositionUpdate, error)
	ChangeStrategy(name string, sectorID *int) (telemetry.StrategyChange, error)
}

// Bridge feeds MQTT producer traffic into the session. Positions arrive as
// JSON on <prefix>/position or as raw sentences on <prefix>/nmea; strategy
// changes as JSON on <prefix>/strategy.
type Bridge struct {
	client  mqtt.Client
	prefix  string
	sink    Sink
	decoder *Decoder
}

func NewBridge(client mqtt.Client, prefix string, sink Sink) *Bridge {
	return &Bridge{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		sink:    sink,
		decoder: NewDecoder(),
	}
}

// Connect dials the broker.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("ingest: connected to mqtt broker at %s", broker)
	return client, nil
}

func (b *Bridge) Topic(name string) string {
	return b.prefix + "/" + name
}

// Start subscribes to the producer topics.
func (b *Bridge) Start() error {
	filters := map[string]byte{
		b.Topic(TopicPosition): 1,
		b.Topic(TopicNMEA):     0,
		b.Topic(TopicStrategy): 1,
	}
	token := b.client.SubscribeMultiple(filters, b.route)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("ingest: subscribe timed out")
	}
	if err := token.Error(); err != nil {
		return err
	}
	log.Printf("ingest: listening on %s/#", b.prefix)
	return nil
}

// Stop unsubscribes and disconnects.
func (b *Bridge) Stop() {
	token := b.client.Unsubscribe(b.Topic(TopicPosition), b.Topic(TopicNMEA), b.Topic(TopicStrategy))
	token.WaitTimeout(subscribeTimeout)
	b.client.Disconnect(250)
}

func (b *Bridge) route(_ mqtt.Client, msg mqtt.Message) {
	var err error
	switch msg.Topic() {
	case b.Topic(TopicPosition):
		err = b.handlePosition(msg.Payload())
	case b.Topic(TopicNMEA):
		err = b.handleNMEA(msg.Payload())
	case b.Topic(TopicStrategy):
		err = b.handleStrategy(msg.Payload())
	default:
		err = fmt.Errorf("unexpected topic %s", msg.Topic())
	}
	if err != nil {
		log.Printf("ingest: %s: %v", msg.Topic(), err)
	}
}

func (b *Bridge) handlePosition(payload []byte) error {
	var req telemetry.PositionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	_, err := b.sink.IngestPosition(req.Coordinate(), "")
	return err
}

func (b *Bridge) handleNMEA(payload []byte) error {
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}
		coord, err := b.decoder.Decode(line)
		if err != nil {
			continue
		}
		if _, err := b.sink.IngestPosition(coord, ""); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) handleStrategy(payload []byte) error {
	var req telemetry.StrategyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	_, err := b.sink.ChangeStrategy(req.Mode, req.SectorID)
	return err
}
