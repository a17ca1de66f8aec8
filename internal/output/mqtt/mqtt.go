// Package mqtt publishes each assessment's label to a per-plant topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/crimson-sun/plantpulse/internal/broker"
	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

// DefaultTopic is the result topic pattern; {plant_id} is substituted.
const DefaultTopic = "plants/{plant_id}/stress"

const publishTimeout = 5 * time.Second

// Publisher is the subset of paho.Client the output needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Output publishes assessments as JSON with QoS 1. The last assessment per
// plant is retained so late subscribers see the current stress level.
type Output struct {
	client    Publisher
	topic     string
	verbosity output.Verbosity
}

// New wraps an already-connected client.
func New(client Publisher, topic string, verbosity output.Verbosity) *Output {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Output{client: client, topic: topic, verbosity: verbosity}
}

// Dial connects to the broker and returns an Output publishing on topic.
func Dial(cfg broker.Config, topic string, verbosity output.Verbosity) (*Output, error) {
	client, err := broker.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt output: %w", err)
	}
	return New(client, topic, verbosity), nil
}

func (o *Output) Write(ctx context.Context, a model.Assessment) error {
	payload, err := json.Marshal(output.Format(a, o.verbosity))
	if err != nil {
		return fmt.Errorf("mqtt output: marshal: %w", err)
	}
	topic := TopicFor(o.topic, a.PlantID)

	timeout := publishTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if err := broker.Wait(o.client.Publish(topic, 1, true, payload), timeout); err != nil {
		return fmt.Errorf("mqtt output: publish %s: %w", topic, err)
	}
	return nil
}

func (o *Output) Close() error {
	o.client.Disconnect(250)
	return nil
}

// TopicFor substitutes the plant id into pattern. Assessments without a
// plant id publish under "unknown".
func TopicFor(pattern, plantID string) string {
	if plantID == "" {
		plantID = "unknown"
	}
	return strings.ReplaceAll(pattern, "{plant_id}", plantID)
}
