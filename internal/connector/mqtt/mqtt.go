// Package mqtt streams plant sensor observations from an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/crimson-sun/plantpulse/internal/broker"
	"github.com/crimson-sun/plantpulse/internal/connector"
	"github.com/crimson-sun/plantpulse/internal/model"
)

const (
	defaultTopic       = "plants/+/observations"
	defaultQueryWindow = 2 * time.Second
	subscribeTimeout   = 10 * time.Second
	sendTimeout        = time.Second
)

func init() {
	connector.Register("mqtt", func() connector.Connector {
		return &Connector{dial: dial}
	})
}

// Subscriber is the subset of paho.Client the connector needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Disconnect(quiesce uint)
}

// Connector implements connector.Connector over an MQTT subscription. The
// plant id is taken from the topic segment matched by the first "+"
// wildcard, falling back to a "plant_id" field in the payload.
type Connector struct {
	dial func(broker.Config) (Subscriber, error)
}

func dial(cfg broker.Config) (Subscriber, error) {
	return broker.Connect(cfg)
}

// brokerConfig maps the generic connector config onto MQTT settings.
// Extra keys: topic, client_id, username, query_window.
func brokerConfig(cfg connector.ConnectorConfig) (broker.Config, string, error) {
	if cfg.Endpoint == "" {
		return broker.Config{}, "", fmt.Errorf("mqtt connector: broker address (Endpoint) is required")
	}
	topic := cfg.Extra["topic"]
	if topic == "" {
		topic = defaultTopic
	}
	clientID := cfg.Extra["client_id"]
	if clientID == "" {
		clientID = "plantpulse-" + uuid.NewString()[:8]
	}
	return broker.Config{
		Broker:   cfg.Endpoint,
		ClientID: clientID,
		Username: cfg.Extra["username"],
		Password: cfg.APIKey,
	}, topic, nil
}

func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.Observation, error) {
	bcfg, topic, err := brokerConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := c.dial(bcfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connector: %w", err)
	}

	ch := make(chan model.Observation, 64)
	s := &sink{ctx: ctx, ch: ch}

	if err := broker.Wait(client.Subscribe(topic, 1, handler(topic, s.send)), subscribeTimeout); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt connector: subscribe %s: %w", topic, err)
	}
	slog.Info("mqtt subscribed", "topic", topic, "broker", bcfg.Broker)

	go func() {
		<-ctx.Done()
		broker.Wait(client.Unsubscribe(topic), subscribeTimeout)
		client.Disconnect(250)
		s.close()
	}()
	return ch, nil
}

// Query collects observations delivered within a short window after
// subscribing, which for retained topics is the last reading per plant.
func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.Observation, error) {
	window := defaultQueryWindow
	if raw := cfg.Extra["query_window"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			window = d
		}
	}
	qctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ch, err := c.Stream(qctx, cfg)
	if err != nil {
		return nil, err
	}

	var results []model.Observation
	for obs := range ch {
		if params.PlantID != "" && obs.PlantID != params.PlantID {
			continue
		}
		if !params.Start.IsZero() && obs.Timestamp.Before(params.Start) {
			continue
		}
		if !params.End.IsZero() && !obs.Timestamp.Before(params.End) {
			continue
		}
		results = append(results, obs)
		if params.Limit > 0 && len(results) >= params.Limit {
			cancel()
			for range ch {
			}
			break
		}
	}
	return results, nil
}

// handler decodes each message and hands it to send.
func handler(pattern string, send func(model.Observation)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		obs, err := connector.DecodeObservation(msg.Payload(), "mqtt")
		if err != nil {
			slog.Warn("mqtt payload rejected", "topic", msg.Topic(), "error", err)
			return
		}
		if id := PlantFromTopic(pattern, msg.Topic()); id != "" {
			obs.PlantID = id
		}
		if obs.Timestamp.IsZero() {
			obs.Timestamp = time.Now().UTC()
		}
		send(obs)
	}
}

// PlantFromTopic returns the topic segment matched by the first "+" in
// pattern, or "" when the pattern has no single-level wildcard.
func PlantFromTopic(pattern, topic string) string {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, seg := range pp {
		if seg == "+" {
			if i < len(tp) {
				return tp[i]
			}
			return ""
		}
	}
	return ""
}

// sink guards the observation channel against sends after close.
type sink struct {
	ctx    context.Context
	ch     chan model.Observation
	mu     sync.RWMutex
	closed bool
}

func (s *sink) send(obs model.Observation) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- obs:
	case <-s.ctx.Done():
	case <-time.After(sendTimeout):
		slog.Warn("mqtt observation channel full, dropping", "plant_id", obs.PlantID)
	}
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
