// Package broker dials the MQTT broker shared by the mqtt connector and the
// mqtt output.
package broker

import (
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT connection settings.
type Config struct {
	Broker         string // e.g. "tcp://localhost:1883"
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Options translates cfg into paho client options with auto-reconnect.
func Options(cfg Config) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		slog.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})
	return opts
}

// Connect dials the broker and waits for the connection to be established.
func Connect(cfg Config) (paho.Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("broker: address is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := paho.NewClient(Options(cfg))
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("broker: connect to %s: timed out after %s", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("broker: connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Wait blocks on token up to timeout and returns its error.
func Wait(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("broker: operation timed out after %s", timeout)
	}
	return token.Error()
}
