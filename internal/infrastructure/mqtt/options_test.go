package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/emberhaus/ember-core/internal/infrastructure/config"
)

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{}
	cfg.Broker.Host = "broker.local"
	cfg.Broker.Port = 1883
	cfg.Broker.ClientID = "ember-core-test"
	cfg.Auth.Username = "ember"
	cfg.Auth.Password = "secret"
	cfg.Reconnect.InitialDelay = 1
	cfg.Reconnect.MaxDelay = 60

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://broker.local:1883" {
		t.Errorf("broker url = %q", got)
	}
	if opts.ClientID != "ember-core-test" {
		t.Errorf("client id = %q", opts.ClientID)
	}
	if opts.Username != "ember" {
		t.Errorf("username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("auto reconnect should be enabled")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := config.MQTTConfig{}
	cfg.Broker.Host = "broker.local"
	cfg.Broker.Port = 8883
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Error("expected TLS config to be set")
	}
}

func TestStatusPayload(t *testing.T) {
	data := buildStatusPayload("offline", "ember-core-1", "connection_lost")

	var payload statusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Status != "offline" || payload.ClientID != "ember-core-1" {
		t.Errorf("unexpected payload %+v", payload)
	}
	if payload.Reason != "connection_lost" {
		t.Errorf("reason = %q", payload.Reason)
	}
	if payload.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestValidatePublish(t *testing.T) {
	if err := validatePublish("", 0, nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: got %v", err)
	}
	if err := validatePublish("ember/system/status", 3, nil); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: got %v", err)
	}
	big := []byte(strings.Repeat("x", maxPayloadSize+1))
	if err := validatePublish("ember/system/status", 1, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload: got %v", err)
	}
	if err := validatePublish("ember/system/status", 1, []byte("ok")); err != nil {
		t.Errorf("valid publish rejected: %v", err)
	}
}
