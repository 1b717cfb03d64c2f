package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"missioncontrol/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.WarRoom.Capability != "report-status" {
		t.Fatalf("unexpected capability %q", cfg.WarRoom.Capability)
	}
	if cfg.ReportTimeout() != 30*time.Second {
		t.Fatalf("unexpected report timeout %s", cfg.ReportTimeout())
	}
	if cfg.WarRoom.ApplyMoves {
		t.Fatalf("board moves must be opt-in")
	}
	if len(cfg.WarRoom.RequiredFields) != 4 {
		t.Fatalf("unexpected required fields %v", cfg.WarRoom.RequiredFields)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"relative gateway": "gateway:\n  url: gateway.local\n",
		"unknown channel":  "delivery:\n  channel: pigeon\n",
		"webhook url":      "webhooks:\n  - events: [task.created]\n",
		"negative timeout": "war_room:\n  report_timeout_seconds: -1\n",
	}
	for name, doc := range cases {
		if _, err := config.FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Delivery.Channel != config.ChannelTelegram {
		t.Fatalf("expected telegram default")
	}
	doc := "gateway:\n  url: http://gw:18789\ndelivery:\n  chat_id: \"-100\"\nwar_room:\n  concurrency: 2\n"
	if err := os.WriteFile(filepath.Join(dir, "missioncontrol.yml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WarRoom.Concurrency != 2 || cfg.Delivery.ChatID != "-100" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	applyMoves := true
	cfg.Apply(config.Overrides{GatewayToken: "secret", TopicID: "7", ApplyMoves: &applyMoves})
	if cfg.Gateway.Token != "secret" || cfg.Delivery.TopicID != "7" || !cfg.WarRoom.ApplyMoves {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Gateway.URL != "http://gw:18789" {
		t.Fatalf("empty override must not clear url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "mc config init") {
		t.Fatalf("expected hint, got %v", err)
	}
}
