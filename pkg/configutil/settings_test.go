package configutil

import (
	"strings"
	"testing"
	"time"
)

type sampleSettings struct {
	Addr         string        `mapstructure:"addr"`
	AllowAny     bool          `mapstructure:"allow_any_origin"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out sampleSettings
	err := DecodeSettings(map[string]any{
		"Addr":             ":9090",
		"allow-any-origin": true,
		"write_timeout":    "15s",
		"send_buffer":      "32",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Addr != ":9090" || !out.AllowAny {
		t.Fatalf("unexpected decode result: %+v", out)
	}
	if out.WriteTimeout != 15*time.Second {
		t.Fatalf("expected duration decoded from string, got %v", out.WriteTimeout)
	}
	if out.SendBuffer != 32 {
		t.Fatalf("expected weakly typed int, got %d", out.SendBuffer)
	}
}

func TestDecodeSettingsEmptyInput(t *testing.T) {
	out := sampleSettings{Addr: ":8080"}
	if err := DecodeSettings(nil, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Addr != ":8080" {
		t.Fatalf("nil input must leave the struct untouched")
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{
		Required: []string{"webhook_url"},
		Optional: []string{"timeout_ms"},
	}

	if err := ValidateSettings(map[string]any{"webhook_url": "https://sink", "timeout_ms": 500}, schema); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	err := ValidateSettings(map[string]any{"timeout_ms": 500}, schema)
	if err == nil || !strings.Contains(err.Error(), "missing: webhook_url") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	err = ValidateSettings(map[string]any{"webhook_url": "https://sink", "timeot_ms": 500}, schema)
	if err == nil || !strings.Contains(err.Error(), "unknown: timeot_ms") {
		t.Fatalf("expected unknown key error, got %v", err)
	}

	err = ValidateSettings(map[string]any{"webhook_url": "   "}, schema)
	if err == nil || !strings.Contains(err.Error(), "missing: webhook_url") {
		t.Fatalf("expected blank required value to count as missing, got %v", err)
	}
}
