package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{
		"telegram": {"token": "123:abc"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"delivery": {
			"rate_limit": {"requests_per_second": 5, "window": "1s"},
			"scheduler": {"max_batch_size": 10, "processing_interval": "1s"},
			"dispatcher": {"delivery_timeout": "10s"}
		},
		"storage": {"driver": "sqlite", "path": "./remindbot.db"}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Delivery.RateLimit.RequestsPerSecond != 5 {
		t.Fatalf("rate cap = %d", cfg.Delivery.RateLimit.RequestsPerSecond)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
delivery:
  rate_limit:
    requests_per_second: 30
    window: 500ms
  scheduler:
    max_batch_size: 5
  dispatcher: {}
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Delivery.RateLimit.Window != "500ms" {
		t.Fatalf("window = %q", cfg.Delivery.RateLimit.Window)
	}
	if cfg.Delivery.Scheduler.MaxBatchSize != 5 {
		t.Fatalf("max batch = %d", cfg.Delivery.Scheduler.MaxBatchSize)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{
		"telegram": {"token": "x"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"delivery": {"rate_limit": {"requests_per_second": 5}, "scheduler": {}, "dispatcher": {}},
		"rate_limiting": {}
	}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted unknown top-level key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json",
		`{"telegram":{"token":"x"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"delivery":{"rate_limit":{"requests_per_second":1},"scheduler":{},"dispatcher":{}}} {}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted trailing JSON")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"1s", time.Second, false},
		{"  250ms ", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("delivery.test", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): want error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("delivery.window", "", time.Second)
	if err != nil || got != time.Second {
		t.Fatalf("got %v, %v; want 1s, nil", got, err)
	}
	got, err = ParseDurationOrDefault("delivery.window", "2s", time.Second)
	if err != nil || got != 2*time.Second {
		t.Fatalf("got %v, %v; want 2s, nil", got, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Delivery: DeliveryConfig{RateLimit: RateLimitConfig{RequestsPerSecond: 5, Window: "1s"}},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Logging:  LoggingConfig{Level: "debug", Console: true},
		Delivery: DeliveryConfig{RateLimit: RateLimitConfig{RequestsPerSecond: 10, Window: "1s"}},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "logging" || changed[1] != "delivery" {
		t.Fatalf("changed = %v, want [logging delivery]", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}

	changed, _ = SummarizeConfigChange(oldCfg, oldCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
