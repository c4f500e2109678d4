package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/delivery/dispatcher"
	"remindbot/internal/delivery/ratelimit"
	"remindbot/internal/delivery/scheduler"
	"remindbot/internal/storage"
)

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	if cfg == nil {
		return delivery.Config{}, fmt.Errorf("config is nil")
	}
	d := cfg.Delivery

	window, err := config.ParseDurationOrDefault("delivery.rate_limit.window", d.RateLimit.Window, time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	interval, err := config.ParseDurationOrDefault("delivery.scheduler.processing_interval", d.Scheduler.ProcessingInterval, time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("delivery.dispatcher.delivery_timeout", d.Dispatcher.DeliveryTimeout, 10*time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	drain, err := config.ParseDurationOrDefault("delivery.dispatcher.retry_drain_interval", d.Dispatcher.RetryDrainInterval, time.Second)
	if err != nil {
		return delivery.Config{}, err
	}

	out := delivery.Config{
		RateLimit: ratelimit.Config{
			RequestsPerSecond: d.RateLimit.RequestsPerSecond,
			Window:            window,
		},
		Scheduler: scheduler.Config{
			MaxBatchSize:       d.Scheduler.MaxBatchSize,
			ProcessingInterval: interval,
		},
		Dispatch:           dispatcher.Config{DeliveryTimeout: timeout},
		RetryDrainInterval: drain,
	}

	// Validate eagerly so a bad hot-reload is rejected before it reaches
	// the running engine.
	if _, err := ratelimit.New(out.RateLimit); err != nil {
		return delivery.Config{}, err
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
