package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config lists the tunable parameters for the broker and its listeners.
type Config struct {
	TCPBindAddress string
	WSBindAddress  string

	MaxClients             int
	EventQueueCapacity     int
	DeletionQueueCapacity  int
	OutboxCapacity         int
	KeepaliveCheckInterval time.Duration
	IdleSleep              time.Duration
	WorkerBatchSize        int

	MDNSEnabled bool
	LogLevel    string
}

const (
	defaultTCPBindAddress = ":1883"
	defaultWSBindAddress  = ":8083"

	defaultMaxClients             = 16
	defaultEventQueueCapacity     = 50
	defaultDeletionQueueCapacity  = 20
	defaultOutboxCapacity         = 50
	defaultKeepaliveCheckInterval = 100 * time.Millisecond
	defaultIdleSleep              = 10 * time.Millisecond
	defaultWorkerBatchSize        = 10

	defaultMDNSEnabled = true
	defaultLogLevel    = "info"
)

// Load derives configuration values from environment variables, falling
// back to defaults.
func Load() (Config, error) {
	cfg := Config{
		TCPBindAddress:         defaultTCPBindAddress,
		WSBindAddress:          defaultWSBindAddress,
		MaxClients:             defaultMaxClients,
		EventQueueCapacity:     defaultEventQueueCapacity,
		DeletionQueueCapacity:  defaultDeletionQueueCapacity,
		OutboxCapacity:         defaultOutboxCapacity,
		KeepaliveCheckInterval: defaultKeepaliveCheckInterval,
		IdleSleep:              defaultIdleSleep,
		WorkerBatchSize:        defaultWorkerBatchSize,
		MDNSEnabled:            defaultMDNSEnabled,
		LogLevel:               defaultLogLevel,
	}

	if v := os.Getenv("MQTTBROKER_TCP_BIND"); v != "" {
		cfg.TCPBindAddress = v
	}

	if v := os.Getenv("MQTTBROKER_WS_BIND"); v != "" {
		cfg.WSBindAddress = v
	}

	if err := intFromEnv("MQTTBROKER_MAX_CLIENTS", &cfg.MaxClients); err != nil {
		return Config{}, err
	}
	if err := intFromEnv("MQTTBROKER_EVENT_QUEUE_CAPACITY", &cfg.EventQueueCapacity); err != nil {
		return Config{}, err
	}
	if err := intFromEnv("MQTTBROKER_DELETION_QUEUE_CAPACITY", &cfg.DeletionQueueCapacity); err != nil {
		return Config{}, err
	}
	if err := intFromEnv("MQTTBROKER_OUTBOX_CAPACITY", &cfg.OutboxCapacity); err != nil {
		return Config{}, err
	}
	if err := intFromEnv("MQTTBROKER_WORKER_BATCH_SIZE", &cfg.WorkerBatchSize); err != nil {
		return Config{}, err
	}

	if err := millisFromEnv("MQTTBROKER_KEEPALIVE_CHECK_INTERVAL_MS", &cfg.KeepaliveCheckInterval); err != nil {
		return Config{}, err
	}
	if err := millisFromEnv("MQTTBROKER_IDLE_SLEEP_MS", &cfg.IdleSleep); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("MQTTBROKER_MDNS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MQTTBROKER_MDNS_ENABLED: %w", err)
		}
		cfg.MDNSEnabled = enabled
	}

	if v := os.Getenv("MQTTBROKER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func intFromEnv(name string, dest *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dest = n
	return nil
}

func millisFromEnv(name string, dest *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dest = time.Duration(n) * time.Millisecond
	return nil
}
