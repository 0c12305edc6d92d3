// Package serve wires the broker to its listeners and mDNS advertisement
// and manages their combined lifecycle.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/coriolis-iot/embedded-mqtt-broker/internal/config"
	"github.com/coriolis-iot/embedded-mqtt-broker/internal/discovery"
	"github.com/coriolis-iot/embedded-mqtt-broker/internal/mqttbroker"
	"github.com/coriolis-iot/embedded-mqtt-broker/internal/transport"
)

// Run starts the broker, its TCP and WebSocket listeners, and (if enabled)
// mDNS advertisement, then blocks until ctx is done or a listener fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	broker := mqttbroker.New(logger, mqttbroker.Config{
		MaxClients:             cfg.MaxClients,
		EventQueueCapacity:     cfg.EventQueueCapacity,
		DeletionQueueCapacity:  cfg.DeletionQueueCapacity,
		OutboxCapacity:         cfg.OutboxCapacity,
		KeepaliveCheckInterval: cfg.KeepaliveCheckInterval,
		IdleSleep:              cfg.IdleSleep,
		WorkerBatchSize:        cfg.WorkerBatchSize,
	})
	broker.Start(ctx)
	defer broker.Stop()

	tcpListener := transport.NewTCPListener(cfg.TCPBindAddress, broker, logger)
	wsListener := transport.NewWSListener(cfg.WSBindAddress, broker, logger)

	tcpErrCh := make(chan error, 1)
	wsErrCh := make(chan error, 1)

	go func() { tcpErrCh <- tcpListener.Start(ctx) }()
	go func() { wsErrCh <- wsListener.Start(ctx) }()

	var advertiser *discovery.Advertiser
	if cfg.MDNSEnabled {
		// The advertised port is parsed from the configured bind address,
		// not read back from the listener, so an ephemeral ":0" bind is
		// not advertised.
		if port := resolveBoundPort(cfg.TCPBindAddress); port > 0 {
			a, err := discovery.Start(discovery.Options{
				TCPPort:    port,
				WSPort:     resolveBoundPort(cfg.WSBindAddress),
				MaxClients: cfg.MaxClients,
			})
			if err != nil {
				logger.Warn("mDNS advertisement failed", "error", err)
			} else {
				advertiser = a
				defer advertiser.Stop()
			}
		} else {
			logger.Warn("unable to determine tcp port for mDNS advertisement", "addr", cfg.TCPBindAddress)
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-tcpErrCh:
		return fmt.Errorf("tcp listener: %w", err)
	case err := <-wsErrCh:
		return fmt.Errorf("websocket listener: %w", err)
	}
}

// resolveBoundPort extracts the numeric port from a bind address like
// ":1883" or "0.0.0.0:1883". Returns 0 if it cannot be parsed (e.g. ":0"
// ephemeral binding, which mDNS advertisement does not support here).
func resolveBoundPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
