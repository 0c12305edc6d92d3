package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coriolis-iot/embedded-mqtt-broker/internal/mqttbroker"
)

// WSListener is an http.Server whose handler upgrades matching requests to
// WebSocket and hands the resulting transport to a Broker.
type WSListener struct {
	addr   string
	broker *mqttbroker.Broker
	logger *slog.Logger

	server *http.Server
}

// NewWSListener constructs a listener bound to addr once Start is called.
func NewWSListener(addr string, broker *mqttbroker.Broker, logger *slog.Logger) *WSListener {
	return &WSListener{addr: addr, broker: broker, logger: logger}
}

// Start runs the HTTP server until ctx is done. It blocks until the server
// exits.
func (l *WSListener) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", l.handleUpgrade)

	l.server = &http.Server{Addr: l.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		l.logger.Info("websocket listener started", "addr", l.addr)
		errCh <- l.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = l.server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	t := NewWS(conn)
	sess, err := l.broker.AcceptClient(t)
	if err != nil {
		_ = conn.Close()
		return
	}

	// The HTTP request's context ends when this handler returns, which
	// happens immediately after the upgrade; the WS connection outlives
	// it, so the read loop gets its own background context instead.
	go WSReadLoop(context.Background(), conn, sess, l.logger)
}
