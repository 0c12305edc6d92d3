package transport

import (
	"context"
	"log/slog"
	"net"

	"github.com/coriolis-iot/embedded-mqtt-broker/internal/mqttbroker"
)

// TCPListener accepts plain TCP connections and hands each one to a
// Broker exactly once per successfully established connection.
type TCPListener struct {
	addr   string
	broker *mqttbroker.Broker
	logger *slog.Logger

	ln net.Listener
}

// NewTCPListener constructs a listener bound to addr once Start is called.
func NewTCPListener(addr string, broker *mqttbroker.Broker, logger *slog.Logger) *TCPListener {
	return &TCPListener{addr: addr, broker: broker, logger: logger}
}

// Start binds the listener and runs the accept loop until ctx is done.
// It blocks until the accept loop exits.
func (l *TCPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	l.logger.Info("tcp listener started", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				l.logger.Warn("tcp accept error", "err", err)
				return err
			}
		}

		t := NewTCP(conn)
		sess, err := l.broker.AcceptClient(t)
		if err != nil {
			continue
		}
		go ReadLoop(ctx, conn, sess, l.logger)
	}
}

// Addr returns the bound address; only valid after Start has run.
func (l *TCPListener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
