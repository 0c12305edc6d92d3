// Package transport adapts raw network connections (TCP, WebSocket) to the
// mqttbroker.Transport interface.
package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/coriolis-iot/embedded-mqtt-broker/internal/mqttbroker"
)

// tcpTransport wraps a net.Conn to satisfy mqttbroker.Transport.
type tcpTransport struct {
	conn      net.Conn
	closeOnce sync.Once
}

// NewTCP wraps conn as an mqttbroker.Transport.
func NewTCP(conn net.Conn) mqttbroker.Transport {
	return &tcpTransport{conn: conn}
}

func (t *tcpTransport) Write(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// ReadLoop blocks reading from conn and feeds every chunk to sess, until
// the connection errors or ctx is done. It is meant to run on its own
// goroutine, one per accepted connection.
func ReadLoop(ctx context.Context, conn net.Conn, sess *mqttbroker.Session, logger *slog.Logger) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if feedErr := sess.Feed(buf[:n]); feedErr != nil {
				logger.Debug("packet decode error, closing session", "remote_addr", conn.RemoteAddr().String(), "err", feedErr)
				sess.Close()
				return
			}
		}
		if err != nil {
			sess.Close()
			return
		}
	}
}
