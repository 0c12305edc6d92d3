package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/coriolis-iot/embedded-mqtt-broker/internal/mqttbroker"
)

// mqttSubprotocol is the IANA-registered WebSocket subprotocol name for
// MQTT.
const mqttSubprotocol = "mqtt"

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{mqttSubprotocol},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport wraps a *websocket.Conn to satisfy mqttbroker.Transport. Each
// outbound packet is sent as one binary WS message.
type wsTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWS wraps conn as an mqttbroker.Transport.
func NewWS(conn *websocket.Conn) mqttbroker.Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// WSReadLoop blocks reading binary WS messages from conn and feeds each one
// to sess, exactly like a TCP read chunk: the PacketReader does not care
// whether the bytes arrived as one WS message or fragmented across
// several.
func WSReadLoop(ctx context.Context, conn *websocket.Conn, sess *mqttbroker.Session, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.Close()
			return
		}

		if feedErr := sess.Feed(data); feedErr != nil {
			logger.Debug("packet decode error, closing session", "remote_addr", conn.RemoteAddr().String(), "err", feedErr)
			sess.Close()
			return
		}
	}
}
