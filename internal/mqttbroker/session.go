package mqttbroker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is what a Session needs from a network adapter. TCP and
// WebSocket connections both implement it (internal/transport). Go
// transports block on Write rather than exposing a can-send/space probe
// pair; Session renders back-pressure as a bounded channel instead (see
// outbox below), so Transport exposes only the primitives that don't have
// a natural non-blocking Go equivalent.
type Transport interface {
	// Write performs a blocking send of one fully-framed MQTT packet.
	Write(data []byte) error
	// Close is idempotent and guarantees no further reads are delivered.
	Close() error
	// RemoteAddr is diagnostics-only.
	RemoteAddr() string
}

// sessionState is the Session's Pending/Connected/Closed state machine.
type sessionState int32

const (
	statePending sessionState = iota
	stateConnected
	stateClosed
)

// Session manages the lifetime, state, and I/O of exactly one connected
// client. state, lastActivityMs and keepAliveSec are touched from both
// the transport's read goroutine and the Worker goroutine, so they are
// atomics; every other field belongs to exactly one goroutine kind
// (subscribedNodes is Worker-only, outbox is drained by a dedicated writer
// goroutine).
type Session struct {
	id        uint64
	clientID  string
	transport Transport
	reader    *PacketReader
	logger    *slog.Logger

	state          atomic.Int32
	lastActivityMs atomic.Int64
	keepAliveSec   atomic.Uint32

	outbox       chan []byte
	closeOnce    sync.Once
	quitCh       chan struct{}
	writerDoneCh chan struct{}

	// subscribedNodes is touched only by the Worker goroutine: every
	// Subscribe/Unsubscribe and the destructor's cleanup walk run there.
	subscribedNodes []subscription

	onPublish     func(msg *PublishMessage)
	onSubscribe   func(msg *SubscribeMessage, sess *Session)
	onUnsubscribe func(filters []string, sess *Session)
	onDeleted     func(sess *Session)
}

// subscription is one back-reference a Session holds into the topic trie,
// so its destructor can unsubscribe without re-walking every filter.
type subscription struct {
	filter string
	node   *trieNode
}

// SessionHooks wires a new Session to its owning Broker without a direct
// import-cycle-prone dependency.
type SessionHooks struct {
	OnPublish     func(msg *PublishMessage)
	OnSubscribe   func(msg *SubscribeMessage, sess *Session)
	OnUnsubscribe func(filters []string, sess *Session)
	OnDeleted     func(sess *Session)
}

// newSession constructs a Session in state Pending with no buffer beyond
// what the PacketReader allocates lazily.
func newSession(id uint64, transport Transport, outboxCapacity int, logger *slog.Logger, hooks SessionHooks) *Session {
	sess := &Session{
		id:           id,
		transport:    transport,
		logger:       logger,
		outbox:       make(chan []byte, outboxCapacity),
		quitCh:       make(chan struct{}),
		writerDoneCh: make(chan struct{}),
		onPublish:     hooks.OnPublish,
		onSubscribe:   hooks.OnSubscribe,
		onUnsubscribe: hooks.OnUnsubscribe,
		onDeleted:     hooks.OnDeleted,
	}
	sess.state.Store(int32(statePending))
	sess.touchActivity()
	sess.reader = NewPacketReader(sess.handlePacket)
	return sess
}

// ClientID returns the identifier supplied in CONNECT, or "" before the
// handshake completes. Diagnostics only; the topic trie keys subscribers by
// id, not by this value.
func (s *Session) ClientID() string {
	return s.clientID
}

// ID returns the session's broker-assigned identifier, unique for the life
// of the broker. This is the topic trie's subscriber map key.
func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) touchActivity() {
	s.lastActivityMs.Store(time.Now().UnixMilli())
}

func (s *Session) isConnected() bool {
	return sessionState(s.state.Load()) == stateConnected
}

// checkKeepalive closes the transport if the session has gone silent for
// longer than 1.5x its negotiated keep-alive interval, per MQTT 3.1.1
// §3.1.2.10. A keepAliveSeconds of 0 disables the check.
func (s *Session) checkKeepalive(nowMs int64) {
	keepAlive := s.keepAliveSec.Load()
	if keepAlive == 0 {
		return
	}
	if sessionState(s.state.Load()) == stateClosed {
		return
	}
	toleranceMs := int64(keepAlive) * 1500
	if nowMs-s.lastActivityMs.Load() > toleranceMs {
		s.logger.Warn("session keepalive timeout", "session_id", s.id, "client_id", s.clientID)
		s.Close()
	}
}

// startWriter launches the dedicated outbox-drain goroutine. FIFO order is
// structural: the channel delivers in send order, so there is no "fast
// path" to guard against skipping ahead of queued bytes.
//
// outbox has two producers (the read goroutine and the Worker goroutine),
// so it must never be closed: a closed channel with a live sender panics on
// send, and both producers can be mid-send when Close runs. quitCh is the
// single-owner shutdown signal instead, closed once by Close; the writer
// selects on it rather than ranging over outbox.
func (s *Session) startWriter() {
	go func() {
		defer close(s.writerDoneCh)
		for {
			select {
			case data := <-s.outbox:
				if err := s.transport.Write(data); err != nil {
					s.logger.Debug("session write failed", "session_id", s.id, "err", err)
					return
				}
			case <-s.quitCh:
				return
			}
		}
	}()
}

// enqueueSend is a non-blocking push onto the bounded outbox, dropping on
// overflow (acceptable QoS 0 loss).
func (s *Session) enqueueSend(data []byte) {
	if sessionState(s.state.Load()) == stateClosed {
		return
	}
	select {
	case s.outbox <- data:
	default:
		s.logger.Warn("session outbox full, dropping packet", "session_id", s.id, "client_id", s.clientID)
	}
}

// Feed hands newly-read bytes to the PacketReader. Called from the
// transport's read goroutine only.
func (s *Session) Feed(data []byte) error {
	_, err := s.reader.Feed(data)
	return err
}

// handlePacket is the PacketReader's onPacketReady callback: it dispatches
// by packet type according to the session's Pending/Connected state.
func (s *Session) handlePacket(r *PacketReader) {
	fh := r.FixedHeader()
	body := r.RemainingBytes()

	if sessionState(s.state.Load()) == statePending {
		if packetType(fh) != PacketConnect || fh&0x0F != 0x00 {
			s.logger.Debug("malformed or unexpected first packet, closing", "session_id", s.id)
			s.Close()
			return
		}
		if err := s.handleConnect(body); err != nil {
			s.logger.Debug("malformed CONNECT, closing", "session_id", s.id, "err", err)
			s.Close()
			return
		}
		s.touchActivity()
		return
	}

	s.touchActivity()

	switch packetType(fh) {
	case PacketPublish:
		s.handlePublish(body)
	case PacketSubscribe:
		s.handleSubscribe(body)
	case PacketUnsubscribe:
		// Decoded here; the actual trie mutation happens on the Worker
		// (see broker.go's unsubscribeImpl).
		s.handleUnsubscribe(body)
	case PacketPingreq:
		s.enqueueSend(buildPingresp())
	case PacketDisconnect:
		s.Close()
	default:
		s.logger.Debug("unsupported packet type, closing", "session_id", s.id, "type", packetType(fh), "err", ErrUnknownPacketType)
		s.Close()
	}
}

// handleConnect validates protocol name/level and stores keep_alive and
// client id, then replies CONNACK and transitions to Connected. CONNECT
// acceptance stays permissive beyond the fixed-header/flag checks already
// performed by the caller: no auth, no session-present logic.
func (s *Session) handleConnect(body []byte) error {
	protoName, at, err := decodeText(body, 0)
	if err != nil {
		return err
	}
	if protoName != "MQTT" {
		return ErrMalformedConnect
	}
	if at+1 > len(body) {
		return ErrShortBuffer
	}
	level := body[at]
	at++
	if level != 4 {
		return ErrMalformedConnect
	}
	if at+1 > len(body) {
		return ErrShortBuffer
	}
	at++ // connect flags: accepted permissively, not validated bit-by-bit.

	keepAlive, at, err := decodeUint16(body, at)
	if err != nil {
		return err
	}

	clientID, _, err := decodeText(body, at)
	if err != nil {
		return err
	}

	s.clientID = clientID
	s.keepAliveSec.Store(uint32(keepAlive))
	s.state.Store(int32(stateConnected))
	s.enqueueSend(buildConnack())
	return nil
}

func (s *Session) handlePublish(body []byte) {
	topic, at, err := decodeTopic(body, 0)
	if err != nil {
		s.logger.Debug("malformed PUBLISH, closing", "session_id", s.id, "err", err)
		s.Close()
		return
	}
	payload := decodePayload(body, at)
	msg := &PublishMessage{Topic: topic, Payload: append([]byte(nil), payload...)}
	if s.onPublish != nil {
		s.onPublish(msg)
	}
}

func (s *Session) handleSubscribe(body []byte) {
	packetID, at, err := decodeUint16(body, 0)
	if err != nil {
		s.logger.Debug("malformed SUBSCRIBE, closing", "session_id", s.id, "err", err)
		s.Close()
		return
	}

	var filters []SubscribeFilter
	for at < len(body) {
		filter, next, err := decodeText(body, at)
		if err != nil {
			s.logger.Debug("malformed SUBSCRIBE filter, closing", "session_id", s.id, "err", err)
			s.Close()
			return
		}
		if next+1 > len(body) {
			s.logger.Debug("malformed SUBSCRIBE qos, closing", "session_id", s.id)
			s.Close()
			return
		}
		qos := body[next]
		at = next + 1
		filters = append(filters, SubscribeFilter{Filter: filter, RequestedQoS: qos})
	}

	msg := &SubscribeMessage{PacketID: packetID, Filters: filters}
	if s.onSubscribe != nil {
		s.onSubscribe(msg, s)
	}
}

// handleUnsubscribe decodes an UNSUBSCRIBE and removes this session from
// each named filter, then replies UNSUBACK. Trie mutation itself happens
// on the Worker via onSubscribe's sibling hook wired in broker.go, since
// only the Worker may touch the trie.
func (s *Session) handleUnsubscribe(body []byte) {
	packetID, at, err := decodeUint16(body, 0)
	if err != nil {
		s.logger.Debug("malformed UNSUBSCRIBE, closing", "session_id", s.id, "err", err)
		s.Close()
		return
	}

	var filters []string
	for at < len(body) {
		filter, next, err := decodeText(body, at)
		if err != nil {
			s.logger.Debug("malformed UNSUBSCRIBE filter, closing", "session_id", s.id, "err", err)
			s.Close()
			return
		}
		at = next
		filters = append(filters, filter)
	}

	if s.onUnsubscribe != nil {
		s.onUnsubscribe(filters, s)
	}
	s.enqueueSend(buildUnsuback(packetID))
}

// Close idempotently tears down the session's transport and outbox. The
// registry/trie cleanup (subscribedNodes, clients map entry) happens later,
// when the Worker drains the deletion queue.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(stateClosed))
		close(s.quitCh)
		_ = s.transport.Close()
		if s.onDeleted != nil {
			s.onDeleted(s)
		}
	})
}
