package mqttbroker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config carries every tunable the broker exposes, with the defaults given
// below.
type Config struct {
	MaxClients             int
	EventQueueCapacity     int
	DeletionQueueCapacity  int
	OutboxCapacity         int
	KeepaliveCheckInterval time.Duration
	IdleSleep              time.Duration
	WorkerBatchSize        int
}

// DefaultConfig returns the broker's default tuning.
func DefaultConfig() Config {
	return Config{
		MaxClients:             16,
		EventQueueCapacity:     50,
		DeletionQueueCapacity:  20,
		OutboxCapacity:         50,
		KeepaliveCheckInterval: 100 * time.Millisecond,
		IdleSleep:              10 * time.Millisecond,
		WorkerBatchSize:        10,
	}
}

// Broker is the public entry point for network listeners; it owns the
// client registry, the topic trie, and the event pipeline.
type Broker struct {
	logger *slog.Logger
	cfg    Config

	registryMu sync.Mutex
	clients    map[uint64]*Session
	nextID     uint64

	trie     *topicTrie
	pipeline *pipeline

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New constructs a Broker in a stopped state; call Start to launch the
// Worker goroutine.
func New(logger *slog.Logger, cfg Config) *Broker {
	b := &Broker{
		logger:  logger,
		cfg:     cfg,
		clients: make(map[uint64]*Session),
		trie:    newTopicTrie(),
	}
	b.pipeline = newPipeline(b, logger, cfg.EventQueueCapacity, cfg.DeletionQueueCapacity,
		cfg.WorkerBatchSize, cfg.KeepaliveCheckInterval, cfg.IdleSleep)
	return b
}

// Start launches the Worker goroutine and returns immediately; the Worker
// runs until ctx is done or Stop is called.
func (b *Broker) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.pipeline.run(workerCtx)
}

// Stop is a best-effort request the Worker observes on its next iteration.
// It is idempotent.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
	})
}

// AcceptClient admits a new Transport, rejecting it outright if the broker
// is already at MaxClients. On success it registers the session, wires its
// callbacks, and starts its writer goroutine; the caller (a listener) owns
// reading from the transport and feeding those bytes into the returned
// Session via Feed.
func (b *Broker) AcceptClient(t Transport) (*Session, error) {
	b.registryMu.Lock()
	if len(b.clients) >= b.cfg.MaxClients {
		b.registryMu.Unlock()
		_ = t.Close()
		b.logger.Warn("rejecting client, broker at capacity", "max_clients", b.cfg.MaxClients)
		return nil, ErrBrokerFull
	}
	b.nextID++
	id := b.nextID
	b.registryMu.Unlock()

	sess := newSession(id, t, b.cfg.OutboxCapacity, b.logger, SessionHooks{
		OnPublish: func(msg *PublishMessage) {
			b.Publish(msg)
		},
		OnSubscribe: func(msg *SubscribeMessage, s *Session) {
			b.Subscribe(msg, s)
		},
		OnUnsubscribe: func(filters []string, s *Session) {
			b.Unsubscribe(filters, s)
		},
		OnDeleted: func(s *Session) {
			b.QueueForDeletion(s.id)
		},
	})

	b.registryMu.Lock()
	b.clients[id] = sess
	b.registryMu.Unlock()

	sess.startWriter()
	b.logger.Info("client accepted", "session_id", id, "remote_addr", t.RemoteAddr())
	return sess, nil
}

// QueueForDeletion pushes a session id onto the deletion queue. Safe from
// any goroutine.
func (b *Broker) QueueForDeletion(sessionID uint64) {
	b.pipeline.enqueueDeletion(sessionID)
}

// Publish wraps message as a Publish event and enqueues it for the Worker.
// On a full event queue the event and its message are dropped together.
func (b *Broker) Publish(message *PublishMessage) {
	b.pipeline.enqueueEvent(newPublishEvent(message))
}

// Subscribe wraps message as a Subscribe event tied to session and
// enqueues it for the Worker.
func (b *Broker) Subscribe(message *SubscribeMessage, session *Session) {
	b.pipeline.enqueueEvent(newSubscribeEvent(message, session))
}

// Unsubscribe is handled synchronously from the Worker's perspective via
// the same event queue as Subscribe, so unsubscription participates in the
// same FIFO ordering as every other trie mutation.
func (b *Broker) Unsubscribe(filters []string, session *Session) {
	b.pipeline.enqueueEvent(newUnsubscribeEvent(filters, session))
}

// forEachSession calls fn once per currently-registered session, holding
// the registry lock only long enough to snapshot the slice so iteration
// never holds the lock across arbitrary user code.
func (b *Broker) forEachSession(fn func(sess *Session)) {
	b.registryMu.Lock()
	snapshot := make([]*Session, 0, len(b.clients))
	for _, sess := range b.clients {
		snapshot = append(snapshot, sess)
	}
	b.registryMu.Unlock()

	for _, sess := range snapshot {
		fn(sess)
	}
}

// publishImpl is the Worker-only internal implementation: query the trie
// for matching sessions, and for each connected session, build the
// serialized PUBLISH bytes and enqueue them.
func (b *Broker) publishImpl(message *PublishMessage) {
	matches := b.trie.match(message.Topic)
	if len(matches) == 0 {
		return
	}

	packet, err := buildPublish(message.Topic, message.Payload)
	if err != nil {
		b.logger.Warn("dropping publish, could not encode", "topic", message.Topic, "err", err)
		return
	}

	for _, sess := range matches {
		if !sess.isConnected() {
			continue
		}
		sess.enqueueSend(packet)
	}
}

// subscribeImpl is the Worker-only internal implementation: register the
// session against every requested filter, record the back-reference for
// later cleanup, and reply with a single SUBACK covering all filters.
func (b *Broker) subscribeImpl(message *SubscribeMessage, session *Session) {
	for _, f := range message.Filters {
		node := b.trie.subscribe(f.Filter, session)
		session.subscribedNodes = append(session.subscribedNodes, subscription{filter: f.Filter, node: node})
	}
	session.enqueueSend(buildSuback(message.PacketID, len(message.Filters)))
}

// unsubscribeImpl removes session from each named filter's subscriber set
// and drops the matching back-references from subscribedNodes.
func (b *Broker) unsubscribeImpl(filters []string, session *Session) {
	remove := make(map[string]bool, len(filters))
	for _, f := range filters {
		remove[f] = true
		b.trie.unsubscribe(f, session)
	}

	kept := session.subscribedNodes[:0]
	for _, sub := range session.subscribedNodes {
		if !remove[sub.filter] {
			kept = append(kept, sub)
		}
	}
	session.subscribedNodes = kept
}

// destroySession removes sessionID from the registry and unwinds its trie
// subscriptions. Unknown ids (already destroyed, or never registered) are
// handled gracefully, since duplicate deletion enqueues are expected.
func (b *Broker) destroySession(sessionID uint64) {
	b.registryMu.Lock()
	sess, ok := b.clients[sessionID]
	if ok {
		delete(b.clients, sessionID)
	}
	b.registryMu.Unlock()

	if !ok {
		return
	}

	for _, sub := range sess.subscribedNodes {
		b.trie.unsubscribeAt(sub.node, sub.filter, sess)
	}
	sess.subscribedNodes = nil
	sess.Close()

	b.logger.Info("client destroyed", "session_id", sessionID, "client_id", sess.ClientID())
}

// destroyAllSessions is called once, by the Worker, when Stop is observed:
// every remaining session is torn down and its outbox discarded.
func (b *Broker) destroyAllSessions() {
	b.registryMu.Lock()
	ids := make([]uint64, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	b.registryMu.Unlock()

	for _, id := range ids {
		b.destroySession(id)
	}
}
