package mqttbroker

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// pipeline holds the two bounded queues the broker uses to move work onto
// a single consumer, and the Worker loop that drains them. Any goroutine may
// enqueue; only the goroutine running pipeline.run dequeues. The keepalive
// sweep runs on that goroutine too, and it is the only one that touches the
// broker's topic trie.
type pipeline struct {
	broker *Broker
	logger *slog.Logger

	events    chan brokerEvent
	deletions chan uint64

	batchSize         int
	keepaliveInterval time.Duration
	idleSleep         time.Duration
}

func newPipeline(b *Broker, logger *slog.Logger, eventCap, deletionCap, batchSize int, keepaliveInterval, idleSleep time.Duration) *pipeline {
	return &pipeline{
		broker:            b,
		logger:            logger,
		events:            make(chan brokerEvent, eventCap),
		deletions:         make(chan uint64, deletionCap),
		batchSize:         batchSize,
		keepaliveInterval: keepaliveInterval,
		idleSleep:         idleSleep,
	}
}

// enqueueEvent is a non-blocking send onto the event queue: on full, the
// event (and the message it owns) is simply dropped.
func (p *pipeline) enqueueEvent(ev brokerEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("event queue full, dropping event")
	}
}

// enqueueDeletion is safe from any goroutine; duplicate enqueues for the
// same session id are tolerated (the Worker handles "not found"
// gracefully).
func (p *pipeline) enqueueDeletion(sessionID uint64) {
	select {
	case p.deletions <- sessionID:
	default:
		p.logger.Warn("deletion queue full, dropping deletion request", "session_id", sessionID)
	}
}

// run is the Worker loop: batch-drain events, drain deletions,
// periodically sweep keepalives, yield when busy or sleep briefly when
// idle.
func (p *pipeline) run(ctx context.Context) {
	lastKeepaliveCheck := time.Now()

	for {
		select {
		case <-ctx.Done():
			p.drainOnStop()
			return
		default:
		}

		didWork := p.processEvents()
		if p.processDeletions() {
			didWork = true
		}

		if time.Since(lastKeepaliveCheck) > p.keepaliveInterval {
			p.processKeepalives()
			lastKeepaliveCheck = time.Now()
		}

		if didWork {
			runtime.Gosched()
		} else {
			select {
			case <-ctx.Done():
				p.drainOnStop()
				return
			case <-time.After(p.idleSleep):
			}
		}
	}
}

// processEvents drains up to batchSize events, dispatching each to the
// Broker's worker-only internal implementations.
func (p *pipeline) processEvents() bool {
	didWork := false
	for i := 0; i < p.batchSize; i++ {
		select {
		case ev := <-p.events:
			didWork = true
			switch ev.kind {
			case eventPublish:
				p.broker.publishImpl(ev.publish)
			case eventSubscribe:
				p.broker.subscribeImpl(ev.subscribe, ev.subscribeSession)
			case eventUnsubscribe:
				p.broker.unsubscribeImpl(ev.unsubscribeFilter, ev.subscribeSession)
			}
		default:
			return didWork
		}
	}
	return didWork
}

// processDeletions drains the entire deletion queue (no batch cap for
// this phase, unlike processEvents) and tears down each named session.
func (p *pipeline) processDeletions() bool {
	didWork := false
	for {
		select {
		case sessionID := <-p.deletions:
			didWork = true
			p.broker.destroySession(sessionID)
		default:
			return didWork
		}
	}
}

func (p *pipeline) processKeepalives() {
	now := time.Now().UnixMilli()
	p.broker.forEachSession(func(sess *Session) {
		sess.checkKeepalive(now)
	})
}

// drainOnStop empties pending events/deletions and destroys every
// remaining session: pending events are drained, pending outbox items
// discarded, sessions destroyed.
func (p *pipeline) drainOnStop() {
drainEvents:
	for {
		select {
		case <-p.events:
		default:
			break drainEvents
		}
	}

drainDeletions:
	for {
		select {
		case sessionID := <-p.deletions:
			p.broker.destroySession(sessionID)
		default:
			break drainDeletions
		}
	}

	p.broker.destroyAllSessions()
}
