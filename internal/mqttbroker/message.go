package mqttbroker

// PublishMessage is a decoded QoS 0 PUBLISH: a topic name and its payload.
// It carries no source-session reference — fan-out is broker-wide.
type PublishMessage struct {
	Topic   string
	Payload []byte
}

// SubscribeFilter is one (filter, requested QoS) pair out of a SUBSCRIBE
// packet's payload. RequestedQoS is decoded and retained for completeness
// but every grant is QoS 0, so SUBACK always returns code 0x00.
type SubscribeFilter struct {
	Filter       string
	RequestedQoS byte
}

// SubscribeMessage is a decoded SUBSCRIBE: its packet id (echoed in the
// SUBACK) and the list of filters requested.
type SubscribeMessage struct {
	PacketID uint16
	Filters  []SubscribeFilter
}

// eventKind discriminates the broker's tagged work-item union.
type eventKind int

const (
	eventPublish eventKind = iota
	eventSubscribe
	eventUnsubscribe
)

// brokerEvent is the Worker's unit of work: a broker-wide Publish, or a
// single session's Subscribe/Unsubscribe request. Exactly one payload is
// populated, selected by kind. Unsubscribe rides the same event queue as
// Subscribe and Publish so every trie mutation is ordered consistently.
type brokerEvent struct {
	kind eventKind

	publish *PublishMessage

	subscribe         *SubscribeMessage
	unsubscribeFilter []string
	subscribeSession  *Session
}

func newPublishEvent(msg *PublishMessage) brokerEvent {
	return brokerEvent{kind: eventPublish, publish: msg}
}

func newSubscribeEvent(msg *SubscribeMessage, sess *Session) brokerEvent {
	return brokerEvent{kind: eventSubscribe, subscribe: msg, subscribeSession: sess}
}

func newUnsubscribeEvent(filters []string, sess *Session) brokerEvent {
	return brokerEvent{kind: eventUnsubscribe, unsubscribeFilter: filters, subscribeSession: sess}
}
