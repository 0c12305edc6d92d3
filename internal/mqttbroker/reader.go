package mqttbroker

// readerState is the Packet Reader's internal state.
type readerState int

const (
	waitingFixedHeader readerState = iota
	waitingRemainingLength
	waitingRemainingPacket
)

// maxRemainingLength is the multiplier ceiling past which a 4th continuation
// byte is malformed: after 3 continuation bytes the multiplier for a would-be
// 4th byte is 128^3, so any further continuation bit beyond that is fatal.
const maxRemainingLength = 128 * 128 * 128

// PacketReader incrementally reassembles one complete MQTT control packet
// from an arbitrarily fragmented byte stream. It is safe to drive from a
// single goroutine only (a Session's network-read goroutine): it holds no
// locks.
type PacketReader struct {
	onPacketReady func(r *PacketReader)

	state           readerState
	fixedHeader     byte
	remainingLength int
	multiplier      int
	packet          []byte
	bytesRead       int
}

// NewPacketReader constructs a reader in state WaitingFixedHeader with no
// buffer allocated. onPacketReady is invoked synchronously, once per
// complete packet, from within Feed; FixedHeader/RemainingBytes/
// RemainingLength are valid to call only during that invocation.
func NewPacketReader(onPacketReady func(r *PacketReader)) *PacketReader {
	r := &PacketReader{onPacketReady: onPacketReady}
	r.Reset()
	return r
}

// Reset returns the reader to WaitingFixedHeader and releases any allocated
// packet buffer.
func (r *PacketReader) Reset() {
	r.state = waitingFixedHeader
	r.fixedHeader = 0
	r.remainingLength = 0
	r.multiplier = 1
	r.packet = nil
	r.bytesRead = 0
}

// FixedHeader returns the fixed header byte of the packet that just
// completed. Valid only inside the onPacketReady callback.
func (r *PacketReader) FixedHeader() byte { return r.fixedHeader }

// RemainingBytes returns the variable header + payload bytes of the packet
// that just completed. Valid only inside the onPacketReady callback.
func (r *PacketReader) RemainingBytes() []byte { return r.packet }

// RemainingLength returns the decoded Remaining Length of the packet that
// just completed. Valid only inside the onPacketReady callback.
func (r *PacketReader) RemainingLength() int { return r.remainingLength }

// Feed consumes bytes from data, possibly spanning or completing multiple
// packets ("packet chaining"). For every complete packet it invokes
// onPacketReady, then resets to parse the next one. It returns the number
// of bytes consumed, which on the successful path always equals len(data);
// on a malformed remaining length, the reader resets and stops consuming,
// returning the number of bytes consumed before the failure and the error.
func (r *PacketReader) Feed(data []byte) (int, error) {
	idx := 0

	for idx < len(data) {
		switch r.state {

		case waitingFixedHeader:
			r.fixedHeader = data[idx]
			idx++
			r.state = waitingRemainingLength
			r.remainingLength = 0
			r.multiplier = 1

		case waitingRemainingLength:
			b := data[idx]
			idx++

			r.remainingLength += int(b&0x7F) * r.multiplier
			r.multiplier *= 128

			if b&0x80 == 0 {
				// Length field complete.
				if r.remainingLength == 0 {
					r.deliverAndReset()
				} else {
					r.packet = make([]byte, r.remainingLength)
					r.bytesRead = 0
					r.state = waitingRemainingPacket
				}
				continue
			}

			if r.multiplier > maxRemainingLength {
				r.Reset()
				return idx, ErrMalformedRemainingLength
			}

		case waitingRemainingPacket:
			need := r.remainingLength - r.bytesRead
			avail := len(data) - idx
			toCopy := need
			if avail < toCopy {
				toCopy = avail
			}

			copy(r.packet[r.bytesRead:], data[idx:idx+toCopy])
			r.bytesRead += toCopy
			idx += toCopy

			if r.bytesRead == r.remainingLength {
				r.deliverAndReset()
			}
		}
	}

	return idx, nil
}

// deliverAndReset invokes onPacketReady with the current packet state, then
// resets for the next packet.
func (r *PacketReader) deliverAndReset() {
	if r.onPacketReady != nil {
		r.onPacketReady(r)
	}
	r.Reset()
}
