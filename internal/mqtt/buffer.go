package mqtt

import "go.uber.org/zap"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// When full the oldest message is overwritten.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // overwritten since last drain
	logger  *zap.Logger
}

func newRingBuffer(capacity int, logger *zap.Logger) *ringBuffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ringBuffer{
		buf:    make([]bufferedMsg, capacity),
		logger: logger,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == len(r.buf) {
		if r.dropped == 0 {
			r.logger.Warn("mqtt buffer full, dropping oldest", zap.Int("capacity", len(r.buf)))
		}
		r.dropped++
		// head already points at the oldest entry
		r.buf[r.head] = msg
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % len(r.buf)
	r.count++
}

// drainAll returns every buffered message, oldest first, and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	if r.dropped > 0 {
		r.logger.Warn("mqtt buffer overflowed while offline", zap.Int("dropped", r.dropped))
	}

	n := len(r.buf)
	result := make([]bufferedMsg, r.count)
	start := (r.head - r.count + n) % n
	for i := range result {
		result[i] = r.buf[(start+i)%n]
	}

	r.count = 0
	r.head = 0
	r.dropped = 0
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
