package notify

import "sync"

const defaultBufferCap = 100

// stream holds one user's notification state.
type stream struct {
	buf     []Message // circular buffer
	pos     int       // next write position
	clients map[chan Message]struct{}
}

// history returns buffered messages in order from oldest to newest.
func (s *stream) history() []Message {
	n := len(s.buf)
	if n == 0 || s.pos == 0 {
		// Empty, partially filled, or pos just wrapped to 0 — buf[:n] is
		// already in order.
		return s.buf
	}
	// Buffer has wrapped: pos points to the oldest entry.
	out := make([]Message, n)
	copy(out, s.buf[s.pos:])
	copy(out[n-s.pos:], s.buf[:s.pos])
	return out
}

// append adds a message to the circular buffer. O(1) regardless of size.
func (s *stream) append(m Message) {
	if len(s.buf) < cap(s.buf) {
		s.buf = append(s.buf, m)
	} else {
		s.buf[s.pos] = m
	}
	s.pos = (s.pos + 1) % cap(s.buf)
}

// Hub fans notifications out to per-user subscribers. It keeps the last
// defaultBufferCap messages per user so a client connecting late still
// sees recent history before live delivery.
type Hub struct {
	mu      sync.Mutex
	streams map[int64]*stream
}

// NewHub creates a Hub ready for use.
func NewHub() *Hub {
	return &Hub{streams: make(map[int64]*stream)}
}

// getOrCreate returns the stream for a user, creating it if needed.
// Caller must hold h.mu.
func (h *Hub) getOrCreate(userID int64) *stream {
	s, ok := h.streams[userID]
	if !ok {
		s = &stream{
			buf:     make([]Message, 0, defaultBufferCap),
			clients: make(map[chan Message]struct{}),
		}
		h.streams[userID] = s
	}
	return s
}

// Publish buffers a message and fans it out to the user's subscribers.
// Sends are non-blocking so a slow consumer cannot stall publishing.
func (h *Hub) Publish(userID int64, m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(userID)
	s.append(m)

	for ch := range s.clients {
		select {
		case ch <- m:
		default:
		}
	}
}

// Subscribe returns a channel receiving the user's future notifications
// plus an unsubscribe function. Buffered history is replayed first.
func (h *Hub) Subscribe(userID int64) (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(userID)

	// Room for catchup plus live headroom.
	ch := make(chan Message, defaultBufferCap+16)
	for _, m := range s.history() {
		ch <- m
	}
	s.clients[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(s.clients, ch)
	}
	return ch, unsubscribe
}

// Remove drops a user's stream entirely, closing any subscribers.
func (h *Hub) Remove(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[userID]
	if !ok {
		return
	}
	for ch := range s.clients {
		close(ch)
	}
	delete(h.streams, userID)
}
