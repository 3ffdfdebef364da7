package autostep

import "sync"

// Sample is one telemetry point from a motion profile or the tracking
// loop. For motion profiles Setpoint is the commanded value; for the
// tracking loop it is the predicted position. Sensor is 0 unless an
// external sensor feed is wired in.
type Sample struct {
	Elapsed  float64 `json:"elapsed_time"`
	Position float64 `json:"position"`
	Setpoint float64 `json:"setpoint"`
	Sensor   float64 `json:"sensor"`
}

// Hub fans telemetry samples out to subscribers. Publish never blocks; a
// subscriber that falls behind loses samples rather than stalling the
// control loops. Samples from one activity arrive in emission order.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Sample
	nextID  int
	last    Sample
	hasLast bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Sample)}
}

// Publish delivers s to every subscriber and records it as the latest
// sample.
func (h *Hub) Publish(s Sample) {
	h.mu.Lock()
	h.last = s
	h.hasLast = true
	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a channel of samples and a cancel function. buffer
// bounds how far the subscriber may lag before samples are dropped.
func (h *Hub) Subscribe(buffer int) (<-chan Sample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Sample, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Latest returns the most recently published sample, if any.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.hasLast
}
