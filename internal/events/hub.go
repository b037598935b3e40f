package events

import (
	"context"
	"sync"
	"time"

	"lyrebird/internal/metrics"
)

// Event is one progress, completion, or failure notification for a job.
type Event struct {
	Sequence        uint64    `json:"seq"`
	Timestamp       time.Time `json:"ts"`
	JobID           string    `json:"jobId"`
	Stage           string    `json:"stage,omitempty"`
	Status          string    `json:"status,omitempty"`
	ProgressPercent float64   `json:"progressPercent"`
	Message         string    `json:"message,omitempty"`
	ErrorKind       string    `json:"errorKind,omitempty"`
	Error           string    `json:"error,omitempty"`
	Terminal        bool      `json:"terminal,omitempty"`
}

const (
	defaultRingCapacity     = 256
	defaultSubscriberBuffer = 64
	defaultRetireGrace      = 2 * time.Minute
)

// stream carries one job's events. The ring backs cursor fetches; subs are
// the live channel subscribers.
type stream struct {
	buffer   []Event
	nextSeq  uint64
	subs     map[int]chan Event
	nextSub  int
	terminal bool
}

// Hub fans job events out to subscribers and cursor readers.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	streams  map[string]*stream
	capacity int
	subCap   int
	grace    time.Duration
	closed   bool
}

// HubOption configures optional Hub behavior.
type HubOption func(*Hub)

// WithRingCapacity sets how many recent events are kept per job for fetches.
func WithRingCapacity(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithSubscriberBuffer sets the channel depth granted to each subscriber
// before a publish disconnects it.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.subCap = n
		}
	}
}

// WithRetireGrace sets how long a terminal job's ring stays fetchable.
func WithRetireGrace(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.grace = d
		}
	}
}

// NewHub constructs an event hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		streams:  make(map[string]*stream),
		capacity: defaultRingCapacity,
		subCap:   defaultSubscriberBuffer,
		grace:    defaultRetireGrace,
	}
	h.cond = sync.NewCond(&h.mu)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish appends an event to its job's stream and fans it out. It never
// blocks on consumers: a subscriber whose buffer is full is disconnected.
// A terminal event ends the stream for all current subscribers and schedules
// the ring for retirement; a later non-terminal publish (a requeued job)
// reopens the stream.
func (h *Hub) Publish(evt Event) {
	if h == nil || evt.JobID == "" {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	s := h.streamLocked(evt.JobID)
	s.nextSeq++
	evt.Sequence = s.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(s.buffer) == h.capacity {
		copy(s.buffer, s.buffer[1:])
		s.buffer = s.buffer[:h.capacity-1]
	}
	s.buffer = append(s.buffer, evt)

	for id, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			close(ch)
			delete(s.subs, id)
			metrics.EventDropped()
		}
	}

	switch {
	case evt.Terminal && !s.terminal:
		s.terminal = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		jobID := evt.JobID
		time.AfterFunc(h.grace, func() { h.retire(jobID, s) })
	case !evt.Terminal && s.terminal:
		s.terminal = false
	}

	h.cond.Broadcast()
	h.mu.Unlock()
}

// Subscribe attaches a live listener to a job's stream. Only events published
// after attachment are delivered; there is no replay. The channel closes when
// the job reaches a terminal state, when the subscriber falls too far behind,
// or when cancel is called. Subscribing to an already-terminal stream returns
// a closed channel.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, h.subCap)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s := h.streamLocked(jobID)
	if s.terminal {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if cur, ok := s.subs[id]; ok && cur == ch {
				delete(s.subs, id)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Fetch returns the job's buffered events with sequence greater than since.
// With wait set, it blocks until an event arrives, the stream turns terminal,
// or the context ends. The returned cursor is the stream's latest sequence.
func (h *Hub) Fetch(ctx context.Context, jobID string, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		s := h.streams[jobID]
		if s != nil {
			events, next := snapshot(s, since, limit)
			if len(events) > 0 || !wait || s.terminal {
				return events, next, contextError(ctx)
			}
		} else if !wait {
			return nil, since, contextError(ctx)
		}
		if h.closed {
			return nil, since, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, since, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, since, err
		}
	}
}

// Close disconnects every subscriber and drops all streams.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, s := range h.streams {
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
	}
	h.streams = make(map[string]*stream)
	h.cond.Broadcast()
	h.mu.Unlock()
}

func (h *Hub) streamLocked(jobID string) *stream {
	s := h.streams[jobID]
	if s == nil {
		s = &stream{subs: make(map[int]chan Event)}
		h.streams[jobID] = s
	}
	return s
}

// retire drops a terminal stream once its grace period passes, unless the
// job was requeued or someone is still attached.
func (h *Hub) retire(jobID string, s *stream) {
	h.mu.Lock()
	if cur, ok := h.streams[jobID]; ok && cur == s && cur.terminal && len(cur.subs) == 0 {
		delete(h.streams, jobID)
	}
	h.mu.Unlock()
}

func snapshot(s *stream, since uint64, limit int) ([]Event, uint64) {
	if len(s.buffer) == 0 {
		return nil, s.nextSeq
	}
	startIdx := -1
	for i, evt := range s.buffer {
		if evt.Sequence > since {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil, s.nextSeq
	}
	end := startIdx + limit
	if end > len(s.buffer) {
		end = len(s.buffer)
	}
	out := make([]Event, end-startIdx)
	copy(out, s.buffer[startIdx:end])
	return out, s.nextSeq
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
