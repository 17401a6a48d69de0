// Package streaming provides in-memory pub/sub for research run progress
// events, with per-run replay for reconnecting SSE clients.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Progress event types emitted by the research controller.
const (
	TypeRunStarted          = "run_started"
	TypeQueriesGenerated    = "queries_generated"
	TypeIterationStarted    = "iteration_started"
	TypeSearchCompleted     = "search_completed"
	TypeBatchCompleted      = "batch_completed"
	TypeReflectionCompleted = "reflection_completed"
	TypeSynthesisStarted    = "synthesis_started"
	TypeAnswerReady         = "answer_ready"
	TypeRunCancelled        = "run_cancelled"
	TypeRunFailed           = "run_failed"
)

// Event is one progress event in a research run.
type Event struct {
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
}

// Marshal returns JSON for SSE frames and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Mirror receives every published event, e.g. to fan events out to other
// replicas through Redis Streams.
type Mirror interface {
	MirrorEvent(evt Event)
}

// Manager fans events out to per-run subscribers and keeps a per-run ring
// buffer for Last-Event-ID replay.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	mirror      Mirror
}

// NewManager builds a manager whose per-run rings hold capacity events.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// SetMirror attaches a mirror that sees every published event.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	m.mirror = mirror
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a run. The caller must drain the
// channel and call Unsubscribe when done.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the event a sequence number, records it for replay, and
// delivers it to all subscribers without blocking. Slow subscribers drop
// events rather than stalling the controller.
func (m *Manager) Publish(runID string, evt Event) {
	evt.RunID = runID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	subs := m.subscribers[runID]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	mirror := m.mirror
	m.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
		}
	}
	if mirror != nil {
		mirror.MirrorEvent(evt)
	}
}

// ReplaySince returns buffered events with Seq > since, best-effort within
// ring capacity.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay history for a finished run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
