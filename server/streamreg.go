package server

import (
	"sync"
)

// streamKey identifies one (conversation, agent) pair's single-in-flight
// stream slot.
func streamKey(conversationID, agentID string) string {
	return conversationID + ":" + agentID
}

// queuedTask is a follow-up task admitted to a stream_key's FIFO queue
// because that key already had a stream in flight when it arrived. No
// message row exists for it yet; the orchestrator allocates one when
// the task is dequeued and actually starts.
type queuedTask struct {
	conversationID string
	agentID        string
	content        string
	mentions       []string
	senderUserID   string
	replyToID      string
}

// StreamRegistry is the Stream Registry component: it admits at most one
// in-flight stream per (conversation, agent) key, queues anything else
// for that key in arrival order, and lets any goroutine holding a
// message ID cancel that message's stream.
//
// Admission is two-phase: TryAdmit reserves the key's slot, then Bind
// attaches the freshly allocated message and hands back its cancel
// channel. The split exists because the follow-up queue holds tasks
// with no message row yet.
type StreamRegistry struct {
	mu sync.Mutex

	// active: stream_key -> the message_id currently streaming for it.
	// A reserved-but-unbound slot holds "" until Bind.
	active map[string]string

	// queues: stream_key -> pending follow-up tasks, oldest first.
	queues map[string][]queuedTask

	// cancellers: message_id -> close this to signal cancellation.
	cancellers map[string]chan struct{}
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		active:     make(map[string]string),
		queues:     make(map[string][]queuedTask),
		cancellers: make(map[string]chan struct{}),
	}
}

// TryAdmit reserves key's single-flight slot. On failure (a stream is
// already active for key) it appends task to the FIFO queue instead and
// returns false.
func (r *StreamRegistry) TryAdmit(key string, task queuedTask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.active[key]; busy {
		r.queues[key] = append(r.queues[key], task)
		return false
	}
	r.active[key] = ""
	return true
}

// TryReserve is TryAdmit without the queue fallback, for callers that
// surface "busy" to their own caller instead of deferring the work.
func (r *StreamRegistry) TryReserve(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[key]; busy {
		return false
	}
	r.active[key] = ""
	return true
}

// Bind attaches messageID to a slot reserved by TryAdmit/TryReserve and
// returns the stream's cancel channel.
func (r *StreamRegistry) Bind(key, messageID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[key] = messageID
	c := make(chan struct{})
	r.cancellers[messageID] = c
	return c
}

// Finalize releases key's slot and removes messageID's canceller
// (messageID is "" for a slot that was reserved but never bound, e.g.
// when message allocation failed). Returns the next queued task for
// key, if any, so the caller can immediately start it.
func (r *StreamRegistry) Finalize(key, messageID string) (queuedTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if messageID != "" {
		delete(r.cancellers, messageID)
	}
	if r.active[key] == messageID {
		delete(r.active, key)
	}

	q := r.queues[key]
	if len(q) == 0 {
		return queuedTask{}, false
	}
	next := q[0]
	r.queues[key] = q[1:]
	if len(r.queues[key]) == 0 {
		delete(r.queues, key)
	}
	return next, true
}

// Cancel signals the stream producing messageID to stop, if one is
// active. Returns false if no such stream exists (it may have already
// finished). Closing the channel rather than sending on it lets every
// select loop watching it observe the signal exactly once, regardless
// of how many times Cancel is called.
func (r *StreamRegistry) Cancel(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cancellers[messageID]
	if !ok {
		return false
	}
	select {
	case <-c:
		// already closed
	default:
		close(c)
	}
	return true
}

func (r *StreamRegistry) HasActiveStream(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}

// ActiveMessageID returns the message currently streaming for key;
// false covers both an idle key and one whose message is still being
// allocated.
func (r *StreamRegistry) ActiveMessageID(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[key]
	if id == "" {
		return "", false
	}
	return id, ok
}
