package server

import (
	"strings"
	"sync"
	"time"
)

// AgentEvent is what a pending task's watcher receives as the agent
// fabric reports progress.
type AgentEvent struct {
	Kind     AgentEventKind
	Delta    string   // Kind == AgentEventChunk
	Content  string   // Kind == AgentEventComplete
	Mentions []string // Kind == AgentEventComplete
	Error    string   // Kind == AgentEventError or AgentEventAborted
}

type AgentEventKind int

const (
	AgentEventChunk AgentEventKind = iota
	AgentEventComplete
	// AgentEventError is an explicit agent_error frame: the agent
	// itself reported failure, so the reply is worthless even if some
	// text already streamed.
	AgentEventError
	// AgentEventAborted is the agent going away mid-stream (disconnect
	// or idle timeout). Whatever text already streamed is still good.
	AgentEventAborted
)

// chunkEventBuffer is how many undelivered chunk events a task tolerates
// before further chunks are dropped. The last slot is reserved for the
// terminal event, which must always land.
const chunkEventBuffer = 256

// pendingTask tracks one outstanding task dispatched to an agent
// connection: which agent owns it, the rolling accumulated text used to
// auto-detect delta vs. accumulated chunk mode, and an idle watchdog
// that cancels the task if the agent goes quiet.
type pendingTask struct {
	taskID      string
	agentID     string
	accumulated string
	events      chan AgentEvent
	idleTimer   *time.Timer
}

// AgentTaskRouter is the Agent-Task Router component: it owns the
// pending-task table that agent_chunk/agent_complete/agent_error frames
// on the agent fabric are routed against, normalizes each agent's chunk
// style, and enforces the per-task idle timeout.
//
// Every channel send and close happens with mu held, and a task is
// removed from the table in the same critical section that sends its
// terminal event. That rules out both a send racing a close and two
// terminal paths (say, agent_complete racing the idle watchdog) firing
// for one task.
type AgentTaskRouter struct {
	idleTimeout time.Duration

	mu    sync.Mutex
	tasks map[string]*pendingTask
}

func NewAgentTaskRouter(idleTimeout time.Duration) *AgentTaskRouter {
	if idleTimeout <= 0 {
		idleTimeout = 600 * time.Second
	}
	return &AgentTaskRouter{
		idleTimeout: idleTimeout,
		tasks:       make(map[string]*pendingTask),
	}
}

// Register admits a new task, returning the channel its events will
// arrive on. The channel closes after the terminal event (Complete,
// Fail, abort); or without one when the task is cancelled from the
// user side.
func (r *AgentTaskRouter) Register(taskID, agentID string) <-chan AgentEvent {
	t := &pendingTask{
		taskID:  taskID,
		agentID: agentID,
		events:  make(chan AgentEvent, chunkEventBuffer+1),
	}
	r.mu.Lock()
	r.tasks[taskID] = t
	t.idleTimer = time.AfterFunc(r.idleTimeout, func() { r.timeoutTask(taskID) })
	r.mu.Unlock()
	return t.events
}

// HandleChunk normalizes and forwards one chunk from the agent fabric.
// An agent may stream either mode without announcing which: if the new
// payload starts with everything sent so far, only the suffix is new.
func (r *AgentTaskRouter) HandleChunk(agentID, taskID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok || t.agentID != agentID {
		return
	}
	delta := normalizeChunk(t.accumulated, content)
	t.accumulated += delta
	t.idleTimer.Reset(r.idleTimeout)
	if delta == "" {
		return
	}
	// Keep one slot free for the terminal event. A consumer this far
	// behind is stalled; dropping the chunk here beats blocking the
	// agent's entire read pump.
	if len(t.events) < chunkEventBuffer {
		t.events <- AgentEvent{Kind: AgentEventChunk, Delta: delta}
	}
}

// normalizeChunk returns the new text contributed by incoming, treating
// it as an accumulated snapshot when it extends what's already been
// seen, and as a bare delta otherwise.
func normalizeChunk(accumulated, incoming string) string {
	if accumulated != "" && strings.HasPrefix(incoming, accumulated) {
		return incoming[len(accumulated):]
	}
	return incoming
}

func (r *AgentTaskRouter) Complete(agentID, taskID, content string, mentions []string) {
	r.finish(agentID, taskID, AgentEvent{Kind: AgentEventComplete, Content: content, Mentions: mentions})
}

func (r *AgentTaskRouter) Fail(agentID, taskID, reason string) {
	r.finish(agentID, taskID, AgentEvent{Kind: AgentEventError, Error: reason})
}

// Cancel terminates a task from the user side (cancel_stream), without
// requiring the originating agentID. The events channel closes without
// a terminal event; late agent frames for the task are dropped.
func (r *AgentTaskRouter) Cancel(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	delete(r.tasks, taskID)
	t.idleTimer.Stop()
	close(t.events)
}

// DisconnectAgent aborts every task currently assigned to an agent
// whose connection just dropped.
func (r *AgentTaskRouter) DisconnectAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		if t.agentID != agentID {
			continue
		}
		delete(r.tasks, id)
		t.idleTimer.Stop()
		t.events <- AgentEvent{Kind: AgentEventAborted, Error: "agent disconnected"}
		close(t.events)
	}
}

func (r *AgentTaskRouter) timeoutTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	delete(r.tasks, taskID)
	t.events <- AgentEvent{Kind: AgentEventAborted, Error: "task timed out (idle)"}
	close(t.events)
}

// finish delivers a terminal event and retires the task, provided
// agentID still owns it.
func (r *AgentTaskRouter) finish(agentID, taskID string, ev AgentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok || t.agentID != agentID {
		return
	}
	delete(r.tasks, taskID)
	t.idleTimer.Stop()
	t.events <- ev
	close(t.events)
}
