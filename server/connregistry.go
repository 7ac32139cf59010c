package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/arinova/hubd/protocol"
)

// outboundQueueSize bounds the per-connection outbound channel: a
// connection that can't keep its write loop draining this many frames
// is dropped rather than left to grow without bound.
const outboundQueueSize = 256

// conn wraps one upgraded user-fabric socket. Exactly one goroutine (the
// write loop) ever calls ws.WriteMessage; every other goroutine that
// wants to send to this socket pushes onto outbound instead.
type conn struct {
	ws        *websocket.Conn
	userID    string
	outbound  chan []byte
	visible   bool
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, userID string) *conn {
	return &conn{
		ws:       ws,
		userID:   userID,
		outbound: make(chan []byte, outboundQueueSize),
		visible:  true,
		closed:   make(chan struct{}),
	}
}

// send enqueues a frame, never blocking: a full queue means a stuck
// writer, and the connection is torn down rather than backing up
// memory behind it.
func (c *conn) send(data []byte) bool {
	select {
	case c.outbound <- data:
		return true
	default:
		c.closeNow()
		return false
	}
}

func (c *conn) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// ConnRegistry is the Conn Registry component: per-user multi-connection
// fan-out for the user fabric, per-conversation subscriber sets, and a
// per-agent_id single connection slot for the agent fabric. An agent may
// run many processes, but the registry keeps only the most recently
// authenticated connection live per agent_id.
type ConnRegistry struct {
	mu sync.RWMutex

	// userConns: userID -> set of live connections for that user.
	userConns map[string]map[*conn]struct{}

	// subs: conversationID -> set of user connections subscribed to it.
	subs map[string]map[*conn]struct{}

	// agentConns: agentID -> the one live agent connection.
	agentConns map[string]*agentConn

	// foreground: userID -> count of visible/foreground tabs.
	foreground map[string]int
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		userConns:  make(map[string]map[*conn]struct{}),
		subs:       make(map[string]map[*conn]struct{}),
		agentConns: make(map[string]*agentConn),
		foreground: make(map[string]int),
	}
}

func (r *ConnRegistry) AddUserConn(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.userConns[c.userID]
	if !ok {
		set = make(map[*conn]struct{})
		r.userConns[c.userID] = set
	}
	set[c] = struct{}{}
	if c.visible {
		r.foreground[c.userID]++
	}
}

func (r *ConnRegistry) RemoveUserConn(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.userConns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.userConns, c.userID)
		}
	}
	if c.visible {
		if n := r.foreground[c.userID] - 1; n > 0 {
			r.foreground[c.userID] = n
		} else {
			delete(r.foreground, c.userID)
		}
	}
	for convID, set := range r.subs {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(r.subs, convID)
			}
		}
	}
}

func (r *ConnRegistry) Subscribe(c *conn, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[conversationID]
	if !ok {
		set = make(map[*conn]struct{})
		r.subs[conversationID] = set
	}
	set[c] = struct{}{}
}

func (r *ConnRegistry) Unsubscribe(c *conn, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subs[conversationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.subs, conversationID)
		}
	}
}

// BroadcastToConversation sends an envelope to every connection
// subscribed to a conversation, dropping any connection whose outbound
// queue can't absorb it.
func (r *ConnRegistry) BroadcastToConversation(conversationID string, env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		return
	}
	r.mu.RLock()
	subs := r.subs[conversationID]
	targets := make([]*conn, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.send(data) {
			r.RemoveUserConn(c)
		}
	}
}

// SendToUser delivers an envelope to every live connection for a user,
// reporting whether at least one connection accepted it. Callers use a
// false return to decide whether to fall back to the pending-event
// queue.
func (r *ConnRegistry) SendToUser(userID string, env *protocol.Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		return false
	}
	r.mu.RLock()
	set := r.userConns[userID]
	targets := make([]*conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if c.send(data) {
			delivered = true
		} else {
			r.RemoveUserConn(c)
		}
	}
	return delivered
}

func (r *ConnRegistry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

func (r *ConnRegistry) IsUserForeground(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.foreground[userID] > 0
}

func (r *ConnRegistry) SetVisibility(c *conn, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.visible == visible {
		return
	}
	c.visible = visible
	if visible {
		r.foreground[c.userID]++
	} else if n := r.foreground[c.userID] - 1; n > 0 {
		r.foreground[c.userID] = n
	} else {
		delete(r.foreground, c.userID)
	}
}

// agentConn wraps one authenticated agent-fabric socket.
type agentConn struct {
	ws        *websocket.Conn
	agentID   string
	outbound  chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newAgentConn(ws *websocket.Conn, agentID string) *agentConn {
	return &agentConn{
		ws:       ws,
		agentID:  agentID,
		outbound: make(chan []byte, outboundQueueSize),
		closed:   make(chan struct{}),
	}
}

func (c *agentConn) send(data []byte) bool {
	select {
	case c.outbound <- data:
		return true
	default:
		c.closeNow()
		return false
	}
}

func (c *agentConn) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// SetAgentConn binds agentID to a freshly authenticated connection,
// last writer wins: a reconnecting agent process replaces its own
// previous connection without disturbing any other agent.
func (r *ConnRegistry) SetAgentConn(agentID string, ac *agentConn) {
	r.mu.Lock()
	prev := r.agentConns[agentID]
	r.agentConns[agentID] = ac
	r.mu.Unlock()
	if prev != nil {
		prev.closeNow()
	}
}

func (r *ConnRegistry) RemoveAgentConn(agentID string, ac *agentConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agentConns[agentID] == ac {
		delete(r.agentConns, agentID)
	}
}

func (r *ConnRegistry) IsAgentConnected(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agentConns[agentID]
	return ok
}

func (r *ConnRegistry) SendToAgent(agentID string, env *protocol.Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		return false
	}
	r.mu.RLock()
	ac := r.agentConns[agentID]
	r.mu.RUnlock()
	if ac == nil {
		return false
	}
	if !ac.send(data) {
		r.RemoveAgentConn(agentID, ac)
		return false
	}
	return true
}
