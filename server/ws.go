package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arinova/hubd/config"
	"github.com/arinova/hubd/metrics"
	"github.com/arinova/hubd/protocol"
	"github.com/arinova/hubd/server/handlers"
	"github.com/arinova/hubd/services"
	"github.com/arinova/hubd/store"
)

// maxFrameSize caps an inbound WebSocket message on either fabric -
// large enough for a long user message plus history, small enough that
// one connection can't exhaust memory with a single frame.
const maxFrameSize = 32 * 1024

const writeTimeout = 10 * time.Second

// WSHandler upgrades and drives both the user and agent WebSocket
// fabrics. Each connection gets a dedicated read and write goroutine
// joined by a bounded channel, so a slow reader never blocks frames
// meant for someone else.
type WSHandler struct {
	cfg           *config.Config
	store         *store.Store
	conversations *services.ConversationService
	messages      *services.MessageService
	conns         *ConnRegistry
	orchestrator  *StreamOrchestrator
	tasks         *AgentTaskRouter
	sync          *SyncRecovery
	broadcaster   *Broadcaster
	ratelimit     *RateLimiter
	log           *slog.Logger
	upgrader      websocket.Upgrader
}

func NewWSHandler(
	cfg *config.Config,
	st *store.Store,
	conversations *services.ConversationService,
	messages *services.MessageService,
	conns *ConnRegistry,
	orchestrator *StreamOrchestrator,
	tasks *AgentTaskRouter,
	sync *SyncRecovery,
	broadcaster *Broadcaster,
	ratelimit *RateLimiter,
	log *slog.Logger,
) *WSHandler {
	h := &WSHandler{
		cfg:           cfg,
		store:         st,
		conversations: conversations,
		messages:      messages,
		conns:         conns,
		orchestrator:  orchestrator,
		tasks:         tasks,
		sync:          sync,
		broadcaster:   broadcaster,
		ratelimit:     ratelimit,
		log:           log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	for _, o := range h.cfg.Server.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return h.cfg.Server.AllowEmptyOrigin
	}
	for _, allowed := range h.cfg.Server.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// ServeUser upgrades a /ws connection for the human-facing fabric.
func (h *WSHandler) ServeUser(w http.ResponseWriter, r *http.Request) {
	userID := handlers.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws: user upgrade failed", "err", err)
		return
	}

	c := newConn(ws, userID)
	h.conns.AddUserConn(c)
	metrics.WSConnections.WithLabelValues("user").Inc()
	h.log.Info("ws: user connected", "user_id", userID)

	go h.userWritePump(c)
	h.userReadPump(c)

	h.conns.RemoveUserConn(c)
	c.closeNow()
	metrics.WSConnections.WithLabelValues("user").Dec()
	h.log.Info("ws: user disconnected", "user_id", userID)
}

func (h *WSHandler) userWritePump(c *conn) {
	for {
		select {
		case data, ok := <-c.outbound:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.closeNow()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (h *WSHandler) userReadPump(c *conn) {
	c.ws.SetReadLimit(maxFrameSize)
	h.resetDeadline(c.ws)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		h.resetDeadline(c.ws)

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			h.log.Warn("ws: decode error", "err", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		h.handleUserFrame(ctx, c, env)
		cancel()
	}
}

func (h *WSHandler) resetDeadline(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(h.cfg.Server.HeartbeatDeadline))
}

func (h *WSHandler) handleUserFrame(ctx context.Context, c *conn, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSubscribe:
		body, err := protocol.DecodeBody[protocol.Subscribe](env)
		if err != nil || body.ConversationID == "" {
			return
		}
		isMember, _ := h.conversations.IsMember(ctx, body.ConversationID, c.userID)
		if !isMember {
			c.send(mustEncode(protocol.NewEnvelope(protocol.TypeSubscribeAck, &protocol.SubscribeAck{
				ConversationID: body.ConversationID, Success: false, Error: "not a member",
			})))
			return
		}
		h.conns.Subscribe(c, body.ConversationID)
		c.send(mustEncode(protocol.NewEnvelope(protocol.TypeSubscribeAck, &protocol.SubscribeAck{
			ConversationID: body.ConversationID, Success: true,
		})))

	case protocol.TypeUnsubscribe:
		body, err := protocol.DecodeBody[protocol.Unsubscribe](env)
		if err != nil {
			return
		}
		h.conns.Unsubscribe(c, body.ConversationID)
		c.send(mustEncode(protocol.NewEnvelope(protocol.TypeUnsubscribeAck, &protocol.UnsubscribeAck{
			ConversationID: body.ConversationID, Success: true,
		})))

	case protocol.TypeUserMessage:
		body, err := protocol.DecodeBody[protocol.UserMessage](env)
		if err != nil || body.ConversationID == "" {
			return
		}
		h.handleUserMessage(ctx, c, body)

	case protocol.TypeMarkRead:
		body, err := protocol.DecodeBody[protocol.MarkRead](env)
		if err != nil {
			return
		}
		if err := h.conversations.MarkRead(ctx, body.ConversationID, c.userID, body.Seq); err != nil {
			h.log.Warn("ws: mark read failed", "err", err)
			return
		}
		c.send(mustEncode(protocol.NewEnvelope(protocol.TypeMarkReadAck, &protocol.MarkReadAck{
			ConversationID: body.ConversationID, Seq: body.Seq,
		})))

	case protocol.TypeCancelStream:
		body, err := protocol.DecodeBody[protocol.CancelStream](env)
		if err != nil {
			return
		}
		h.orchestrator.CancelStream(body.MessageID)

	case protocol.TypeVisibility:
		body, err := protocol.DecodeBody[protocol.Visibility](env)
		if err != nil {
			return
		}
		h.conns.SetVisibility(c, body.Visible)

	case protocol.TypeHeartbeat:
		c.send(mustEncode(protocol.NewEnvelope(protocol.TypePong, &protocol.Pong{})))

	case protocol.TypeSyncRequest:
		body, err := protocol.DecodeBody[protocol.SyncRequest](env)
		if err != nil {
			return
		}
		resp, err := h.sync.Handle(ctx, c, c.userID, body)
		if err != nil {
			h.log.Warn("ws: sync failed", "user_id", c.userID, "err", err)
			return
		}
		c.send(mustEncode(protocol.NewEnvelope(protocol.TypeSyncResponse, resp)))

	default:
		h.log.Warn("ws: unhandled user frame", "type", env.Type)
	}
}

// handleUserMessage persists an incoming message, fans it out to the
// conversation's members through the Broadcaster, and triggers every
// agent the Dispatch Filter selects.
func (h *WSHandler) handleUserMessage(ctx context.Context, c *conn, body *protocol.UserMessage) {
	if !h.ratelimit.Allow(ctx, c.userID) {
		c.send(mustEncode(protocol.NewEnvelope(protocol.TypeError, &protocol.Error{
			Code: "rate_limited", Message: "too many messages, slow down", ConversationID: body.ConversationID,
		})))
		return
	}

	isMember, err := h.conversations.IsMember(ctx, body.ConversationID, c.userID)
	if err != nil || !isMember {
		c.send(mustEncode(protocol.NewEnvelope(protocol.TypeError, &protocol.Error{
			Code: "forbidden", Message: "not a member of this conversation", ConversationID: body.ConversationID,
		})))
		return
	}

	conv, err := h.conversations.Get(ctx, body.ConversationID)
	if err != nil {
		h.log.Warn("ws: conversation lookup failed", "err", err)
		return
	}

	msg, err := h.messages.CreateUserMessage(ctx, body.ConversationID, c.userID, body.Content, body.Mentions)
	if err != nil {
		h.log.Error("ws: persist user message failed", "err", err)
		return
	}

	h.broadcaster.Send(ctx, body.ConversationID, c.userID, protocol.NewEnvelope(protocol.TypeMessageNew, toMessageNew(msg)))

	agentMembers, err := h.conversations.AgentMembers(ctx, body.ConversationID)
	if err != nil {
		h.log.Warn("ws: agent members lookup failed", "err", err)
		return
	}

	mentionOnly := conv.MentionOnly || body.MentionOnly
	selected := FilterAgentsForDispatch(conv.Kind, mentionOnly, c.userID, body.Mentions, agentMembers, h.agentOwner(ctx))

	for _, agentID := range selected {
		h.orchestrator.Trigger(ctx, TriggerParams{
			UserID:         c.userID,
			AgentID:        agentID,
			ConversationID: body.ConversationID,
			ConvKind:       conv.Kind,
			Content:        body.Content,
			Mentions:       body.Mentions,
		})
	}
}

func (h *WSHandler) agentOwner(ctx context.Context) agentOwner {
	return func(agentID string) string {
		agent, err := h.store.GetAgent(ctx, agentID)
		if err != nil {
			return ""
		}
		return agent.OwnerUserID
	}
}

// ServeAgent upgrades a /ws/agent connection. The first frame must be an
// agent_auth handshake within AgentAuthTimeout, or the socket is closed.
func (h *WSHandler) ServeAgent(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws: agent upgrade failed", "err", err)
		return
	}

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(h.cfg.Server.AgentAuthTimeout))

	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil || env.Type != protocol.TypeAgentAuth {
		h.writeAgentAuthFailure(ws, "first frame must be agent_auth")
		ws.Close()
		return
	}
	auth, err := protocol.DecodeBody[protocol.AgentAuth](env)
	if err != nil {
		h.writeAgentAuthFailure(ws, "malformed agent_auth")
		ws.Close()
		return
	}

	agent, err := h.store.GetAgentByToken(context.Background(), auth.SecretToken)
	if err != nil || agent.ID != auth.AgentID {
		h.writeAgentAuthFailure(ws, "invalid credentials")
		ws.Close()
		return
	}

	ac := newAgentConn(ws, agent.ID)
	h.conns.SetAgentConn(agent.ID, ac)
	metrics.WSConnections.WithLabelValues("agent").Inc()
	h.log.Info("ws: agent connected", "agent_id", agent.ID)

	ackData, _ := protocol.NewEnvelope(protocol.TypeAgentAuthAck, &protocol.AgentAuthAck{Success: true}).Encode()
	ac.send(ackData)

	go h.agentWritePump(ac)
	h.agentReadPump(ac)

	h.conns.RemoveAgentConn(agent.ID, ac)
	h.tasks.DisconnectAgent(agent.ID)
	ac.closeNow()
	metrics.WSConnections.WithLabelValues("agent").Dec()
	h.log.Info("ws: agent disconnected", "agent_id", agent.ID)
}

func (h *WSHandler) writeAgentAuthFailure(ws *websocket.Conn, reason string) {
	data, err := protocol.NewEnvelope(protocol.TypeAgentAuthAck, &protocol.AgentAuthAck{Success: false, Error: reason}).Encode()
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	ws.WriteMessage(websocket.BinaryMessage, data)
}

func (h *WSHandler) agentWritePump(ac *agentConn) {
	for {
		select {
		case data, ok := <-ac.outbound:
			if !ok {
				return
			}
			ac.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ac.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				ac.closeNow()
				return
			}
		case <-ac.closed:
			return
		}
	}
}

func (h *WSHandler) agentReadPump(ac *agentConn) {
	ac.ws.SetReadLimit(maxFrameSize)
	ac.ws.SetReadDeadline(time.Now().Add(h.cfg.Server.HeartbeatDeadline))

	for {
		_, data, err := ac.ws.ReadMessage()
		if err != nil {
			return
		}
		ac.ws.SetReadDeadline(time.Now().Add(h.cfg.Server.HeartbeatDeadline))

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			h.log.Warn("ws: agent decode error", "agent_id", ac.agentID, "err", err)
			continue
		}
		h.handleAgentFrame(ac, env)
	}
}

func (h *WSHandler) handleAgentFrame(ac *agentConn, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAgentChunk:
		body, err := protocol.DecodeBody[protocol.AgentChunk](env)
		if err != nil {
			return
		}
		h.tasks.HandleChunk(ac.agentID, body.TaskID, body.Content)

	case protocol.TypeAgentComplete:
		body, err := protocol.DecodeBody[protocol.AgentComplete](env)
		if err != nil {
			return
		}
		h.tasks.Complete(ac.agentID, body.TaskID, body.Content, body.Mentions)

	case protocol.TypeAgentError:
		body, err := protocol.DecodeBody[protocol.AgentError](env)
		if err != nil {
			return
		}
		h.tasks.Fail(ac.agentID, body.TaskID, body.Error)

	case protocol.TypeHeartbeat:
		ac.send(mustEncode(protocol.NewEnvelope(protocol.TypePong, &protocol.Pong{})))

	default:
		h.log.Warn("ws: unhandled agent frame", "type", env.Type, "agent_id", ac.agentID)
	}
}

func mustEncode(env *protocol.Envelope) []byte {
	data, err := env.Encode()
	if err != nil {
		return nil
	}
	return data
}
