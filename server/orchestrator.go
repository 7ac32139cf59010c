package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arinova/hubd/domain"
	"github.com/arinova/hubd/internal/otelinit"
	"github.com/arinova/hubd/metrics"
	"github.com/arinova/hubd/protocol"
	"github.com/arinova/hubd/services"
	"github.com/arinova/hubd/store"
)

var tracer = otelinit.Tracer("hubd/server")

// historyWindow is how many prior non-streaming messages are handed to
// an agent as conversational context.
const historyWindow = 5

// replyPreviewLimit truncates a quoted reply's content in task context.
const replyPreviewLimit = 500

// TriggerParams describes one agent's turn to respond.
type TriggerParams struct {
	UserID         string
	AgentID        string
	ConversationID string
	ConvKind       string
	Content        string
	ReplyToID      string
	Mentions       []string
}

// StreamOrchestrator is the Stream Orchestrator component: for each
// agent dispatched to by the Dispatch Filter, it admits (or queues) a
// stream slot, allocates the placeholder message, hands the agent its
// task, and drives that task's chunk/complete/error events through to
// persistence and broadcast until it finalizes, then immediately
// admits whatever was next in that stream key's queue.
type StreamOrchestrator struct {
	store         *store.Store
	messages      *services.MessageService
	conversations *services.ConversationService
	conns         *ConnRegistry
	tasks         *AgentTaskRouter
	streams       *StreamRegistry
	cache         *StreamCache
	pending       *PendingEventQueue
	broadcaster   *Broadcaster
	log           *slog.Logger

	syncMu      sync.Mutex
	syncWaiters map[string]chan SyncResult
}

// SyncResult is what a message's stream finalized to, delivered to
// whatever goroutine is awaiting it via TriggerAndAwait. The
// marketplace REST path uses it to turn an async stream into one
// blocking call.
type SyncResult struct {
	Content string
	Status  string
	Error   string
}

func NewStreamOrchestrator(
	st *store.Store,
	messages *services.MessageService,
	conversations *services.ConversationService,
	conns *ConnRegistry,
	tasks *AgentTaskRouter,
	streams *StreamRegistry,
	cache *StreamCache,
	pending *PendingEventQueue,
	broadcaster *Broadcaster,
	log *slog.Logger,
) *StreamOrchestrator {
	return &StreamOrchestrator{
		store:         st,
		messages:      messages,
		conversations: conversations,
		broadcaster:   broadcaster,
		conns:         conns,
		tasks:         tasks,
		streams:       streams,
		cache:         cache,
		pending:       pending,
		log:           log,
		syncWaiters:   make(map[string]chan SyncResult),
	}
}

// registerSyncWaiter opens a one-slot result channel for messageID. The
// channel is buffered so notifySyncWaiter never blocks on a caller that
// gave up (timed out or had its context cancelled) before the stream
// finalized.
func (o *StreamOrchestrator) registerSyncWaiter(messageID string) <-chan SyncResult {
	ch := make(chan SyncResult, 1)
	o.syncMu.Lock()
	o.syncWaiters[messageID] = ch
	o.syncMu.Unlock()
	return ch
}

func (o *StreamOrchestrator) unregisterSyncWaiter(messageID string) {
	o.syncMu.Lock()
	delete(o.syncWaiters, messageID)
	o.syncMu.Unlock()
}

func (o *StreamOrchestrator) notifySyncWaiter(messageID string, result SyncResult) {
	o.syncMu.Lock()
	ch, ok := o.syncWaiters[messageID]
	o.syncMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

// TriggerAndAwait is the synchronous counterpart to Trigger, for the
// marketplace REST path: it admits the stream exactly as Trigger does,
// then blocks until that message's stream finalizes or timeout/ctx
// cancellation wins first. A key that's already streaming returns
// ErrStreamActive instead of queueing, since the caller is a blocked
// HTTP request with nothing to do while a follow-up waits its turn.
func (o *StreamOrchestrator) TriggerAndAwait(ctx context.Context, p TriggerParams, timeout time.Duration) (*SyncResult, error) {
	key := streamKey(p.ConversationID, p.AgentID)

	agent, err := o.store.GetAgent(ctx, p.AgentID)
	if err != nil {
		return nil, fmt.Errorf("trigger and await: agent lookup: %w", err)
	}
	if !o.conns.IsAgentConnected(p.AgentID) {
		metrics.MessagesDispatched.WithLabelValues("agent_offline").Inc()
		o.deliverConnectFailure(ctx, p, agent)
		return nil, domain.ErrAgentNotConnected
	}

	if !o.streams.TryReserve(key) {
		return nil, domain.ErrStreamActive
	}

	msg, err := o.messages.AllocateAgentMessage(ctx, p.ConversationID, p.AgentID)
	if err != nil {
		o.releaseAndStartNext(ctx, key, p.ConvKind)
		return nil, fmt.Errorf("trigger and await: allocate message: %w", err)
	}

	waitCh := o.registerSyncWaiter(msg.ID)
	defer o.unregisterSyncWaiter(msg.ID)

	cancelCh := o.streams.Bind(key, msg.ID)
	metrics.MessagesDispatched.WithLabelValues("admitted").Inc()
	metrics.StreamStarted()
	o.dispatchAdmitted(ctx, p, agent, msg, cancelCh)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-waitCh:
		return &result, nil
	case <-timer.C:
		return nil, domain.ErrStreamTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Trigger starts (or queues) one agent's response to a message. It
// returns once the task has either been admitted and dispatched, or
// queued behind another in-flight stream for the same (conversation,
// agent) pair; the actual streaming happens in a background goroutine.
// A queued task holds no message row; one is allocated when its turn
// comes.
func (o *StreamOrchestrator) Trigger(ctx context.Context, p TriggerParams) {
	ctx, span := tracer.Start(ctx, "orchestrator.trigger", trace.WithAttributes(
		attribute.String("conversation.id", p.ConversationID),
		attribute.String("agent.id", p.AgentID),
	))
	defer span.End()

	key := streamKey(p.ConversationID, p.AgentID)

	agent, err := o.store.GetAgent(ctx, p.AgentID)
	if err != nil {
		o.log.Warn("trigger: agent lookup failed", "agent_id", p.AgentID, "err", err)
		return
	}

	if !o.conns.IsAgentConnected(p.AgentID) {
		metrics.MessagesDispatched.WithLabelValues("agent_offline").Inc()
		o.deliverConnectFailure(ctx, p, agent)
		return
	}

	task := queuedTask{
		conversationID: p.ConversationID,
		agentID:        p.AgentID,
		content:        p.Content,
		mentions:       p.Mentions,
		senderUserID:   p.UserID,
		replyToID:      p.ReplyToID,
	}

	if !o.streams.TryAdmit(key, task) {
		metrics.MessagesDispatched.WithLabelValues("queued").Inc()
		o.conns.SendToUser(p.UserID, protocol.NewEnvelope(protocol.TypeStreamQueued, &protocol.StreamQueued{
			ConversationID: p.ConversationID,
			AgentID:        p.AgentID,
			AgentName:      agent.Name,
		}))
		return
	}

	msg, err := o.messages.AllocateAgentMessage(ctx, p.ConversationID, p.AgentID)
	if err != nil {
		o.log.Error("trigger: allocate message failed", "err", err)
		o.releaseAndStartNext(ctx, key, p.ConvKind)
		return
	}

	cancelCh := o.streams.Bind(key, msg.ID)
	metrics.MessagesDispatched.WithLabelValues("admitted").Inc()
	metrics.StreamStarted()
	o.dispatchAdmitted(ctx, p, agent, msg, cancelCh)
}

// releaseAndStartNext abandons a reserved slot whose message allocation
// failed, and keeps the queue moving for that key.
func (o *StreamOrchestrator) releaseAndStartNext(ctx context.Context, key, convKind string) {
	next, ok := o.streams.Finalize(key, "")
	if !ok {
		return
	}
	o.Trigger(ctx, TriggerParams{
		UserID:         next.senderUserID,
		AgentID:        next.agentID,
		ConversationID: next.conversationID,
		ConvKind:       convKind,
		Content:        next.content,
		ReplyToID:      next.replyToID,
		Mentions:       next.mentions,
	})
}

func (o *StreamOrchestrator) deliverConnectFailure(ctx context.Context, p TriggerParams, agent *domain.Agent) {
	msg, err := o.messages.AllocateAgentMessage(ctx, p.ConversationID, p.AgentID)
	if err != nil {
		return
	}
	errContent := fmt.Sprintf("**%s** is not connected yet. An AI agent needs to connect before it can respond.", agent.Name)
	_ = o.messages.UpdateContent(ctx, msg.ID, errContent, domain.MessageStatusError)

	o.broadcaster.Send(ctx, p.ConversationID, p.UserID, protocol.NewEnvelope(protocol.TypeStreamStart, &protocol.StreamStart{
		MessageID: msg.ID, ConversationID: p.ConversationID, Seq: msg.Seq, AgentID: p.AgentID, AgentName: agent.Name,
	}))
	o.broadcaster.Send(ctx, p.ConversationID, p.UserID, protocol.NewEnvelope(protocol.TypeStreamError, &protocol.StreamError{
		MessageID: msg.ID, ConversationID: p.ConversationID, Seq: msg.Seq, Error: fmt.Sprintf("%s is not connected.", agent.Name),
	}))
}

func (o *StreamOrchestrator) dispatchAdmitted(ctx context.Context, p TriggerParams, agent *domain.Agent, msg *domain.Message, cancelCh chan struct{}) {
	o.broadcaster.Send(ctx, p.ConversationID, p.UserID, protocol.NewEnvelope(protocol.TypeStreamStart, &protocol.StreamStart{
		MessageID: msg.ID, ConversationID: p.ConversationID, Seq: msg.Seq, AgentID: p.AgentID, AgentName: agent.Name,
	}))

	taskContent := p.Content
	if agent.SystemPrompt != "" {
		taskContent = fmt.Sprintf("[System Prompt]\n%s\n\n[User Message]\n%s", agent.SystemPrompt, p.Content)
	}

	history, _ := o.messages.RecentHistory(ctx, p.ConversationID, historyWindow)
	attachments := o.latestUserAttachments(ctx, p.ConversationID)

	assign := &protocol.TaskAssign{
		TaskID:         msg.ID,
		MessageID:      msg.ID,
		ConversationID: p.ConversationID,
		Content:        taskContent,
		Attachments:    attachments,
	}
	for _, h := range history {
		assign.History = append(assign.History, toMessageNew(h))
	}
	assign.ReplyTo = o.replyContext(ctx, p.ReplyToID)

	events := o.tasks.Register(msg.ID, p.AgentID)
	if !o.conns.SendToAgent(p.AgentID, protocol.NewEnvelope(protocol.TypeTaskAssign, assign)) {
		o.tasks.Fail(p.AgentID, msg.ID, "agent is not connected")
	}

	// The stream outlives the frame or request that triggered it, so it
	// must not inherit that caller's cancellation or deadline.
	go o.run(context.WithoutCancel(ctx), p, msg, events, cancelCh, time.Now())
}

// run drives one admitted stream's lifecycle to completion, then
// admits whatever was queued next for its stream_key.
func (o *StreamOrchestrator) run(ctx context.Context, p TriggerParams, msg *domain.Message, events <-chan AgentEvent, cancelCh chan struct{}, startedAt time.Time) {
	ctx, span := tracer.Start(ctx, "orchestrator.stream", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("agent.id", p.AgentID),
	))
	defer span.End()

	key := streamKey(p.ConversationID, p.AgentID)
	var accumulated strings.Builder
	var completionContent string
	var mentionsOnComplete []string
	finalStatus := domain.MessageStatusCancelled

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Cancelled from the user side via the task router.
				o.finalizeCancelled(ctx, p, msg, accumulated.String())
				break loop
			}
			switch ev.Kind {
			case AgentEventChunk:
				accumulated.WriteString(ev.Delta)
				o.broadcaster.Send(ctx, p.ConversationID, p.UserID, protocol.NewEnvelope(protocol.TypeStreamChunk, &protocol.StreamChunk{
					MessageID: msg.ID, ConversationID: p.ConversationID, Seq: msg.Seq, Delta: ev.Delta,
				}))
				_ = o.cache.Set(ctx, msg.ID, accumulated.String())
			case AgentEventComplete:
				completionContent = ev.Content
				if completionContent == "" {
					completionContent = accumulated.String()
				}
				o.finalizeCompleted(ctx, p, msg, completionContent)
				finalStatus = domain.MessageStatusCompleted
				if p.ConvKind == domain.ConversationKindGroup {
					mentionsOnComplete = ev.Mentions
					if len(mentionsOnComplete) == 0 {
						mentionsOnComplete = extractMentions(completionContent)
					}
				}
				break loop
			case AgentEventError:
				o.finalizeErrored(ctx, p, msg, ev.Error)
				finalStatus = domain.MessageStatusError
				break loop
			case AgentEventAborted:
				// The agent went away mid-stream. Text already streamed is
				// a usable (if truncated) reply; an empty stream is not.
				if accumulated.Len() > 0 {
					completionContent = accumulated.String()
					o.finalizeCompleted(ctx, p, msg, completionContent)
					finalStatus = domain.MessageStatusCompleted
				} else {
					o.finalizeErrored(ctx, p, msg, ev.Error)
					finalStatus = domain.MessageStatusError
				}
				break loop
			}
		case <-cancelCh:
			o.finalizeCancelled(ctx, p, msg, accumulated.String())
			break loop
		}
	}
	metrics.StreamFinished(finalStatus, time.Since(startedAt).Seconds())

	next, ok := o.streams.Finalize(key, msg.ID)
	if ok {
		o.Trigger(ctx, TriggerParams{
			UserID:         next.senderUserID,
			AgentID:        next.agentID,
			ConversationID: next.conversationID,
			ConvKind:       p.ConvKind,
			Content:        next.content,
			ReplyToID:      next.replyToID,
			Mentions:       next.mentions,
		})
	}

	for _, mentioned := range mentionsOnComplete {
		if mentioned == p.AgentID {
			continue
		}
		o.Trigger(ctx, TriggerParams{
			UserID:         p.UserID,
			AgentID:        mentioned,
			ConversationID: p.ConversationID,
			ConvKind:       p.ConvKind,
			Content:        completionContent,
			ReplyToID:      msg.ID,
			Mentions:       nil,
		})
	}
}

func (o *StreamOrchestrator) finalizeCompleted(ctx context.Context, p TriggerParams, msg *domain.Message, content string) {
	_ = o.messages.UpdateContent(ctx, msg.ID, content, domain.MessageStatusCompleted)
	_ = o.messages.FinalizeTip(ctx, p.ConversationID, msg.ID)
	_ = o.cache.Clear(ctx, msg.ID)
	o.broadcaster.Send(ctx, p.ConversationID, p.UserID, protocol.NewEnvelope(protocol.TypeStreamComplete, &protocol.StreamComplete{
		MessageID: msg.ID, ConversationID: p.ConversationID, Seq: msg.Seq, Content: content,
	}))
	o.notifySyncWaiter(msg.ID, SyncResult{Content: content, Status: domain.MessageStatusCompleted})
}

func (o *StreamOrchestrator) finalizeErrored(ctx context.Context, p TriggerParams, msg *domain.Message, errMsg string) {
	_ = o.messages.UpdateContent(ctx, msg.ID, errMsg, domain.MessageStatusError)
	_ = o.cache.Clear(ctx, msg.ID)
	o.broadcaster.Send(ctx, p.ConversationID, p.UserID, protocol.NewEnvelope(protocol.TypeStreamError, &protocol.StreamError{
		MessageID: msg.ID, ConversationID: p.ConversationID, Seq: msg.Seq, Error: errMsg,
	}))
	o.notifySyncWaiter(msg.ID, SyncResult{Status: domain.MessageStatusError, Error: errMsg})
}

func (o *StreamOrchestrator) finalizeCancelled(ctx context.Context, p TriggerParams, msg *domain.Message, accumulated string) {
	_ = o.messages.UpdateContent(ctx, msg.ID, accumulated, domain.MessageStatusCancelled)
	_ = o.cache.Clear(ctx, msg.ID)
	o.conns.SendToAgent(p.AgentID, protocol.NewEnvelope(protocol.TypeAgentCancel, &protocol.AgentCancel{TaskID: msg.ID}))
	o.broadcaster.Send(ctx, p.ConversationID, p.UserID, protocol.NewEnvelope(protocol.TypeStreamCancelled, &protocol.StreamCancelled{
		MessageID: msg.ID, ConversationID: p.ConversationID, Seq: msg.Seq,
	}))
	o.notifySyncWaiter(msg.ID, SyncResult{Content: accumulated, Status: domain.MessageStatusCancelled})
}

// CancelStream is invoked for a user-initiated cancel_stream frame. It
// signals the running stream's select loop (if any) to stop; the loop
// itself performs persistence, broadcast, and queue advancement.
func (o *StreamOrchestrator) CancelStream(messageID string) {
	o.streams.Cancel(messageID)
	o.tasks.Cancel(messageID)
}

// replyContext quotes the message a task is replying to, if any, for
// the agent's benefit; truncated so one long prior message can't blow
// up the task payload.
func (o *StreamOrchestrator) replyContext(ctx context.Context, replyToID string) *protocol.ReplyContext {
	if replyToID == "" {
		return nil
	}
	m, err := o.messages.Get(ctx, replyToID)
	if err != nil {
		return nil
	}
	content := m.Content
	if len(content) > replyPreviewLimit {
		content = content[:replyPreviewLimit]
	}
	rc := &protocol.ReplyContext{Role: m.Role, Content: content}
	if m.SenderAgentID != nil {
		if agent, err := o.store.GetAgent(ctx, *m.SenderAgentID); err == nil {
			rc.SenderAgentName = agent.Name
		}
	}
	return rc
}

func (o *StreamOrchestrator) latestUserAttachments(ctx context.Context, conversationID string) []protocol.AttachmentRef {
	recent, err := o.messages.RecentHistory(ctx, conversationID, 1)
	if err != nil || len(recent) == 0 {
		return nil
	}
	var latestUserMsg *domain.Message
	for _, m := range recent {
		if m.Role == domain.RoleUser {
			latestUserMsg = m
		}
	}
	if latestUserMsg == nil {
		return nil
	}
	atts, err := o.messages.AttachmentsFor(ctx, latestUserMsg.ID)
	if err != nil {
		return nil
	}
	refs := make([]protocol.AttachmentRef, 0, len(atts))
	for _, a := range atts {
		refs = append(refs, protocol.AttachmentRef{
			ID: a.ID, FileName: a.FileName, FileType: a.FileType, URL: a.StoragePath,
		})
	}
	return refs
}

func toMessageNew(m *domain.Message) protocol.MessageNew {
	n := protocol.MessageNew{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		Role:           m.Role,
		Content:        m.Content,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt.UnixMilli(),
	}
	if m.SenderUserID != nil {
		n.SenderUserID = *m.SenderUserID
	}
	if m.SenderAgentID != nil {
		n.SenderAgentID = *m.SenderAgentID
	}
	return n
}

// extractMentions finds @agent_id tokens in a completed agent reply, so
// one agent's answer can trigger another agent in the same group.
func extractMentions(content string) []string {
	var out []string
	for _, word := range strings.Fields(content) {
		if strings.HasPrefix(word, "@") && len(word) > 1 {
			out = append(out, strings.TrimFunc(word[1:], func(r rune) bool {
				return r == '.' || r == ',' || r == '!' || r == '?' || r == ':'
			}))
		}
	}
	return out
}
