package protocol

// MessageType identifies the payload carried in an Envelope's Body.
// Ranges are grouped by fabric: 1-29 are user-fabric frames, 30-39 are
// sync/connection-lifecycle frames shared by both fabrics, 40-59 are
// agent-fabric frames.
type MessageType uint16

const (
	TypeError MessageType = 1

	// User fabric (/ws)
	TypeSubscribe      MessageType = 2
	TypeUnsubscribe    MessageType = 3
	TypeSubscribeAck   MessageType = 4
	TypeUnsubscribeAck MessageType = 5
	TypeUserMessage    MessageType = 6
	TypeMessageNew     MessageType = 7
	TypeMarkRead       MessageType = 8
	TypeMarkReadAck    MessageType = 9
	TypeCancelStream   MessageType = 10
	TypeVisibility     MessageType = 11
	TypeHeartbeat      MessageType = 12
	TypePong           MessageType = 13

	// Stream lifecycle, sent on the user fabric for any agent streaming
	// a reply into a subscribed conversation.
	TypeStreamStart     MessageType = 20
	TypeStreamChunk     MessageType = 21
	TypeStreamComplete  MessageType = 22
	TypeStreamError     MessageType = 23
	TypeStreamCancelled MessageType = 24
	TypeStreamQueued    MessageType = 25

	// Sync/recovery, shared
	TypeSyncRequest  MessageType = 30
	TypeSyncResponse MessageType = 31

	// Agent fabric (/ws/agent)
	TypeAgentAuth     MessageType = 40
	TypeAgentAuthAck  MessageType = 41
	TypeTaskAssign    MessageType = 42
	TypeAgentChunk    MessageType = 43
	TypeAgentComplete MessageType = 44
	TypeAgentError    MessageType = 45
	TypeAgentCancel   MessageType = 46
)

// Error is the generic failure frame sent to either fabric.
type Error struct {
	Code           string `msgpack:"code" json:"code"`
	Message        string `msgpack:"message" json:"message"`
	MessageID      string `msgpack:"messageId,omitempty" json:"messageId,omitempty"`
	ConversationID string `msgpack:"conversationId,omitempty" json:"conversationId,omitempty"`
}

// Subscribe registers the connection as a listener for a conversation.
type Subscribe struct {
	ConversationID string `msgpack:"conversationId,omitempty" json:"conversationId,omitempty"`
}

type Unsubscribe struct {
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
}

type SubscribeAck struct {
	ConversationID string `msgpack:"conversationId,omitempty" json:"conversationId,omitempty"`
	Success        bool   `msgpack:"success" json:"success"`
	Error          string `msgpack:"error,omitempty" json:"error,omitempty"`
}

type UnsubscribeAck struct {
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Success        bool   `msgpack:"success" json:"success"`
}

// UserMessage is a human-authored message sent into a conversation. In a
// group conversation, MentionOnly (or the conversation's own mention_only
// flag) restricts dispatch to the agents named in Mentions; with no
// mentions, no agent is dispatched (see FilterAgentsForDispatch).
type UserMessage struct {
	ConversationID string   `msgpack:"conversationId" json:"conversationId"`
	Content        string   `msgpack:"content" json:"content"`
	Mentions       []string `msgpack:"mentions,omitempty" json:"mentions,omitempty"`
	MentionOnly    bool     `msgpack:"mentionOnly,omitempty" json:"mentionOnly,omitempty"`
}

// MessageNew is the persisted-message broadcast fan-out to every
// subscriber of a conversation, for both user and agent authored
// messages.
type MessageNew struct {
	ID             string `msgpack:"id" json:"id"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	SenderUserID   string `msgpack:"senderUserId,omitempty" json:"senderUserId,omitempty"`
	SenderAgentID  string `msgpack:"senderAgentId,omitempty" json:"senderAgentId,omitempty"`
	Seq            int64  `msgpack:"seq" json:"seq"`
	Role           string `msgpack:"role" json:"role"`
	Content        string `msgpack:"content" json:"content"`
	Status         string `msgpack:"status" json:"status"`
	CreatedAt      int64  `msgpack:"createdAt" json:"createdAt"`
}

type MarkRead struct {
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Seq            int64  `msgpack:"seq" json:"seq"`
}

type MarkReadAck struct {
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Seq            int64  `msgpack:"seq" json:"seq"`
}

type CancelStream struct {
	MessageID string `msgpack:"messageId" json:"messageId"`
}

type Visibility struct {
	Visible bool `msgpack:"visible" json:"visible"`
}

type Heartbeat struct{}
type Pong struct{}

type StreamStart struct {
	MessageID      string `msgpack:"messageId" json:"messageId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Seq            int64  `msgpack:"seq" json:"seq"`
	AgentID        string `msgpack:"agentId" json:"agentId"`
	AgentName      string `msgpack:"agentName,omitempty" json:"agentName,omitempty"`
}

type StreamChunk struct {
	MessageID      string `msgpack:"messageId" json:"messageId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Seq            int64  `msgpack:"seq" json:"seq"`
	Delta          string `msgpack:"delta" json:"delta"`
}

type StreamComplete struct {
	MessageID      string `msgpack:"messageId" json:"messageId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Seq            int64  `msgpack:"seq" json:"seq"`
	Content        string `msgpack:"content" json:"content"`
}

type StreamError struct {
	MessageID      string `msgpack:"messageId" json:"messageId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Seq            int64  `msgpack:"seq" json:"seq"`
	Error          string `msgpack:"error" json:"error"`
}

type StreamCancelled struct {
	MessageID      string `msgpack:"messageId" json:"messageId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Seq            int64  `msgpack:"seq" json:"seq"`
}

// StreamQueued is sent only to the requesting user, never broadcast,
// when an agent is already mid-stream for this (conversation, agent)
// pair and the new task has been appended to the FIFO follow-up queue.
// There is no message id yet; the queued task's row is allocated only
// when its turn comes.
type StreamQueued struct {
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	AgentID        string `msgpack:"agentId" json:"agentId"`
	AgentName      string `msgpack:"agentName,omitempty" json:"agentName,omitempty"`
}

type SyncRequest struct {
	// LastSeenSeq, keyed by conversation ID, lets the client report
	// what it already has so the server only needs to fill the gap.
	LastSeenSeq map[string]int64 `msgpack:"lastSeenSeq,omitempty" json:"lastSeenSeq,omitempty"`
}

type ConversationSummary struct {
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	LastMessageSeq int64  `msgpack:"lastMessageSeq" json:"lastMessageSeq"`
	UnreadCount    int64  `msgpack:"unreadCount" json:"unreadCount"`
}

type SyncResponse struct {
	Conversations  []ConversationSummary `msgpack:"conversations" json:"conversations"`
	MissedMessages []MessageNew          `msgpack:"missedMessages,omitempty" json:"missedMessages,omitempty"`
}

// AgentAuth is the first frame an agent connection must send, within
// the auth-timeout window, to bind the socket to an agent_id.
type AgentAuth struct {
	AgentID     string `msgpack:"agentId" json:"agentId"`
	SecretToken string `msgpack:"secretToken" json:"secretToken"`
}

type AgentAuthAck struct {
	Success bool   `msgpack:"success" json:"success"`
	Error   string `msgpack:"error,omitempty" json:"error,omitempty"`
}

// TaskAssign is the task envelope pushed to an agent connection to
// request a reply.
type TaskAssign struct {
	TaskID         string          `msgpack:"taskId" json:"taskId"`
	MessageID      string          `msgpack:"messageId" json:"messageId"`
	ConversationID string          `msgpack:"conversationId" json:"conversationId"`
	Content        string          `msgpack:"content" json:"content"`
	History        []MessageNew    `msgpack:"history,omitempty" json:"history,omitempty"`
	Attachments    []AttachmentRef `msgpack:"attachments,omitempty" json:"attachments,omitempty"`
	ReplyTo        *ReplyContext   `msgpack:"replyTo,omitempty" json:"replyTo,omitempty"`
}

// ReplyContext quotes the message a user's task content was a reply
// to, truncated to a preview.
type ReplyContext struct {
	Role            string `msgpack:"role" json:"role"`
	Content         string `msgpack:"content" json:"content"`
	SenderAgentName string `msgpack:"senderAgentName,omitempty" json:"senderAgentName,omitempty"`
}

type AttachmentRef struct {
	ID       string `msgpack:"id" json:"id"`
	FileName string `msgpack:"fileName" json:"fileName"`
	FileType string `msgpack:"fileType" json:"fileType"`
	URL      string `msgpack:"url" json:"url"`
}

// AgentChunk carries one chunk of a streaming reply. Content may be a
// delta to append or the full accumulated text so far; there is no mode
// field, the Agent-Task Router tells the two apart by whether Content
// extends the text already received (see server.normalizeChunk).
type AgentChunk struct {
	TaskID  string `msgpack:"taskId" json:"taskId"`
	Content string `msgpack:"content" json:"content"`
}

type AgentComplete struct {
	TaskID  string `msgpack:"taskId" json:"taskId"`
	Content string `msgpack:"content,omitempty" json:"content,omitempty"`
	// Mentions lets an agent explicitly name other agents its reply
	// addresses; when absent the hub falls back to scanning the reply
	// text for @-tokens.
	Mentions []string `msgpack:"mentions,omitempty" json:"mentions,omitempty"`
}

type AgentError struct {
	TaskID string `msgpack:"taskId" json:"taskId"`
	Error  string `msgpack:"error" json:"error"`
}

type AgentCancel struct {
	TaskID string `msgpack:"taskId" json:"taskId"`
}
