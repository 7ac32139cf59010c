// Package domain holds the entity shapes shared by the store, services, and
// server layers.
package domain

import "time"

type Conversation struct {
	ID             string     `json:"id"`
	OwnerUserID    string     `json:"owner_user_id"`
	Title          string     `json:"title"`
	Kind           string     `json:"kind"` // direct, group, marketplace
	Status         string     `json:"status"`
	// MentionOnly, for group conversations, restricts dispatch to
	// agents the user message actually mentions (see
	// FilterAgentsForDispatch); meaningless for direct conversations,
	// which always dispatch to their one agent member.
	MentionOnly  bool       `json:"mention_only"`
	TipMessageID *string    `json:"tip_message_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// ConversationMember is an agent's membership in a conversation: which
// agent, how it decides whether to respond, and who it's allowed to
// respond to when listen_mode is allowed_users.
type ConversationMember struct {
	ConversationID  string    `json:"conversation_id"`
	AgentID         string    `json:"agent_id"`
	ListenMode      string    `json:"listen_mode"` // owner_only, allowed_users, all_mentions
	AllowedUserIDs  []string  `json:"allowed_user_ids,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ConversationUserMember is a human's membership in a conversation.
type ConversationUserMember struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"` // owner, member
	JoinedAt       time.Time `json:"joined_at"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderUserID   *string    `json:"sender_user_id,omitempty"`
	SenderAgentID  *string    `json:"sender_agent_id,omitempty"`
	Seq            int64      `json:"seq"`
	Role           string     `json:"role"` // user, agent
	Content        string     `json:"content"`
	Status         string     `json:"status"` // pending, streaming, completed, error, cancelled
	Mentions       []string   `json:"mentions,omitempty"`
	TraceID        *string    `json:"trace_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"-"`
}

type ReadPosition struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LastSeenSeq    int64     `json:"last_seen_seq"`
	Muted          bool      `json:"muted"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Blocking struct {
	BlockerUserID string    `json:"blocker_user_id"`
	BlockedUserID string    `json:"blocked_user_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Agent is an external collaborator reachable over the agent WebSocket
// fabric. SystemPrompt, when set, is prepended to every task dispatched
// to it.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerUserID  string    `json:"owner_user_id"`
	SecretToken  string    `json:"-"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Attachment struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id"`
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	FileSize    int64  `json:"file_size"`
	StoragePath string `json:"storage_path"`
}

// AgentListing is a marketplace product: an agent offered for metered
// per-message billing.
type AgentListing struct {
	ID                 string    `json:"id"`
	CreatorUserID      string    `json:"creator_user_id"`
	AgentID            string    `json:"agent_id"`
	PricePerMessage    int64     `json:"price_per_message"`
	FreeTrialMessages  int       `json:"free_trial_messages"`
	TotalMessages      int64     `json:"total_messages"`
	TotalRevenue        int64     `json:"total_revenue"`
	CreatedAt           time.Time `json:"created_at"`
}

// MarketplaceConversation ties a conversation to the listing a buyer is
// paying for, and tracks how many messages that buyer has sent in it.
type MarketplaceConversation struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	ListingID      string `json:"listing_id"`
	MessageCount   int    `json:"message_count"`
}

type CoinBalance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CoinTransaction struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Kind             string    `json:"kind"` // purchase, earning, refund
	Amount           int64     `json:"amount"`
	RelatedListingID *string   `json:"related_listing_id,omitempty"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"created_at"`
}

const (
	ConversationKindDirect       = "direct"
	ConversationKindGroup        = "group"
	ConversationKindMarketplace  = "marketplace"
)

const (
	ConversationStatusActive   = "active"
	ConversationStatusArchived = "archived"
	ConversationStatusDeleted  = "deleted"
)

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

const (
	MessageStatusPending   = "pending"
	MessageStatusStreaming = "streaming"
	MessageStatusCompleted = "completed"
	MessageStatusError     = "error"
	MessageStatusCancelled = "cancelled"
)

const (
	ListenModeOwnerOnly     = "owner_only"
	ListenModeAllowedUsers  = "allowed_users"
	ListenModeAllMentions   = "all_mentions"
)

const (
	MemberRoleOwner  = "owner"
	MemberRoleMember = "member"
)

const (
	CoinTxnPurchase = "purchase"
	CoinTxnEarning  = "earning"
	CoinTxnRefund   = "refund"
)

// CreatorShare is the creator's cut of a metered message charge.
func CreatorShare(price int64) int64 {
	return price * 7 / 10
}
