package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arinova/hubd/domain"
	"github.com/arinova/hubd/metrics"
	"github.com/arinova/hubd/server/handlers"
	"github.com/arinova/hubd/services"
)

// marketplaceStreamTimeout bounds how long the synchronous REST path
// waits for an agent's reply before giving up; generous enough for a
// slow model, short enough that a caller's own HTTP client timeout
// isn't the only thing standing between it and a hung request.
const marketplaceStreamTimeout = 120 * time.Second

// MarketplaceHandler is the REST entry point for metered marketplace
// chat: it runs a check -> persist -> stream -> deduct pipeline and
// blocks on the result, for callers that can't hold a socket open. The
// WS send path shares the persist and stream steps but has no billing
// check or deduction.
type MarketplaceHandler struct {
	conversations *services.ConversationService
	messages      *services.MessageService
	orchestrator  *StreamOrchestrator
	billing       *BillingEngine
	log           *slog.Logger
}

func NewMarketplaceHandler(
	conversations *services.ConversationService,
	messages *services.MessageService,
	orchestrator *StreamOrchestrator,
	billing *BillingEngine,
	log *slog.Logger,
) *MarketplaceHandler {
	return &MarketplaceHandler{
		conversations: conversations,
		messages:      messages,
		orchestrator:  orchestrator,
		billing:       billing,
		log:           log,
	}
}

type marketplaceMessageRequest struct {
	Content   string `json:"content"`
	ListingID string `json:"listingId"`
	ReplyToID string `json:"replyToId,omitempty"`
}

type marketplaceMessageResponse struct {
	MessageID   string `json:"messageId"`
	Status      string `json:"status"`
	Content     string `json:"content,omitempty"`
	Error       string `json:"error,omitempty"`
	Charged     bool   `json:"charged"`
	IsFreeTrial bool   `json:"isFreeTrial,omitempty"`
}

// Create handles POST /api/v1/marketplace/conversations/{id}/messages.
func (h *MarketplaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := handlers.UserIDFromContext(ctx)
	conversationID := chi.URLParam(r, "id")

	var req marketplaceMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" || req.ListingID == "" {
		handlers.RespondError(w, "content and listingId are required", http.StatusBadRequest)
		return
	}

	isMember, err := h.conversations.IsMember(ctx, conversationID, userID)
	if err != nil || !isMember {
		handlers.RespondError(w, "conversation not found", http.StatusNotFound)
		return
	}
	conv, err := h.conversations.Get(ctx, conversationID)
	if err != nil {
		handlers.RespondError(w, "conversation not found", http.StatusNotFound)
		return
	}

	decision, err := h.billing.CheckBilling(ctx, conversationID, userID, req.ListingID)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			metrics.BillingDeductions.WithLabelValues("insufficient_balance").Inc()
			handlers.RespondJSON(w, marketplaceMessageResponse{Error: "insufficient balance"}, http.StatusPaymentRequired)
			return
		}
		h.log.Error("marketplace: check billing failed", "err", err)
		handlers.RespondError(w, "billing check failed", http.StatusInternalServerError)
		return
	}

	listing, err := h.billing.store.GetListing(ctx, req.ListingID)
	if err != nil {
		handlers.RespondError(w, "listing not found", http.StatusNotFound)
		return
	}

	userMsg, err := h.messages.CreateUserMessage(ctx, conversationID, userID, req.Content, nil)
	if err != nil {
		h.log.Error("marketplace: persist user message failed", "err", err)
		handlers.RespondError(w, "failed to persist message", http.StatusInternalServerError)
		return
	}

	result, err := h.orchestrator.TriggerAndAwait(ctx, TriggerParams{
		UserID:         userID,
		AgentID:        listing.AgentID,
		ConversationID: conversationID,
		ConvKind:       conv.Kind,
		Content:        req.Content,
		ReplyToID:      req.ReplyToID,
	}, marketplaceStreamTimeout)
	if err != nil {
		status := http.StatusGatewayTimeout
		if errors.Is(err, domain.ErrStreamActive) {
			status = http.StatusConflict
		}
		h.log.Warn("marketplace: stream wait failed", "err", err)
		handlers.RespondJSON(w, marketplaceMessageResponse{
			MessageID: userMsg.ID,
			Status:    domain.MessageStatusError,
			Error:     err.Error(),
		}, status)
		return
	}

	resp := marketplaceMessageResponse{
		MessageID:   userMsg.ID,
		Status:      result.Status,
		Content:     result.Content,
		IsFreeTrial: decision.Free && decision.FreeReason == "free_trial",
	}

	if result.Status == domain.MessageStatusCompleted && result.Content != "" {
		if !decision.Free {
			if err := h.billing.DeductCoins(ctx, userID, listing.CreatorUserID, req.ListingID, decision.Price); err != nil {
				h.log.Error("marketplace: deduct coins failed", "err", err)
				metrics.BillingDeductions.WithLabelValues("insufficient_balance").Inc()
				handlers.RespondJSON(w, marketplaceMessageResponse{Error: "insufficient balance"}, http.StatusPaymentRequired)
				return
			}
			resp.Charged = true
			metrics.BillingDeductions.WithLabelValues("charged").Inc()
		} else {
			metrics.BillingDeductions.WithLabelValues("free").Inc()
		}
		if err := h.billing.RecordMessage(ctx, req.ListingID, conversationID, decision.Price); err != nil {
			h.log.Warn("marketplace: record message failed", "err", err)
		}
	}

	handlers.RespondJSON(w, resp, http.StatusOK)
}
