package server

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arinova/hubd/domain"
)

func member(agentID, listenMode string, allowed ...string) *domain.ConversationMember {
	return &domain.ConversationMember{
		AgentID:        agentID,
		ListenMode:     listenMode,
		AllowedUserIDs: allowed,
	}
}

// owners maps each test agent to its owning user.
var owners = map[string]string{
	"a1": "owner",
	"a2": "owner",
	"a3": "owner",
}

func ownerOf(agentID string) string { return owners[agentID] }

func TestFilterAgentsForDispatch(t *testing.T) {
	a1 := member("a1", domain.ListenModeOwnerOnly)
	a2 := member("a2", domain.ListenModeAllMentions)
	a3 := member("a3", domain.ListenModeAllowedUsers, "u2")
	all := []*domain.ConversationMember{a1, a2, a3}

	tests := []struct {
		name        string
		kind        string
		mentionOnly bool
		sender      string
		mentions    []string
		agents      []*domain.ConversationMember
		want        []string
	}{
		{
			name:   "direct always dispatches",
			kind:   domain.ConversationKindDirect,
			sender: "anyone",
			agents: []*domain.ConversationMember{a1},
			want:   []string{"a1"},
		},
		{
			name:        "direct ignores mention_only",
			kind:        domain.ConversationKindDirect,
			mentionOnly: true,
			sender:      "anyone",
			agents:      []*domain.ConversationMember{a2},
			want:        []string{"a2"},
		},
		{
			name:   "group without mention_only dispatches all",
			kind:   domain.ConversationKindGroup,
			sender: "u2",
			agents: all,
			want:   []string{"a1", "a2", "a3"},
		},
		{
			name:        "unmentioned agents never dispatched",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "owner",
			mentions:    []string{"a2"},
			agents:      all,
			want:        []string{"a2"},
		},
		{
			name:        "all wildcard from owner reaches every agent",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "owner",
			mentions:    []string{"__all__"},
			agents:      all,
			want:        []string{"a1", "a2", "a3"},
		},
		{
			name:        "owner_only rejects non-owner even when mentioned",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "u2",
			mentions:    []string{"a1"},
			agents:      all,
			want:        nil,
		},
		{
			name:        "allowed_users accepts whitelisted sender",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "u2",
			mentions:    []string{"a3"},
			agents:      all,
			want:        []string{"a3"},
		},
		{
			name:        "allowed_users rejects stranger",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "u3",
			mentions:    []string{"a3"},
			agents:      all,
			want:        nil,
		},
		{
			name:        "allowed_users accepts the agent's owner implicitly",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "owner",
			mentions:    []string{"a3"},
			agents:      all,
			want:        []string{"a3"},
		},
		{
			name:        "all_mentions needs only the mention",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "u3",
			mentions:    []string{"__all__"},
			agents:      all,
			want:        []string{"a2"},
		},
		{
			name:        "no mentions means no dispatch",
			kind:        domain.ConversationKindGroup,
			mentionOnly: true,
			sender:      "owner",
			mentions:    nil,
			agents:      all,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterAgentsForDispatch(tt.kind, tt.mentionOnly, tt.sender, tt.mentions, tt.agents, ownerOf)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

// Shuffling the input collections must not change the selected set -
// the filter is a pure function of its inputs.
func TestFilterAgentsForDispatch_OrderInsensitive(t *testing.T) {
	agents := []*domain.ConversationMember{
		member("a1", domain.ListenModeOwnerOnly),
		member("a2", domain.ListenModeAllMentions),
		member("a3", domain.ListenModeAllowedUsers, "u2", "u4", "u5"),
	}
	mentions := []string{"a1", "a2", "a3"}

	baseline := FilterAgentsForDispatch(domain.ConversationKindGroup, true, "u2", mentions, agents, ownerOf)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffledAgents := make([]*domain.ConversationMember, len(agents))
		copy(shuffledAgents, agents)
		rng.Shuffle(len(shuffledAgents), func(i, j int) {
			shuffledAgents[i], shuffledAgents[j] = shuffledAgents[j], shuffledAgents[i]
		})
		shuffledMentions := make([]string, len(mentions))
		copy(shuffledMentions, mentions)
		rng.Shuffle(len(shuffledMentions), func(i, j int) {
			shuffledMentions[i], shuffledMentions[j] = shuffledMentions[j], shuffledMentions[i]
		})

		got := FilterAgentsForDispatch(domain.ConversationKindGroup, true, "u2", shuffledMentions, shuffledAgents, ownerOf)
		assert.ElementsMatch(t, baseline, got)
	}
}
