package server

import "github.com/arinova/hubd/domain"

// FilterAgentsForDispatch decides which agent members of a conversation
// should receive a task for a newly posted user message.
//
// Rules, in order:
//  1. A direct (1:1 user<->agent) conversation always dispatches to
//     its one agent member, regardless of mention_only.
//  2. In a group conversation with mention_only=false, every agent
//     member is dispatched to.
//  3. In a group conversation with mention_only=true, each agent must
//     first be mentioned (either "__all__" or its own id appears in
//     mentions); an unmentioned agent is never dispatched to, no
//     matter its listen_mode. Past that gate, its listen_mode decides:
//       - all_mentions: the mention alone is enough.
//       - owner_only: only when the sender is the agent's own owner.
//       - allowed_users: only when the sender is the agent's owner or
//         in its allowed_user_ids.
// agentOwner resolves an agent_id to the user_id that owns it; needed
// for the owner_only listen mode. Satisfied by the Agent Directory.
type agentOwner func(agentID string) (ownerUserID string)

func FilterAgentsForDispatch(
	convKind string,
	mentionOnly bool,
	senderUserID string,
	mentions []string,
	agents []*domain.ConversationMember,
	ownerOf agentOwner,
) []string {
	if convKind != domain.ConversationKindGroup || !mentionOnly {
		ids := make([]string, 0, len(agents))
		for _, a := range agents {
			ids = append(ids, a.AgentID)
		}
		return ids
	}

	all := false
	mentioned := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		if m == "__all__" {
			all = true
		}
		mentioned[m] = true
	}

	var ids []string
	for _, a := range agents {
		if !all && !mentioned[a.AgentID] {
			continue
		}
		switch a.ListenMode {
		case domain.ListenModeAllMentions:
			ids = append(ids, a.AgentID)
		case domain.ListenModeOwnerOnly:
			if senderUserID != "" && senderUserID == ownerOf(a.AgentID) {
				ids = append(ids, a.AgentID)
			}
		case domain.ListenModeAllowedUsers:
			owner := ownerOf(a.AgentID)
			if senderUserID == owner || userInList(a.AllowedUserIDs, senderUserID) {
				ids = append(ids, a.AgentID)
			}
		}
	}
	return ids
}

func userInList(list []string, userID string) bool {
	for _, u := range list {
		if u == userID {
			return true
		}
	}
	return false
}
