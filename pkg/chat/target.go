package chat

import (
	"net/url"

	"github.com/abelhavalos/contacts/pkg/model"
)

// Navigation parameter names. A community id takes precedence; otherwise the
// first present of the other-party keys selects a private chat.
const ParamCommunity = "community"

var otherPartyParams = []string{"otherId", "user"}

// Target is the conversation a chat view was opened for.
type Target struct {
	Mode        model.Mode
	CommunityID string
	OtherID     string
}

func TargetFromQuery(q url.Values) Target {
	if id := q.Get(ParamCommunity); id != "" {
		return Target{Mode: model.ModeCommunity, CommunityID: id}
	}
	t := Target{Mode: model.ModePrivate}
	for _, key := range otherPartyParams {
		if id := q.Get(key); id != "" {
			t.OtherID = id
			break
		}
	}
	return t
}

func CommunityTarget(communityID string) Target {
	return Target{Mode: model.ModeCommunity, CommunityID: communityID}
}

func PrivateTarget(otherID string) Target {
	return Target{Mode: model.ModePrivate, OtherID: otherID}
}

// complete reports whether t names someone to talk to.
func (t Target) complete() bool {
	if t.Mode == model.ModeCommunity {
		return t.CommunityID != ""
	}
	return t.OtherID != ""
}
