package conversation

import "github.com/connectsocial/internal/model"

// Phase of the feed subscription.
type Phase int

const (
	PhaseUnsubscribed Phase = iota
	PhaseSubscribing
	PhaseSubscribed
)

func (p Phase) String() string {
	switch p {
	case PhaseSubscribing:
		return "subscribing"
	case PhaseSubscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// Snapshot is a read-only copy of the conversation state. Messages and Groups are replaced, never
// patched, on every mutation, so sharing the slices is safe.
type Snapshot struct {
	Record               model.RecordContext `json:"record"`
	Counterparty         model.Counterparty  `json:"counterparty"`
	Channel              model.Channel       `json:"channel"`
	Phase                Phase               `json:"-"`
	Messages             []model.Message     `json:"-"`
	Groups               []model.DateGroup   `json:"groups"`
	ReengagementRequired bool                `json:"reengagement_required"`
}

func (s Snapshot) Open() bool { return s.Counterparty.Phone != "" }
