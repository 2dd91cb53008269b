package types

type FeedbackStatus int32

const (
	FeedbackInProgress FeedbackStatus = 1
	FeedbackCompleted  FeedbackStatus = 2
	FeedbackFailed     FeedbackStatus = 3
	FeedbackIgnored    FeedbackStatus = 4
)

func (s FeedbackStatus) String() string {
	switch s {
	case FeedbackInProgress:
		return "IN_PROGRESS"
	case FeedbackCompleted:
		return "COMPLETED"
	case FeedbackFailed:
		return "FAILED"
	case FeedbackIgnored:
		return "IGNORED"
	}
	return "UNKNOWN"
}

// IsDone reports whether no other feedback is expected after this status.
func (s FeedbackStatus) IsDone() bool {
	return s == FeedbackCompleted || s == FeedbackFailed || s == FeedbackIgnored
}

// Feedback reports the progress of a directive on a node.
type Feedback struct {
	// Key echoes the key of the directive, or is generated for feedbacks
	// not related to a directive.
	Key          string         `json:",omitempty"`
	Kind         DirectiveKind  `json:",omitempty"`
	CampaignKey  string         `json:",omitempty"`
	ScenarioName string         `json:",omitempty"`
	NodeID       string         `json:",omitempty"`
	Status       FeedbackStatus `json:",omitempty"`
	Error        string         `json:",omitempty"`
	// DagNames lists the DAGs affected on the node.
	DagNames []string `json:",omitempty"`
}

// FeedbackFor creates a feedback echoing the directive.
func FeedbackFor(directive *Directive, nodeID string, status FeedbackStatus) *Feedback {
	return &Feedback{
		Key:          directive.Key,
		Kind:         directive.Kind,
		CampaignKey:  directive.CampaignKey,
		ScenarioName: directive.ScenarioName,
		NodeID:       nodeID,
		Status:       status,
	}
}
