package types

import "time"

type HandshakeRequest struct {
	NodeID    string            `json:",omitempty"`
	Tags      map[string]string `json:",omitempty"`
	Scenarios []ScenarioSummary `json:",omitempty"`
}

type HandshakeResponse struct {
	NodeID           string        `json:",omitempty"`
	DirectiveChannel string        `json:",omitempty"`
	FeedbackChannel  string        `json:",omitempty"`
	HeartbeatChannel string        `json:",omitempty"`
	HeartbeatPeriod  time.Duration `json:",omitempty"`
}

type HeartbeatState string

const (
	HeartbeatRegistered HeartbeatState = "REGISTERED"
	HeartbeatIdle       HeartbeatState = "IDLE"
	HeartbeatOffline    HeartbeatState = "OFFLINE"
)

type Heartbeat struct {
	NodeID      string         `json:",omitempty"`
	CampaignKey string         `json:",omitempty"`
	State       HeartbeatState `json:",omitempty"`
	Timestamp   time.Time      `json:",omitempty"`
}
