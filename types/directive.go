package types

import (
	"time"

	"github.com/google/uuid"
)

type DirectiveKind string

const (
	FactoryAssignment        DirectiveKind = "FactoryAssignment"
	MinionsDeclaration       DirectiveKind = "MinionsDeclaration"
	MinionsAssignment        DirectiveKind = "MinionsAssignment"
	ScenarioWarmUp           DirectiveKind = "ScenarioWarmUp"
	MinionsRampUpPreparation DirectiveKind = "MinionsRampUpPreparation"
	MinionsStart             DirectiveKind = "MinionsStart"
	CampaignScenarioShutdown DirectiveKind = "CampaignScenarioShutdown"
	CampaignShutdown         DirectiveKind = "CampaignShutdown"
	MinionsShutdown          DirectiveKind = "MinionsShutdown"

	// EndOfCampaignScenario is only used by feedbacks, when a factory
	// has no more minion running for a scenario.
	EndOfCampaignScenario DirectiveKind = "EndOfCampaignScenario"
)

type Delivery int32

const (
	// Broadcast directives are delivered to every factory.
	Broadcast Delivery = 0
	// SingleConsumer directives are delivered to exactly one factory.
	SingleConsumer Delivery = 1
)

// Directive is a command sent from the head (or a factory) to the factories.
type Directive struct {
	Key          string        `json:",omitempty"`
	Kind         DirectiveKind `json:",omitempty"`
	Delivery     Delivery      `json:",omitempty"`
	CampaignKey  string        `json:",omitempty"`
	ScenarioName string        `json:",omitempty"`
	DagName      string        `json:",omitempty"`

	MinionsCount int `json:",omitempty"`
	// FactoryDags maps the node ID of a factory to the DAGs it executes.
	FactoryDags map[string][]string `json:",omitempty"`
	// Assignments maps a DAG name to the minions executing it.
	Assignments map[string][]string `json:",omitempty"`

	SpeedFactor   float64                 `json:",omitempty"`
	StartOffsetMs int64                   `json:",omitempty"`
	Schedule      []MinionStartDefinition `json:",omitempty"`
	MinionIDs     []string                `json:",omitempty"`
}

type MinionStartDefinition struct {
	MinionID              string `json:",omitempty"`
	StartTimestampEpochMs int64  `json:",omitempty"`
}

func (d MinionStartDefinition) Instant() time.Time {
	return time.UnixMilli(d.StartTimestampEpochMs)
}

func NewDirective(kind DirectiveKind, campaignKey, scenarioName string) *Directive {
	return &Directive{
		Key:          NewKey(),
		Kind:         kind,
		CampaignKey:  campaignKey,
		ScenarioName: scenarioName,
	}
}

// NewKey generates a unique key for directives and feedbacks.
func NewKey() string {
	return uuid.NewString()
}
