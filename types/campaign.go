package types

import (
	"math"
	"time"
)

// Campaign is one execution of a load test across one or more scenarios.
type Campaign struct {
	Key       string   `json:",omitempty"`
	Scenarios []string `json:",omitempty"`

	/**
	 * MinionsCountPerScenario overrides the minions count declared by
	 * the scenario. Scenarios absent from the map use
	 * ScenarioSummary.MinionsCount * MinionsCountFactor.
	 */
	MinionsCountPerScenario map[string]int `json:",omitempty"`
	MinionsCountFactor      float64        `json:",omitempty"`

	SpeedFactor float64       `json:",omitempty"`
	StartOffset time.Duration `json:",omitempty"`

	Status    CampaignStatus `json:",omitempty"`
	Start     time.Time      `json:",omitempty"`
	End       time.Time      `json:",omitempty"`
	LastError string         `json:",omitempty"`
}

// MinionsCount returns the count of minions to execute for the scenario.
func (c *Campaign) MinionsCount(scenario *ScenarioSummary) int {
	if count, exists := c.MinionsCountPerScenario[scenario.Name]; exists {
		return count
	}
	factor := c.MinionsCountFactor
	if factor <= 0 {
		factor = 1
	}
	return int(math.Ceil(float64(scenario.MinionsCount) * factor))
}

// ScenarioSummary is what the head knows about a scenario registered by factories.
type ScenarioSummary struct {
	Name         string       `json:",omitempty"`
	MinionsCount int          `json:",omitempty"`
	DAGs         []DAGSummary `json:",omitempty"`
}

func (s *ScenarioSummary) DAGNames() []string {
	names := make([]string, 0, len(s.DAGs))
	for _, dag := range s.DAGs {
		names = append(names, dag.Name)
	}
	return names
}

type DAGSummary struct {
	Name        string `json:",omitempty"`
	IsRoot      bool   `json:",omitempty"`
	IsSingleton bool   `json:",omitempty"`
	IsUnderLoad bool   `json:",omitempty"`
	StepsCount  int    `json:",omitempty"`
}
