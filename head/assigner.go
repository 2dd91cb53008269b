package head

import (
	"github.com/warriorguo/loadflow/types"
)

// FactoryAssigner selects the DAGs each factory executes for a scenario.
type FactoryAssigner interface {
	Assign(scenario *types.ScenarioSummary, factories []string) map[string][]string
}

type allDagsAssigner struct{}

// AllDagsAssigner makes every factory execute all the DAGs of the scenario,
// the load being split between them.
func AllDagsAssigner() FactoryAssigner {
	return allDagsAssigner{}
}

func (allDagsAssigner) Assign(scenario *types.ScenarioSummary, factories []string) map[string][]string {
	assignment := make(map[string][]string, len(factories))
	for _, nodeID := range factories {
		assignment[nodeID] = scenario.DAGNames()
	}
	return assignment
}
