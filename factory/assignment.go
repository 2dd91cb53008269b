package factory

import (
	"context"
	"sort"

	"github.com/juju/errors"

	"github.com/warriorguo/loadflow/store"
)

const (
	FactoryDagsPrefix = "/factory_dags/"
	DeclarationPrefix = "/minions_declaration/"
)

// MinionsDeclared lists the minions of a campaign scenario, as generated by
// the factory processing the declaration.
type MinionsDeclared struct {
	// Load minions execute every DAG under load.
	Load          []string `json:",omitempty"`
	UnderLoadDags []string `json:",omitempty"`
	// Lonely maps the DAGs executed out of the load to their single minion.
	Lonely map[string]string `json:",omitempty"`
}

// MinionAssignment is a minion to create on a factory with the DAGs it
// executes there.
type MinionAssignment struct {
	MinionID  string
	DagNames  []string
	Singleton bool
}

// MinionAssignmentKeeper shares the minions and DAGs distribution of the
// campaigns between the factories, through the store.
type MinionAssignmentKeeper struct {
	store  store.Store
	nodeID string
}

func NewMinionAssignmentKeeper(s store.Store, nodeID string) *MinionAssignmentKeeper {
	return &MinionAssignmentKeeper{store: s, nodeID: nodeID}
}

func factoryDagsPrefix(campaignKey, scenarioName string) string {
	return FactoryDagsPrefix + campaignKey + "/" + scenarioName + "/"
}

func declarationPrefix(campaignKey string) string {
	return DeclarationPrefix + campaignKey + "/"
}

// RegisterFactoryDags records which DAGs of the scenario each factory runs.
// Every factory receiving the assignment records the same values.
func (k *MinionAssignmentKeeper) RegisterFactoryDags(ctx context.Context, campaignKey, scenarioName string, factoryDags map[string][]string) error {
	prefix := factoryDagsPrefix(campaignKey, scenarioName)
	for nodeID, dags := range factoryDags {
		if err := store.SetObject(ctx, k.store, prefix, nodeID, dags); err != nil {
			return errors.Annotatef(err, "register dags of factory %s", nodeID)
		}
	}
	return nil
}

func (k *MinionAssignmentKeeper) RegisterMinions(ctx context.Context, campaignKey, scenarioName string, declared *MinionsDeclared) error {
	return errors.Trace(store.SetObject(ctx, k.store, declarationPrefix(campaignKey), scenarioName, declared))
}

func (k *MinionAssignmentKeeper) Declared(ctx context.Context, campaignKey, scenarioName string) (*MinionsDeclared, error) {
	declared := &MinionsDeclared{}
	found, err := store.GetObject(ctx, k.store, declarationPrefix(campaignKey), scenarioName, declared)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !found {
		return nil, errors.NotFoundf("minions of scenario %s in campaign %s", scenarioName, campaignKey)
	}
	return declared, nil
}

// owners returns the factories running each DAG, sorted by node ID.
func (k *MinionAssignmentKeeper) owners(ctx context.Context, campaignKey, scenarioName string) (map[string][]string, error) {
	prefix := factoryDagsPrefix(campaignKey, scenarioName)
	nodes, err := store.Keys(ctx, k.store, prefix)
	if err != nil {
		return nil, errors.Trace(err)
	}

	owners := make(map[string][]string)
	for _, nodeID := range nodes {
		var dags []string
		if _, err := store.GetObject(ctx, k.store, prefix, nodeID, &dags); err != nil {
			return nil, errors.Trace(err)
		}
		for _, dag := range dags {
			owners[dag] = append(owners[dag], nodeID)
		}
	}
	for _, nodes := range owners {
		sort.Strings(nodes)
	}
	return owners, nil
}

// Assign returns the minions the factory has to create for the scenario.
// The i-th load minion runs a DAG on the (i modulo owners)-th factory owning
// the DAG, a lonely minion on the first one.
func (k *MinionAssignmentKeeper) Assign(ctx context.Context, campaignKey, scenarioName string) ([]MinionAssignment, error) {
	declared, err := k.Declared(ctx, campaignKey, scenarioName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	owners, err := k.owners(ctx, campaignKey, scenarioName)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var assignments []MinionAssignment
	for i, minionID := range declared.Load {
		var dags []string
		for _, dag := range declared.UnderLoadDags {
			if nodes := owners[dag]; len(nodes) > 0 && nodes[i%len(nodes)] == k.nodeID {
				dags = append(dags, dag)
			}
		}
		if len(dags) > 0 {
			assignments = append(assignments, MinionAssignment{MinionID: minionID, DagNames: dags})
		}
	}

	lonelyDags := make([]string, 0, len(declared.Lonely))
	for dag := range declared.Lonely {
		lonelyDags = append(lonelyDags, dag)
	}
	sort.Strings(lonelyDags)
	for _, dag := range lonelyDags {
		if nodes := owners[dag]; len(nodes) > 0 && nodes[0] == k.nodeID {
			assignments = append(assignments, MinionAssignment{
				MinionID:  declared.Lonely[dag],
				DagNames:  []string{dag},
				Singleton: true,
			})
		}
	}
	return assignments, nil
}

// Forget removes the assignment state of the campaign.
func (k *MinionAssignmentKeeper) Forget(ctx context.Context, campaignKey string, scenarioNames []string) error {
	for _, scenarioName := range scenarioNames {
		if err := k.store.RemovePrefix(ctx, factoryDagsPrefix(campaignKey, scenarioName)); err != nil {
			return errors.Trace(err)
		}
		if err := k.store.Remove(ctx, declarationPrefix(campaignKey), scenarioName); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
