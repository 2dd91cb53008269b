package head

import (
	"context"

	"github.com/juju/errors"

	"github.com/warriorguo/loadflow/store"
	"github.com/warriorguo/loadflow/types"
)

const (
	CampaignPrefix  = "/campaigns/"
	ScenarioPrefix  = "/scenarios/"
	FactoriesPrefix = "/factories/"
)

// Repository persists the campaigns, the scenarios and the factories known
// by the head.
type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

func (r *Repository) SaveCampaign(ctx context.Context, campaign *types.Campaign) error {
	return errors.Annotatef(store.SetObject(ctx, r.store, CampaignPrefix, campaign.Key, campaign),
		"save campaign %s", campaign.Key)
}

func (r *Repository) Campaign(ctx context.Context, key string) (*types.Campaign, error) {
	campaign := &types.Campaign{}
	found, err := store.GetObject(ctx, r.store, CampaignPrefix, key, campaign)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !found {
		return nil, errors.NotFoundf("campaign %s", key)
	}
	return campaign, nil
}

// Campaigns returns the keys of the persisted campaigns.
func (r *Repository) Campaigns(ctx context.Context) ([]string, error) {
	return store.Keys(ctx, r.store, CampaignPrefix)
}

// SaveScenarios records the scenarios, replacing the ones with the same name.
func (r *Repository) SaveScenarios(ctx context.Context, scenarios []types.ScenarioSummary) error {
	for i := range scenarios {
		if err := store.SetObject(ctx, r.store, ScenarioPrefix, scenarios[i].Name, &scenarios[i]); err != nil {
			return errors.Annotatef(err, "save scenario %s", scenarios[i].Name)
		}
	}
	return nil
}

func (r *Repository) Scenario(ctx context.Context, name string) (*types.ScenarioSummary, error) {
	scenario := &types.ScenarioSummary{}
	found, err := store.GetObject(ctx, r.store, ScenarioPrefix, name, scenario)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !found {
		return nil, errors.NotFoundf("scenario %s", name)
	}
	return scenario, nil
}

// Scenarios returns the names of the known scenarios.
func (r *Repository) Scenarios(ctx context.Context) ([]string, error) {
	return store.Keys(ctx, r.store, ScenarioPrefix)
}

func (r *Repository) SaveFactory(ctx context.Context, factory *FactoryInfo) error {
	return errors.Annotatef(store.SetObject(ctx, r.store, FactoriesPrefix, factory.NodeID, factory),
		"save factory %s", factory.NodeID)
}

func (r *Repository) Factory(ctx context.Context, nodeID string) (*FactoryInfo, error) {
	factory := &FactoryInfo{}
	found, err := store.GetObject(ctx, r.store, FactoriesPrefix, nodeID, factory)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !found {
		return nil, errors.NotFoundf("factory %s", nodeID)
	}
	return factory, nil
}
