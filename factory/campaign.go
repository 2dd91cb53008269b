package factory

import (
	"sort"
	"sync"

	"github.com/juju/errors"
)

// runningCampaign is the part of a campaign executed by the factory.
type runningCampaign struct {
	key string
	// scenarios maps the scenarios of the factory to the DAGs it created
	// minions for.
	scenarios map[string][]string
}

// FactoryCampaignManager tracks the campaigns the factory takes part in.
type FactoryCampaignManager struct {
	mu        sync.Mutex
	campaigns map[string]*runningCampaign
}

func NewFactoryCampaignManager() *FactoryCampaignManager {
	return &FactoryCampaignManager{campaigns: make(map[string]*runningCampaign)}
}

// Init records the factory takes part in the scenario of the campaign.
func (m *FactoryCampaignManager) Init(campaignKey, scenarioName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	campaign, exists := m.campaigns[campaignKey]
	if !exists {
		campaign = &runningCampaign{key: campaignKey, scenarios: make(map[string][]string)}
		m.campaigns[campaignKey] = campaign
	}
	if _, exists := campaign.scenarios[scenarioName]; !exists {
		campaign.scenarios[scenarioName] = nil
	}
}

// SetDags records the DAGs the factory created minions for.
func (m *FactoryCampaignManager) SetDags(campaignKey, scenarioName string, dagNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	campaign, exists := m.campaigns[campaignKey]
	if !exists {
		return errors.NotFoundf("campaign %s", campaignKey)
	}
	if _, exists := campaign.scenarios[scenarioName]; !exists {
		return errors.NotFoundf("scenario %s of campaign %s", scenarioName, campaignKey)
	}
	campaign.scenarios[scenarioName] = dagNames
	return nil
}

// Dags returns the DAGs of the scenario the factory created minions for.
func (m *FactoryCampaignManager) Dags(campaignKey, scenarioName string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	campaign, exists := m.campaigns[campaignKey]
	if !exists {
		return nil, false
	}
	dags, exists := campaign.scenarios[scenarioName]
	return dags, exists
}

func (m *FactoryCampaignManager) Has(campaignKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.campaigns[campaignKey]
	return exists
}

// Scenarios returns the scenarios of the campaign on the factory, sorted.
func (m *FactoryCampaignManager) Scenarios(campaignKey string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	campaign, exists := m.campaigns[campaignKey]
	if !exists {
		return nil
	}
	names := make([]string, 0, len(campaign.scenarios))
	for name := range campaign.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Running returns the keys of the campaigns, sorted.
func (m *FactoryCampaignManager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.campaigns))
	for key := range m.campaigns {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *FactoryCampaignManager) Forget(campaignKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.campaigns, campaignKey)
}
