package factory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
)

type scenarioKey struct {
	campaign string
	scenario string
}

type keptMinion struct {
	minion    *runtime.Minion
	singleton bool
}

// scenarioState tracks the minions of one campaign scenario on the factory.
type scenarioState struct {
	// running counts the load minions not completed yet.
	running    *runtime.CountLatch
	singletons map[string]*runtime.Minion
	completed  bool
}

// MinionsKeeper creates the minions assigned to the factory, starts them and
// reports the end of the scenarios once all their load minions completed.
type MinionsKeeper struct {
	ctx       context.Context
	nodeID    string
	scenarios *runtime.ScenarioRegistry
	runner    *runtime.Runner
	feedback  transport.FeedbackProducer
	meters    meters.Registry
	events    events.Logger

	mu        sync.Mutex
	minions   map[string]*keptMinion
	states    map[scenarioKey]*scenarioState
	runningMs map[scenarioKey]meters.Gauge
}

func NewMinionsKeeper(
	ctx context.Context,
	nodeID string,
	scenarios *runtime.ScenarioRegistry,
	runner *runtime.Runner,
	feedback transport.FeedbackProducer,
	registry meters.Registry,
	logger events.Logger) *MinionsKeeper {
	return &MinionsKeeper{
		ctx:       ctx,
		nodeID:    nodeID,
		scenarios: scenarios,
		runner:    runner,
		feedback:  feedback,
		meters:    registry,
		events:    logger,
		minions:   make(map[string]*keptMinion),
		states:    make(map[scenarioKey]*scenarioState),
		runningMs: make(map[scenarioKey]meters.Gauge),
	}
}

func (k *MinionsKeeper) state(key scenarioKey) *scenarioState {
	state, exists := k.states[key]
	if !exists {
		state = &scenarioState{
			running:    runtime.NewCountLatch(),
			singletons: make(map[string]*runtime.Minion),
		}
		k.states[key] = state
		k.runningMs[key] = k.meters.Gauge("running-minions", meters.ScopeTags(key.campaign, key.scenario))
		go k.awaitScenarioEnd(key, state)
	}
	return state
}

// Create creates a paused minion executing the DAGs. The minion runs the
// root DAGs among them, and a load minion without root DAG is not created. A singleton minion runs one DAG out of the load and
// only one can exist per DAG.
func (k *MinionsKeeper) Create(ctx context.Context, campaignKey, scenarioName string, dagNames []string, minionID string, singleton bool) error {
	scenario, exists := k.scenarios.Get(scenarioName)
	if !exists {
		return errors.NotFoundf("scenario %s", scenarioName)
	}
	if len(dagNames) == 0 {
		return errors.BadRequestf("minion %s without dag", minionID)
	}
	dags := make([]*runtime.DirectedAcyclicGraph, 0, len(dagNames))
	for _, name := range dagNames {
		dag, exists := scenario.DAG(name)
		if !exists {
			return errors.NotFoundf("dag %s of scenario %s", name, scenarioName)
		}
		dags = append(dags, dag)
	}
	if !singleton && !hasRoot(dags) {
		// Nothing would ever run on the minion, it must not hold the scenario.
		log.Debugf("minion %s has no root dag among %v on factory %s", minionID, dagNames, k.nodeID)
		return nil
	}

	key := scenarioKey{campaign: campaignKey, scenario: scenarioName}
	minion := runtime.NewMinion(minionID, campaignKey, scenarioName, dagNames[0], true, k.meters)

	k.mu.Lock()
	if _, exists := k.minions[minionID]; exists {
		k.mu.Unlock()
		return errors.AlreadyExistsf("minion %s", minionID)
	}
	state := k.state(key)
	if singleton {
		if _, exists := state.singletons[dagNames[0]]; exists {
			k.mu.Unlock()
			return errors.AlreadyExistsf("singleton minion of dag %s", dagNames[0])
		}
		state.singletons[dagNames[0]] = minion
	} else {
		state.running.Increment()
		k.runningMs[key].Inc()
	}
	k.minions[minionID] = &keptMinion{minion: minion, singleton: singleton}
	k.mu.Unlock()

	tags := types.Data{meters.CampaignTag: campaignKey, meters.ScenarioTag: scenarioName, "minion": minionID}
	minion.OnComplete(func(ctx context.Context, m *runtime.Minion) {
		k.events.Debug("minion.complete", time.Since(m.StartTime()).String(), tags)
	})

	for _, dag := range dags {
		if !dag.IsRoot {
			continue
		}
		if err := k.runner.Run(k.ctx, minion, dag); err != nil {
			minion.Cancel()
			k.release(minionID)
			return errors.Annotatef(err, "run dag %s with minion %s", dag.Name, minionID)
		}
	}
	k.events.Debug("minion.create", dagNames, tags)

	go func() {
		if err := minion.Join(k.ctx); err != nil {
			log.Debugf("minion %s stopped waiting: %v", minionID, err)
		}
		k.release(minionID)
	}()
	return nil
}

func hasRoot(dags []*runtime.DirectedAcyclicGraph) bool {
	for _, dag := range dags {
		if dag.IsRoot {
			return true
		}
	}
	return false
}

// release forgets the minion and counts it down from its scenario.
func (k *MinionsKeeper) release(minionID string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	kept, exists := k.minions[minionID]
	if !exists {
		return
	}
	delete(k.minions, minionID)

	key := scenarioKey{campaign: kept.minion.CampaignKey, scenario: kept.minion.ScenarioName}
	state, exists := k.states[key]
	if !exists {
		return
	}
	if kept.singleton {
		for dag, minion := range state.singletons {
			if minion == kept.minion {
				delete(state.singletons, dag)
			}
		}
		return
	}
	k.runningMs[key].Dec()
	state.running.Decrement()
}

func (k *MinionsKeeper) awaitScenarioEnd(key scenarioKey, state *scenarioState) {
	if err := state.running.Await(k.ctx); err != nil {
		return
	}
	if state.running.IsCancelled() {
		return
	}
	k.completeScenario(key)
}

// completeScenario stops the steps and the singletons of the scenario and
// reports its end to the head.
func (k *MinionsKeeper) completeScenario(key scenarioKey) {
	k.mu.Lock()
	state, exists := k.states[key]
	if !exists || state.completed {
		k.mu.Unlock()
		return
	}
	state.completed = true
	singletons := make([]*runtime.Minion, 0, len(state.singletons))
	for _, minion := range state.singletons {
		singletons = append(singletons, minion)
	}
	k.mu.Unlock()

	logger := log.WithFields(log.Fields{"campaign": key.campaign, "scenario": key.scenario, "node": k.nodeID})
	logger.Info("no more minion running for the scenario")

	if scenario, exists := k.scenarios.Get(key.scenario); exists {
		scenario.Stop(k.ctx, key.campaign)
	}
	for _, minion := range singletons {
		minion.Cancel()
	}

	feedback := &types.Feedback{
		Key:          types.NewKey(),
		Kind:         types.EndOfCampaignScenario,
		CampaignKey:  key.campaign,
		ScenarioName: key.scenario,
		NodeID:       k.nodeID,
		Status:       types.FeedbackCompleted,
	}
	if err := k.feedback.PublishFeedback(k.ctx, feedback); err != nil {
		logger.Errorf("failed to publish the end of the scenario: %v", err)
	}
	k.meters.ReleaseScope(key.campaign, key.scenario)
}

// StartCampaign starts the singleton minions of the scenario. When the
// factory has no load minion for the scenario, the scenario is complete.
func (k *MinionsKeeper) StartCampaign(ctx context.Context, campaignKey, scenarioName string) {
	key := scenarioKey{campaign: campaignKey, scenario: scenarioName}

	k.mu.Lock()
	state := k.state(key)
	singletons := make([]*runtime.Minion, 0, len(state.singletons))
	for _, minion := range state.singletons {
		singletons = append(singletons, minion)
	}
	noLoad := !state.running.IsActivated()
	k.mu.Unlock()

	for _, minion := range singletons {
		minion.Start()
	}
	if noLoad {
		go k.completeScenario(key)
	}
}

// StartMinionAt starts the minion at the instant, or immediately when it is
// past.
func (k *MinionsKeeper) StartMinionAt(ctx context.Context, minionID string, instant time.Time) error {
	k.mu.Lock()
	kept, exists := k.minions[minionID]
	k.mu.Unlock()
	if !exists {
		return errors.NotFoundf("minion %s", minionID)
	}

	if wait := time.Until(instant); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}
	kept.minion.Start()
	return nil
}

// ScheduleMinionStart starts the minion at the instant without blocking.
func (k *MinionsKeeper) ScheduleMinionStart(minionID string, instant time.Time) {
	go func() {
		if err := k.StartMinionAt(k.ctx, minionID, instant); err != nil {
			log.Warnf("failed to start minion %s: %v", minionID, err)
		}
	}()
}

func (k *MinionsKeeper) Has(minionID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, exists := k.minions[minionID]
	return exists
}

func (k *MinionsKeeper) CountMinions() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.minions)
}

// MinionIDs returns the IDs of the minions of the scenario, sorted.
func (k *MinionsKeeper) MinionIDs(campaignKey, scenarioName string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	var ids []string
	for id, kept := range k.minions {
		if kept.minion.CampaignKey == campaignKey && kept.minion.ScenarioName == scenarioName {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ShutdownMinions cancels the minions. Unknown minions are ignored, they
// are likely running on another factory.
func (k *MinionsKeeper) ShutdownMinions(ids []string) int {
	count := 0
	for _, id := range ids {
		k.mu.Lock()
		kept, exists := k.minions[id]
		k.mu.Unlock()
		if !exists {
			continue
		}
		kept.minion.Cancel()
		count++
	}
	return count
}

// ShutdownScenario cancels all the minions of the scenario without
// reporting its end.
func (k *MinionsKeeper) ShutdownScenario(ctx context.Context, campaignKey, scenarioName string) error {
	key := scenarioKey{campaign: campaignKey, scenario: scenarioName}

	k.mu.Lock()
	state, exists := k.states[key]
	if exists {
		delete(k.states, key)
		delete(k.runningMs, key)
	}
	var minions []*runtime.Minion
	for id, kept := range k.minions {
		if kept.minion.CampaignKey == campaignKey && kept.minion.ScenarioName == scenarioName {
			minions = append(minions, kept.minion)
			delete(k.minions, id)
		}
	}
	k.mu.Unlock()

	if exists {
		state.running.Cancel()
	}
	for _, minion := range minions {
		minion.Cancel()
	}

	scenario, found := k.scenarios.Get(scenarioName)
	if !found {
		return errors.NotFoundf("scenario %s", scenarioName)
	}
	scenario.Stop(ctx, campaignKey)
	k.meters.ReleaseScope(campaignKey, scenarioName)
	log.WithFields(log.Fields{"campaign": campaignKey, "scenario": scenarioName}).
		Infof("%d minions shut down", len(minions))
	return nil
}

// ShutdownCampaign shuts all the scenarios of the campaign down.
func (k *MinionsKeeper) ShutdownCampaign(ctx context.Context, campaignKey string) error {
	k.mu.Lock()
	scenarios := make(map[string]bool)
	for key := range k.states {
		if key.campaign == campaignKey {
			scenarios[key.scenario] = true
		}
	}
	for _, kept := range k.minions {
		if kept.minion.CampaignKey == campaignKey {
			scenarios[kept.minion.ScenarioName] = true
		}
	}
	k.mu.Unlock()

	var merr *multierror.Error
	for scenario := range scenarios {
		merr = multierror.Append(merr, k.ShutdownScenario(ctx, campaignKey, scenario))
	}
	return merr.ErrorOrNil()
}
