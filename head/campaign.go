// Package head drives the campaigns: it sends the directives to the
// factories and advances the campaigns as their feedbacks arrive.
package head

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
	"github.com/warriorguo/loadflow/utils"
)

// CriticalFailureHandler is called when a campaign is aborted by a failure.
type CriticalFailureHandler func(campaignKey, message string)

// expectedFeedbacks are the kinds of directives the head waits feedbacks for.
var expectedFeedbacks = map[types.DirectiveKind]bool{
	types.FactoryAssignment:        true,
	types.MinionsDeclaration:       true,
	types.MinionsAssignment:        true,
	types.ScenarioWarmUp:           true,
	types.MinionsRampUpPreparation: true,
	types.CampaignScenarioShutdown: true,
	types.CampaignShutdown:         true,
}

// trackedDirective is a directive waiting for feedbacks. A single-consumer
// directive waits for any node. A node may answer several times, each
// feedback reporting some of its DAGs.
type trackedDirective struct {
	directive *types.Directive
	expected  map[string]bool
	answered  map[string]bool
}

// answer records the answer of the node and reports whether it was
// expected.
func (t *trackedDirective) answer(nodeID string) bool {
	if t.directive.Delivery == types.SingleConsumer {
		return true
	}
	if !t.expected[nodeID] {
		return false
	}
	t.answered[nodeID] = true
	return true
}

func (t *trackedDirective) isComplete() bool {
	return t.directive.Delivery == types.SingleConsumer || len(t.answered) == len(t.expected)
}

// dagSet accumulates the DAGs of a scenario reported by the factories.
type dagSet map[string]bool

func (d dagSet) add(expected dagSet, dagNames []string) {
	for _, dag := range dagNames {
		if expected[dag] {
			d[dag] = true
		}
	}
}

// readinessPhases are the directives whose tracking ends when the DAGs of
// their scenario are all reported, not with the answer of the last factory.
var readinessPhases = map[types.DirectiveKind]bool{
	types.MinionsAssignment: true,
	types.ScenarioWarmUp:    true,
}

type campaignState struct {
	campaign  *types.Campaign
	onFailure CriticalFailureHandler
	summaries map[string]*types.ScenarioSummary
	// factoryDags maps each scenario to the DAGs of its factories.
	factoryDags map[string]map[string][]string
	// expectedDags are the DAGs of each scenario receiving minions.
	expectedDags map[string]dagSet

	factoriesAssigned map[string]bool
	minionsDeclared   map[string]bool
	assignmentSent    map[string]bool
	readyDags         map[string]dagSet
	ready             map[string]bool
	warmUpSent        bool
	startedDags       map[string]dagSet
	started           map[string]bool
	rampUpSent        bool
	rampedUp          map[string]bool
	ended             map[string]map[string]bool
	completed         map[string]bool
	// remaining counts the scenarios not complete yet.
	remaining    int
	shutdownSent bool

	doneOnce sync.Once
	done     chan struct{}
}

func newCampaignState(campaign *types.Campaign, onFailure CriticalFailureHandler) *campaignState {
	return &campaignState{
		campaign:          campaign,
		onFailure:         onFailure,
		summaries:         make(map[string]*types.ScenarioSummary),
		factoryDags:       make(map[string]map[string][]string),
		expectedDags:      make(map[string]dagSet),
		factoriesAssigned: make(map[string]bool),
		minionsDeclared:   make(map[string]bool),
		assignmentSent:    make(map[string]bool),
		readyDags:         make(map[string]dagSet),
		ready:             make(map[string]bool),
		startedDags:       make(map[string]dagSet),
		started:           make(map[string]bool),
		rampedUp:          make(map[string]bool),
		ended:             make(map[string]map[string]bool),
		completed:         make(map[string]bool),
		remaining:         len(campaign.Scenarios),
		done:              make(chan struct{}),
	}
}

func (s *campaignState) release() {
	s.doneOnce.Do(func() { close(s.done) })
}

// factories returns the factories of the scenario, or of the whole campaign
// when the scenario is empty, sorted.
func (s *campaignState) factories(scenario string) []string {
	nodes := make(map[string]bool)
	for name, factoryDags := range s.factoryDags {
		if scenario != "" && name != scenario {
			continue
		}
		for nodeID := range factoryDags {
			nodes[nodeID] = true
		}
	}
	return utils.SortedKeys(nodes)
}

func (s *campaignState) involves(nodeID string) bool {
	for _, factoryDags := range s.factoryDags {
		if _, exists := factoryDags[nodeID]; exists {
			return true
		}
	}
	return false
}

// expectDags computes the DAGs of the scenario owned by a factory. The DAGs
// under load receive no minion when the scenario has none.
func (s *campaignState) expectDags(scenario string) {
	owned := make(dagSet)
	for _, dags := range s.factoryDags[scenario] {
		for _, dag := range dags {
			owned[dag] = true
		}
	}
	expected := make(dagSet)
	for _, dag := range s.summaries[scenario].DAGs {
		if !owned[dag.Name] {
			continue
		}
		if dag.IsUnderLoad && s.campaign.MinionsCountPerScenario[scenario] == 0 {
			continue
		}
		expected[dag.Name] = true
	}
	s.expectedDags[scenario] = expected
}

// reported reports whether every expected DAG of the scenario is in the set.
func (s *campaignState) reported(scenario string, dags dagSet) bool {
	return len(dags) == len(s.expectedDags[scenario])
}

func (s *campaignState) all(done map[string]bool) bool {
	for _, scenario := range s.campaign.Scenarios {
		if !done[scenario] {
			return false
		}
	}
	return true
}

// CampaignManager runs the campaigns from the head. Feedbacks are expected
// to be processed one at a time.
type CampaignManager struct {
	repository *Repository
	registry   *FactoryRegistry
	directives transport.DirectiveProducer
	assigner   FactoryAssigner

	// inProgress holds the directives waiting for feedbacks, by key.
	inProgress *cache.Cache

	mu            sync.Mutex
	campaigns     map[string]*campaignState
	notifications []func()
}

func NewCampaignManager(
	opts *types.EngineOptions,
	repository *Repository,
	registry *FactoryRegistry,
	directives transport.DirectiveProducer,
	assigner FactoryAssigner) *CampaignManager {
	if assigner == nil {
		assigner = AllDagsAssigner()
	}
	return &CampaignManager{
		repository: repository,
		registry:   registry,
		directives: directives,
		assigner:   assigner,
		inProgress: cache.New(opts.DirectiveTTL, opts.DirectiveTTL),
		campaigns:  make(map[string]*campaignState),
	}
}

func (m *CampaignManager) unlockAndNotify() {
	notifications := m.notifications
	m.notifications = nil
	m.mu.Unlock()

	for _, notify := range notifications {
		notify()
	}
}

// Start starts the campaign: the factories of each scenario are selected,
// then the minions are declared.
func (m *CampaignManager) Start(ctx context.Context, campaign *types.Campaign, onCriticalFailure CriticalFailureHandler) (*types.Campaign, error) {
	if len(campaign.Scenarios) == 0 {
		return nil, errors.BadRequestf("campaign without scenario")
	}
	started := *campaign
	if started.Key == "" {
		started.Key = types.NewKey()
	}
	started.MinionsCountPerScenario = make(map[string]int, len(campaign.Scenarios))
	if onCriticalFailure == nil {
		onCriticalFailure = func(campaignKey, message string) {}
	}

	m.mu.Lock()
	defer m.unlockAndNotify()

	if _, exists := m.campaigns[started.Key]; exists {
		return nil, errors.AlreadyExistsf("campaign %s", started.Key)
	}

	state := newCampaignState(&started, onCriticalFailure)
	for _, name := range started.Scenarios {
		summary, err := m.repository.Scenario(ctx, name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		nodes := m.registry.FactoriesFor(name)
		if len(nodes) == 0 {
			return nil, errors.NotFoundf("factory executing scenario %s", name)
		}
		state.summaries[name] = summary
		state.factoryDags[name] = m.assigner.Assign(summary, nodes)
		state.readyDags[name] = make(dagSet)
		state.startedDags[name] = make(dagSet)
		state.ended[name] = make(map[string]bool)
		started.MinionsCountPerScenario[name] = campaign.MinionsCount(summary)
		state.expectDags(name)
	}

	started.Status = types.MinionsPreparing
	started.Start = time.Now()
	if err := m.repository.SaveCampaign(ctx, &started); err != nil {
		return nil, errors.Trace(err)
	}
	m.campaigns[started.Key] = state
	log.WithField("campaign", started.Key).Infof("campaign started with scenarios %v", started.Scenarios)

	for _, name := range started.Scenarios {
		assignment := types.NewDirective(types.FactoryAssignment, started.Key, name)
		assignment.FactoryDags = state.factoryDags[name]
		m.publish(ctx, state, assignment)

		declaration := types.NewDirective(types.MinionsDeclaration, started.Key, name)
		declaration.Delivery = types.SingleConsumer
		declaration.MinionsCount = started.MinionsCountPerScenario[name]
		m.publish(ctx, state, declaration)
	}
	result := *state.campaign
	return &result, nil
}

// Accept reports whether the head waits for the feedbacks of the directive.
func (m *CampaignManager) Accept(directive *types.Directive) bool {
	return expectedFeedbacks[directive.Kind]
}

// Process keeps the directive until all the expected feedbacks arrived.
func (m *CampaignManager) Process(ctx context.Context, directive *types.Directive) error {
	if !m.Accept(directive) {
		return errors.BadRequestf("no feedback expected for %s", directive.Kind)
	}
	m.mu.Lock()
	defer m.unlockAndNotify()

	state, exists := m.campaigns[directive.CampaignKey]
	if !exists {
		return errors.NotFoundf("campaign %s", directive.CampaignKey)
	}
	m.track(state, directive)
	return nil
}

func (m *CampaignManager) track(state *campaignState, directive *types.Directive) {
	tracked := &trackedDirective{
		directive: directive,
		expected:  make(map[string]bool),
		answered:  make(map[string]bool),
	}
	if directive.Delivery == types.Broadcast {
		for _, nodeID := range state.factories(directive.ScenarioName) {
			tracked.expected[nodeID] = true
		}
	}
	m.inProgress.SetDefault(directive.Key, tracked)
}

// publish tracks then sends the directive.
func (m *CampaignManager) publish(ctx context.Context, state *campaignState, directive *types.Directive) {
	if m.Accept(directive) {
		m.track(state, directive)
	}
	if err := m.directives.PublishDirective(ctx, directive); err != nil {
		m.inProgress.Delete(directive.Key)
		m.fail(ctx, state, directive, fmt.Sprintf("directive %s of campaign %s could not be published: %v",
			directive.Kind, directive.CampaignKey, err))
	}
}

// ProcessFeedback advances the campaign of the feedback. Feedbacks of
// unknown directives are ignored.
func (m *CampaignManager) ProcessFeedback(ctx context.Context, feedback *types.Feedback) {
	m.mu.Lock()
	defer m.unlockAndNotify()

	logger := log.WithFields(log.Fields{
		"campaign":  feedback.CampaignKey,
		"scenario":  feedback.ScenarioName,
		"directive": feedback.Kind,
		"node":      feedback.NodeID,
	})

	if feedback.Kind == types.EndOfCampaignScenario {
		m.endOfScenario(ctx, logger, feedback)
		return
	}

	value, found := m.inProgress.Get(feedback.Key)
	if !found {
		logger.Debugf("feedback %s of unknown directive %s", feedback.Status, feedback.Key)
		return
	}
	tracked := value.(*trackedDirective)
	directive := tracked.directive
	state, exists := m.campaigns[directive.CampaignKey]
	if !exists {
		m.inProgress.Delete(feedback.Key)
		return
	}

	switch feedback.Status {
	case types.FeedbackInProgress:
		logger.Debugf("directive %s in progress", feedback.Key)
	case types.FeedbackFailed:
		m.inProgress.Delete(feedback.Key)
		m.fail(ctx, state, directive, fmt.Sprintf("directive %s of campaign %s failed on node %s: %s",
			directive.Kind, directive.CampaignKey, feedback.NodeID, feedback.Error))
	case types.FeedbackCompleted, types.FeedbackIgnored:
		if !tracked.answer(feedback.NodeID) {
			logger.Debugf("unexpected feedback %s for directive %s", feedback.Status, feedback.Key)
			return
		}
		complete := tracked.isComplete()
		if complete && !readinessPhases[directive.Kind] {
			m.inProgress.Delete(feedback.Key)
		}
		m.advance(ctx, state, directive, feedback, complete)
	}
}

func (m *CampaignManager) advance(ctx context.Context, state *campaignState, directive *types.Directive, feedback *types.Feedback, complete bool) {
	scenario := directive.ScenarioName
	switch directive.Kind {
	case types.FactoryAssignment:
		if complete {
			state.factoriesAssigned[scenario] = true
			m.assignMinions(ctx, state, scenario)
		}

	case types.MinionsDeclaration:
		state.minionsDeclared[scenario] = true
		m.assignMinions(ctx, state, scenario)

	case types.MinionsAssignment:
		if !m.answerDags(state, state.readyDags, state.ready, directive, feedback, complete) {
			return
		}
		if !state.all(state.ready) || state.warmUpSent {
			return
		}
		state.warmUpSent = true
		for name := range state.readyDags {
			state.readyDags[name] = make(dagSet)
		}
		m.setStatus(ctx, state, types.MinionsAssigned)
		for _, name := range state.campaign.Scenarios {
			m.publish(ctx, state, types.NewDirective(types.ScenarioWarmUp, state.campaign.Key, name))
		}

	case types.ScenarioWarmUp:
		if !m.answerDags(state, state.startedDags, state.started, directive, feedback, complete) {
			return
		}
		if !state.all(state.started) || state.rampUpSent {
			return
		}
		state.rampUpSent = true
		for name := range state.startedDags {
			state.startedDags[name] = make(dagSet)
		}
		m.setStatus(ctx, state, types.WarmedUp)
		for _, name := range state.campaign.Scenarios {
			preparation := types.NewDirective(types.MinionsRampUpPreparation, state.campaign.Key, name)
			preparation.Delivery = types.SingleConsumer
			preparation.SpeedFactor = state.campaign.SpeedFactor
			preparation.StartOffsetMs = state.campaign.StartOffset.Milliseconds()
			m.publish(ctx, state, preparation)
		}

	case types.MinionsRampUpPreparation:
		state.rampedUp[scenario] = true
		if state.all(state.rampedUp) {
			m.setStatus(ctx, state, types.Running)
		} else {
			m.setStatus(ctx, state, types.RampingUp)
		}

	case types.CampaignShutdown:
		if complete {
			m.finish(ctx, state)
		}
	}
}

// answerDags adds the DAGs reported by a completed feedback to the set of
// the scenario. The scenario is done once all its factories answered and
// all its DAGs are reported, the directive is no longer tracked then. It
// reports whether the scenario just became done.
func (m *CampaignManager) answerDags(state *campaignState, sets map[string]dagSet, done map[string]bool,
	directive *types.Directive, feedback *types.Feedback, complete bool) bool {
	scenario := directive.ScenarioName
	if feedback.Status == types.FeedbackCompleted {
		sets[scenario].add(state.expectedDags[scenario], feedback.DagNames)
	}
	if done[scenario] || !complete || !state.reported(scenario, sets[scenario]) {
		return false
	}
	done[scenario] = true
	m.inProgress.Delete(directive.Key)
	return true
}

// assignMinions lets the factories create the minions, once they know their
// DAGs and the minions are declared.
func (m *CampaignManager) assignMinions(ctx context.Context, state *campaignState, scenario string) {
	if !state.factoriesAssigned[scenario] || !state.minionsDeclared[scenario] || state.assignmentSent[scenario] {
		return
	}
	state.assignmentSent[scenario] = true
	m.publish(ctx, state, types.NewDirective(types.MinionsAssignment, state.campaign.Key, scenario))
}

// endOfScenario completes the scenario once all its factories reported its
// end, and the campaign with its last scenario.
func (m *CampaignManager) endOfScenario(ctx context.Context, logger *log.Entry, feedback *types.Feedback) {
	state, exists := m.campaigns[feedback.CampaignKey]
	if !exists {
		logger.Debugf("end of scenario for unknown campaign")
		return
	}
	scenario := feedback.ScenarioName
	ended, exists := state.ended[scenario]
	if !exists || state.completed[scenario] {
		return
	}
	ended[feedback.NodeID] = true
	for _, nodeID := range state.factories(scenario) {
		if !ended[nodeID] {
			return
		}
	}

	state.completed[scenario] = true
	state.remaining--
	logger.Infof("scenario complete, %d remaining", state.remaining)
	m.publish(ctx, state, types.NewDirective(types.CampaignScenarioShutdown, state.campaign.Key, scenario))
	if state.remaining == 0 {
		m.shutdown(ctx, state)
	}
}

func (m *CampaignManager) shutdown(ctx context.Context, state *campaignState) {
	if state.shutdownSent {
		return
	}
	state.shutdownSent = true
	m.setStatus(ctx, state, types.ShuttingDown)
	m.publish(ctx, state, types.NewDirective(types.CampaignShutdown, state.campaign.Key, ""))
}

func (m *CampaignManager) finish(ctx context.Context, state *campaignState) {
	m.setStatus(ctx, state, types.Complete)
	delete(m.campaigns, state.campaign.Key)
	state.release()
	log.WithField("campaign", state.campaign.Key).Infof("campaign %s", state.campaign.Status)
}

// setStatus moves the campaign forward to the status and persists it.
func (m *CampaignManager) setStatus(ctx context.Context, state *campaignState, status types.CampaignStatus) {
	campaign := state.campaign
	if campaign.Status.IsTerminal() || status <= campaign.Status {
		return
	}
	campaign.Status = status
	if status.IsTerminal() {
		campaign.End = time.Now()
	}
	if err := m.repository.SaveCampaign(ctx, campaign); err != nil {
		log.WithField("campaign", campaign.Key).Errorf("failed to save status %s: %v", status, err)
	}
}

func (m *CampaignManager) abort(ctx context.Context, state *campaignState, reason string) bool {
	if state.campaign.Status.IsTerminal() {
		return false
	}
	state.campaign.LastError = reason
	m.setStatus(ctx, state, types.Aborted)
	state.release()
	log.WithField("campaign", state.campaign.Key).Warnf("campaign aborted: %s", reason)
	m.shutdown(ctx, state)
	return true
}

// fail aborts the campaign and notifies its critical failure handler.
func (m *CampaignManager) fail(ctx context.Context, state *campaignState, directive *types.Directive, message string) {
	if directive.Kind == types.CampaignShutdown {
		state.campaign.LastError = message
		m.setStatus(ctx, state, types.Aborted)
		m.finish(ctx, state)
		m.notify(state, message)
		return
	}
	if m.abort(ctx, state, message) {
		m.notify(state, message)
	}
}

func (m *CampaignManager) notify(state *campaignState, message string) {
	key, onFailure := state.campaign.Key, state.onFailure
	m.notifications = append(m.notifications, func() {
		onFailure(key, message)
	})
}

// Abort stops the running campaign.
func (m *CampaignManager) Abort(ctx context.Context, campaignKey, reason string) error {
	m.mu.Lock()
	defer m.unlockAndNotify()

	state, exists := m.campaigns[campaignKey]
	if !exists {
		return errors.NotFoundf("running campaign %s", campaignKey)
	}
	m.abort(ctx, state, reason)
	return nil
}

// FactoryLost aborts the running campaigns the factory takes part in.
func (m *CampaignManager) FactoryLost(ctx context.Context, nodeID string) {
	m.mu.Lock()
	defer m.unlockAndNotify()

	for _, state := range m.campaigns {
		if state.involves(nodeID) && !state.campaign.Status.IsTerminal() {
			message := fmt.Sprintf("factory %s of campaign %s lost", nodeID, state.campaign.Key)
			if m.abort(ctx, state, message) {
				m.notify(state, message)
			}
		}
	}
}

// Campaign returns the campaign, running or persisted.
func (m *CampaignManager) Campaign(ctx context.Context, campaignKey string) (*types.Campaign, error) {
	m.mu.Lock()
	state, exists := m.campaigns[campaignKey]
	if exists {
		campaign := *state.campaign
		m.mu.Unlock()
		return &campaign, nil
	}
	m.mu.Unlock()
	return m.repository.Campaign(ctx, campaignKey)
}

// Wait blocks until the campaign is complete or aborted.
func (m *CampaignManager) Wait(ctx context.Context, campaignKey string) (*types.Campaign, error) {
	m.mu.Lock()
	state, exists := m.campaigns[campaignKey]
	m.mu.Unlock()

	if exists {
		select {
		case <-state.done:
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		}
	}

	campaign, err := m.Campaign(ctx, campaignKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !campaign.Status.IsTerminal() {
		return nil, errors.NotValidf("campaign %s in status %s", campaignKey, campaign.Status)
	}
	return campaign, nil
}
