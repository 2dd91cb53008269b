package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/types"
)

// DirectedAcyclicGraph is a graph of steps executed by minions.
type DirectedAcyclicGraph struct {
	Name string
	/**
	 * IsRoot DAGs are started by the minions, the others receive their
	 * records from other DAGs.
	 */
	IsRoot bool
	/**
	 * IsSingleton DAGs are executed by one single minion per campaign,
	 * independently of the load.
	 */
	IsSingleton bool
	IsUnderLoad bool

	root Step
}

type DagOption func(dag *DirectedAcyclicGraph)

// AsSingleton makes the DAG executed by a single minion, out of the load.
func AsSingleton() DagOption {
	return func(dag *DirectedAcyclicGraph) {
		dag.IsSingleton = true
		dag.IsUnderLoad = false
	}
}

func NotRoot() DagOption {
	return func(dag *DirectedAcyclicGraph) {
		dag.IsRoot = false
	}
}

func NotUnderLoad() DagOption {
	return func(dag *DirectedAcyclicGraph) {
		dag.IsUnderLoad = false
	}
}

func (d *DirectedAcyclicGraph) SetRoot(step Step) {
	d.root = step
}

func (d *DirectedAcyclicGraph) Root() Step {
	return d.root
}

func (d *DirectedAcyclicGraph) StepsCount() int {
	count := 0
	WalkSteps(d.root, func(Step) { count++ })
	return count
}

func (d *DirectedAcyclicGraph) Summary() types.DAGSummary {
	return types.DAGSummary{
		Name:        d.Name,
		IsRoot:      d.IsRoot,
		IsSingleton: d.IsSingleton,
		IsUnderLoad: d.IsUnderLoad,
		StepsCount:  d.StepsCount(),
	}
}

func (d *DirectedAcyclicGraph) startStopContext(campaignKey, scenarioName string, step Step) StepStartStopContext {
	return StepStartStopContext{
		CampaignKey:  campaignKey,
		ScenarioName: scenarioName,
		DagName:      d.Name,
		StepName:     step.Name(),
	}
}

// Scenario is a named set of DAGs executed by a count of minions, started
// according to a ramp-up strategy.
type Scenario struct {
	Name         string
	MinionsCount int
	RampUp       RampUpStrategy
	// RetryPolicy applies to the steps declaring none.
	RetryPolicy RetryPolicy

	mu      sync.Mutex
	dags    map[string]*DirectedAcyclicGraph
	order   []string
	started map[string]bool
}

func NewScenario(name string, minionsCount int, rampUp RampUpStrategy) *Scenario {
	if rampUp == nil {
		rampUp = Immediately()
	}
	return &Scenario{
		Name:         name,
		MinionsCount: minionsCount,
		RampUp:       rampUp,
		dags:         make(map[string]*DirectedAcyclicGraph),
		started:      make(map[string]bool),
	}
}

// CreateDAG adds a root DAG under load, unless options say otherwise.
func (s *Scenario) CreateDAG(name string, opts ...DagOption) (*DirectedAcyclicGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dags[name]; exists {
		return nil, errors.AlreadyExistsf("dag %s in scenario %s", name, s.Name)
	}
	dag := &DirectedAcyclicGraph{Name: name, IsRoot: true, IsUnderLoad: true}
	for _, opt := range opts {
		opt(dag)
	}
	s.dags[name] = dag
	s.order = append(s.order, name)
	return dag, nil
}

func (s *Scenario) DAG(name string) (*DirectedAcyclicGraph, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dag, exists := s.dags[name]
	return dag, exists
}

// DAGs returns the DAGs in their creation order.
func (s *Scenario) DAGs() []*DirectedAcyclicGraph {
	s.mu.Lock()
	defer s.mu.Unlock()

	dags := make([]*DirectedAcyclicGraph, 0, len(s.order))
	for _, name := range s.order {
		dags = append(dags, s.dags[name])
	}
	return dags
}

func (s *Scenario) Summary() types.ScenarioSummary {
	summary := types.ScenarioSummary{Name: s.Name, MinionsCount: s.MinionsCount}
	for _, dag := range s.DAGs() {
		summary.DAGs = append(summary.DAGs, dag.Summary())
	}
	return summary
}

func (s *Scenario) validate() error {
	for _, dag := range s.DAGs() {
		if dag.Root() == nil {
			return errors.NotValidf("dag %s of scenario %s has no step", dag.Name, s.Name)
		}
		if s.RetryPolicy != nil {
			WalkSteps(dag.Root(), func(step Step) {
				if step.RetryPolicy() == nil {
					step.SetRetryPolicy(s.RetryPolicy)
				}
			})
		}
	}
	return nil
}

// Start starts the steps of all the DAGs for the campaign. It does nothing
// when the scenario is already started for the campaign.
func (s *Scenario) Start(ctx context.Context, campaignKey string) error {
	s.mu.Lock()
	if s.started[campaignKey] {
		s.mu.Unlock()
		return nil
	}
	s.started[campaignKey] = true
	s.mu.Unlock()

	for _, dag := range s.DAGs() {
		var retErr error
		WalkSteps(dag.Root(), func(step Step) {
			if retErr != nil {
				return
			}
			if lc, ok := step.(Lifecycle); ok {
				retErr = lc.Start(ctx, dag.startStopContext(campaignKey, s.Name, step))
			}
		})
		if retErr != nil {
			return errors.Annotatef(retErr, "start dag %s of scenario %s", dag.Name, s.Name)
		}
	}
	log.Infof("scenario %s started for campaign %s", s.Name, campaignKey)
	return nil
}

// Stop stops the steps of all the DAGs for the campaign.
func (s *Scenario) Stop(ctx context.Context, campaignKey string) {
	s.mu.Lock()
	if !s.started[campaignKey] {
		s.mu.Unlock()
		return
	}
	delete(s.started, campaignKey)
	s.mu.Unlock()

	for _, dag := range s.DAGs() {
		WalkSteps(dag.Root(), func(step Step) {
			if lc, ok := step.(Lifecycle); ok {
				lc.Stop(ctx, dag.startStopContext(campaignKey, s.Name, step))
			}
		})
	}
	log.Infof("scenario %s stopped for campaign %s", s.Name, campaignKey)
}

func (s *Scenario) IsStarted(campaignKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started[campaignKey]
}

// ScenarioRegistry holds the scenarios a node is able to execute.
type ScenarioRegistry struct {
	mu        sync.Mutex
	scenarios map[string]*Scenario
}

func NewScenarioRegistry(scenarios ...*Scenario) (*ScenarioRegistry, error) {
	r := &ScenarioRegistry{scenarios: make(map[string]*Scenario)}
	var merr *multierror.Error
	for _, scenario := range scenarios {
		merr = multierror.Append(merr, r.Register(scenario))
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ScenarioRegistry) Register(scenario *Scenario) error {
	if err := scenario.validate(); err != nil {
		return errors.Trace(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scenarios[scenario.Name]; exists {
		return errors.AlreadyExistsf("scenario %s", scenario.Name)
	}
	r.scenarios[scenario.Name] = scenario
	return nil
}

func (r *ScenarioRegistry) Get(name string) (*Scenario, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scenario, exists := r.scenarios[name]
	return scenario, exists
}

// All returns the scenarios sorted by name.
func (r *ScenarioRegistry) All() []*Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()

	scenarios := make([]*Scenario, 0, len(r.scenarios))
	for _, scenario := range r.scenarios {
		scenarios = append(scenarios, scenario)
	}
	sort.Slice(scenarios, func(i, j int) bool {
		return scenarios[i].Name < scenarios[j].Name
	})
	return scenarios
}

func (r *ScenarioRegistry) Summaries() []types.ScenarioSummary {
	scenarios := r.All()
	summaries := make([]types.ScenarioSummary, 0, len(scenarios))
	for _, scenario := range scenarios {
		summaries = append(summaries, scenario.Summary())
	}
	return summaries
}
