package factory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/transport"
	"github.com/warriorguo/loadflow/types"
	"github.com/warriorguo/loadflow/utils"
)

// Outcome is the result of a processed directive. An ignored directive did
// not concern the factory.
type Outcome struct {
	Ignored  bool
	DagNames []string
}

func ignored() (*Outcome, error) {
	return &Outcome{Ignored: true}, nil
}

func completed(dagNames ...string) (*Outcome, error) {
	return &Outcome{DagNames: dagNames}, nil
}

// DirectiveProcessor executes the directives of a kind on the factory.
type DirectiveProcessor interface {
	Accept(directive *types.Directive) bool
	Process(ctx context.Context, directive *types.Directive) (*Outcome, error)
}

type processor struct {
	kind    types.DirectiveKind
	process func(ctx context.Context, directive *types.Directive) (*Outcome, error)
}

func (p *processor) Accept(directive *types.Directive) bool {
	return directive.Kind == p.kind
}

func (p *processor) Process(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	return p.process(ctx, directive)
}

// Processors executes the directives of the campaigns on the factory.
type Processors struct {
	nodeID      string
	scenarios   *runtime.ScenarioRegistry
	keeper      *MinionsKeeper
	assignments *MinionAssignmentKeeper
	campaigns   *FactoryCampaignManager
	directives  transport.DirectiveProducer
}

func NewProcessors(
	nodeID string,
	scenarios *runtime.ScenarioRegistry,
	keeper *MinionsKeeper,
	assignments *MinionAssignmentKeeper,
	campaigns *FactoryCampaignManager,
	directives transport.DirectiveProducer) *Processors {
	return &Processors{
		nodeID:      nodeID,
		scenarios:   scenarios,
		keeper:      keeper,
		assignments: assignments,
		campaigns:   campaigns,
		directives:  directives,
	}
}

// All returns a processor per directive kind.
func (p *Processors) All() []DirectiveProcessor {
	return []DirectiveProcessor{
		&processor{kind: types.FactoryAssignment, process: p.FactoryAssignment},
		&processor{kind: types.MinionsDeclaration, process: p.MinionsDeclaration},
		&processor{kind: types.MinionsAssignment, process: p.MinionsAssignment},
		&processor{kind: types.ScenarioWarmUp, process: p.ScenarioWarmUp},
		&processor{kind: types.MinionsRampUpPreparation, process: p.MinionsRampUpPreparation},
		&processor{kind: types.MinionsStart, process: p.MinionsStart},
		&processor{kind: types.CampaignScenarioShutdown, process: p.CampaignScenarioShutdown},
		&processor{kind: types.CampaignShutdown, process: p.CampaignShutdown},
		&processor{kind: types.MinionsShutdown, process: p.MinionsShutdown},
	}
}

func (p *Processors) scenario(name string) (*runtime.Scenario, error) {
	scenario, exists := p.scenarios.Get(name)
	if !exists {
		return nil, errors.NotFoundf("scenario %s on factory %s", name, p.nodeID)
	}
	return scenario, nil
}

// FactoryAssignment records the DAGs every factory executes for the scenario.
func (p *Processors) FactoryAssignment(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	if err := p.assignments.RegisterFactoryDags(ctx, directive.CampaignKey, directive.ScenarioName, directive.FactoryDags); err != nil {
		return nil, errors.Trace(err)
	}
	dags, exists := directive.FactoryDags[p.nodeID]
	if !exists {
		return ignored()
	}
	if _, err := p.scenario(directive.ScenarioName); err != nil {
		return nil, err
	}
	p.campaigns.Init(directive.CampaignKey, directive.ScenarioName)
	return completed(dags...)
}

// MinionsDeclaration generates the IDs of the minions of the scenario: one
// per minion under load, plus a lonely minion per DAG executed out of the
// load.
func (p *Processors) MinionsDeclaration(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	scenario, err := p.scenario(directive.ScenarioName)
	if err != nil {
		return nil, err
	}

	declared := &MinionsDeclared{Lonely: make(map[string]string)}
	for _, dag := range scenario.DAGs() {
		if dag.IsSingleton || !dag.IsUnderLoad {
			declared.Lonely[dag.Name] = uuid.NewString()
		} else {
			declared.UnderLoadDags = append(declared.UnderLoadDags, dag.Name)
		}
	}
	if len(declared.UnderLoadDags) > 0 {
		for i := 0; i < directive.MinionsCount; i++ {
			declared.Load = append(declared.Load, uuid.NewString())
		}
	}

	if err := p.assignments.RegisterMinions(ctx, directive.CampaignKey, directive.ScenarioName, declared); err != nil {
		return nil, errors.Trace(err)
	}
	log.WithFields(log.Fields{"campaign": directive.CampaignKey, "scenario": directive.ScenarioName}).
		Infof("%d minions under load and %d lonely minions declared", len(declared.Load), len(declared.Lonely))
	return completed()
}

// MinionsAssignment creates the minions assigned to the factory.
func (p *Processors) MinionsAssignment(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	if _, exists := p.campaigns.Dags(directive.CampaignKey, directive.ScenarioName); !exists {
		return ignored()
	}
	assignments, err := p.assignments.Assign(ctx, directive.CampaignKey, directive.ScenarioName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(assignments) == 0 {
		return ignored()
	}

	var dagNames []string
	for _, assignment := range assignments {
		if err := p.keeper.Create(ctx, directive.CampaignKey, directive.ScenarioName,
			assignment.DagNames, assignment.MinionID, assignment.Singleton); err != nil {
			return nil, errors.Annotatef(err, "create minion %s", assignment.MinionID)
		}
		dagNames = append(dagNames, assignment.DagNames...)
	}
	dagNames = utils.UniqueSlice(dagNames)
	sort.Strings(dagNames)
	if err := p.campaigns.SetDags(directive.CampaignKey, directive.ScenarioName, dagNames); err != nil {
		return nil, errors.Trace(err)
	}
	return completed(dagNames...)
}

// ScenarioWarmUp starts the steps and the singleton minions of the scenario.
func (p *Processors) ScenarioWarmUp(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	dags, exists := p.campaigns.Dags(directive.CampaignKey, directive.ScenarioName)
	if !exists {
		return ignored()
	}
	scenario, err := p.scenario(directive.ScenarioName)
	if err != nil {
		return nil, err
	}
	if err := scenario.Start(ctx, directive.CampaignKey); err != nil {
		return nil, errors.Trace(err)
	}
	p.keeper.StartCampaign(ctx, directive.CampaignKey, directive.ScenarioName)
	return completed(dags...)
}

// MinionsRampUpPreparation computes when each minion under load starts and
// broadcasts the schedule to all the factories.
func (p *Processors) MinionsRampUpPreparation(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	declared, err := p.assignments.Declared(ctx, directive.CampaignKey, directive.ScenarioName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	strategy := runtime.Immediately()
	if scenario, exists := p.scenarios.Get(directive.ScenarioName); exists && scenario.RampUp != nil {
		strategy = scenario.RampUp
	}

	start := time.Now().Add(time.Duration(directive.StartOffsetMs) * time.Millisecond)
	schedule := runtime.ComputeSchedule(strategy, declared.Load, directive.SpeedFactor, start)

	minionsStart := types.NewDirective(types.MinionsStart, directive.CampaignKey, directive.ScenarioName)
	minionsStart.Delivery = types.Broadcast
	minionsStart.Schedule = schedule
	if err := p.directives.PublishDirective(ctx, minionsStart); err != nil {
		return nil, errors.Annotatef(err, "publish the start of the minions")
	}
	return completed()
}

// MinionsStart schedules the start of the local minions.
func (p *Processors) MinionsStart(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	count := 0
	for _, start := range directive.Schedule {
		if !p.keeper.Has(start.MinionID) {
			continue
		}
		p.keeper.ScheduleMinionStart(start.MinionID, start.Instant())
		count++
	}
	if count == 0 {
		return ignored()
	}
	return completed()
}

func (p *Processors) CampaignScenarioShutdown(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	if _, exists := p.campaigns.Dags(directive.CampaignKey, directive.ScenarioName); !exists {
		return ignored()
	}
	if err := p.keeper.ShutdownScenario(ctx, directive.CampaignKey, directive.ScenarioName); err != nil {
		return nil, errors.Trace(err)
	}
	return completed()
}

// CampaignShutdown shuts every scenario of the campaign down and forgets it.
func (p *Processors) CampaignShutdown(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	if !p.campaigns.Has(directive.CampaignKey) {
		return ignored()
	}
	scenarios := p.campaigns.Scenarios(directive.CampaignKey)
	err := p.keeper.ShutdownCampaign(ctx, directive.CampaignKey)
	p.campaigns.Forget(directive.CampaignKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := p.assignments.Forget(ctx, directive.CampaignKey, scenarios); err != nil {
		return nil, errors.Trace(err)
	}
	return completed()
}

func (p *Processors) MinionsShutdown(ctx context.Context, directive *types.Directive) (*Outcome, error) {
	if p.keeper.ShutdownMinions(directive.MinionIDs) == 0 {
		return ignored()
	}
	return completed()
}
