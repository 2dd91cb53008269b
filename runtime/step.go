package runtime

import (
	"context"
)

// Step is a node of a DAG.
type Step interface {
	Name() string
	RetryPolicy() RetryPolicy
	SetRetryPolicy(policy RetryPolicy)
	Next() []Step
	AddNext(next Step)
	// Execute processes the input of the context and sends the records for
	// the successors. Returned errors are recorded on the context, which
	// is then exhausted.
	Execute(ctx context.Context, minion *Minion, sc *StepContext) error
}

// ErrorProcessor steps are also executed on exhausted contexts.
type ErrorProcessor interface {
	ProcessesErrors() bool
}

// StepStartStopContext identifies the campaign a step is started or
// stopped for.
type StepStartStopContext struct {
	CampaignKey  string
	ScenarioName string
	DagName      string
	StepName     string
}

// Lifecycle steps are started before the first minion of a campaign
// scenario executes them and stopped once they all completed.
type Lifecycle interface {
	Start(ctx context.Context, sc StepStartStopContext) error
	Stop(ctx context.Context, sc StepStartStopContext)
}

// Decorator is a step wrapping another one.
type Decorator interface {
	Decorated() Step
}

// BaseStep provides the naming and chaining of steps, to be embedded.
type BaseStep struct {
	name        string
	retryPolicy RetryPolicy
	next        []Step
}

func NewBaseStep(name string, retryPolicy RetryPolicy) BaseStep {
	return BaseStep{name: name, retryPolicy: retryPolicy}
}

func (s *BaseStep) Name() string {
	return s.name
}

func (s *BaseStep) RetryPolicy() RetryPolicy {
	return s.retryPolicy
}

func (s *BaseStep) SetRetryPolicy(policy RetryPolicy) {
	s.retryPolicy = policy
}

func (s *BaseStep) Next() []Step {
	return s.next
}

func (s *BaseStep) AddNext(next Step) {
	s.next = append(s.next, next)
}

func isErrorProcessor(step Step) bool {
	ep, ok := step.(ErrorProcessor)
	return ok && ep.ProcessesErrors()
}

// WalkSteps visits every step reachable from the root once, parents first.
func WalkSteps(root Step, visit func(step Step)) {
	if root == nil {
		return
	}
	visited := make(map[Step]bool)
	var walk func(step Step)
	walk = func(step Step) {
		if visited[step] {
			return
		}
		visited[step] = true
		visit(step)
		for _, next := range step.Next() {
			walk(next)
		}
	}
	walk(root)
}
