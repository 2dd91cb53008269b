package runtime

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/warriorguo/loadflow/types"
)

// StepContext carries the input of one step execution and collects its
// outputs and errors.
type StepContext struct {
	MinionID         string
	CampaignKey      string
	ScenarioName     string
	DagName          string
	StepName         string
	PreviousStepName string

	// StepIterationIndex is the index of the current iteration of an
	// iterative step, starting at 0.
	StepIterationIndex int64

	input      chan any
	inputValue any
	hasInput   bool

	mu        sync.Mutex
	output    []any
	errors    []*types.StepError
	exhausted bool

	sink *tailSink
}

// NewStepContext creates the context of the root step of a DAG.
func NewStepContext(minion *Minion, dagName, stepName string) *StepContext {
	return &StepContext{
		MinionID:     minion.ID,
		CampaignKey:  minion.CampaignKey,
		ScenarioName: minion.ScenarioName,
		DagName:      dagName,
		StepName:     stepName,
		input:        make(chan any, 1),
	}
}

// NewStepContextWithInput creates a context whose input is already available.
func NewStepContextWithInput(minion *Minion, dagName, stepName string, input any) *StepContext {
	sc := NewStepContext(minion, dagName, stepName)
	sc.setInput(input)
	return sc
}

func (c *StepContext) setInput(input any) {
	c.inputValue = input
	c.hasInput = true
	c.input <- input
}

// Receive consumes the input of the context, if any remains.
func (c *StepContext) Receive() (any, bool) {
	select {
	case v := <-c.input:
		return v, true
	default:
		return nil, false
	}
}

// HasInput is true when the context received an input, consumed or not.
func (c *StepContext) HasInput() bool {
	return c.hasInput
}

// InputConsumed is true when the available input was received.
func (c *StepContext) InputConsumed() bool {
	return c.hasInput && len(c.input) == 0
}

// Input returns the input value without consuming it.
func (c *StepContext) Input() (any, bool) {
	return c.inputValue, c.hasInput
}

// Send publishes a record to the successors of the step.
func (c *StepContext) Send(record any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = append(c.output, record)
}

func (c *StepContext) Output() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.output...)
}

func (c *StepContext) drainOutput() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	output := c.output
	c.output = nil
	return output
}

// AddError records an error, attaching the name of the current step
// unless it is already a step error.
func (c *StepContext) AddError(err error) {
	if err == nil {
		return
	}
	stepErr, ok := err.(*types.StepError)
	if !ok {
		stepErr = types.NewStepError(c.StepName, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, stepErr)
}

func (c *StepContext) Errors() []*types.StepError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.StepError(nil), c.errors...)
}

func (c *StepContext) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors) > 0
}

// ClearErrors removes the recorded errors and returns them.
func (c *StepContext) ClearErrors() []*types.StepError {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := c.errors
	c.errors = nil
	return errs
}

// ErrorsAsError merges all the recorded errors, nil when there are none.
func (c *StepContext) ErrorsAsError() error {
	var merr *multierror.Error
	for _, err := range c.Errors() {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// IsExhausted is true when the execution failed and only error processors
// may handle the context further.
func (c *StepContext) IsExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

func (c *StepContext) SetExhausted(exhausted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exhausted = exhausted
}

// Duplicate creates a copy of the context with the same input, errors and
// exhaustion, but no output.
func (c *StepContext) Duplicate() *StepContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := &StepContext{
		MinionID:           c.MinionID,
		CampaignKey:        c.CampaignKey,
		ScenarioName:       c.ScenarioName,
		DagName:            c.DagName,
		StepName:           c.StepName,
		PreviousStepName:   c.PreviousStepName,
		StepIterationIndex: c.StepIterationIndex,
		input:              make(chan any, 1),
		errors:             append([]*types.StepError(nil), c.errors...),
		exhausted:          c.exhausted,
		sink:               c.sink,
	}
	if c.hasInput {
		d.setInput(c.inputValue)
	}
	return d
}

// Reconcile takes over the outputs, errors and exhaustion of a context
// created with Duplicate.
func (c *StepContext) Reconcile(d *StepContext) {
	output := d.drainOutput()
	errs := d.Errors()
	exhausted := d.IsExhausted()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = append(c.output, output...)
	c.errors = errs
	c.exhausted = c.exhausted || exhausted
}

// next creates the context of a successor step.
func (c *StepContext) next(stepName string, record any, withInput bool) *StepContext {
	c.mu.Lock()
	n := &StepContext{
		MinionID:         c.MinionID,
		CampaignKey:      c.CampaignKey,
		ScenarioName:     c.ScenarioName,
		DagName:          c.DagName,
		StepName:         stepName,
		PreviousStepName: c.StepName,
		input:            make(chan any, 1),
		errors:           append([]*types.StepError(nil), c.errors...),
		exhausted:        c.exhausted,
		sink:             c.sink,
	}
	c.mu.Unlock()

	if withInput {
		n.setInput(record)
	}
	return n
}

// SubGraph creates the context executing the head of a sub-graph with the
// same input. The records and errors reaching the tails of the sub-graph are
// collected and returned by Collected.
func (c *StepContext) SubGraph(headName string) *StepContext {
	c.mu.Lock()
	s := &StepContext{
		MinionID:           c.MinionID,
		CampaignKey:        c.CampaignKey,
		ScenarioName:       c.ScenarioName,
		DagName:            c.DagName,
		StepName:           headName,
		PreviousStepName:   c.PreviousStepName,
		StepIterationIndex: c.StepIterationIndex,
		input:              make(chan any, 1),
		sink:               &tailSink{},
	}
	c.mu.Unlock()

	if value, ok := c.Input(); ok {
		s.setInput(value)
	}
	return s
}

// Collected returns what reached the tails of the sub-graph started with
// SubGraph.
func (c *StepContext) Collected() (records []any, errs []*types.StepError, exhausted bool) {
	if c.sink == nil {
		return nil, nil, false
	}
	return c.sink.get()
}

type tailSink struct {
	mu        sync.Mutex
	records   []any
	errors    []*types.StepError
	exhausted bool
}

func (s *tailSink) collect(records []any, errs []*types.StepError, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	s.errors = append(s.errors, errs...)
	s.exhausted = s.exhausted || exhausted
}

func (s *tailSink) get() ([]any, []*types.StepError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.records...), append([]*types.StepError(nil), s.errors...), s.exhausted
}
