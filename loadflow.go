// Package loadflow runs load-test campaigns: a head coordinates factories
// whose minions execute the DAGs of the scenarios.
package loadflow

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/factory"
	"github.com/warriorguo/loadflow/head"
	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/store"
	"github.com/warriorguo/loadflow/store/mem"
	"github.com/warriorguo/loadflow/store/postgres"
	"github.com/warriorguo/loadflow/transport"
	transportmem "github.com/warriorguo/loadflow/transport/mem"
	"github.com/warriorguo/loadflow/transport/nats"
	"github.com/warriorguo/loadflow/types"
)

// Engine is the head, the factory or both of them, depending on the
// deployment mode.
type Engine struct {
	opts      *types.EngineOptions
	store     store.Store
	transport transport.Transport

	head    *head.Head
	factory *factory.Factory
}

func NewEngineOptions(opts ...types.EngineOption) *types.EngineOptions {
	options := types.NewEngineOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// NewStandalone creates the head and a factory in the same process. They
// communicate in-process unless a NATS configuration is given.
func NewStandalone(scenarios *runtime.ScenarioRegistry, registry meters.Registry, opts ...types.EngineOption) (*Engine, error) {
	options := NewEngineOptions(append(opts, types.WithMode(types.Standalone))...)
	e, err := newEngine(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e.head = head.New(options, e.store, e.transport, nil)
	e.factory = factory.New(options, e.store, e.transport, scenarios, registry, newEventsLogger(options))
	return e, nil
}

// NewHead creates a head, the factories joining it through NATS. A nil
// assigner gives all the DAGs to every factory.
func NewHead(assigner head.FactoryAssigner, opts ...types.EngineOption) (*Engine, error) {
	options := NewEngineOptions(append(opts, types.WithMode(types.HeadOnly))...)
	if options.NatsConfig == nil {
		return nil, errors.NotValidf("head without nats configuration")
	}
	e, err := newEngine(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e.head = head.New(options, e.store, e.transport, assigner)
	return e, nil
}

// NewFactory creates a factory executing the scenarios of the registry. The
// store has to be shared with the other factories of the campaigns.
func NewFactory(scenarios *runtime.ScenarioRegistry, registry meters.Registry, opts ...types.EngineOption) (*Engine, error) {
	options := NewEngineOptions(append(opts, types.WithMode(types.FactoryOnly))...)
	if options.NatsConfig == nil {
		return nil, errors.NotValidf("factory without nats configuration")
	}
	if options.PostgresConfig == nil {
		log.Warn("factory with a memory store, its minions can not be shared with other factories")
	}
	e, err := newEngine(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e.factory = factory.New(options, e.store, e.transport, scenarios, registry, newEventsLogger(options))
	return e, nil
}

func newEngine(options *types.EngineOptions) (*Engine, error) {
	s, err := newStore(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	t, err := newTransport(options)
	if err != nil {
		s.Close()
		return nil, errors.Trace(err)
	}
	return &Engine{opts: options, store: s, transport: t}, nil
}

// PostgresConfig takes precedence over MemStore
func newStore(options *types.EngineOptions) (store.Store, error) {
	if options.PostgresConfig != nil {
		s, err := postgres.NewPostgresStore(postgres.FromEngineConfig(options.PostgresConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil
	}
	return mem.NewMemStore(), nil
}

func newTransport(options *types.EngineOptions) (transport.Transport, error) {
	if options.NatsConfig == nil {
		return transportmem.NewBus(), nil
	}
	name := "loadflow-" + string(options.Mode)
	if options.NodeID != "" {
		name += "-" + options.NodeID
	}
	t, err := nats.Connect(options.Ctx, options.NatsConfig, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return t, nil
}

func newEventsLogger(options *types.EngineOptions) events.Logger {
	entry := log.WithField("mode", options.Mode)
	if options.NodeID != "" {
		entry = entry.WithField("node", options.NodeID)
	}
	return events.NewLogrusLogger(entry)
}

func (e *Engine) Options() *types.EngineOptions {
	return e.opts
}

// Head is nil on a factory.
func (e *Engine) Head() *head.Head {
	return e.head
}

// Factory is nil on a head.
func (e *Engine) Factory() *factory.Factory {
	return e.factory
}

// Start starts the head before the factory, which registers to it.
func (e *Engine) Start(ctx context.Context) error {
	if e.head != nil {
		if err := e.head.Start(); err != nil {
			return errors.Annotatef(err, "start head")
		}
	}
	if e.factory != nil {
		if err := e.factory.Start(ctx); err != nil {
			return errors.Annotatef(err, "start factory")
		}
	}
	return nil
}

// RunCampaign starts the campaign and waits for its end. The campaign is
// aborted when ctx is done before.
func (e *Engine) RunCampaign(ctx context.Context, campaign *types.Campaign) (*types.Campaign, error) {
	if e.head == nil {
		return nil, errors.NotValidf("campaign %s out of a head", campaign.Key)
	}
	campaigns := e.head.Campaigns()
	if _, err := campaigns.Start(ctx, campaign, func(campaignKey, message string) {
		log.WithField("campaign", campaignKey).Errorf("campaign failed: %s", message)
	}); err != nil {
		return nil, errors.Trace(err)
	}

	result, err := campaigns.Wait(ctx, campaign.Key)
	if err != nil && ctx.Err() != nil {
		if abortErr := campaigns.Abort(context.Background(), campaign.Key, ctx.Err().Error()); abortErr != nil {
			log.WithField("campaign", campaign.Key).Warnf("abort failed: %v", abortErr)
		}
	}
	return result, errors.Trace(err)
}

// Close stops the factory, then the head, then releases the transport and
// the store.
func (e *Engine) Close(ctx context.Context) error {
	var merr *multierror.Error
	if e.factory != nil {
		merr = multierror.Append(merr, e.factory.Close(ctx))
	}
	if e.head != nil {
		merr = multierror.Append(merr, e.head.Close())
	}
	merr = multierror.Append(merr, e.transport.Close())
	merr = multierror.Append(merr, e.store.Close())
	return merr.ErrorOrNil()
}
