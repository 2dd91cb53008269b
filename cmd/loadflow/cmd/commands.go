package cmd

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/loadflow"
	"github.com/warriorguo/loadflow/head"
	"github.com/warriorguo/loadflow/types"
)

func standaloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "standalone",
		Short: "Run the head and a factory in-process, then a campaign of the demo scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c.Mode = string(types.Standalone)
			s := newService(c)
			defer s.stop()

			scenarios, err := s.scenarios()
			if err != nil {
				return err
			}
			engine, err := loadflow.NewStandalone(scenarios, s.meters, c.EngineOptions(s.ctx)...)
			if err != nil {
				return err
			}
			if err := engine.Start(s.ctx); err != nil {
				engine.Close(s.ctx)
				return err
			}

			s.serveMetrics()
			s.runCampaign(engine)
			return s.wait(engine)
		},
	}
}

func headCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Run the head, and the configured campaign once its factories registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c.Mode = string(types.HeadOnly)
			s := newService(c)
			defer s.stop()

			engine, err := loadflow.NewHead(nil, c.EngineOptions(s.ctx)...)
			if err != nil {
				return err
			}
			if err := engine.Start(s.ctx); err != nil {
				engine.Close(s.ctx)
				return err
			}

			s.serveMetrics()
			if campaign := c.NewCampaign(); campaign != nil {
				if err := awaitFactories(s.ctx, engine.Head(), campaign.Scenarios, c.Campaign.FactoriesTimeout); err != nil {
					engine.Close(s.ctx)
					return err
				}
				s.runCampaign(engine)
			}
			return s.wait(engine)
		},
	}
}

func factoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "factory",
		Short: "Run a factory executing the demo scenario for the head",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c.Mode = string(types.FactoryOnly)
			s := newService(c)
			defer s.stop()

			scenarios, err := s.scenarios()
			if err != nil {
				return err
			}
			engine, err := loadflow.NewFactory(scenarios, s.meters, c.EngineOptions(s.ctx)...)
			if err != nil {
				return err
			}
			if err := engine.Start(s.ctx); err != nil {
				engine.Close(s.ctx)
				return err
			}
			log.Infof("factory %s ready", engine.Factory().NodeID())

			s.serveMetrics()
			return s.wait(engine)
		},
	}
}

// awaitFactories waits for a factory of every scenario to register.
func awaitFactories(ctx context.Context, h *head.Head, scenarios []string, timeout time.Duration) error {
	const delay = time.Second
	attempts := uint(timeout / delay)
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(func() error {
		for _, scenario := range scenarios {
			if len(h.Registry().FactoriesFor(scenario)) == 0 {
				return errors.NotFoundf("factory of scenario %s", scenario)
			}
		}
		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
