package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warriorguo/loadflow"
	"github.com/warriorguo/loadflow/config"
	"github.com/warriorguo/loadflow/events"
	"github.com/warriorguo/loadflow/examples"
	"github.com/warriorguo/loadflow/meters"
	"github.com/warriorguo/loadflow/runtime"
	"github.com/warriorguo/loadflow/types"
)

// service is the lifetime of a command: the engine, the metrics server and
// the goroutines of the command, stopped on SIGINT and SIGTERM.
type service struct {
	config   *config.Configuration
	ctx      context.Context
	stop     context.CancelFunc
	g        *errgroup.Group
	meters   meters.Registry
	gatherer prometheus.Gatherer
}

func newService(c *config.Configuration) *service {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	g, ctx := errgroup.WithContext(ctx)
	registry := prometheus.NewRegistry()
	return &service{
		config:   c,
		ctx:      ctx,
		stop:     stop,
		g:        g,
		meters:   meters.NewPrometheusRegistry(registry, c.Metrics.Namespace),
		gatherer: registry,
	}
}

func (s *service) scenarios() (*runtime.ScenarioRegistry, error) {
	demo := s.config.Demo
	scenario, err := examples.NewOrdersScenario(examples.OrdersOptions{
		MinionsCount: demo.MinionsCount,
		RampUp:       runtime.Regularly(demo.RampUpPeriod, demo.RampUpCount),
		Pace:         demo.Pace,
		FailureRate:  demo.FailureRate,
	}, s.meters, events.NewLogrusLogger(log.WithField("scenario", examples.OrdersScenario)))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return runtime.NewScenarioRegistry(scenario)
}

func (s *service) serveMetrics() {
	if s.config.Metrics.Port == 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.g.Go(func() error {
		log.Infof("serving metrics on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Annotatef(err, "metrics server")
		}
		return nil
	})
	s.g.Go(func() error {
		<-s.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// runCampaign runs the configured campaign, or a campaign of the demo
// scenario when none is configured, then stops the service.
func (s *service) runCampaign(engine *loadflow.Engine) {
	campaign := s.config.NewCampaign()
	if campaign == nil {
		campaign = &types.Campaign{
			Key:         types.NewKey(),
			Scenarios:   []string{examples.OrdersScenario},
			SpeedFactor: s.config.Campaign.SpeedFactor,
			StartOffset: s.config.Campaign.StartOffset,
		}
	}

	s.g.Go(func() error {
		defer s.stop()
		logger := log.WithField("campaign", campaign.Key)
		logger.Infof("running campaign of scenarios %v", campaign.Scenarios)

		result, err := engine.RunCampaign(s.ctx, campaign)
		if err != nil {
			return errors.Annotatef(err, "campaign %s", campaign.Key)
		}
		if result.Status != types.Complete {
			return errors.Errorf("campaign %s ended %s: %s", campaign.Key, result.Status, result.LastError)
		}
		logger.Infof("campaign completed in %v", result.End.Sub(result.Start))
		return nil
	})
}

// wait blocks until the service is stopped, then closes the engine.
func (s *service) wait(engine *loadflow.Engine) error {
	s.g.Go(func() error {
		<-s.ctx.Done()
		return nil
	})
	err := s.g.Wait()
	s.stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if closeErr := engine.Close(closeCtx); closeErr != nil {
		log.Warnf("engine closed with errors: %v", closeErr)
	}
	return err
}
