// Package config reads the configuration of the command line from a file
// and the environment.
package config

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/warriorguo/loadflow/types"
)

// EnvPrefix prefixes the environment variables overriding the configuration,
// LOADFLOW_METRICS_PORT for metrics.port for instance. Only the keys with a
// default value are read from the environment.
const EnvPrefix = "LOADFLOW"

type Configuration struct {
	Mode   string
	NodeID string
	Tags   map[string]string
	// LogLevel is a logrus level.
	LogLevel string

	DirectiveConcurrency int
	HeartbeatPeriod      time.Duration
	HeartbeatTimeout     time.Duration
	DirectiveTTL         time.Duration

	Nats     *types.NatsConfig
	Postgres *types.PostgresConfig
	Metrics  MetricsConfig
	Campaign CampaignConfig
	Demo     DemoConfig
}

type MetricsConfig struct {
	// Port serving /metrics, disabled when zero.
	Port      int
	Namespace string
}

// CampaignConfig is the campaign started by the head once its factories
// registered.
type CampaignConfig struct {
	Key                string
	Scenarios          []string
	MinionsCountFactor float64
	SpeedFactor        float64
	StartOffset        time.Duration
	// FactoriesTimeout bounds the wait for the factories of the scenarios.
	FactoriesTimeout time.Duration
}

// DemoConfig tunes the demo scenario executed by the factories.
type DemoConfig struct {
	MinionsCount int
	RampUpPeriod time.Duration
	RampUpCount  int
	Pace         time.Duration
	FailureRate  float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(types.Standalone))
	v.SetDefault("nodeId", "")
	v.SetDefault("logLevel", log.InfoLevel.String())
	v.SetDefault("directiveConcurrency", 64)
	v.SetDefault("heartbeatPeriod", 10*time.Second)
	v.SetDefault("heartbeatTimeout", 30*time.Second)
	v.SetDefault("directiveTTL", 30*time.Minute)
	v.SetDefault("metrics.port", 0)
	v.SetDefault("metrics.namespace", "loadflow")
	v.SetDefault("campaign.key", "")
	v.SetDefault("campaign.scenarios", []string{})
	v.SetDefault("campaign.minionsCountFactor", 1.0)
	v.SetDefault("campaign.speedFactor", 1.0)
	v.SetDefault("campaign.startOffset", time.Second)
	v.SetDefault("campaign.factoriesTimeout", time.Minute)
	v.SetDefault("demo.minionsCount", 10)
	v.SetDefault("demo.rampUpPeriod", 100*time.Millisecond)
	v.SetDefault("demo.rampUpCount", 2)
	v.SetDefault("demo.pace", 10*time.Millisecond)
	v.SetDefault("demo.failureRate", 0.05)
}

// Load reads the file when given, then the environment variables. Keys of
// the file are case insensitive.
func Load(v *viper.Viper, file string) (*Configuration, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read configuration %s", file)
		}
	}

	config := &Configuration{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Annotatef(err, "decode configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return config, nil
}

func (c *Configuration) Validate() error {
	switch types.DeploymentMode(c.Mode) {
	case types.Standalone, types.HeadOnly, types.FactoryOnly:
	default:
		return errors.NotValidf("mode %q", c.Mode)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.NotValidf("log level %q", c.LogLevel)
	}
	if c.DirectiveConcurrency <= 0 {
		return errors.NotValidf("directive concurrency %d", c.DirectiveConcurrency)
	}
	if c.HeartbeatTimeout <= c.HeartbeatPeriod {
		return errors.NotValidf("heartbeat timeout %v shorter than the period %v", c.HeartbeatTimeout, c.HeartbeatPeriod)
	}
	return nil
}

// EngineOptions converts the configuration into options of the engine.
func (c *Configuration) EngineOptions(ctx context.Context) []types.EngineOption {
	opts := []types.EngineOption{
		types.WithContext(ctx),
		types.WithMode(types.DeploymentMode(c.Mode)),
		types.SetDirectiveConcurrency(c.DirectiveConcurrency),
		types.SetHeartbeat(c.HeartbeatPeriod, c.HeartbeatTimeout),
		types.SetDirectiveTTL(c.DirectiveTTL),
	}
	if c.NodeID != "" {
		opts = append(opts, types.WithNodeID(c.NodeID))
	}
	if len(c.Tags) > 0 {
		opts = append(opts, types.WithTags(c.Tags))
	}
	if c.Nats != nil {
		opts = append(opts, types.WithNatsConfig(c.Nats))
	}
	if c.Postgres != nil {
		opts = append(opts, types.WithPostgresConfig(c.Postgres))
	} else {
		opts = append(opts, types.EnableMemStore())
	}
	return opts
}

// NewCampaign returns nil when no campaign is configured.
func (c *Configuration) NewCampaign() *types.Campaign {
	if c.Campaign.Key == "" || len(c.Campaign.Scenarios) == 0 {
		return nil
	}
	return &types.Campaign{
		Key:                c.Campaign.Key,
		Scenarios:          c.Campaign.Scenarios,
		MinionsCountFactor: c.Campaign.MinionsCountFactor,
		SpeedFactor:        c.Campaign.SpeedFactor,
		StartOffset:        c.Campaign.StartOffset,
	}
}

func ConfigureLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Trace(err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}
