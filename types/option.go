package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

type DeploymentMode string

const (
	Standalone  DeploymentMode = "standalone"
	HeadOnly    DeploymentMode = "head"
	FactoryOnly DeploymentMode = "factory"
)

func NewEngineOptions() *EngineOptions {
	opts := &EngineOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type EngineOptions struct {
	Ctx context.Context

	Mode DeploymentMode `default:"standalone"`
	/**
	 * NodeID of the factory, generated by the head during the handshake
	 * when left empty.
	 */
	NodeID string
	Tags   map[string]string
	/**
	 * default: 64
	 * the factory processes at most this count of directives at once.
	 */
	DirectiveConcurrency int `default:"64"`
	/**
	 * default: 10s, period of the heartbeats sent by the factories.
	 */
	HeartbeatPeriod time.Duration `default:"10s"`
	/**
	 * default: 30s, a factory without heartbeat for this duration
	 * is considered lost.
	 */
	HeartbeatTimeout time.Duration `default:"30s"`
	/**
	 * default: 30m, directives waiting for feedback are forgotten
	 * after this duration.
	 */
	DirectiveTTL time.Duration `default:"30m"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// If both MemStore and PostgresConfig are set, PostgresConfig takes precedence
	PostgresConfig *PostgresConfig
	// When NatsConfig is nil, head and factories communicate in-process.
	NatsConfig *NatsConfig
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type NatsConfig struct {
	URL string
	// Prefix of every subject used by the engine.
	Prefix         string
	RequestTimeout time.Duration
}

type EngineOption func(*EngineOptions)

func WithContext(ctx context.Context) EngineOption {
	return func(opts *EngineOptions) {
		opts.Ctx = ctx
	}
}

func WithMode(mode DeploymentMode) EngineOption {
	return func(opts *EngineOptions) {
		opts.Mode = mode
	}
}

func WithNodeID(nodeID string) EngineOption {
	return func(opts *EngineOptions) {
		opts.NodeID = nodeID
	}
}

func WithTags(tags map[string]string) EngineOption {
	return func(opts *EngineOptions) {
		opts.Tags = tags
	}
}

func SetDirectiveConcurrency(concurrency int) EngineOption {
	return func(opts *EngineOptions) {
		opts.DirectiveConcurrency = concurrency
	}
}

func SetHeartbeat(period, timeout time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.HeartbeatPeriod = period
		opts.HeartbeatTimeout = timeout
	}
}

func SetDirectiveTTL(ttl time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.DirectiveTTL = ttl
	}
}

func EnableMemStore() EngineOption {
	return func(opts *EngineOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the engine to use PostgreSQL store
func WithPostgresConfig(config *PostgresConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.PostgresConfig = config
	}
}

// WithNatsConfig makes head and factories communicate through NATS
func WithNatsConfig(config *NatsConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.NatsConfig = config
	}
}
