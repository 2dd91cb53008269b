// Package postgres keeps the state shared by the head and the factories in a
// PostgreSQL table: campaigns, scenario summaries, factories and the minion
// assignments.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/store"
	"github.com/warriorguo/loadflow/types"
)

const DefaultTable = "loadflow_store"

var (
	_ store.Store = &pgStore{}
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
	// Table holding the values, created when missing.
	Table string
	/**
	 * MaxOpenConns bounds the connections of the node, every factory of a
	 * campaign holding its own pool. Unlimited when zero.
	 */
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// FromEngineConfig completes the engine configuration with the defaults.
func FromEngineConfig(pc *types.PostgresConfig) *Config {
	config := DefaultConfig()
	if pc == nil {
		return config
	}
	if pc.Host != "" {
		config.Host = pc.Host
	}
	if pc.Port > 0 {
		config.Port = pc.Port
	}
	if pc.User != "" {
		config.User = pc.User
	}
	config.Password = pc.Password
	if pc.Database != "" {
		config.Database = pc.Database
	}
	if pc.SSLMode != "" {
		config.SSLMode = pc.SSLMode
	}
	return config
}

func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "loadflow",
		SSLMode:         "disable",
		Table:           DefaultTable,
		MaxOpenConns:    8,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

type pgStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore connects to the database and creates the table when
// missing.
func NewPostgresStore(config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.Annotatef(err, "open postgres %s:%d", config.Host, config.Port)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "ping postgres %s:%d", config.Host, config.Port)
	}

	s := &pgStore{db: db, table: config.Table}
	if err := s.initTable(ctx); err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}

	log.Infof("postgres store ready on %s:%d/%s, table %s", config.Host, config.Port, config.Database, config.Table)
	return s, nil
}

// NewPostgresStoreWithDB uses an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB, table string) (store.Store, error) {
	if db == nil {
		return nil, errors.NotValidf("nil db")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTable.MatchString(table) {
		return nil, errors.NotValidf("table name %q", table)
	}

	s := &pgStore{db: db, table: table}
	if err := s.initTable(context.Background()); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (p *pgStore) initTable(ctx context.Context) error {
	query := p.sql(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			prefix VARCHAR(255) NOT NULL,
			key VARCHAR(255) NOT NULL,
			value BYTEA,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (prefix, key)
		);
	`)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return errors.Annotatef(err, "create table %s", p.table)
	}
	return nil
}

func (p *pgStore) sql(format string) string {
	return fmt.Sprintf(format, p.table)
}

func (p *pgStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	query := p.sql(`SELECT value FROM %[1]s WHERE prefix = $1 AND key = $2`)

	var value []byte
	err := p.db.QueryRowContext(ctx, query, prefix, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "get %s%s", prefix, key)
	}
	return value, nil
}

func (p *pgStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	query := p.sql(`
		INSERT INTO %[1]s (prefix, key, value, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`)
	if _, err := p.db.ExecContext(ctx, query, prefix, key, value); err != nil {
		return errors.Annotatef(err, "set %s%s", prefix, key)
	}
	return nil
}

func (p *pgStore) Remove(ctx context.Context, prefix, key string) error {
	query := p.sql(`DELETE FROM %[1]s WHERE prefix = $1 AND key = $2`)
	if _, err := p.db.ExecContext(ctx, query, prefix, key); err != nil {
		return errors.Annotatef(err, "remove %s%s", prefix, key)
	}
	return nil
}

func (p *pgStore) RemovePrefix(ctx context.Context, prefix string) error {
	query := p.sql(`DELETE FROM %[1]s WHERE prefix = $1`)
	result, err := p.db.ExecContext(ctx, query, prefix)
	if err != nil {
		return errors.Annotatef(err, "remove prefix %s", prefix)
	}
	if removed, err := result.RowsAffected(); err == nil {
		log.Debugf("removed %d keys of %s", removed, prefix)
	}
	return nil
}

func (p *pgStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	query := p.sql(`SELECT key FROM %[1]s WHERE prefix = $1 ORDER BY key`)

	rows, err := p.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return errors.Annotatef(err, "list %s", prefix)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return errors.Annotatef(err, "scan key of %s", prefix)
		}
		if !iterator(key) {
			break
		}
	}
	return errors.Annotatef(rows.Err(), "list %s", prefix)
}

func (p *pgStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

var (
	validTable    = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	validSSLModes = map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
)

// Validate completes the empty SSL mode and table with their defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.NotValidf("empty host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NotValidf("port %d", c.Port)
	}
	if c.User == "" {
		return errors.NotValidf("empty user")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if !validSSLModes[c.SSLMode] {
		return errors.NotValidf("sslmode %s", c.SSLMode)
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if !validTable.MatchString(c.Table) {
		return errors.NotValidf("table name %q", c.Table)
	}
	if c.MaxOpenConns < 0 {
		return errors.NotValidf("max open connections %d", c.MaxOpenConns)
	}
	return nil
}

// ParseDSN accepts both the key/value form,
// "host=localhost port=5432 user=postgres dbname=loadflow sslmode=disable",
// and the URL form, "postgres://postgres@localhost:5432/loadflow".
func ParseDSN(dsn string) (*Config, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return nil, errors.Annotatef(err, "parse postgres url")
		}
		dsn = converted
	}

	config := DefaultConfig()
	for _, part := range strings.Fields(dsn) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch key {
		case "host":
			config.Host = value
		case "port":
			if _, err := fmt.Sscanf(value, "%d", &config.Port); err != nil {
				return nil, errors.NotValidf("port %q", value)
			}
		case "user":
			config.User = value
		case "password":
			config.Password = value
		case "dbname":
			config.Database = value
		case "sslmode":
			config.SSLMode = value
		}
	}
	return config, config.Validate()
}
