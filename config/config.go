/*
config.go - Runtime configuration from the environment

PURPOSE:
  All server settings come from QA_* environment variables, parsed with
  envconfig. Command-line flags in cmd/server override a few of them.

VARIABLES (prefix QA_):
  HTTP_PORT            HTTP listen port (8080)
  DB_DRIVER            sqlite3 | pgx (sqlite3)
  DB_DSN               driver DSN; for sqlite3 SQLITE_PATH is used when empty
  SQLITE_PATH          database file (qa.db)
  DB_MAX_CONNS         pool size for pgx (10)
  LOG_LEVEL            logrus level (info)
  LOG_FORMAT           text | json (text)
  TX_MAX_ATTEMPTS      attempts per workflow on transient failures (3)
  TX_RETRY_BACKOFF     linear backoff step between attempts (20ms)
  EDIT_WINDOW          how long a post stays editable (24h)
  AUDIT_ENABLED        run the reputation audit on a schedule (true)
  AUDIT_SCHEDULE       cron spec for the audit (0 3 * * *)
  CORS_ORIGINS         comma separated allowed origins
  REP_POST_CREATED, REP_POST_DELETED, REP_ANSWER_CREATED,
  REP_ANSWER_ACCEPTED  reputation award overrides

SEE ALSO:
  - cmd/server/main.go: Loads and applies the config
  - reputation/policy.go: Award defaults
*/
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/warp/qa-engine/reputation"
	"github.com/warp/qa-engine/store/sqlstore"
)

// Prefix is prepended to every environment variable name.
const Prefix = "QA"

// Config holds every server setting.
type Config struct {
	// --- HTTP ---
	HTTPPort    int      `envconfig:"HTTP_PORT" default:"8080"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`

	// --- Database ---
	DBDriver   string `envconfig:"DB_DRIVER" default:"sqlite3"`
	DBDSN      string `envconfig:"DB_DSN"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"qa.db"`
	DBMaxConns int    `envconfig:"DB_MAX_CONNS" default:"10"`

	// --- Logging ---
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// --- Workflows ---
	TxMaxAttempts  int           `envconfig:"TX_MAX_ATTEMPTS" default:"3"`
	TxRetryBackoff time.Duration `envconfig:"TX_RETRY_BACKOFF" default:"20ms"`
	EditWindow     time.Duration `envconfig:"EDIT_WINDOW" default:"24h"`

	// --- Audit ---
	AuditEnabled  bool   `envconfig:"AUDIT_ENABLED" default:"true"`
	AuditSchedule string `envconfig:"AUDIT_SCHEDULE" default:"0 3 * * *"`

	// --- Reputation ---
	RepPostCreated    int `envconfig:"REP_POST_CREATED" default:"5"`
	RepPostDeleted    int `envconfig:"REP_POST_DELETED" default:"-10"`
	RepAnswerCreated  int `envconfig:"REP_ANSWER_CREATED" default:"10"`
	RepAnswerAccepted int `envconfig:"REP_ANSWER_ACCEPTED" default:"15"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads the environment without validating, for callers that apply
// overrides first.
func Parse() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// DSN returns the data source name for the configured driver.
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	return c.SQLitePath
}

// Policy returns the reputation policy with any overrides applied.
func (c *Config) Policy() reputation.Policy {
	return reputation.Policy{
		PostCreated:    c.RepPostCreated,
		PostDeleted:    c.RepPostDeleted,
		AnswerCreated:  c.RepAnswerCreated,
		AnswerAccepted: c.RepAnswerAccepted,
		Initial:        reputation.DefaultPolicy().Initial,
	}
}

// StoreOptions returns pool settings for sqlstore.Open.
func (c *Config) StoreOptions() sqlstore.Options {
	return sqlstore.Options{MaxOpenConns: c.DBMaxConns}
}

// Validate checks every field that has a constrained range.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("QA_HTTP_PORT out of range: %d", c.HTTPPort))
	}
	switch c.DBDriver {
	case sqlstore.DriverSQLite:
	case sqlstore.DriverPostgres:
		if c.DBDSN == "" {
			errs = append(errs, errors.New("QA_DB_DSN is required for the pgx driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("QA_DB_DRIVER must be %s or %s, got %q",
			sqlstore.DriverSQLite, sqlstore.DriverPostgres, c.DBDriver))
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, errors.New("QA_DB_MAX_CONNS must be > 0"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("QA_LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("QA_LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.TxMaxAttempts < 1 {
		errs = append(errs, errors.New("QA_TX_MAX_ATTEMPTS must be >= 1"))
	}
	if c.TxRetryBackoff < 0 {
		errs = append(errs, errors.New("QA_TX_RETRY_BACKOFF must not be negative"))
	}
	if c.EditWindow <= 0 {
		errs = append(errs, errors.New("QA_EDIT_WINDOW must be > 0"))
	}
	if c.AuditEnabled {
		if _, err := cron.ParseStandard(c.AuditSchedule); err != nil {
			errs = append(errs, fmt.Errorf("QA_AUDIT_SCHEDULE: %w", err))
		}
	}
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ConfigureLogging applies level and format to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
