/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Q&A server, and hosts the operational
  commands that share its configuration.

COMMANDS:
  serve    Run the HTTP API (default)
  migrate  Apply pending schema migrations and list applied versions
  seed     Load YAML fixtures through the workflows (embedded demo by default)
  audit    Replay every user's reputation history once and report drift

STARTUP SEQUENCE (serve):
  1. Load QA_* environment config, apply flag overrides
  2. Open the store (migrations run on open)
  3. Build the service, audit scheduler and HTTP handler
  4. Start server with graceful shutdown

FLAGS:
  --db      Database DSN or sqlite path (overrides QA_DB_DSN)
  --driver  sqlite3 | pgx (overrides QA_DB_DRIVER)
  --port    HTTP server port (serve only, overrides QA_HTTP_PORT)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close the database
  4. Exit

EXAMPLES:
  # Run with a sqlite file
  ./server serve --db ./data/qa.db

  # Run against postgres
  QA_DB_DRIVER=pgx QA_DB_DSN=postgres://qa:qa@localhost:5432/qa ./server

  # Seed demo data, then audit
  ./server seed && ./server audit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
