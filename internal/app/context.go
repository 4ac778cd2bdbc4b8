package app

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"

	"projectservice/internal/config"
	"projectservice/internal/db"
	"projectservice/internal/engine"
	"projectservice/internal/events"
	"projectservice/internal/migrate"
)

// Runtime bundles what a command or the HTTP server needs: the migrated
// database, the workspace config and an engine publishing to the
// configured event bus.
type Runtime struct {
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	publisher events.Publisher
}

// Open prepares the workspace: it loads the config (defaults when the file
// is missing), applies it to the standard logger, opens and migrates the
// database and wires the event publisher. A configured Redis that does not
// answer a ping is logged and left in place; publish failures are logged
// per event.
func Open(ctx context.Context, workspace string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ConfigureLogger(log.StandardLogger()); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pub := events.NewPublisher(cfg.Redis)
	if rp, ok := pub.(*events.RedisPublisher); ok {
		if err := rp.Ping(ctx); err != nil {
			log.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("event bus unreachable")
		}
	}
	eng := engine.New(conn, cfg)
	eng.Publisher = pub
	return &Runtime{DB: conn, Config: cfg, Engine: eng, publisher: pub}, nil
}

// Close releases the publisher and the database.
func (r *Runtime) Close() error {
	if rp, ok := r.publisher.(*events.RedisPublisher); ok {
		if err := rp.Close(); err != nil {
			log.WithError(err).Warn("close event bus")
		}
	}
	return r.DB.Close()
}
