// Package store opens the journal and user store selected by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/xtrntr/resourceswap/internal/auth"
	"github.com/xtrntr/resourceswap/internal/config"
	"github.com/xtrntr/resourceswap/internal/db"
	"github.com/xtrntr/resourceswap/internal/db/sqlite"
	"github.com/xtrntr/resourceswap/internal/exchange"
	"github.com/xtrntr/resourceswap/internal/models"
)

// Store is the persistence the server needs: users, the event journal and
// the loader used to rebuild the exchange at startup.
type Store interface {
	auth.UserStore
	exchange.Journal
	LoadEvents(ctx context.Context) ([]models.Event, error)
	Close() error
}

// Postgres adapts *db.DB to Store. The projection queries stay reachable
// through the embedded DB.
type Postgres struct {
	*db.DB
}

// Close closes the pool
func (p Postgres) Close() error {
	return p.DB.Close(context.Background())
}

// Open connects the configured driver, migrating Postgres on the way
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("opened sqlite store")
		return s, nil
	case config.DriverPostgres:
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close(ctx)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("connected to postgres")
		return Postgres{DB: database}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Restore replays every journaled event into a new exchange that journals
// further commands to s.
func Restore(ctx context.Context, s Store, policy exchange.Policy, log logrus.FieldLogger) (*exchange.Exchange, error) {
	events, err := s.LoadEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	ex := exchange.NewExchange(policy, exchange.WithJournal(s), exchange.WithLogger(log))
	if err := ex.Replay(events); err != nil {
		return nil, err
	}
	log.WithField("events", len(events)).Info("restored exchange state")
	return ex, nil
}
