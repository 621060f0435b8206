// Package db persists the exchange event journal, its asset and offer
// projections and registered users in PostgreSQL.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/xtrntr/resourceswap/internal/db/migrate"
	"github.com/xtrntr/resourceswap/internal/db/migrations"
	"github.com/xtrntr/resourceswap/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool and checks it is reachable
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Migrate applies the embedded migrations that have not run yet
func (db *DB) Migrate(ctx context.Context) error {
	return db.migrate(ctx, migrations.FS)
}

// migrate runs each pending file in its own transaction. A failing statement
// aborts the whole transaction in Postgres, so errors are never tolerated:
// the file is rolled back and left unrecorded.
func (db *DB) migrate(ctx context.Context, fsys fs.FS) error {
	files, err := migrate.Files(fsys)
	if err != nil {
		return err
	}

	_, err = db.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrate.Table+` (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, f := range files {
		var applied bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM "+migrate.Table+" WHERE name = $1)", f.Name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", f.Name, err)
		}
		if applied {
			continue
		}

		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", f.Name, err)
		}
		if _, err := tx.Exec(ctx, f.Up); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("exec migration %s: %w", f.Name, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO "+migrate.Table+" (name) VALUES ($1) ON CONFLICT DO NOTHING", f.Name); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", f.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", f.Name, err)
		}
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, models.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Append writes one event and updates the projections in a single
// transaction. It satisfies exchange.Journal.
func (db *DB) Append(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO events (seq, event_id, kind, account, asset_id, offer_id, payload, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		ev.Seq, ev.ID, string(ev.Kind), string(ev.Account), nullID(ev.AssetID), nullID(ev.OfferID), payload, ev.At)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("event %d already journaled", ev.Seq)
		}
		return fmt.Errorf("failed to insert event %d: %w", ev.Seq, err)
	}

	if err := project(ctx, tx, ev); err != nil {
		return fmt.Errorf("failed to project event %d: %w", ev.Seq, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EventID returns the id journaled under seq. It lets the exchange confirm
// an append whose commit acknowledgement was lost.
func (db *DB) EventID(ctx context.Context, seq int64) (string, bool, error) {
	var id string
	err := db.Pool.QueryRow(ctx, "SELECT event_id::text FROM events WHERE seq = $1", seq).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up event %d: %w", seq, err)
	}
	return id, true, nil
}

func project(ctx context.Context, tx pgx.Tx, ev models.Event) error {
	var err error
	switch ev.Kind {
	case models.EventMinted:
		m := ev.Metadata
		if m == nil {
			return fmt.Errorf("mint without metadata")
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO assets (id, owner, name, type, tier, value, uri, created_at, last_transfer_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)",
			ev.AssetID, string(ev.Account), m.Name, m.Type, m.Tier, m.Value, m.URI, ev.At)

	case models.EventApproved:
		_, err = tx.Exec(ctx, "UPDATE assets SET approved_operator = $1 WHERE id = $2", string(ev.Operator), ev.AssetID)

	case models.EventApprovalForAll:
		if ev.Approved {
			_, err = tx.Exec(ctx,
				"INSERT INTO operator_grants (owner, operator) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				string(ev.Account), string(ev.Operator))
		} else {
			_, err = tx.Exec(ctx,
				"DELETE FROM operator_grants WHERE owner = $1 AND operator = $2",
				string(ev.Account), string(ev.Operator))
		}

	case models.EventOfferCreated:
		_, err = tx.Exec(ctx,
			"INSERT INTO offers (id, offerer, offered_asset_id, requested_asset_id, active, created_at) VALUES ($1, $2, $3, $4, TRUE, $5)",
			ev.OfferID, string(ev.Account), ev.OfferedAssetID, ev.RequestedAssetID, ev.At)

	case models.EventOfferAccepted:
		move := "UPDATE assets SET owner = $1, approved_operator = '', last_transfer_at = $2 WHERE id = $3"
		if _, err = tx.Exec(ctx, move, string(ev.Account), ev.At, ev.OfferedAssetID); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, move, string(ev.Counterparty), ev.At, ev.RequestedAssetID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, "UPDATE offers SET active = FALSE WHERE id = $1", ev.OfferID)

	case models.EventOfferCancelled:
		_, err = tx.Exec(ctx, "UPDATE offers SET active = FALSE WHERE id = $1", ev.OfferID)

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return err
}

// LoadEvents returns the whole journal in sequence order
func (db *DB) LoadEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := db.Pool.Query(ctx, "SELECT payload FROM events ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

const assetColumns = "id, owner, name, type, tier, value, uri, approved_operator, created_at, last_transfer_at"

func scanAsset(row pgx.Row) (models.Asset, error) {
	var a models.Asset
	var owner, operator string
	err := row.Scan(&a.ID, &owner, &a.Metadata.Name, &a.Metadata.Type, &a.Metadata.Tier,
		&a.Metadata.Value, &a.Metadata.URI, &operator, &a.CreatedAt, &a.LastTransferAt)
	a.Owner = models.Account(owner)
	a.ApprovedOperator = models.Account(operator)
	return a, err
}

// GetAsset reads one asset from the projection
func (db *DB) GetAsset(ctx context.Context, id int64) (models.Asset, error) {
	a, err := scanAsset(db.Pool.QueryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Asset{}, models.Fail(models.KindNotFound, "asset %d not found", id)
		}
		return models.Asset{}, fmt.Errorf("failed to get asset: %w", err)
	}
	return a, nil
}

// GetAssetsByOwner lists the assets of owner in ascending id order
func (db *DB) GetAssetsByOwner(ctx context.Context, owner models.Account) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE owner = $1 ORDER BY id ASC", string(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to get assets: %w", err)
	}
	defer rows.Close()

	assets := []models.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

const offerColumns = "id, offerer, offered_asset_id, requested_asset_id, active, created_at"

func scanOffer(row pgx.Row) (models.Offer, error) {
	var o models.Offer
	var offerer string
	err := row.Scan(&o.ID, &offerer, &o.OfferedAssetID, &o.RequestedAssetID, &o.Active, &o.CreatedAt)
	o.Offerer = models.Account(offerer)
	return o, err
}

// GetOffer reads one offer from the projection
func (db *DB) GetOffer(ctx context.Context, id int64) (models.Offer, error) {
	o, err := scanOffer(db.Pool.QueryRow(ctx, "SELECT "+offerColumns+" FROM offers WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Offer{}, models.Fail(models.KindNotFound, "offer %d not found", id)
		}
		return models.Offer{}, fmt.Errorf("failed to get offer: %w", err)
	}
	return o, nil
}

// GetActiveOffers lists open offers in ascending id order
func (db *DB) GetActiveOffers(ctx context.Context) ([]models.Offer, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+offerColumns+" FROM offers WHERE active ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to get offers: %w", err)
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// IsApprovedForAll reads the operator grant projection
func (db *DB) IsApprovedForAll(ctx context.Context, owner, operator models.Account) (bool, error) {
	var ok bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM operator_grants WHERE owner = $1 AND operator = $2)",
		string(owner), string(operator)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check operator grant: %w", err)
	}
	return ok, nil
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
