// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/store"
)

var schema = []string{ //nolint:gochecknoglobals // DDL
	`CREATE TABLE IF NOT EXISTS backends (
		seq BIGSERIAL,
		net TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		methods TEXT[],
		max_workers INTEGER NOT NULL DEFAULT 0,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		failure_threshold INTEGER NOT NULL DEFAULT 0,
		rate_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (net, id))`,
	`CREATE TABLE IF NOT EXISTS settings (
		net TEXT PRIMARY KEY,
		manual BOOLEAN NOT NULL,
		pinned TEXT NOT NULL DEFAULT '')`,
	`CREATE TABLE IF NOT EXISTS views (
		net TEXT PRIMARY KEY,
		view JSONB NOT NULL)`,
}

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the tables it
// needs.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	p := NewWithDB(db)
	if err = p.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return p, nil
}

// NewWithDB wraps an open database handle.
func NewWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate() error {
	for _, ddl := range schema {
		if _, err := p.db.Exec(ddl); err != nil {
			return fmt.Errorf("cannot create tables: %w", err)
		}
	}

	return nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// AddBackend saves a custom backend of network net unless a backend with the same id exists.
func (p *Postgres) AddBackend(net string, b config.BackendConfig) error {
	res, err := p.db.Exec(`INSERT INTO backends
		(net, id, kind, url, secret, methods, max_workers, timeout_ms, failure_threshold, rate_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (net, id) DO NOTHING`,
		net, b.ID, b.Kind, b.URL, b.Secret, pq.Array(b.Methods), b.MaxWorkers, b.TimeoutMs, b.FailureThreshold,
		b.RateLimit)
	if err != nil {
		return fmt.Errorf("could not insert backend in db: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", store.ErrBackendExists, b.ID)
	}

	return nil
}

// RemoveBackend deletes a custom backend from the database.
func (p *Postgres) RemoveBackend(net, id string) error {
	res, err := p.db.Exec(`DELETE FROM backends WHERE net = $1 AND id = $2`, net, id)
	if err != nil {
		return fmt.Errorf("could not delete backend from db: %w", err)
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrBackendNotFound
	}

	return nil
}

// GetBackends returns the custom backends saved for network net, in insertion order.
func (p *Postgres) GetBackends(net string) ([]config.BackendConfig, error) {
	rows, err := p.db.Query(`SELECT id, kind, url, secret, methods, max_workers, timeout_ms, failure_threshold,
		rate_limit FROM backends WHERE net = $1 ORDER BY seq`, net)
	if err != nil {
		return nil, fmt.Errorf("could not query backends: %w", err)
	}
	defer rows.Close()

	bs := []config.BackendConfig{}

	for rows.Next() {
		b := config.BackendConfig{Custom: true}
		if err = rows.Scan(&b.ID, &b.Kind, &b.URL, &b.Secret, pq.Array(&b.Methods), &b.MaxWorkers, &b.TimeoutMs,
			&b.FailureThreshold, &b.RateLimit); err != nil {
			return nil, fmt.Errorf("could not read backend: %w", err)
		}

		bs = append(bs, b)
	}

	return bs, rows.Err()
}

// LoadSettings loads from db the balancer mode of network net.
func (p *Postgres) LoadSettings(net string) (s store.Settings, err error) {
	err = p.db.QueryRow(`SELECT manual, pinned FROM settings WHERE net = $1`, net).Scan(&s.Manual, &s.Pinned)
	if errors.Is(err, sql.ErrNoRows) {
		err = store.ErrDataNotFound
	}

	return
}

// SaveSettings saves to db the balancer mode of network net.
func (p *Postgres) SaveSettings(net string, s store.Settings) error {
	_, err := p.db.Exec(`INSERT INTO settings (net, manual, pinned) VALUES ($1, $2, $3)
		ON CONFLICT (net) DO UPDATE SET manual = EXCLUDED.manual, pinned = EXCLUDED.pinned`, net, s.Manual, s.Pinned)

	return err
}

// LoadView loads from db the observer view of network net.
func (p *Postgres) LoadView(net string) (v store.NetView, err error) {
	var doc []byte

	err = p.db.QueryRow(`SELECT view FROM views WHERE net = $1`, net).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return v, store.ErrDataNotFound
	}

	if err != nil {
		return v, err
	}

	err = json.Unmarshal(doc, &v)

	return
}

// SaveView saves to db the observer view of network net.
func (p *Postgres) SaveView(net string, v store.NetView) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(`INSERT INTO views (net, view) VALUES ($1, $2)
		ON CONFLICT (net) DO UPDATE SET view = EXCLUDED.view`, net, doc)

	return err
}
