// Package postgres implements the store.DB interface for PostgreSQL. It exists for interface-compatibility with
// deployments that standardize on Postgres; the primary, fully implemented backend is MongoDB (package
// lib/store/mongo). Every data method here returns an errs.Unavailable error; only Close touches the connection.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver

	"github.com/tarancss/core/lib/errs"
	"github.com/tarancss/core/lib/store"
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New opens (but does not yet query) a PostgreSQL connection at the given DSN.
func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to postgres db in %s: %w", dsn, err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close(_ context.Context) error {
	return p.db.Close()
}

var errNotImplemented = errs.NewUnavailable("postgres", fmt.Errorf("postgres backend schema not implemented"))

func (p *Postgres) GetSeed(context.Context, string) (store.Seed, error) { return store.Seed{}, errNotImplemented }
func (p *Postgres) PutSeed(context.Context, store.Seed) error           { return errNotImplemented }

func (p *Postgres) UpsertParticipant(context.Context, store.Participant) error { return errNotImplemented }
func (p *Postgres) ListParticipants(context.Context, string) ([]store.Participant, error) {
	return nil, errNotImplemented
}

func (p *Postgres) SaveAppSession(context.Context, store.AppSessionRecord) error { return errNotImplemented }
func (p *Postgres) GetAppSession(context.Context, string) (store.AppSessionRecord, error) {
	return store.AppSessionRecord{}, errNotImplemented
}

func (p *Postgres) SaveChannel(context.Context, store.ChannelRecord) error { return errNotImplemented }
func (p *Postgres) GetChannel(context.Context, string, uint64) (store.ChannelRecord, error) {
	return store.ChannelRecord{}, errNotImplemented
}
