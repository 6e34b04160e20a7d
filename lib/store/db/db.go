// Package db implements the opening of database connections for the configured backend.
package db

import (
	"github.com/tarancss/core/lib/store"
	"github.com/tarancss/core/lib/store/mongo"
	"github.com/tarancss/core/lib/store/postgres"
)

// Supported database backends.
const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new database connection for the given backend (MONGODB or POSTGRES); an unrecognized or empty
// backend defaults to MongoDB.
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	}

	return mongo.New(connection)
}
