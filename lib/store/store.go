// Package store defines the product-agnostic persistence interface consumed by the channel, app-session and
// aggregator components: seeds, app-session participants and their bookkeeping, and payment-channel rows.
package store

import (
	"context"
	"errors"
)

// DB defines the persistence operations consumed by the core. Implementations must be safe for concurrent use.
type DB interface {
	// GetSeed returns the seed record for userID, or ErrDataNotFound if none exists yet.
	GetSeed(ctx context.Context, userID string) (Seed, error)
	// PutSeed creates or rotates the seed record for userID.
	PutSeed(ctx context.Context, s Seed) error

	// UpsertParticipant creates or updates a participant row, enforcing uniqueness on
	// (appSessionId, address, asset).
	UpsertParticipant(ctx context.Context, p Participant) error
	// ListParticipants returns every participant row for an app session.
	ListParticipants(ctx context.Context, appSessionID string) ([]Participant, error)

	// SaveAppSession upserts the local mirror of an app session's terminal fields.
	SaveAppSession(ctx context.Context, rec AppSessionRecord) error
	// GetAppSession returns the local mirror, or ErrDataNotFound if unknown.
	GetAppSession(ctx context.Context, appSessionID string) (AppSessionRecord, error)

	// SaveChannel upserts a channel bookkeeping row, enforcing uniqueness on (userId, chainId).
	SaveChannel(ctx context.Context, rec ChannelRecord) error
	// GetChannel returns a channel bookkeeping row, or ErrDataNotFound if unknown.
	GetChannel(ctx context.Context, userID string, chainID uint64) (ChannelRecord, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Errors returned by store implementations.
var (
	ErrDataNotFound  = errors.New("data was not found in store")
	ErrAlreadyExists = errors.New("data already exists in store")
)
