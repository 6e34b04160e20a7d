// Package mongo implements the store.DB interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/core/lib/store"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connected to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// Close gracefully disconnects from MongoDB.
func (m *Mongo) Close(ctx context.Context) error {
	return m.c.Disconnect(ctx)
}

// GetSeed returns the seed record for userID.
func (m *Mongo) GetSeed(ctx context.Context, userID string) (store.Seed, error) {
	var s store.Seed

	col := m.c.Database("core").Collection("seeds")

	err := col.FindOne(ctx, bson.M{"userId": userID}).Decode(&s)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return s, store.ErrDataNotFound
	}

	if err != nil {
		return s, fmt.Errorf("could not load seed from db: %w", err)
	}

	return s, nil
}

// PutSeed creates the seed record for userID. Seeds are immutable once created; an attempt to overwrite an
// existing record is rejected.
func (m *Mongo) PutSeed(ctx context.Context, s store.Seed) error {
	col := m.c.Database("core").Collection("seeds")

	if _, err := col.InsertOne(ctx, s); err != nil {
		return fmt.Errorf("could not insert seed in db: %w", err)
	}

	return nil
}

// UpsertParticipant creates or updates a participant row keyed on (appSessionId, address, asset).
func (m *Mongo) UpsertParticipant(ctx context.Context, p store.Participant) error {
	col := m.c.Database("core").Collection("participants")

	filter := bson.M{"appSessionId": p.AppSessionID, "address": p.Address, "asset": p.Asset}
	update := bson.M{"$set": p}

	_, err := col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not upsert participant in db: %w", err)
	}

	return nil
}

// ListParticipants returns every participant row for an app session.
func (m *Mongo) ListParticipants(ctx context.Context, appSessionID string) ([]store.Participant, error) {
	col := m.c.Database("core").Collection("participants")

	cur, err := col.Find(ctx, bson.M{"appSessionId": appSessionID})
	if err != nil {
		return nil, fmt.Errorf("could not list participants: %w", err)
	}

	defer cur.Close(ctx)

	parts := []store.Participant{}

	for cur.Next(ctx) {
		var p store.Participant
		if err = cur.Decode(&p); err != nil {
			return nil, fmt.Errorf("could not decode participant: %w", err)
		}

		parts = append(parts, p)
	}

	return parts, nil
}

// SaveAppSession upserts the local mirror of an app session's terminal fields.
func (m *Mongo) SaveAppSession(ctx context.Context, rec store.AppSessionRecord) error {
	col := m.c.Database("core").Collection("appsessions")

	filter := bson.M{"appSessionId": rec.AppSessionID}
	update := bson.M{"$set": rec}

	_, err := col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save app session in db: %w", err)
	}

	return nil
}

// GetAppSession returns the local mirror of an app session.
func (m *Mongo) GetAppSession(ctx context.Context, appSessionID string) (store.AppSessionRecord, error) {
	var rec store.AppSessionRecord

	col := m.c.Database("core").Collection("appsessions")

	err := col.FindOne(ctx, bson.M{"appSessionId": appSessionID}).Decode(&rec)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return rec, store.ErrDataNotFound
	}

	if err != nil {
		return rec, fmt.Errorf("could not load app session from db: %w", err)
	}

	return rec, nil
}

// SaveChannel upserts a channel bookkeeping row keyed on (userId, chainId).
func (m *Mongo) SaveChannel(ctx context.Context, rec store.ChannelRecord) error {
	col := m.c.Database("core").Collection("channels")

	filter := bson.M{"userId": rec.UserID, "chainId": rec.ChainID}
	update := bson.M{"$set": rec}

	_, err := col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save channel in db: %w", err)
	}

	return nil
}

// GetChannel returns a channel bookkeeping row.
func (m *Mongo) GetChannel(ctx context.Context, userID string, chainID uint64) (store.ChannelRecord, error) {
	var rec store.ChannelRecord

	col := m.c.Database("core").Collection("channels")

	err := col.FindOne(ctx, bson.M{"userId": userID, "chainId": chainID}).Decode(&rec)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return rec, store.ErrDataNotFound
	}

	if err != nil {
		return rec, fmt.Errorf("could not load channel from db: %w", err)
	}

	return rec, nil
}
