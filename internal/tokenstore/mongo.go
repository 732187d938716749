package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoToken struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Mongo stores tokens in a collection with a TTL index on expires_at. The
// TTL monitor only runs about once a minute, so reads also filter on
// expires_at.
type Mongo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongo(coll *mongo.Collection, opts ...Option) *Mongo {
	o := buildOptions(opts)
	return &Mongo{coll: coll, now: o.now}
}

// EnsureIndexes creates the TTL index.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: mongoopts.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create ttl index: %w", err)
	}
	return nil
}

func (m *Mongo) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errNonPositiveTTL
	}
	doc := mongoToken{Key: key, Value: value, ExpiresAt: m.now().Add(ttl).UTC()}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, mongoopts.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo put: %w", err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, key string) ([]byte, error) {
	var doc mongoToken
	err := m.coll.FindOne(ctx, bson.M{
		"_id":        key,
		"expires_at": bson.M{"$gt": m.now().UTC()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo get: %w", err)
	}
	return doc.Value, nil
}

func (m *Mongo) Take(ctx context.Context, key string) ([]byte, error) {
	var doc mongoToken
	err := m.coll.FindOneAndDelete(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo take: %w", err)
	}
	if !m.now().Before(doc.ExpiresAt) {
		return nil, ErrNotFound
	}
	return doc.Value, nil
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("mongo delete: %w", err)
	}
	return nil
}

func (m *Mongo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": m.now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("mongo delete expired: %w", err)
	}
	return res.DeletedCount, nil
}
