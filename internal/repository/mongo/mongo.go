// Package mongo provides a MongoDB-backed content.Repository.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
)

const itemsCollection = "items"

// Store keeps item records as documents in the "items" collection.
type Store struct {
	client *mongo.Client
	items  *mongo.Collection
}

// New connects to MongoDB and pings the server.
func New(ctx context.Context, uri, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logging.Info("MongoDB connected", zap.String("database", database))
	return &Store{
		client: client,
		items:  client.Database(database).Collection(itemsCollection),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func observe(query string, start time.Time) {
	metrics.RecordRepositoryQuery("mongo", query, time.Since(start))
}

func (s *Store) Get(ctx context.Context, id string) (*content.Record, error) {
	defer observe("get", time.Now())

	var rec content.Record
	err := s.items.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get %s: %w", id, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) Create(ctx context.Context, rec *content.Record) error {
	defer observe("create", time.Now())

	if _, err := s.items.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert item %s: %w", rec.ID, err)
	}
	return nil
}

// Save sets every mutable field except metadata.views and references.thumb.
// deleted is only ever set to true here.
func (s *Store) Save(ctx context.Context, rec *content.Record) error {
	defer observe("save", time.Now())

	set := bson.M{
		"name":                 rec.Name,
		"metadata.mime":        rec.Metadata.Mime,
		"metadata.encoding":    rec.Metadata.Encoding,
		"metadata.filetype":    rec.Metadata.Filetype,
		"metadata.expiresAt":   rec.Metadata.ExpiresAt,
		"metadata.expired":     rec.Metadata.Expired,
		"metadata.virus":       rec.Metadata.Virus,
		"references.storage":   rec.References.Storage,
		"references.canonical": rec.References.Canonical,
		"owner":                rec.Owner,
	}
	if rec.Deleted {
		set["deleted"] = true
	}

	res, err := s.items.UpdateOne(ctx, bson.M{"_id": rec.ID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update item %s: %w", rec.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("save %s: %w", rec.ID, content.ErrNotFound)
	}
	return nil
}

func (s *Store) IncrementViews(ctx context.Context, id string) error {
	defer observe("increment_views", time.Now())

	res, err := s.items.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"metadata.views": 1}},
	)
	if err != nil {
		return fmt.Errorf("increment views %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("increment views %s: %w", id, content.ErrNotFound)
	}
	return nil
}

func (s *Store) LinkThumb(ctx context.Context, id, thumbID string) error {
	defer observe("link_thumb", time.Now())

	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"references.thumb": bson.M{"$exists": false}},
			bson.M{"references.thumb": ""},
		},
	}
	res, err := s.items.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"references.thumb": thumbID}})
	if err != nil {
		return fmt.Errorf("link thumb %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return content.ErrThumbAlreadySet
}
