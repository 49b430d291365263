// Package mongo provides a MongoDB-backed [store.Remote]. Each remote
// collection maps onto a MongoDB collection of the same name; documents carry
// the owning user id so several users can share a database. Profiles live in
// the "users" collection keyed by user id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MrWong99/moodsense/pkg/store"
)

var _ store.Remote = (*Remote)(nil)

// usersCollection holds one profile document per user.
const usersCollection = "users"

type recordDoc struct {
	UserID    string         `bson:"user_id"`
	Emotion   string         `bson:"emotion,omitempty"`
	Fields    map[string]any `bson:"fields,omitempty"`
	Timestamp time.Time      `bson:"timestamp"`
}

type profileDoc struct {
	ID     string `bson:"_id"`
	Age    int    `bson:"age"`
	Gender string `bson:"gender"`
}

// Remote is a MongoDB-backed remote store scoped to a single user.
type Remote struct {
	client *mongo.Client
	db     *mongo.Database
	userID string
}

// New connects to uri, pings the primary and returns a store using database.
func New(ctx context.Context, uri, database, userID string) (*Remote, error) {
	if userID == "" {
		return nil, fmt.Errorf("mongo remote: user id must not be empty")
	}
	if database == "" {
		database = "moodsense"
	}
	opts := options.Client().ApplyURI(uri).
		SetServerSelectionTimeout(20 * time.Second).
		SetConnectTimeout(15 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo remote: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo remote: ping: %w", err)
	}
	return &Remote{client: client, db: client.Database(database), userID: userID}, nil
}

// EnsureIndexes creates the (user_id, timestamp desc) index QueryLatest relies
// on for each named collection.
func (r *Remote) EnsureIndexes(ctx context.Context, collections ...string) error {
	for _, name := range collections {
		_, err := r.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_user_ts"),
		})
		if err != nil {
			return fmt.Errorf("mongo remote: index %q: %w", name, err)
		}
	}
	return nil
}

// Append implements [store.Remote].
func (r *Remote) Append(ctx context.Context, collection string, rec store.Record) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	doc := recordDoc{UserID: r.userID, Emotion: rec.Emotion, Fields: rec.Fields, Timestamp: ts}
	if _, err := r.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo remote: append %s: %w", store.UserPath(r.userID, collection), err)
	}
	return nil
}

// QueryLatest implements [store.Remote].
func (r *Remote) QueryLatest(ctx context.Context, collection string) (store.Record, bool, error) {
	var doc recordDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	err := r.db.Collection(collection).FindOne(ctx, bson.M{"user_id": r.userID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, fmt.Errorf("mongo remote: query latest %s: %w", store.UserPath(r.userID, collection), err)
	}
	return store.Record{Emotion: doc.Emotion, Fields: doc.Fields, Timestamp: doc.Timestamp}, true, nil
}

// Profile implements [store.Remote].
func (r *Remote) Profile(ctx context.Context) (store.Profile, error) {
	var doc profileDoc
	err := r.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": r.userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return store.Profile{}, fmt.Errorf("mongo remote: profile: %w", err)
	}
	return store.Profile{Age: doc.Age, Gender: doc.Gender}, nil
}

// UpsertProfile creates or replaces the user's profile document.
func (r *Remote) UpsertProfile(ctx context.Context, p store.Profile) error {
	_, err := r.db.Collection(usersCollection).ReplaceOne(ctx,
		bson.M{"_id": r.userID},
		profileDoc{ID: r.userID, Age: p.Age, Gender: p.Gender},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo remote: upsert profile: %w", err)
	}
	return nil
}

// Ping implements [store.Remote].
func (r *Remote) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close implements [store.Remote].
func (r *Remote) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
