// Package repo implements the data persistence layer over MongoDB. This file
// provides the message repository: append-only inserts, ordered history
// queries, session-summary aggregation, and bulk deletes by filter.
//
// Identifier normalization happens here and nowhere else: the store-native
// ObjectID is converted to its hex string form at this boundary, so the rest
// of the application only ever sees string ids.
//
// Error semantics: driver errors are wrapped and propagated; an empty result
// set is not an error, and deleting messages that do not exist reports zero
// affected documents.
package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tbourn/go-law-agent/internal/domain"
)

// MessageRepo persists and queries chat messages. It is safe for concurrent
// use; the underlying collection handle is pooled by the driver.
type MessageRepo struct {
	coll *mongo.Collection
}

// NewMessageRepo binds a repository to the message collection of db.
func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{coll: db.Collection(CollectionMessages)}
}

// storedMessage pairs the store-native identifier with the domain record for
// decoding. It never leaves this package.
type storedMessage struct {
	OID            primitive.ObjectID `bson:"_id"`
	domain.Message `bson:",inline"`
}

// InsertMessage appends m to the store, assigning its timestamp (UTC, write
// time) when unset and returning the new message id as a hex string.
func (r *MessageRepo) InsertMessage(ctx context.Context, m *domain.Message) (string, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	res, err := r.coll.InsertOne(ctx, m)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert message: unexpected id type %T", res.InsertedID)
	}
	m.ID = oid.Hex()
	return m.ID, nil
}

// ListMessages returns up to limit messages of sessionID in non-decreasing
// timestamp order. A non-empty userID narrows the filter to that owner.
// Timestamp ties are resolved arbitrarily by the store.
func (r *MessageRepo) ListMessages(ctx context.Context, sessionID, userID string, limit int) ([]domain.Message, error) {
	filter := bson.M{"session_id": sessionID}
	if userID != "" {
		filter["user_id"] = userID
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	for cur.Next(ctx) {
		var doc storedMessage
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		m := doc.Message
		m.ID = doc.OID.Hex()
		out = append(out, m)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// ListUserSessions aggregates the distinct sessions owned by userID, newest
// first, each summarized by its most recent message content and timestamp.
func (r *MessageRepo) ListUserSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$session_id",
			"last_message": bson.M{"$first": "$content"},
			"timestamp":    bson.M{"$first": "$timestamp"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(limit)}})
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate sessions: %w", err)
	}
	defer cur.Close(ctx)

	out := []domain.SessionSummary{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

// DeleteMessages removes every message of sessionID (narrowed to userID when
// non-empty) and reports how many documents were removed. Deleting a session
// that does not exist is not an error and reports zero.
func (r *MessageRepo) DeleteMessages(ctx context.Context, sessionID, userID string) (int64, error) {
	filter := bson.M{"session_id": sessionID}
	if userID != "" {
		filter["user_id"] = userID
	}
	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.DeletedCount, nil
}

// CountMessages reports how many messages match sessionID (and userID when
// non-empty).
func (r *MessageRepo) CountMessages(ctx context.Context, sessionID, userID string) (int64, error) {
	filter := bson.M{"session_id": sessionID}
	if userID != "" {
		filter["user_id"] = userID
	}
	n, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
