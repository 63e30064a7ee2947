// Package mongo provides a questflow storage backend on MongoDB.
package mongo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/questflow/internal/storage"
)

// Storage is a storage.Storage that keeps one document per key.
type Storage struct {
	coll *mongo.Collection
}

// Ensure it implements storage.Storage.
var _ storage.Storage = (*Storage)(nil)

// NewStorage creates a Mongo-backed Storage.
// dbName defaults to "questflow" if empty, collName defaults to "kv".
func NewStorage(client *mongo.Client, dbName, collName string) *Storage {
	if dbName == "" {
		dbName = "questflow"
	}
	if collName == "" {
		collName = "kv"
	}

	return &Storage{
		coll: client.Database(dbName).Collection(collName),
	}
}

type kvDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	var doc kvDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", storage.ErrNotFound
		}
		return "", classifyError(err)
	}
	return doc.Value, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	doc := kvDoc{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": key},
		doc,
		options.Replace().SetUpsert(true),
	)
	return classifyError(err)
}

func (s *Storage) Remove(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": key})
	return classifyError(err)
}

func (s *Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{}
	if prefix != "" {
		filter["_id"] = bson.M{"$regex": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, classifyError(err)
	}
	defer cur.Close(ctx)

	var keys []string
	for cur.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cur.Err()
}

// Atlas reports an exhausted storage quota with this code.
const codeSpaceQuotaExceeded = 8000

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(codeSpaceQuotaExceeded) {
		return storage.QuotaError(err)
	}
	if strings.Contains(err.Error(), "over your space quota") {
		return storage.QuotaError(err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return storage.Transient(err)
	}
	return err
}
