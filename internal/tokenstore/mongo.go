package tokenstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// storedValue is the Mongo representation of one Token Store key.
type storedValue struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoRepository implements Repository using a Mongo collection. It does not
// report changes; stores built on it run without cross-process sync.
type MongoRepository struct {
	col    *mongo.Collection
	prefix string
}

var _ Repository = (*MongoRepository)(nil)

func NewMongoRepository(col *mongo.Collection, prefix string) *MongoRepository {
	return &MongoRepository{col: col, prefix: prefix}
}

func (r *MongoRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var v storedValue
	if err := r.col.FindOne(ctx, bson.M{"_id": r.prefix + key}).Decode(&v); err != nil {
		if err == mongo.ErrNoDocuments {
			return "", false, nil
		}
		return "", false, err
	}
	return v.Value, true, nil
}

func (r *MongoRepository) Set(ctx context.Context, key, value string) error {
	filter := bson.M{"_id": r.prefix + key}
	rec := bson.M{"$set": bson.M{"value": value, "updatedAt": time.Now().UTC()}}
	_, err := r.col.UpdateOne(ctx, filter, rec, options.Update().SetUpsert(true))
	return err
}

func (r *MongoRepository) Delete(ctx context.Context, key string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"_id": r.prefix + key})
	return err
}
