// Package mongostore implements docstore.Store on MongoDB. Each collection
// maps to a MongoDB collection and the record id is stored as _id.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/medconsole/clinic/internal/platform/docstore"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client, database), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Query(ctx context.Context, collection, orderBy string, dir docstore.Direction) ([]docstore.Record, error) {
	order := -1
	if dir == docstore.Ascending {
		order = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: orderBy, Value: order}, {Key: "_id", Value: 1}})

	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}

	records := make([]docstore.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, toRecord(d))
	}
	// MongoDB sorts missing fields first in ascending order.
	docstore.SortRecords(records, orderBy, dir)
	return records, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if id == "" {
		return fmt.Errorf("put %s: empty id", collection)
	}
	if err := docstore.Validate(fields); err != nil {
		return err
	}
	doc := bson.M(docstore.ResolveServerTimestamps(fields, s.now()))
	doc["_id"] = id

	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := docstore.Validate(fields); err != nil {
		return err
	}
	set := bson.M(docstore.ResolveServerTimestamps(fields, s.now()))
	delete(set, "_id")

	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func toRecord(d bson.M) docstore.Record {
	id := fmt.Sprint(plain(d["_id"]))
	fields := make(docstore.Fields, len(d))
	for k, v := range d {
		if k == "_id" {
			continue
		}
		fields[k] = plain(v)
	}
	return docstore.Record{ID: id, Fields: fields}
}

// plain converts driver types into the plain Go values the domain mappers
// understand.
func plain(v any) any {
	switch t := v.(type) {
	case bson.DateTime:
		return t.Time().UTC()
	case bson.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = plain(inner)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = plain(inner)
		}
		return out
	case bson.ObjectID:
		return t.Hex()
	}
	return v
}
