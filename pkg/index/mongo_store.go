package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCloseTimeout = 5 * time.Second

// MongoStore keeps one document per chunk and ranks them client side, so it
// works on any MongoDB deployment without Atlas vector search.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	// meta holds one fingerprint document per chunk collection.
	meta *mongo.Collection
}

type mongoChunk struct {
	ID         string         `bson:"_id"`
	Seq        int64          `bson:"seq"`
	SourcePath string         `bson:"source_path"`
	Index      int            `bson:"chunk_index"`
	Offset     int            `bson:"byte_offset"`
	Text       string         `bson:"content"`
	Metadata   map[string]any `bson:"metadata,omitempty"`
	Embedding  []float64      `bson:"embedding"`
}

func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = "repochat"
	}
	if collection == "" {
		collection = "chunks"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	return &MongoStore{client: client, collection: db.Collection(collection), meta: db.Collection(collection + "_meta")}, nil
}

func (ms *MongoStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	seq := time.Now().UnixNano()
	models := make([]mongo.WriteModel, 0, len(records))
	for i, r := range records {
		doc := mongoChunk{
			ID:         r.ID,
			Seq:        seq + int64(i),
			SourcePath: r.Chunk.SourcePath,
			Index:      r.Chunk.Index,
			Offset:     r.Chunk.Offset,
			Text:       r.Chunk.Text,
			Metadata:   r.Chunk.Metadata,
			Embedding:  float64Embedding(r.Vector),
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": r.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := ms.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("mongo upsert: %w", err)
	}
	return nil
}

func (ms *MongoStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	cursor, err := ms.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo search: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []Hit
	for cursor.Next(ctx) {
		var doc mongoChunk
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo search: decode: %w", err)
		}
		vec := float32Embedding(doc.Embedding)
		if len(vec) != len(vector) {
			return nil, fmt.Errorf("%w: query has %d dims, stored %s has %d", ErrDimensionMismatch, len(vector), doc.ID, len(vec))
		}
		p := payload{ID: doc.ID, Text: doc.Text, SourcePath: doc.SourcePath, Index: doc.Index, Offset: doc.Offset, Metadata: doc.Metadata}
		hits = append(hits, Hit{Record: Record{ID: doc.ID, Vector: vec, Chunk: p.chunk()}, Score: CosineSimilarity(vector, vec)})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo search: %w", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (ms *MongoStore) Count(ctx context.Context) (int, error) {
	n, err := ms.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("mongo count: %w", err)
	}
	return int(n), nil
}

func (ms *MongoStore) Reset(ctx context.Context) error {
	if _, err := ms.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("mongo reset: %w", err)
	}
	if _, err := ms.meta.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("mongo reset: %w", err)
	}
	return nil
}

func (ms *MongoStore) Fingerprint(ctx context.Context) (string, error) {
	var doc struct {
		Value string `bson:"value"`
	}
	err := ms.meta.FindOne(ctx, bson.M{"_id": "fingerprint"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mongo fingerprint: %w", err)
	}
	return doc.Value, nil
}

func (ms *MongoStore) SetFingerprint(ctx context.Context, fp string) error {
	_, err := ms.meta.UpdateOne(ctx,
		bson.M{"_id": "fingerprint"},
		bson.M{"$set": bson.M{"value": fp}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo set fingerprint: %w", err)
	}
	return nil
}

func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func float64Embedding(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func float32Embedding(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

var (
	_ Store         = (*MongoStore)(nil)
	_ Fingerprinter = (*MongoStore)(nil)
)
