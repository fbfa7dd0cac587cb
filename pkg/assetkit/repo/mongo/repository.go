// Package mongo implements the asset repository on a MongoDB
// collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// DefaultCollection is the collection name used when none is given.
const DefaultCollection = "assets.metadata"

// Repository implements assetkit.Repository backed by a MongoDB
// collection. Record ids are stored as string _id values so they line
// up with GridFS file ids.
type Repository struct {
	coll *mongo.Collection
}

// New creates a repository over the given database. An empty collection
// name selects DefaultCollection.
func New(db *mongo.Database, collection string) *Repository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Repository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the indexes the query paths rely on. Safe to
// call at every startup.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "filename", Value: 1}}},
		{Keys: bson.D{{Key: "meta.url", Value: 1}, {Key: "meta.uploadTime", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create indexes: %w", err)
	}
	return nil
}

type document struct {
	ID          string             `bson:"_id"`
	Filename    string             `bson:"filename"`
	ContentType string             `bson:"contentType"`
	Bucket      string             `bson:"bucket"`
	Meta        assetkit.AssetMeta `bson:"meta"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func toDocument(rec *assetkit.AssetRecord) document {
	return document{
		ID:          rec.ID.String(),
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		Bucket:      rec.Bucket,
		Meta:        rec.Meta,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (d document) toRecord() (*assetkit.AssetRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("mongo: malformed record id %q: %w", d.ID, err)
	}
	return &assetkit.AssetRecord{
		ID:          id,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		Bucket:      d.Bucket,
		Meta:        d.Meta,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func (r *Repository) Save(ctx context.Context, rec *assetkit.AssetRecord) error {
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": rec.ID.String()},
		toDocument(rec),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo: save record: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*assetkit.AssetRecord, error) {
	var doc document
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, assetkit.ErrAssetNotFound
		}
		return nil, fmt.Errorf("mongo: get record: %w", err)
	}
	return doc.toRecord()
}

func query(filter assetkit.Filter) bson.M {
	q := bson.M{}
	if filter.ID != uuid.Nil {
		q["_id"] = filter.ID.String()
	}
	if filter.Filename != "" {
		q["filename"] = filter.Filename
	}
	if filter.ContentType != "" {
		q["contentType"] = primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(filter.ContentType) + "$",
			Options: "i",
		}
	}
	if filter.Bucket != "" {
		q["bucket"] = filter.Bucket
	}
	if filter.URL != "" {
		q["meta.url"] = filter.URL
	}
	if filter.UploadedAfter != nil {
		q["meta.uploadTime"] = bson.M{"$gt": *filter.UploadedAfter}
	}
	return q
}

func (r *Repository) Find(ctx context.Context, filter assetkit.Filter) (*assetkit.AssetRecord, error) {
	var doc document
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	err := r.coll.FindOne(ctx, query(filter), opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo: find record: %w", err)
	}
	return doc.toRecord()
}

func (r *Repository) FindMany(ctx context.Context, filter assetkit.Filter) ([]*assetkit.AssetRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := r.coll.Find(ctx, query(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find records: %w", err)
	}
	defer cursor.Close(ctx)

	var recs []*assetkit.AssetRecord
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode record: %w", err)
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo: iterate records: %w", err)
	}
	return recs, nil
}

func (r *Repository) UpdateMeta(ctx context.Context, id uuid.UUID, meta assetkit.AssetMeta) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"meta": meta, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mongo: update meta: %w", err)
	}
	if result.MatchedCount == 0 {
		return assetkit.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("mongo: delete record: %w", err)
	}
	if result.DeletedCount == 0 {
		return assetkit.ErrAssetNotFound
	}
	return nil
}
