package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ricirt/docqueue/internal/domain"
)

type mongoDocumentRepository struct {
	db *mongo.Database
}

// NewMongoDocumentRepository returns a DocumentRepository backed by MongoDB.
// Each collection name maps to a real Mongo collection.
func NewMongoDocumentRepository(db *mongo.Database) DocumentRepository {
	return &mongoDocumentRepository{db: db}
}

// mongoDocument is the stored shape. Queue metadata lives beside the payload,
// never inside it.
type mongoDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	QueueName string             `bson:"queueName"`
	Payload   bson.M             `bson:"payload"`
	Lease     *mongoLease        `bson:"lease,omitempty"`
	Schedule  *mongoSchedule     `bson:"schedule,omitempty"`
}

type mongoLease struct {
	Holder    string    `bson:"holder"`
	ExpiresAt time.Time `bson:"expiresAt"`
	Message   string    `bson:"message,omitempty"`
}

type mongoSchedule struct {
	NextRun time.Time `bson:"nextRun"`
	Repeat  string    `bson:"repeat"`
}

func (r *mongoDocumentRepository) Insert(ctx context.Context, collection string, doc *domain.Document) (string, error) {
	md := mongoDocument{
		QueueName: doc.QueueName,
		Payload:   bson.M(doc.Payload),
	}
	if doc.Schedule != nil {
		md.Schedule = &mongoSchedule{NextRun: doc.Schedule.NextRun.UTC(), Repeat: string(doc.Schedule.Repeat)}
	}

	res, err := r.db.Collection(collection).InsertOne(ctx, md)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert document: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// FindAndLease relies on FindOneAndUpdate, which matches and modifies one
// document atomically on the server.
func (r *mongoDocumentRepository) FindAndLease(ctx context.Context, collection, queueName string, now time.Time, lease domain.Lease) (*domain.Document, error) {
	now = now.UTC()
	filter := bson.D{
		{Key: "queueName", Value: queueName},
		{Key: "$and", Value: bson.A{
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "schedule", Value: nil}},
				bson.D{{Key: "schedule.nextRun", Value: bson.D{{Key: "$lte", Value: now}}}},
			}}},
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "lease", Value: nil}},
				bson.D{{Key: "lease.expiresAt", Value: bson.D{{Key: "$lt", Value: now}}}},
			}}},
		}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "lease", Value: mongoLease{
		Holder:    lease.Holder,
		ExpiresAt: lease.ExpiresAt.UTC(),
		Message:   lease.Message,
	}}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var md mongoDocument
	err := r.db.Collection(collection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&md)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNoItem
	}
	if err != nil {
		return nil, fmt.Errorf("find and lease: %w", err)
	}
	return md.toDomain(), nil
}

func (r *mongoDocumentRepository) UpdateByID(ctx context.Context, collection, id string, upd domain.DocumentUpdate) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	set := bson.D{}
	unset := bson.D{}
	if upd.Schedule != nil {
		set = append(set, bson.E{Key: "schedule", Value: mongoSchedule{
			NextRun: upd.Schedule.NextRun.UTC(),
			Repeat:  string(upd.Schedule.Repeat),
		}})
	}
	if upd.ClearLease {
		unset = append(unset, bson.E{Key: "lease", Value: ""})
	} else {
		if upd.LeaseMessage != nil {
			set = append(set, bson.E{Key: "lease.message", Value: *upd.LeaseMessage})
		}
		if upd.LeaseExpiresAt != nil {
			set = append(set, bson.E{Key: "lease.expiresAt", Value: upd.LeaseExpiresAt.UTC()})
		}
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	if len(update) == 0 {
		return nil
	}

	filter := bson.D{{Key: "_id", Value: oid}}
	if upd.TouchesLease() {
		filter = append(filter, bson.E{Key: "lease", Value: bson.D{{Key: "$ne", Value: nil}}})
	}

	res, err := r.db.Collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *mongoDocumentRepository) DeleteByID(ctx context.Context, collection, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	res, err := r.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *mongoDocumentRepository) GetByID(ctx context.Context, collection, id string) (*domain.Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var md mongoDocument
	err = r.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&md)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return md.toDomain(), nil
}

func (r *mongoDocumentRepository) Count(ctx context.Context, collection, queueName string) (int64, error) {
	n, err := r.db.Collection(collection).CountDocuments(ctx, bson.D{{Key: "queueName", Value: queueName}})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// EnsureMongoIndexes creates the index that serves the claim filter.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	_, err := db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "queueName", Value: 1}, {Key: "schedule.nextRun", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create claim index: %w", err)
	}
	return nil
}

func (md *mongoDocument) toDomain() *domain.Document {
	doc := &domain.Document{
		ID:        md.ID.Hex(),
		QueueName: md.QueueName,
		Payload:   domain.Payload(md.Payload),
	}
	if doc.Payload == nil {
		doc.Payload = domain.Payload{}
	}
	if md.Lease != nil {
		doc.Lease = &domain.Lease{
			Holder:    md.Lease.Holder,
			ExpiresAt: md.Lease.ExpiresAt.UTC(),
			Message:   md.Lease.Message,
		}
	}
	if md.Schedule != nil {
		doc.Schedule = &domain.Schedule{
			NextRun: md.Schedule.NextRun.UTC(),
			Repeat:  domain.Repeat(md.Schedule.Repeat),
		}
	}
	return doc
}
