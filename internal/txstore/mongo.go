package txstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sswap/engine/internal/model"
)

// MongoStore is the production Store implementation. ConditionalUpdate maps
// directly onto FindOneAndUpdate with a filter on (reference, status) and
// ReturnDocument(After) — this single call is what realizes the spec's
// "implemented as a single atomic find-and-modify" requirement (§4.2); no
// additional locking is needed because MongoDB guarantees single-document
// update atomicity.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wires the collection and ensures the compound indexes named
// in spec §4.2.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	coll := db.Collection("transactions")
	s := &MongoStore{coll: coll}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderAddress", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "direction", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}}},
		{Keys: bson.D{{Key: "chainTxId", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return err
}

// Create assigns a string _id before insertion rather than letting the
// driver mint an ObjectID, so FindByID's string-keyed lookup (and the
// id this service hands back over HTTP) stays a single, stable type.
func (s *MongoStore) Create(ctx context.Context, tx *model.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	if tx.Meta == nil {
		tx.Meta = map[string]any{}
	}
	_, err := s.coll.InsertOne(ctx, tx)
	return err
}

func (s *MongoStore) FindByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	return s.findOne(ctx, bson.M{"reference": reference})
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*model.Transaction, error) {
	var tx model.Transaction
	err := s.coll.FindOne(ctx, filter).Decode(&tx)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *MongoStore) FindByAddress(ctx context.Context, address string, filter AddressFilter, page, limit int) ([]*model.Transaction, error) {
	q := addressQuery(address, filter)
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(page * limit)).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*model.Transaction
	for cur.Next(ctx) {
		var tx model.Transaction
		if err := cur.Decode(&tx); err != nil {
			return nil, err
		}
		out = append(out, &tx)
	}
	return out, cur.Err()
}

func (s *MongoStore) CountByAddress(ctx context.Context, address string, filter AddressFilter) (int64, error) {
	return s.coll.CountDocuments(ctx, addressQuery(address, filter))
}

func addressQuery(address string, filter AddressFilter) bson.M {
	q := bson.M{"senderAddress": address}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.Token != "" {
		q["token"] = filter.Token
	}
	if filter.Direction != "" {
		q["direction"] = filter.Direction
	}
	return q
}

func (s *MongoStore) Aggregate(ctx context.Context, token model.Token) (TokenStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "token", Value: token}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$token"},
			{Key: "totalCount", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "confirmedCount", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{bson.D{{Key: "$eq", Value: bson.A{"$status", model.StatusConfirmed}}}, 1, 0}},
			}}}},
			{Key: "totalNGN", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{bson.D{{Key: "$eq", Value: bson.A{"$status", model.StatusConfirmed}}}, "$ngnAmount", 0}},
			}}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return TokenStats{}, err
	}
	defer cur.Close(ctx)

	stats := TokenStats{Token: token}
	if cur.Next(ctx) {
		var row struct {
			TotalCount     int64 `bson:"totalCount"`
			ConfirmedCount int64 `bson:"confirmedCount"`
			TotalNGN       int64 `bson:"totalNGN"`
		}
		if err := cur.Decode(&row); err != nil {
			return TokenStats{}, err
		}
		stats.TotalCount = row.TotalCount
		stats.ConfirmedCount = row.ConfirmedCount
		stats.TotalNGN = row.TotalNGN
	}
	return stats, cur.Err()
}

// FindExpiredPending lists candidates for the reaper task (spec §8 scenario
// 6): records still pending whose deposit window has already elapsed.
func (s *MongoStore) FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Transaction, error) {
	q := bson.M{"status": model.StatusPending, "expiresAt": bson.M{"$lt": now}}
	cur, err := s.coll.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*model.Transaction
	for cur.Next(ctx) {
		var tx model.Transaction
		if err := cur.Decode(&tx); err != nil {
			return nil, err
		}
		out = append(out, &tx)
	}
	return out, cur.Err()
}

// ConditionalUpdate is the single atomic find-and-modify the whole
// exactly-once guarantee rests on (spec §4.2, §8 invariant 2).
func (s *MongoStore) ConditionalUpdate(ctx context.Context, reference string, requiredStatus model.Status, mutation Mutation) (*model.Transaction, error) {
	filter := bson.M{"reference": reference, "status": requiredStatus}

	set := bson.M{}
	if mutation.Status != nil {
		set["status"] = *mutation.Status
	}
	if mutation.ChainTxID != nil {
		set["chainTxId"] = *mutation.ChainTxID
	}
	if mutation.PayoutProviderTxID != nil {
		set["payoutProviderTxId"] = *mutation.PayoutProviderTxID
	}
	if mutation.ConfirmedAt != nil {
		set["confirmedAt"] = *mutation.ConfirmedAt
	}
	for k, v := range mutation.MetaPatch {
		set["meta."+k] = v
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if mutation.AuditEntry != nil {
		update["$push"] = bson.M{"auditTrail": *mutation.AuditEntry}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var tx model.Transaction
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&tx)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
