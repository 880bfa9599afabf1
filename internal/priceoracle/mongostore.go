package priceoracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sswap/engine/internal/model"
)

// MongoSnapshotStore persists price history best-effort, grounded on the
// same driver and FindOneAndUpdate-free append-only shape as
// internal/txstore.MongoStore — this collection is never conditionally
// updated, only appended to and range-queried.
type MongoSnapshotStore struct {
	coll *mongo.Collection
}

func NewMongoSnapshotStore(ctx context.Context, db *mongo.Database) (*MongoSnapshotStore, error) {
	coll := db.Collection("price_snapshots")
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "token", Value: 1}, {Key: "fetchedAt", Value: -1}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoSnapshotStore{coll: coll}, nil
}

func (s *MongoSnapshotStore) AppendSnapshot(ctx context.Context, token, priceUSD, priceNGN, usdToNgn string, fetchedAt time.Time) error {
	usd, err := decimal.NewFromString(priceUSD)
	if err != nil {
		return err
	}
	ngn, err := decimal.NewFromString(priceNGN)
	if err != nil {
		return err
	}
	rate, err := decimal.NewFromString(usdToNgn)
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, model.PriceSnapshot{
		Token:     model.Token(token),
		PriceUSD:  usd,
		PriceNGN:  ngn,
		UsdToNgn:  rate,
		FetchedAt: fetchedAt,
	})
	return err
}

func (s *MongoSnapshotStore) QuerySnapshots(ctx context.Context, token model.Token, since time.Time) ([]model.PriceSnapshot, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"token": token, "fetchedAt": bson.M{"$gte": since}},
		options.Find().SetSort(bson.D{{Key: "fetchedAt", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.PriceSnapshot
	for cur.Next(ctx) {
		var snap model.PriceSnapshot
		if err := cur.Decode(&snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, cur.Err()
}
