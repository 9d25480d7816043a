package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
)

const colUsers = "users"

// accountDocument keeps the field names of the existing users collection.
type accountDocument struct {
	ID            int64     `bson:"_id"`
	FirstName     string    `bson:"first_name"`
	Username      string    `bson:"username,omitempty"`
	Credits       int64     `bson:"credits"`
	Searches      int64     `bson:"searches"`
	JoinDate      time.Time `bson:"join_date"`
	Referrals     int64     `bson:"referrals"`
	CreditsEarned int64     `bson:"credits_earned"`
}

func (d *accountDocument) toAccount() *ledger.Account {
	return &ledger.Account{
		ID:              d.ID,
		DisplayName:     d.FirstName,
		Handle:          d.Username,
		Credits:         d.Credits,
		SearchCount:     d.Searches,
		ReferralCount:   d.Referrals,
		ReferralCredits: d.CreditsEarned,
		JoinedAt:        d.JoinDate.UTC(),
	}
}

// MongoRepository stores accounts in a MongoDB collection.
type MongoRepository struct {
	client *mongo.Client
	users  *mongo.Collection
	logger *slog.Logger
}

// NewMongo connects to MongoDB and selects the users collection of database.
func NewMongo(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoRepository, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	r := &MongoRepository{
		client: client,
		users:  client.Database(database).Collection(colUsers),
		logger: logger.With("component", "repo_mongo"),
	}
	if err := r.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return r, nil
}

// Close disconnects the client.
func (r *MongoRepository) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Disconnect(ctx); err != nil {
		r.logger.Warn("mongo disconnect failed", "error", err)
	}
}

// Ping checks connectivity.
func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Migrate creates the secondary indexes used for listing.
func (r *MongoRepository) Migrate(ctx context.Context) error {
	_, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "join_date", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo migrate users indexes: %w", err)
	}
	return nil
}

// InsertAccountIfAbsent uses the unique _id index as the arbiter between
// concurrent first contacts.
func (r *MongoRepository) InsertAccountIfAbsent(ctx context.Context, acc ledger.Account) (*ledger.Account, bool, error) {
	doc := accountDocument{
		ID:        acc.ID,
		FirstName: acc.DisplayName,
		Username:  acc.Handle,
		Credits:   acc.Credits,
		JoinDate:  acc.JoinedAt,
	}
	_, err := r.users.InsertOne(ctx, doc)
	if err == nil {
		return doc.toAccount(), true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}
	existing, err := r.GetAccount(ctx, acc.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *MongoRepository) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	var doc accountDocument
	if err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return doc.toAccount(), nil
}

func (r *MongoRepository) ApplyReferral(ctx context.Context, id, amount int64) (*ledger.Account, error) {
	return r.incOne(ctx, "apply referral", bson.M{"_id": id}, bson.M{
		"credits":        amount,
		"referrals":      int64(1),
		"credits_earned": amount,
	})
}

func (r *MongoRepository) AddCredits(ctx context.Context, id, amount int64) (*ledger.Account, error) {
	return r.incOne(ctx, "add credits", bson.M{"_id": id}, bson.M{"credits": amount})
}

// DebitLookup matches only documents holding at least one credit, so the
// check and the decrement are one server-side operation.
func (r *MongoRepository) DebitLookup(ctx context.Context, id int64) (*ledger.Account, error) {
	acc, err := r.updateOne(ctx, "debit lookup", debitFilter(id), debitUpdate())
	if !errors.Is(err, ledger.ErrNotFound) {
		return acc, err
	}
	if _, err := r.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return nil, ledger.ErrInsufficientCredits
}

// RefundLookup returns the credit and rolls the search counter back, never
// below zero.
func (r *MongoRepository) RefundLookup(ctx context.Context, id int64) (*ledger.Account, error) {
	return r.updateOne(ctx, "refund lookup", bson.M{"_id": id}, refundPipeline())
}

func debitFilter(id int64) bson.M {
	return bson.M{"_id": id, "credits": bson.M{"$gte": int64(1)}}
}

func debitUpdate() bson.M {
	return bson.M{"$inc": bson.M{"credits": int64(-1), "searches": int64(1)}}
}

func refundPipeline() mongo.Pipeline {
	return mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"credits":  bson.M{"$add": bson.A{"$credits", int64(1)}},
		"searches": bson.M{"$max": bson.A{bson.M{"$subtract": bson.A{"$searches", int64(1)}}, int64(0)}},
	}}}}
}

func (r *MongoRepository) ListAccountIDs(ctx context.Context) ([]int64, error) {
	cur, err := r.users.Find(ctx, bson.D{}, options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "join_date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode account ids: %w", err)
	}
	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (r *MongoRepository) CountAccounts(ctx context.Context) (int64, error) {
	n, err := r.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (r *MongoRepository) incOne(ctx context.Context, op string, filter, inc bson.M) (*ledger.Account, error) {
	return r.updateOne(ctx, op, filter, bson.M{"$inc": inc})
}

func (r *MongoRepository) updateOne(ctx context.Context, op string, filter bson.M, update any) (*ledger.Account, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc accountDocument
	err := r.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc.toAccount(), nil
}
