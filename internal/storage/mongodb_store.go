package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portfoliodash/payserver/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB. Orders and payments use their
// Razorpay ids as _id, so uniqueness comes from the primary index.
type MongoDBStore struct {
	client   *mongo.Client
	orders   *mongo.Collection
	payments *mongo.Collection
	metrics  *metrics.Metrics
}

// NewMongoDBStore connects to MongoDB and prepares the collections.
func NewMongoDBStore(connectionString, database, ordersCollection, paymentsCollection string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if ordersCollection == "" {
		ordersCollection = "orders"
	}
	if paymentsCollection == "" {
		paymentsCollection = "payments"
	}
	db := client.Database(database)
	store := &MongoDBStore{
		client:   client,
		orders:   db.Collection(ordersCollection),
		payments: db.Collection(paymentsCollection),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_id", Value: 1}}},
		{Keys: bson.D{{Key: "verified_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create payments indexes: %w", err)
	}
	_, err = s.orders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create orders indexes: %w", err)
	}
	return nil
}

// SaveOrder inserts or replaces an order.
func (s *MongoDBStore) SaveOrder(ctx context.Context, order Order) error {
	if err := prepareOrder(&order); err != nil {
		return err
	}
	defer metrics.MeasureDBQuery(s.metrics, "save_order", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	order.CreatedAt = order.CreatedAt.UTC()
	_, err := s.orders.ReplaceOne(ctx, bson.M{"_id": order.ID}, order, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (s *MongoDBStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_order", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var order Order
	err := s.orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

// MarkOrderPaid flags an order as paid, keeping the first payment.
func (s *MongoDBStore) MarkOrderPaid(ctx context.Context, orderID, paymentID string, paidAt time.Time) error {
	defer metrics.MeasureDBQuery(s.metrics, "mark_order_paid", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": orderID, "status": bson.M{"$ne": OrderStatusPaid}}
	update := bson.M{"$set": bson.M{
		"status":     OrderStatusPaid,
		"payment_id": paymentID,
		"paid_at":    paidAt.UTC(),
	}}
	result, err := s.orders.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	count, err := s.orders.CountDocuments(ctx, bson.M{"_id": orderID})
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPayment inserts a ledger entry. A duplicate payment id reports false.
func (s *MongoDBStore) RecordPayment(ctx context.Context, record PaymentRecord) (bool, error) {
	if err := preparePayment(&record); err != nil {
		return false, err
	}
	defer metrics.MeasureDBQuery(s.metrics, "record_payment", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	record.VerifiedAt = record.VerifiedAt.UTC()
	if _, err := s.payments.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("record payment: %w", err)
	}
	return true, nil
}

// GetPayment retrieves a ledger entry by payment id.
func (s *MongoDBStore) GetPayment(ctx context.Context, paymentID string) (PaymentRecord, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_payment", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var record PaymentRecord
	err := s.payments.FindOne(ctx, bson.M{"_id": paymentID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("query payment: %w", err)
	}
	return record, nil
}

// HasPaymentBeenProcessed reports whether the payment id is in the ledger.
func (s *MongoDBStore) HasPaymentBeenProcessed(ctx context.Context, paymentID string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "has_payment", "mongodb")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	count, err := s.payments.CountDocuments(ctx, bson.M{"_id": paymentID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check payment processed: %w", err)
	}
	return count > 0, nil
}

// Close disconnects the client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
