package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps orders and payments in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]Order
	payments map[string]PaymentRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]Order),
		payments: make(map[string]PaymentRecord),
	}
}

// SaveOrder stores or replaces an order.
func (m *MemoryStore) SaveOrder(_ context.Context, order Order) error {
	if err := prepareOrder(&order); err != nil {
		return err
	}
	order.Notes = cloneMap(order.Notes)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	return nil
}

// GetOrder returns a copy of the stored order.
func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	order.Notes = cloneMap(order.Notes)
	return order, nil
}

// MarkOrderPaid flags an order as paid, keeping the first payment.
func (m *MemoryStore) MarkOrderPaid(_ context.Context, orderID, paymentID string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if order.Status == OrderStatusPaid {
		return nil
	}
	paidAt = paidAt.UTC()
	order.Status = OrderStatusPaid
	order.PaymentID = paymentID
	order.PaidAt = &paidAt
	m.orders[orderID] = order
	return nil
}

// RecordPayment adds the payment unless it is already in the ledger.
func (m *MemoryStore) RecordPayment(_ context.Context, record PaymentRecord) (bool, error) {
	if err := preparePayment(&record); err != nil {
		return false, err
	}
	record.Metadata = cloneMap(record.Metadata)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[record.PaymentID]; exists {
		return false, nil
	}
	m.payments[record.PaymentID] = record
	return true, nil
}

// GetPayment returns a ledger entry by payment id.
func (m *MemoryStore) GetPayment(_ context.Context, paymentID string) (PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.payments[paymentID]
	if !ok {
		return PaymentRecord{}, ErrNotFound
	}
	record.Metadata = cloneMap(record.Metadata)
	return record, nil
}

// HasPaymentBeenProcessed reports whether the payment is in the ledger.
func (m *MemoryStore) HasPaymentBeenProcessed(_ context.Context, paymentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.payments[paymentID]
	return ok, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
