// Package store defines the shared document store boundary. Each
// collection is one opaque document; every read and write transfers the
// whole thing and the interface exposes no version token. Writers are
// expected to re-fetch immediately before replacing, which narrows (but
// does not close) the lost-update window between independent processes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"orderline/internal/domain"
)

var (
	// ErrNotFound means the collection document does not exist yet.
	ErrNotFound = errors.New("collection not found")
	// ErrRead wraps store read failures.
	ErrRead = errors.New("store read failed")
	// ErrWrite wraps store write failures.
	ErrWrite = errors.New("store write failed")
)

// Store is the raw document interface.
type Store interface {
	Fetch(ctx context.Context, collection string) ([]byte, error)
	Replace(ctx context.Context, collection string, doc []byte) error
}

// Default collection names.
const (
	OrdersCollection    = "orders"
	InventoryCollection = "inventory"
)

// Collections is a typed view over a Store.
type Collections struct {
	Store     Store
	Orders    string
	Inventory string
}

func NewCollections(s Store) Collections {
	return Collections{Store: s, Orders: OrdersCollection, Inventory: InventoryCollection}
}

// LoadOrders fetches and decodes the full order collection. A missing
// document reads as an empty collection.
func (c Collections) LoadOrders(ctx context.Context) ([]domain.Order, error) {
	raw, err := c.Store.Fetch(ctx, c.Orders)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	var orders []domain.Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("%w: decode orders: %v", ErrRead, err)
	}
	return orders, nil
}

// SaveOrders replaces the entire order collection.
func (c Collections) SaveOrders(ctx context.Context, orders []domain.Order) error {
	if orders == nil {
		orders = []domain.Order{}
	}
	raw, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("encode orders: %w", err)
	}
	if err := c.Store.Replace(ctx, c.Orders, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// LoadInventory fetches the full inventory collection.
func (c Collections) LoadInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	raw, err := c.Store.Fetch(ctx, c.Inventory)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	var items []domain.InventoryItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decode inventory: %v", ErrRead, err)
	}
	return items, nil
}

// SaveInventory replaces the entire inventory collection.
func (c Collections) SaveInventory(ctx context.Context, items []domain.InventoryItem) error {
	if items == nil {
		items = []domain.InventoryItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}
	if err := c.Store.Replace(ctx, c.Inventory, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}
