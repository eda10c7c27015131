// Package inventory is the stock/serial catalog boundary. It is a plain
// CRUD surface over the same whole-document store; the only coupling with
// the order engine is the best-effort status update when an order's serial
// number gets verified.
package inventory

import (
	"context"
	"fmt"
	"time"

	"orderline/internal/domain"
	"orderline/internal/normalize"
	"orderline/internal/store"
)

type Service struct {
	Store store.Collections
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// List returns all catalog items.
func (s *Service) List(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.Store.LoadInventory(ctx)
}

// MarkInstalled flips the item carrying the given serial number to
// installed and links it to the order. Callers already hold the operation
// gate; this is a read-modify-write on the inventory document only.
func (s *Service) MarkInstalled(ctx context.Context, serial, orderID string) error {
	key := normalize.Text(serial)
	if key == "" {
		return fmt.Errorf("serial number required")
	}
	items, err := s.Store.LoadInventory(ctx)
	if err != nil {
		return err
	}
	for i, item := range items {
		if normalize.Text(item.SerialNumber) != key {
			continue
		}
		items[i].Status = domain.ItemInstalled
		items[i].OrderID = orderID
		items[i].UpdatedAt = s.now().UTC().Format(time.RFC3339)
		return s.Store.SaveInventory(ctx, items)
	}
	return fmt.Errorf("no inventory item with serial %s", key)
}
