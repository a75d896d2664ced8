package lineitems

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jogardn/order-console/pkg/models"
)

// Set holds the working line items for one order edit session. At most one
// line exists per product id; adding a product that is already present
// increases its quantity instead of appending a duplicate.
//
// Every mutation reports the full new snapshot through the change callback
// so the composer always recomputes from a consistent view.
type Set struct {
	mu       sync.Mutex
	items    []models.LineItem
	onChange func([]models.LineItem)
}

func NewSet(onChange func([]models.LineItem)) *Set {
	return &Set{onChange: onChange}
}

// Add merges into an existing line for the same product id, or appends a new
// line with the product's snapshot price and a fresh key. Quantity must be
// validated positive by the caller.
func (s *Set) Add(product models.Product, quantity int) models.LineItem {
	s.mu.Lock()
	var line models.LineItem
	merged := false
	if product.ID != "" {
		for i := range s.items {
			if s.items[i].Product.ID == product.ID {
				s.items[i].Quantity += quantity
				line = s.items[i]
				merged = true
				break
			}
		}
	}
	if !merged {
		line = models.LineItem{
			Key:      uuid.New().String(),
			Product:  product,
			Price:    product.SnapshotPrice(),
			Quantity: quantity,
		}
		s.items = append(s.items, line)
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
	return line
}

// Remove drops the line with the given key. Unknown keys are a no-op.
func (s *Set) Remove(key string) bool {
	s.mu.Lock()
	removed := false
	for i := range s.items {
		if s.items[i].Key == key {
			s.items = append(s.items[:i], s.items[i+1:]...)
			removed = true
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if removed {
		s.notify(snapshot)
	}
	return removed
}

// SetQuantity replaces the quantity of the matching line. Values below 1 are
// a no-op: decrementing from 1 does not remove the line.
func (s *Set) SetQuantity(key string, quantity int) bool {
	if quantity < 1 {
		return false
	}

	s.mu.Lock()
	changed := false
	for i := range s.items {
		if s.items[i].Key == key {
			s.items[i].Quantity = quantity
			changed = true
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(snapshot)
	}
	return changed
}

// LoadFromOrder hydrates the set from a fetched order, replacing whatever is
// held. Line price resolves to the stored price when present, else the
// product's snapshot price, else zero. Lines whose product was deleted
// server-side get a placeholder product so they still render.
func (s *Set) LoadFromOrder(lines []models.RawOrderLine) {
	items := make([]models.LineItem, 0, len(lines))
	for _, raw := range lines {
		product := models.DeletedProduct()
		if raw.Product != nil {
			product = *raw.Product
		}

		price := product.SnapshotPrice()
		if raw.Price != nil {
			price = *raw.Price
		}

		quantity := raw.Quantity
		if quantity < 1 {
			quantity = 1
		}

		item := models.LineItem{
			Key:      uuid.New().String(),
			Product:  product,
			Price:    price,
			Quantity: quantity,
		}
		if raw.Variant != nil {
			item.VariantID = *raw.Variant
		}
		items = append(items, item)
	}

	s.mu.Lock()
	s.items = items
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// Items returns a copy of the current lines.
func (s *Set) Items() []models.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Subtotal is the sum of price times quantity across all current lines.
func (s *Set) Subtotal() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subtotal float64
	for _, item := range s.items {
		subtotal += item.Total()
	}
	return subtotal
}

func (s *Set) snapshotLocked() []models.LineItem {
	snapshot := make([]models.LineItem, len(s.items))
	copy(snapshot, s.items)
	return snapshot
}

func (s *Set) notify(snapshot []models.LineItem) {
	if s.onChange != nil {
		s.onChange(snapshot)
	}
}
