// Package transfers moves stock between two locations: reserve at the source
// on approval, OUT at the source on shipment, IN at the destination on receipt.
package transfers

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status is the transfer lifecycle status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusInTransit, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further action is possible from s.
func (s Status) Terminal() bool {
	return machine.Terminal(s)
}

// Action fires a transfer transition.
type Action string

const (
	ActionApprove   Action = "approve"
	ActionUnapprove Action = "unapprove"
	ActionShip      Action = "ship"
	ActionReceive   Action = "receive"
	ActionCancel    Action = "cancel"
)

// Cancellation is only possible before approval; an approved transfer has to
// be unapproved first, which releases its reservations.
var machine = shared.NewMachine[Status, Action]("transfer").
	Allow(ActionApprove, StatusApproved, StatusPending).
	Allow(ActionUnapprove, StatusPending, StatusApproved).
	Allow(ActionShip, StatusInTransit, StatusApproved).
	Allow(ActionReceive, StatusReceived, StatusInTransit).
	Allow(ActionCancel, StatusCancelled, StatusPending)

// Transfer moves items from one location to another.
type Transfer struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	FromLocationID int64      `json:"from_location_id"`
	ToLocationID   int64      `json:"to_location_id"`
	Status         Status     `json:"status"`
	Items          []Item     `json:"items"`
	Note           string     `json:"note,omitempty"`
	CreatedBy      int64      `json:"created_by,omitempty"`
	ApprovedBy     int64      `json:"approved_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

// Item is one transferred product line.
type Item struct {
	ID                int64 `json:"id"`
	ProductID         int64 `json:"product_id"`
	VariantID         int64 `json:"variant_id,omitempty"`
	RequestedQuantity int64 `json:"requested_quantity"`
	ShippedQuantity   int64 `json:"shipped_quantity"`
	ReceivedQuantity  int64 `json:"received_quantity"`
}

// Discrepancy is the shipped quantity that did not arrive. Negative values mean
// more was received than shipped, which receive never allows.
func (i Item) Discrepancy() int64 {
	return i.ShippedQuantity - i.ReceivedQuantity
}

func (t Transfer) sourceKey(it Item) inventory.StockKey {
	return inventory.StockKey{LocationID: t.FromLocationID, ProductID: it.ProductID, VariantID: it.VariantID}
}

func (t Transfer) destinationKey(it Item) inventory.StockKey {
	return inventory.StockKey{LocationID: t.ToLocationID, ProductID: it.ProductID, VariantID: it.VariantID}
}

// StatusChange is a compare-and-set status write.
type StatusChange struct {
	ID      int64
	From    Status
	To      Status
	ActorID int64
	At      time.Time
}

func (c StatusChange) apply(t *Transfer) {
	t.Status = c.To
	t.UpdatedAt = c.At
	at := c.At
	switch c.To {
	case StatusApproved:
		t.ApprovedBy = c.ActorID
		t.ApprovedAt = &at
	case StatusPending:
		t.ApprovedBy = 0
		t.ApprovedAt = nil
	case StatusInTransit:
		t.ShippedAt = &at
	case StatusReceived:
		t.ReceivedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
	}
}

// CreateInput carries a new transfer request.
type CreateInput struct {
	Number         string
	FromLocationID int64
	ToLocationID   int64
	Items          []ItemInput
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
}

// Line overrides the quantity handled for one item on ship or receive.
type Line struct {
	ItemID   int64 `json:"item_id" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"gte=0"`
}

// ListFilter narrows List.
type ListFilter struct {
	Status     Status
	LocationID int64
	Page       int
	PerPage    int
}

var (
	// ErrSameLocation rejects a transfer whose source equals destination.
	ErrSameLocation = fmt.Errorf("%w: source and destination must differ", shared.ErrInvalidTransfer)
	// ErrNoItems rejects a transfer without lines.
	ErrNoItems = fmt.Errorf("%w: transfer requires at least one item", shared.ErrValidation)
	// ErrStaleStatus reports a lost compare-and-set on the transfer row.
	ErrStaleStatus = fmt.Errorf("%w: transfer status changed", shared.ErrConcurrentModification)

	errRepoMissing = errors.New("transfers: repository not initialised")
)

func (in CreateInput) validate() error {
	if in.FromLocationID <= 0 || in.ToLocationID <= 0 {
		return fmt.Errorf("%w: source and destination required", shared.ErrValidation)
	}
	if in.FromLocationID == in.ToLocationID {
		return ErrSameLocation
	}
	if len(in.Items) == 0 {
		return ErrNoItems
	}
	for i, it := range in.Items {
		if it.ProductID <= 0 || it.VariantID < 0 {
			return fmt.Errorf("%w: item %d: invalid product", shared.ErrValidation, i+1)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", shared.ErrValidation, i+1)
		}
	}
	return nil
}

// resolveLines maps each item to its handled quantity. Items without a line get
// fallback(item); every quantity must lie within [0, limit(item)].
func resolveLines(items []Item, lines []Line, fallback, limit func(Item) int64, what string) (map[int64]int64, error) {
	byID := make(map[int64]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make(map[int64]int64, len(items))
	for _, l := range lines {
		it, ok := byID[l.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %d is not on this transfer", shared.ErrValidation, l.ItemID)
		}
		if _, dup := out[l.ItemID]; dup {
			return nil, fmt.Errorf("%w: item %d listed twice", shared.ErrValidation, l.ItemID)
		}
		if l.Quantity < 0 || l.Quantity > limit(it) {
			return nil, fmt.Errorf("%w: item %d: %s quantity %d outside 0..%d", shared.ErrValidation, l.ItemID, what, l.Quantity, limit(it))
		}
		out[l.ItemID] = l.Quantity
	}
	for _, it := range items {
		if _, ok := out[it.ID]; !ok {
			out[it.ID] = fallback(it)
		}
	}
	return out, nil
}
