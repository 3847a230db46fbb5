package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusPending   POStatus = "PENDING"
	POStatusApproved  POStatus = "APPROVED"
	POStatusOrdered   POStatus = "ORDERED"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s POStatus) Valid() bool {
	switch s {
	case POStatusDraft, POStatusPending, POStatusApproved, POStatusOrdered, POStatusReceived, POStatusCancelled:
		return true
	}
	return false
}

// Action fires a purchase order transition.
type Action string

const (
	ActionSubmit      Action = "submit"
	ActionApprove     Action = "approve"
	ActionMarkOrdered Action = "mark_ordered"
	ActionReceive     Action = "receive"
	ActionCancel      Action = "cancel"
)

var poMachine = shared.NewMachine[POStatus, Action]("purchase order").
	Allow(ActionSubmit, POStatusPending, POStatusDraft).
	Allow(ActionApprove, POStatusApproved, POStatusPending).
	Allow(ActionMarkOrdered, POStatusOrdered, POStatusApproved).
	Allow(ActionReceive, POStatusReceived, POStatusOrdered).
	Allow(ActionCancel, POStatusCancelled, POStatusPending, POStatusApproved, POStatusOrdered)

// Terminal reports whether no further action is possible from s.
func (s POStatus) Terminal() bool {
	return poMachine.Terminal(s)
}

// PurchaseOrder is an order placed with a supplier for one destination location.
type PurchaseOrder struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	SupplierID  int64           `json:"supplier_id"`
	LocationID  int64           `json:"location_id"`
	Status      POStatus        `json:"status"`
	Items       []Item          `json:"items"`
	Total       decimal.Decimal `json:"total"`
	Note        string          `json:"note,omitempty"`
	CreatedBy   int64           `json:"created_by,omitempty"`
	ApprovedBy  int64           `json:"approved_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	OrderedAt   *time.Time      `json:"ordered_at,omitempty"`
	ReceivedAt  *time.Time      `json:"received_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// Item is one ordered product line.
type Item struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	VariantID int64           `json:"variant_id,omitempty"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// LineTotal returns quantity times unit cost.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(i.Quantity))
}

// computeTotal sums every line total.
func computeTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// StatusChange is a compare-and-set status write.
type StatusChange struct {
	ID      int64
	From    POStatus
	To      POStatus
	ActorID int64
	At      time.Time
}

// apply mirrors a committed change onto po.
func (c StatusChange) apply(po *PurchaseOrder) {
	po.Status = c.To
	po.UpdatedAt = c.At
	at := c.At
	switch c.To {
	case POStatusApproved:
		po.ApprovedBy = c.ActorID
		po.ApprovedAt = &at
	case POStatusOrdered:
		po.OrderedAt = &at
	case POStatusReceived:
		po.ReceivedAt = &at
	case POStatusCancelled:
		po.CancelledAt = &at
	}
}

// CreateInput carries a new purchase order.
type CreateInput struct {
	Number         string
	SupplierID     int64
	LocationID     int64
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
	UnitCost  decimal.Decimal
}

// ListFilter narrows List.
type ListFilter struct {
	Status     POStatus
	SupplierID int64
	LocationID int64
	Page       int
	PerPage    int
}

var (
	// ErrNoItems rejects an order without lines.
	ErrNoItems = fmt.Errorf("%w: purchase order requires at least one item", shared.ErrValidation)
	// ErrStaleStatus reports a lost compare-and-set on the order row.
	ErrStaleStatus = fmt.Errorf("%w: purchase order status changed", shared.ErrConcurrentModification)

	errRepoMissing = errors.New("procurement: repository not initialised")
)

func (in CreateInput) validate() error {
	if in.SupplierID <= 0 {
		return fmt.Errorf("%w: supplier required", shared.ErrValidation)
	}
	if in.LocationID <= 0 {
		return fmt.Errorf("%w: destination location required", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return ErrNoItems
	}
	for i, it := range in.Items {
		if it.ProductID <= 0 {
			return fmt.Errorf("%w: item %d: product required", shared.ErrValidation, i+1)
		}
		if it.VariantID < 0 {
			return fmt.Errorf("%w: item %d: invalid variant", shared.ErrValidation, i+1)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", shared.ErrValidation, i+1)
		}
		if it.UnitCost.IsNegative() {
			return fmt.Errorf("%w: item %d: unit cost cannot be negative", shared.ErrValidation, i+1)
		}
	}
	return nil
}
