package inventory

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Movement classifies a ledger entry.
type Movement string

const (
	MovementIn         Movement = "IN"
	MovementOut        Movement = "OUT"
	MovementAdjustment Movement = "ADJUSTMENT"
)

// Valid reports whether m is a known movement.
func (m Movement) Valid() bool {
	switch m {
	case MovementIn, MovementOut, MovementAdjustment:
		return true
	}
	return false
}

// Reason explains why stock moved.
type Reason string

const (
	ReasonPurchase    Reason = "PURCHASE"
	ReasonTransferOut Reason = "TRANSFER_OUT"
	ReasonTransferIn  Reason = "TRANSFER_IN"
	ReasonReturn      Reason = "RETURN"
	ReasonExchange    Reason = "EXCHANGE"
	ReasonCount       Reason = "COUNT"
	ReasonDamage      Reason = "DAMAGE"
	ReasonCorrection  Reason = "CORRECTION"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonTransferOut, ReasonTransferIn, ReasonReturn,
		ReasonExchange, ReasonCount, ReasonDamage, ReasonCorrection:
		return true
	}
	return false
}

// ReferenceType names the document that caused an entry.
type ReferenceType string

const (
	RefPurchaseOrder ReferenceType = "PURCHASE_ORDER"
	RefTransfer      ReferenceType = "TRANSFER"
	RefReturn        ReferenceType = "RETURN"
	RefManual        ReferenceType = "MANUAL"
)

// Valid reports whether t is a known reference type.
func (t ReferenceType) Valid() bool {
	switch t {
	case RefPurchaseOrder, RefTransfer, RefReturn, RefManual:
		return true
	}
	return false
}

// Reference points at the originating order. ID is zero for manual entries.
type Reference struct {
	Type ReferenceType `json:"type"`
	ID   int64         `json:"id,omitempty"`
}

// StockKey identifies one stock row. VariantID zero means the product itself.
type StockKey struct {
	LocationID int64 `json:"location_id"`
	ProductID  int64 `json:"product_id"`
	VariantID  int64 `json:"variant_id,omitempty"`
}

func (k StockKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.LocationID, k.ProductID, k.VariantID)
}

// Less orders keys by location, product, variant. Rows are always locked in
// this order.
func (k StockKey) Less(o StockKey) bool {
	if k.LocationID != o.LocationID {
		return k.LocationID < o.LocationID
	}
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.VariantID < o.VariantID
}

func (k StockKey) validate() error {
	if k.LocationID <= 0 || k.ProductID <= 0 || k.VariantID < 0 {
		return fmt.Errorf("%w: location and product required", shared.ErrValidation)
	}
	return nil
}

// SortKeys sorts and de-duplicates keys in lock order.
func SortKeys(keys []StockKey) []StockKey {
	out := make([]StockKey, 0, len(keys))
	seen := make(map[StockKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// LocationStock is the current level of one product (or variant) at one location.
type LocationStock struct {
	StockKey
	Quantity  int64     `json:"quantity"`
	Reserved  int64     `json:"reserved"`
	MinStock  int64     `json:"min_stock"`
	MaxStock  int64     `json:"max_stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is the quantity not held by reservations.
func (s LocationStock) Available() int64 {
	return s.Quantity - s.Reserved
}

// BelowMin reports whether a configured minimum is breached.
func (s LocationStock) BelowMin() bool {
	return s.MinStock > 0 && s.Quantity < s.MinStock
}

// LedgerEntry is one immutable stock movement.
type LedgerEntry struct {
	ID               int64     `json:"id"`
	StockKey
	Movement         Movement  `json:"movement"`
	Reason           Reason    `json:"reason"`
	Quantity         int64     `json:"quantity"`
	PreviousQuantity int64     `json:"previous_quantity"`
	NewQuantity      int64     `json:"new_quantity"`
	Reference        Reference `json:"reference"`
	Authoritative    bool      `json:"authoritative,omitempty"`
	ActorID          int64     `json:"actor_id,omitempty"`
	Note             string    `json:"note,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Delta is the signed change this entry applied.
func (e LedgerEntry) Delta() int64 {
	return signedDelta(e.Movement, e.Quantity)
}

func signedDelta(m Movement, qty int64) int64 {
	if m == MovementOut {
		return -qty
	}
	return qty
}

// CommitInput describes one stock movement.
type CommitInput struct {
	Key       StockKey
	Movement  Movement
	Reason    Reason
	Quantity  int64
	Reference Reference
	// Authoritative marks a physical count that supersedes reservations.
	Authoritative bool
	ActorID       int64
	Note          string
}

// CountInput records a physical count.
type CountInput struct {
	Key       StockKey
	Counted   int64
	Reference Reference
	ActorID   int64
	Note      string
}

// AdjustInput is a manual signed correction.
type AdjustInput struct {
	Key      StockKey
	Quantity int64
	Reason   Reason
	ActorID  int64
	Note     string
}

// EntryFilter selects ledger entries of one stock row.
type EntryFilter struct {
	Key   StockKey
	From  time.Time
	To    time.Time
	Limit int
}

// ProductStock aggregates a product across every location.
type ProductStock struct {
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	Reserved  int64           `json:"reserved"`
	Available int64           `json:"available"`
	Locations []LocationStock `json:"locations"`
}

// VerifyResult compares a stock row with a replay of its ledger.
type VerifyResult struct {
	Key         StockKey `json:"key"`
	Stored      int64    `json:"stored"`
	Replayed    int64    `json:"replayed"`
	Entries     int      `json:"entries"`
	ChainBreaks []int64  `json:"chain_breaks,omitempty"`
}

// OK reports whether the row matches its history.
func (r VerifyResult) OK() bool {
	return r.Stored == r.Replayed && len(r.ChainBreaks) == 0
}

var (
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: %w: invalid quantity", shared.ErrValidation)
	// ErrInvalidMovement indicates an unknown movement, reason or reference.
	ErrInvalidMovement = fmt.Errorf("inventory: %w: invalid movement", shared.ErrValidation)
	// ErrInvalidThresholds indicates min greater than max or a negative bound.
	ErrInvalidThresholds = fmt.Errorf("inventory: %w: invalid thresholds", shared.ErrValidation)
	errTxRequired        = errors.New("inventory: stock transaction required")
)
