// Package returns handles customer returns and exchanges. Returned units go
// back to sellable stock only when their condition allows it; exchange
// replacements leave stock in the same transaction.
package returns

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Type distinguishes a plain return from an exchange.
type Type string

const (
	TypeReturn   Type = "RETURN"
	TypeExchange Type = "EXCHANGE"
)

// Valid reports whether t is known.
func (t Type) Valid() bool { return t == TypeReturn || t == TypeExchange }

// Condition is the state a returned unit arrives in.
type Condition string

const (
	ConditionNew       Condition = "NEW"
	ConditionUsed      Condition = "USED"
	ConditionDamaged   Condition = "DAMAGED"
	ConditionDefective Condition = "DEFECTIVE"
)

// Valid reports whether c is known.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionUsed, ConditionDamaged, ConditionDefective:
		return true
	}
	return false
}

// Restockable reports whether units in this condition may be sold again.
func (c Condition) Restockable() bool {
	return c == ConditionNew || c == ConditionUsed
}

// RefundMethod is how the customer is paid back.
type RefundMethod string

const (
	RefundCash            RefundMethod = "CASH"
	RefundCard            RefundMethod = "CARD"
	RefundStoreCredit     RefundMethod = "STORE_CREDIT"
	RefundOriginalPayment RefundMethod = "ORIGINAL_PAYMENT"
)

// Valid reports whether m is known.
func (m RefundMethod) Valid() bool {
	switch m {
	case RefundCash, RefundCard, RefundStoreCredit, RefundOriginalPayment:
		return true
	}
	return false
}

// Status is the return lifecycle status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// Valid reports whether s is known.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further action is possible from s.
func (s Status) Terminal() bool { return machine.Terminal(s) }

// Action fires a return transition.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionProcess Action = "process"
)

var machine = shared.NewMachine[Status, Action]("return").
	Allow(ActionApprove, StatusApproved, StatusPending).
	Allow(ActionReject, StatusRejected, StatusPending).
	Allow(ActionProcess, StatusCompleted, StatusApproved)

// Return is a customer return or exchange handled at one location.
type Return struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	Type            Type            `json:"type"`
	LocationID      int64           `json:"location_id"`
	Reason          string          `json:"reason"`
	Items           []Item          `json:"items"`
	Replacements    []Replacement   `json:"replacements,omitempty"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	RefundMethod    RefundMethod    `json:"refund_method,omitempty"`
	Status          Status          `json:"status"`
	ReturnedToStock bool            `json:"returned_to_stock"`
	RejectReason    string          `json:"reject_reason,omitempty"`
	CreatedBy       int64           `json:"created_by,omitempty"`
	ApprovedBy      int64           `json:"approved_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Item is one returned product line.
type Item struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	VariantID int64           `json:"variant_id,omitempty"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Condition Condition       `json:"condition"`
	Restocked bool            `json:"restocked"`
}

// LineTotal returns quantity times unit price.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// Replacement is a unit handed to the customer in an exchange.
type Replacement struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id,omitempty"`
	Quantity  int64 `json:"quantity"`
}

// StatusChange is a compare-and-set status write.
type StatusChange struct {
	ID      int64
	From    Status
	To      Status
	ActorID int64
	Note    string
	At      time.Time
}

func (c StatusChange) apply(r *Return) {
	r.Status = c.To
	r.UpdatedAt = c.At
	at := c.At
	switch c.To {
	case StatusApproved:
		r.ApprovedBy = c.ActorID
		r.ApprovedAt = &at
	case StatusRejected:
		r.RejectReason = c.Note
		r.RejectedAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	}
}

// CreateInput carries a new return.
type CreateInput struct {
	Number       string
	Type         Type
	LocationID   int64
	Reason       string
	Items        []ItemInput
	Replacements []ReplacementInput
	// RefundAmount overrides the computed refund when set.
	RefundAmount   *decimal.Decimal
	RefundMethod   RefundMethod
	ActorID        int64
	IdempotencyKey string
}

// ItemInput is one returned line.
type ItemInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
	UnitPrice decimal.Decimal
	Condition Condition
}

// ReplacementInput is one exchange replacement line.
type ReplacementInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
}

// ListFilter narrows List.
type ListFilter struct {
	Status     Status
	Type       Type
	LocationID int64
	Page       int
	PerPage    int
}

var (
	// ErrNoItems rejects a return without lines.
	ErrNoItems = fmt.Errorf("%w: return requires at least one item", shared.ErrValidation)
	// ErrStaleStatus reports a lost compare-and-set on the return row.
	ErrStaleStatus = fmt.Errorf("%w: return status changed", shared.ErrConcurrentModification)

	errRepoMissing = errors.New("returns: repository not initialised")
)

func (in CreateInput) validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown return type %q", shared.ErrValidation, in.Type)
	}
	if in.LocationID <= 0 {
		return fmt.Errorf("%w: location required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return fmt.Errorf("%w: reason required", shared.ErrValidation)
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
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d: unit price cannot be negative", shared.ErrValidation, i+1)
		}
		if !it.Condition.Valid() {
			return fmt.Errorf("%w: item %d: unknown condition %q", shared.ErrValidation, i+1, it.Condition)
		}
	}
	switch {
	case in.Type == TypeReturn && len(in.Replacements) > 0:
		return fmt.Errorf("%w: replacements are only allowed on exchanges", shared.ErrValidation)
	case in.Type == TypeExchange && len(in.Replacements) == 0:
		return fmt.Errorf("%w: exchange requires at least one replacement", shared.ErrValidation)
	}
	for i, rp := range in.Replacements {
		if rp.ProductID <= 0 || rp.VariantID < 0 {
			return fmt.Errorf("%w: replacement %d: invalid product", shared.ErrValidation, i+1)
		}
		if rp.Quantity <= 0 {
			return fmt.Errorf("%w: replacement %d: quantity must be positive", shared.ErrValidation, i+1)
		}
	}
	if in.RefundAmount != nil && in.RefundAmount.IsNegative() {
		return fmt.Errorf("%w: refund amount cannot be negative", shared.ErrValidation)
	}
	if in.RefundMethod != "" && !in.RefundMethod.Valid() {
		return fmt.Errorf("%w: unknown refund method %q", shared.ErrValidation, in.RefundMethod)
	}
	return nil
}

// refund returns the override when present, otherwise the sum of line totals.
func (in CreateInput) refund() decimal.Decimal {
	if in.RefundAmount != nil {
		return *in.RefundAmount
	}
	total := decimal.Zero
	for _, it := range in.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return total
}
