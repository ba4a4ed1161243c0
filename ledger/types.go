/*
Package ledger provides the financial ledger and cash-closing engine.

PURPOSE:
  This package contains the types and services that record income and
  expense movements, derive ledger entries from order payment-state
  transitions, and reconcile each day's movements into immutable cash
  closings. Everything else in the application (HTTP API, CLI, demo
  scenarios) is a thin layer over the services defined here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Movement: One ledger entry (income, expense or investment)
  - Category: A named label movements refer to by name (weak reference)
  - ClosingRecord: Immutable daily reconciliation snapshot
  - Order: The payment-state subset of an order owned by the Order Source

DESIGN PRINCIPLES:
  1. Precision: All amounts are decimal.Decimal, never float64
  2. Idempotency: A caller-supplied key maps to at most one Movement
  3. Atomicity: Multi-row writes go through TxStore.WithTx
  4. Immutability: A registered Movement is never mutated again

USAGE:
  l := ledger.NewLedger(store)
  m, err := l.Record(ctx, ledger.MovementInput{
      Type:   ledger.Income,
      Amount: decimal.NewFromInt(5000),
      Date:   ledger.NewDate(2025, time.January, 10),
  })

SEE ALSO:
  - store.go: Persistence interfaces
  - ledger.go: Ledger Store service with the idempotency guard
  - closing.go: Reconciliation engine (cash closing)
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MovementID string
type ClosingID string
type OrderID string

// =============================================================================
// MOVEMENT TYPE
// =============================================================================

type MovementType string

const (
	Income     MovementType = "income"
	Expense    MovementType = "expense"
	Investment MovementType = "investment"
)

func (t MovementType) Valid() bool {
	switch t {
	case Income, Expense, Investment:
		return true
	}
	return false
}

// Sign returns +1 for money coming in and -1 for money going out.
func (t MovementType) Sign() decimal.Decimal {
	if t == Income {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	MethodNone     PaymentMethod = ""
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodOther    PaymentMethod = "other"
)

// MethodUnspecified is the closing method-total key for income recorded
// without a payment method.
const MethodUnspecified = "unspecified"

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodNone, MethodCash, MethodTransfer, MethodCard, MethodOther:
		return true
	}
	return false
}

// TotalsKey is the key this method contributes to in ClosingRecord.MethodTotals.
func (m PaymentMethod) TotalsKey() string {
	if m == MethodNone {
		return MethodUnspecified
	}
	return string(m)
}

// =============================================================================
// MOVEMENT - One ledger entry
// =============================================================================

// Movement is one ledger entry.
//
// INVARIANTS:
//   - Amount > 0; the sign comes from Type.
//   - IdempotencyKey, when set, is unique across the whole ledger.
//   - Once Registered is true the movement is immutable.
type Movement struct {
	ID             MovementID
	Type           MovementType
	Amount         decimal.Decimal
	Category       string // weak reference to Category.Name, may be orphaned
	Description    string
	Date           Date
	Time           TimeOfDay
	PaymentMethod  PaymentMethod
	ClientName     string
	OrderID        OrderID
	IdempotencyKey string
	Registered     bool
	Version        int
	CreatedAt      time.Time

	// Seq is the store-assigned insertion sequence, used to keep listings
	// stable when two movements share the same date and time.
	Seq int64
}

// Signed returns the amount with the sign implied by the movement type.
func (m Movement) Signed() decimal.Decimal {
	return m.Amount.Mul(m.Type.Sign())
}

// Outflow reports whether the movement takes money out of the business.
func (m Movement) Outflow() bool {
	return m.Type == Expense || m.Type == Investment
}

// MovementInput carries the caller-controlled fields of a new movement.
type MovementInput struct {
	Type           MovementType
	Amount         decimal.Decimal
	Category       string
	Description    string
	Date           Date
	Time           TimeOfDay // zero means "now" in the ledger's clock
	PaymentMethod  PaymentMethod
	ClientName     string
	OrderID        OrderID
	IdempotencyKey string
}

// MovementPatch is a partial update. Nil fields are left untouched.
type MovementPatch struct {
	Type          *MovementType
	Amount        *decimal.Decimal
	Category      *string
	Description   *string
	Date          *Date
	Time          *TimeOfDay
	PaymentMethod *PaymentMethod
	ClientName    *string

	// ExpectedVersion, when non-nil, must match the stored version or the
	// update fails with ConcurrencyConflictError.
	ExpectedVersion *int
}

func (p MovementPatch) apply(m Movement) Movement {
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.Amount != nil {
		m.Amount = *p.Amount
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Date != nil {
		m.Date = *p.Date
	}
	if p.Time != nil {
		m.Time = *p.Time
	}
	if p.PaymentMethod != nil {
		m.PaymentMethod = *p.PaymentMethod
	}
	if p.ClientName != nil {
		m.ClientName = *p.ClientName
	}
	return m
}

// =============================================================================
// CATEGORY
// =============================================================================

// Category is a named label. Movements reference it by name only, so
// deleting a category leaves existing labels in place.
type Category struct {
	Name string
}

// SalesCategory is the category the payment synchronizer files income under.
const SalesCategory = "Ventas"

// DefaultCategories are seeded by Registry.SeedDefaults.
var DefaultCategories = []string{
	SalesCategory,
	"Materia Prima",
	"Servicios",
	"Sueldos",
	"Alquiler",
	"Inversión",
	"Otros",
}

// =============================================================================
// CLOSING RECORD - Daily cash closing
// =============================================================================

// ClosingRecord is an immutable snapshot of one cash closing.
type ClosingRecord struct {
	ID           ClosingID
	Date         Date
	Total        decimal.Decimal            // Σ income − Σ(expense + investment)
	MethodTotals map[string]decimal.Decimal // income only, keyed by PaymentMethod.TotalsKey
	MovementIDs  []MovementID
	ClosedAt     time.Time
}

// ClosingDetail is a closing with its movements re-resolved from the store.
// Movements deleted after the closing are silently absent.
type ClosingDetail struct {
	Closing   ClosingRecord
	Movements []Movement
	Missing   int
}

// =============================================================================
// ORDER - Payment-state subset consumed from the Order Source
// =============================================================================

type PaymentState string

const (
	NoDeposit   PaymentState = "NO_DEPOSIT"
	DepositPaid PaymentState = "DEPOSIT_PAID"
	PaidFull    PaymentState = "PAID_FULL"
)

func (s PaymentState) Valid() bool {
	switch s {
	case NoDeposit, DepositPaid, PaidFull:
		return true
	}
	return false
}

// Order is the part of an order this engine reads.
type Order struct {
	ID           OrderID
	ClientName   string
	Total        decimal.Decimal
	PaymentState PaymentState

	// AmountReceived is nil when the order source never recorded one.
	AmountReceived *decimal.Decimal
}

// Received returns the recorded amount received, or zero.
func (o Order) Received() decimal.Decimal {
	if o.AmountReceived == nil {
		return decimal.Zero
	}
	return *o.AmountReceived
}

// Transition is a payment-state change emitted by the Order Source.
type Transition struct {
	OrderID       OrderID
	From          PaymentState
	To            PaymentState
	CloseDate     Date
	PaymentMethod PaymentMethod
}

// =============================================================================
// SUMMARIES
// =============================================================================

// DailySummary is the signed aggregate of one day's movements.
// Expense includes investment outflows; Investment reports that portion.
type DailySummary struct {
	Date       Date
	Income     decimal.Decimal
	Expense    decimal.Decimal
	Investment decimal.Decimal
	Net        decimal.Decimal
}

// RangeSummary aggregates consecutive days.
type RangeSummary struct {
	From   Date
	To     Date
	Days   []DailySummary
	Totals DailySummary
}
