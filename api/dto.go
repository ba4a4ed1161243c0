/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract:
  - Amounts travel as decimal strings ("5000.50"), never floats
  - Dates travel as YYYY-MM-DD, times as HH:MM:SS
  - Field names are snake_case

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags checked by decode()
  before anything reaches the ledger. The ledger validates again; the tags
  only catch malformed input early with field-level messages.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cashbook/ledger"
)

// =============================================================================
// MOVEMENTS
// =============================================================================

type MovementDTO struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	Category       string `json:"category,omitempty"`
	Description    string `json:"description,omitempty"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	PaymentMethod  string `json:"payment_method,omitempty"`
	ClientName     string `json:"client_name,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Registered     bool   `json:"registered"`
	Version        int    `json:"version"`
	CreatedAt      string `json:"created_at"`
}

// CreateMovementRequest records a movement. The idempotency key may also
// come from the Idempotency-Key header, which wins when both are set.
type CreateMovementRequest struct {
	Type           string          `json:"type" validate:"required,oneof=income expense investment"`
	Amount         decimal.Decimal `json:"amount"`
	Category       string          `json:"category" validate:"max=100"`
	Description    string          `json:"description" validate:"max=500"`
	Date           string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time           string          `json:"time" validate:"omitempty,max=8"`
	PaymentMethod  string          `json:"payment_method" validate:"omitempty,oneof=cash transfer card other"`
	ClientName     string          `json:"client_name" validate:"max=200"`
	OrderID        string          `json:"order_id" validate:"max=100"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=255"`
}

// UpdateMovementRequest is a partial update; absent fields are untouched.
type UpdateMovementRequest struct {
	Type            *string          `json:"type" validate:"omitempty,oneof=income expense investment"`
	Amount          *decimal.Decimal `json:"amount"`
	Category        *string          `json:"category" validate:"omitempty,max=100"`
	Description     *string          `json:"description" validate:"omitempty,max=500"`
	Date            *string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time            *string          `json:"time" validate:"omitempty,max=8"`
	PaymentMethod   *string          `json:"payment_method" validate:"omitempty,oneof=cash transfer card other"`
	ClientName      *string          `json:"client_name" validate:"omitempty,max=200"`
	ExpectedVersion *int             `json:"expected_version" validate:"omitempty,min=1"`
}

// =============================================================================
// CATEGORIES
// =============================================================================

type CategoryDTO struct {
	Name string `json:"name"`
}

type CreateCategoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type RenameCategoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// =============================================================================
// CLOSINGS
// =============================================================================

type ClosingDTO struct {
	ID           string            `json:"id"`
	Date         string            `json:"date"`
	Total        string            `json:"total"`
	MethodTotals map[string]string `json:"method_totals"`
	MovementIDs  []string          `json:"movement_ids"`
	ClosedAt     string            `json:"closed_at"`
}

type ClosingDetailDTO struct {
	Closing   ClosingDTO    `json:"closing"`
	Movements []MovementDTO `json:"movements"`
	Missing   int           `json:"missing"`
}

type CloseDayRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// =============================================================================
// SUMMARIES AND BALANCES
// =============================================================================

type SummaryDTO struct {
	Date       string `json:"date,omitempty"`
	Income     string `json:"income"`
	Expense    string `json:"expense"`
	Investment string `json:"investment"`
	Net        string `json:"net"`
}

type RangeSummaryDTO struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Days   []SummaryDTO `json:"days"`
	Totals SummaryDTO   `json:"totals"`
}

type BalanceDTO struct {
	Balance string `json:"balance"`
}

// ReceivableRequest lists the orders to evaluate. An empty list means
// every order in the order book.
type ReceivableRequest struct {
	Orders []OrderRequest `json:"orders" validate:"dive"`
}

type ReceivableDTO struct {
	Receivable string `json:"receivable"`
	Orders     int    `json:"orders"`
}

// =============================================================================
// ORDERS
// =============================================================================

type OrderDTO struct {
	ID             string  `json:"id"`
	ClientName     string  `json:"client_name,omitempty"`
	Total          string  `json:"total"`
	PaymentState   string  `json:"payment_state"`
	AmountReceived *string `json:"amount_received,omitempty"`
}

type OrderRequest struct {
	ID             string           `json:"id" validate:"required,max=100"`
	ClientName     string           `json:"client_name" validate:"max=200"`
	Total          decimal.Decimal  `json:"total"`
	PaymentState   string           `json:"payment_state" validate:"omitempty,oneof=NO_DEPOSIT DEPOSIT_PAID PAID_FULL"`
	AmountReceived *decimal.Decimal `json:"amount_received"`
}

type TransitionRequest struct {
	To             string           `json:"to" validate:"required,oneof=NO_DEPOSIT DEPOSIT_PAID PAID_FULL"`
	CloseDate      string           `json:"close_date" validate:"omitempty,datetime=2006-01-02"`
	PaymentMethod  string           `json:"payment_method" validate:"omitempty,oneof=cash transfer card other"`
	AmountReceived *decimal.Decimal `json:"amount_received"`
}

type TransitionDTO struct {
	Order    OrderDTO     `json:"order"`
	Movement *MovementDTO `json:"movement,omitempty"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	Retry   bool   `json:"retry,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toMovementDTO(m ledger.Movement) MovementDTO {
	return MovementDTO{
		ID:             string(m.ID),
		Type:           string(m.Type),
		Amount:         m.Amount.String(),
		Category:       m.Category,
		Description:    m.Description,
		Date:           m.Date.String(),
		Time:           m.Time.String(),
		PaymentMethod:  string(m.PaymentMethod),
		ClientName:     m.ClientName,
		OrderID:        string(m.OrderID),
		IdempotencyKey: m.IdempotencyKey,
		Registered:     m.Registered,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

func toMovementDTOs(ms []ledger.Movement) []MovementDTO {
	out := make([]MovementDTO, len(ms))
	for i, m := range ms {
		out[i] = toMovementDTO(m)
	}
	return out
}

func toClosingDTO(c ledger.ClosingRecord) ClosingDTO {
	totals := make(map[string]string, len(c.MethodTotals))
	for k, v := range c.MethodTotals {
		totals[k] = v.String()
	}
	ids := make([]string, len(c.MovementIDs))
	for i, id := range c.MovementIDs {
		ids[i] = string(id)
	}
	return ClosingDTO{
		ID:           string(c.ID),
		Date:         c.Date.String(),
		Total:        c.Total.String(),
		MethodTotals: totals,
		MovementIDs:  ids,
		ClosedAt:     c.ClosedAt.Format(time.RFC3339),
	}
}

func toClosingDTOs(cs []ledger.ClosingRecord) []ClosingDTO {
	out := make([]ClosingDTO, len(cs))
	for i, c := range cs {
		out[i] = toClosingDTO(c)
	}
	return out
}

func toSummaryDTO(s ledger.DailySummary) SummaryDTO {
	return SummaryDTO{
		Date:       s.Date.String(),
		Income:     s.Income.String(),
		Expense:    s.Expense.String(),
		Investment: s.Investment.String(),
		Net:        s.Net.String(),
	}
}

func toOrderDTO(o ledger.Order) OrderDTO {
	dto := OrderDTO{
		ID:           string(o.ID),
		ClientName:   o.ClientName,
		Total:        o.Total.String(),
		PaymentState: string(o.PaymentState),
	}
	if o.AmountReceived != nil {
		s := o.AmountReceived.String()
		dto.AmountReceived = &s
	}
	return dto
}

func (r OrderRequest) toOrder() ledger.Order {
	return ledger.Order{
		ID:             ledger.OrderID(r.ID),
		ClientName:     r.ClientName,
		Total:          r.Total,
		PaymentState:   ledger.PaymentState(r.PaymentState),
		AmountReceived: r.AmountReceived,
	}
}

// toInput converts a validated request. Date and time strings have
// already passed the validator, but are parsed again for their values.
func (r CreateMovementRequest) toInput() (ledger.MovementInput, error) {
	in := ledger.MovementInput{
		Type:           ledger.MovementType(r.Type),
		Amount:         r.Amount,
		Category:       r.Category,
		Description:    r.Description,
		PaymentMethod:  ledger.PaymentMethod(r.PaymentMethod),
		ClientName:     r.ClientName,
		OrderID:        ledger.OrderID(r.OrderID),
		IdempotencyKey: r.IdempotencyKey,
	}
	var err error
	if r.Date != "" {
		if in.Date, err = ledger.ParseDate(r.Date); err != nil {
			return in, err
		}
	}
	if r.Time != "" {
		if in.Time, err = ledger.ParseTimeOfDay(r.Time); err != nil {
			return in, err
		}
	}
	return in, nil
}

func (r UpdateMovementRequest) toPatch() (ledger.MovementPatch, error) {
	p := ledger.MovementPatch{
		Amount:          r.Amount,
		Category:        r.Category,
		Description:     r.Description,
		ClientName:      r.ClientName,
		ExpectedVersion: r.ExpectedVersion,
	}
	if r.Type != nil {
		t := ledger.MovementType(*r.Type)
		p.Type = &t
	}
	if r.PaymentMethod != nil {
		m := ledger.PaymentMethod(*r.PaymentMethod)
		p.PaymentMethod = &m
	}
	if r.Date != nil {
		d, err := ledger.ParseDate(*r.Date)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	if r.Time != nil {
		t, err := ledger.ParseTimeOfDay(*r.Time)
		if err != nil {
			return p, err
		}
		p.Time = &t
	}
	return p, nil
}
