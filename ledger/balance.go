/*
balance.go - Read-only aggregates over the ledger

PURPOSE:
  Daily and range summaries, the running balance and the receivable
  estimate. Nothing here writes.

RANGES:
  RangeSummary emits one DailySummary per calendar day, so the span is
  capped (DefaultMaxRangeDays, WithMaxRangeDays). A longer span fails
  with ValidationError before the store is queried.

RECEIVABLE:
  Σ (total − received) over orders not yet PAID_FULL. A DEPOSIT_PAID
  order with no recorded amount counts total × deposit ratio as received.

SEE ALSO:
  - ledger.go: ListByDate, ListRange, ListAll
  - sync.go: Order, OrderSource
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CALCULATOR - Read-only derived aggregates
// =============================================================================

// DefaultDepositRatio estimates the amount received for a DEPOSIT_PAID
// order that never recorded one.
var DefaultDepositRatio = decimal.NewFromFloat(0.5)

// DefaultMaxRangeDays bounds RangeSummary to about a year of days.
const DefaultMaxRangeDays = 366

// Calculator derives aggregates from the ledger. It never writes.
//
// The Registered flag is a reconciliation marker, not a visibility filter:
// every aggregate here includes registered and unregistered movements.
type Calculator struct {
	ledger       *Ledger
	depositRatio decimal.Decimal
	maxRangeDays int
}

type CalculatorOption func(*Calculator)

func WithDepositRatio(r decimal.Decimal) CalculatorOption {
	return func(c *Calculator) { c.depositRatio = r }
}

// WithMaxRangeDays sets the longest span, in days, RangeSummary accepts.
// Values below 1 keep the default.
func WithMaxRangeDays(n int) CalculatorOption {
	return func(c *Calculator) {
		if n > 0 {
			c.maxRangeDays = n
		}
	}
}

func NewCalculator(l *Ledger, opts ...CalculatorOption) *Calculator {
	c := &Calculator{ledger: l, depositRatio: DefaultDepositRatio, maxRangeDays: DefaultMaxRangeDays}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DailySummary returns income, outflows and net for one day.
func (c *Calculator) DailySummary(ctx context.Context, date Date) (DailySummary, error) {
	movements, err := c.ledger.ListByDate(ctx, date)
	if err != nil {
		return DailySummary{}, err
	}
	s := summarize(movements)
	s.Date = date
	return s, nil
}

// RangeSummary returns one DailySummary per day in [from, to] plus totals.
func (c *Calculator) RangeSummary(ctx context.Context, from, to Date) (RangeSummary, error) {
	if !to.Before(from) && from.AddDays(c.maxRangeDays-1).Before(to) {
		return RangeSummary{}, &ValidationError{
			Field:  "range",
			Reason: fmt.Sprintf("spans more than %d days", c.maxRangeDays),
		}
	}
	movements, err := c.ledger.ListRange(ctx, from, to)
	if err != nil {
		return RangeSummary{}, err
	}

	byDay := make(map[string][]Movement)
	for _, m := range movements {
		byDay[m.Date.String()] = append(byDay[m.Date.String()], m)
	}

	out := RangeSummary{From: from, To: to}
	for d := from; !d.After(to); d = d.AddDays(1) {
		s := summarize(byDay[d.String()])
		s.Date = d
		out.Days = append(out.Days, s)
	}
	out.Totals = summarize(movements)
	return out, nil
}

// RunningBalance is the signed sum of every movement ever recorded.
func (c *Calculator) RunningBalance(ctx context.Context) (decimal.Decimal, error) {
	movements, err := c.ledger.ListAll(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, m := range movements {
		total = total.Add(m.Signed())
	}
	return total, nil
}

// Receivable sums what is still owed on orders that are not PAID_FULL.
// A DEPOSIT_PAID order without a recorded amount counts as having received
// total × deposit ratio.
func (c *Calculator) Receivable(orders []Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		if o.PaymentState == PaidFull {
			continue
		}
		received := o.Received()
		if o.PaymentState == DepositPaid && o.AmountReceived == nil {
			received = o.Total.Mul(c.depositRatio)
		}
		total = total.Add(o.Total.Sub(received))
	}
	return total
}

// ReceivableFrom computes Receivable over every order in the source.
func (c *Calculator) ReceivableFrom(ctx context.Context, src OrderSource) (decimal.Decimal, error) {
	orders, err := src.Orders(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Receivable(orders), nil
}

func summarize(movements []Movement) DailySummary {
	s := DailySummary{
		Income:     decimal.Zero,
		Expense:    decimal.Zero,
		Investment: decimal.Zero,
	}
	for _, m := range movements {
		switch m.Type {
		case Income:
			s.Income = s.Income.Add(m.Amount)
		case Expense:
			s.Expense = s.Expense.Add(m.Amount)
		case Investment:
			s.Expense = s.Expense.Add(m.Amount)
			s.Investment = s.Investment.Add(m.Amount)
		}
	}
	s.Net = s.Income.Sub(s.Expense)
	return s
}
