/*
closing.go - Reconciliation engine ("cash closing")

PURPOSE:
  Closes a day: snapshots every unregistered movement dated that day into
  an immutable ClosingRecord and flags those movements as registered.

SEQUENCE (one store transaction):
  1. Select movements WHERE date = d AND registered = false
  2. Fail NothingToCloseError if the set is empty (nothing is written)
  3. Compute totals and insert the ClosingRecord
  4. Flag the selected movements registered

  Because all four steps share one transaction, a crash or error at any
  step leaves the day exactly as it was and a retry sees the same set.
  A second CloseDay with no new movements fails NothingToCloseError.
  A day may have several closings only when new movements arrived after
  an earlier one.

TOTALS:
  Total        = Σ income − Σ(expense + investment)
  MethodTotals = Σ income grouped by payment method ("unspecified" when
                 the movement has none)

DETAIL:
  A closing's movements are re-resolved by id. Ids deleted since the
  closing are dropped from the detail without error.

SEE ALSO:
  - store.go: MarkRegistered, InsertClosing
  - api/scheduler.go: optional end-of-day automatic closing
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Closer struct {
	ledger *Ledger
}

func NewCloser(l *Ledger) *Closer {
	return &Closer{ledger: l}
}

// CloseDay reconciles every unregistered movement dated date.
func (c *Closer) CloseDay(ctx context.Context, date Date) (ClosingRecord, error) {
	if date.IsZero() {
		return ClosingRecord{}, &ValidationError{Field: "date", Reason: "required"}
	}

	var rec ClosingRecord
	err := c.ledger.store.WithTx(ctx, func(s Store) error {
		pending, err := s.ListMovements(ctx, MovementFilter{Date: &date, Unregistered: true})
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return &NothingToCloseError{Date: date}
		}

		rec = Summarize(pending)
		rec.ID = ClosingID(c.ledger.newID())
		rec.Date = date
		rec.ClosedAt = c.ledger.stamp()

		if err := s.InsertClosing(ctx, rec); err != nil {
			return err
		}
		flagged, err := s.MarkRegistered(ctx, rec.MovementIDs)
		if err != nil {
			return err
		}
		if flagged != len(rec.MovementIDs) {
			// Someone registered or deleted part of the set under us.
			return &ConcurrencyConflictError{Kind: "closing", ID: date.String()}
		}
		return nil
	})
	if err != nil {
		return ClosingRecord{}, err
	}

	c.ledger.log.Info("day closed",
		zap.String("closing", string(rec.ID)),
		zap.String("date", date.String()),
		zap.String("total", rec.Total.String()),
		zap.Int("movements", len(rec.MovementIDs)))
	c.ledger.publish(ctx, Change{Kind: ChangeDayClosed, ClosingID: rec.ID, Date: date})
	return rec, nil
}

// Summarize computes totals and the id snapshot for a set of movements.
func Summarize(movements []Movement) ClosingRecord {
	rec := ClosingRecord{
		Total:        decimal.Zero,
		MethodTotals: make(map[string]decimal.Decimal),
		MovementIDs:  make([]MovementID, 0, len(movements)),
	}
	for _, m := range movements {
		rec.MovementIDs = append(rec.MovementIDs, m.ID)
		rec.Total = rec.Total.Add(m.Signed())
		if m.Type == Income {
			key := m.PaymentMethod.TotalsKey()
			rec.MethodTotals[key] = rec.MethodTotals[key].Add(m.Amount)
		}
	}
	return rec
}

// ClosingsForDate returns the day's closings, oldest first.
func (c *Closer) ClosingsForDate(ctx context.Context, date Date) ([]ClosingRecord, error) {
	return c.ledger.store.ListClosings(ctx, date, date)
}

// Closings returns closings dated within [from, to], oldest first.
func (c *Closer) Closings(ctx context.Context, from, to Date) ([]ClosingRecord, error) {
	if to.Before(from) {
		return nil, &ValidationError{Field: "range", Reason: "end before start"}
	}
	return c.ledger.store.ListClosings(ctx, from, to)
}

func (c *Closer) Get(ctx context.Context, id ClosingID) (ClosingRecord, error) {
	return c.ledger.store.GetClosing(ctx, id)
}

// Detail resolves a closing's movements, silently skipping deleted ones.
func (c *Closer) Detail(ctx context.Context, id ClosingID) (ClosingDetail, error) {
	rec, err := c.ledger.store.GetClosing(ctx, id)
	if err != nil {
		return ClosingDetail{}, err
	}

	detail := ClosingDetail{Closing: rec, Movements: make([]Movement, 0, len(rec.MovementIDs))}
	for _, mid := range rec.MovementIDs {
		m, err := c.ledger.store.GetMovement(ctx, mid)
		if IsNotFound(err) {
			detail.Missing++
			continue
		}
		if err != nil {
			return ClosingDetail{}, err
		}
		detail.Movements = append(detail.Movements, m)
	}
	if detail.Missing > 0 {
		c.ledger.log.Debug("closing detail has dangling movements",
			zap.String("closing", string(id)), zap.Int("missing", detail.Missing))
	}
	return detail, nil
}

// PendingDates lists dates with unregistered movements, newest first.
func (c *Closer) PendingDates(ctx context.Context) ([]Date, error) {
	return c.ledger.store.PendingDates(ctx)
}
