/*
scheduler.go - End-of-day automatic cash closing

PURPOSE:
  Closes the current day once the wall clock passes a configured time
  (closing.auto_at), so days are reconciled even when nobody presses the
  button. With CatchUp set it also closes earlier days that still hold
  unregistered movements, e.g. after the server was down over midnight.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - A day is attempted at most once per process after auto_at; a failure
    other than NothingToClose is retried on the next tick
  - NothingToCloseError is expected (idle day) and logged at Debug
  - Closing itself is the ledger's atomic CloseDay, so a manual close
    racing the scheduler simply makes one of them see NothingToClose

CONFIGURATION:
  - At:            HH:MM local time (default 23:55)
  - CheckInterval: How often to check (default: 1 minute)
  - CatchUp:       Also close pending past days

USAGE:
  s := NewAutoCloser(closer, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: CloseDay endpoint (manual closing)
  - ledger/closing.go: Closer
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warp/cashbook/ledger"
	"go.uber.org/zap"
)

// AutoCloser closes days automatically.
type AutoCloser struct {
	Closer        *ledger.Closer
	At            string
	CheckInterval time.Duration
	CatchUp       bool
	Now           func() time.Time

	log        *zap.Logger
	lastClosed ledger.Date

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewAutoCloser(closer *ledger.Closer, log *zap.Logger) *AutoCloser {
	if log == nil {
		log = zap.NewNop()
	}
	return &AutoCloser{
		Closer:        closer,
		At:            "23:55",
		CheckInterval: time.Minute,
		CatchUp:       true,
		Now:           time.Now,
		log:           log.Named("autoclose"),
	}
}

// Start begins the scheduler. It fails when At is not HH:MM.
func (ac *AutoCloser) Start() error {
	if _, err := ac.cutoff(ac.Now()); err != nil {
		return err
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.ticker != nil {
		return nil
	}

	ac.stop = make(chan struct{})
	ac.ticker = time.NewTicker(ac.CheckInterval)
	ac.wg.Add(1)
	go ac.run()

	ac.log.Info("auto close started",
		zap.String("at", ac.At), zap.Duration("interval", ac.CheckInterval), zap.Bool("catch_up", ac.CatchUp))
	return nil
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (ac *AutoCloser) Stop() {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.ticker != nil {
		ac.ticker.Stop()
		close(ac.stop)
		ac.wg.Wait()
		ac.ticker = nil
		ac.log.Info("auto close stopped")
	}
}

func (ac *AutoCloser) run() {
	defer ac.wg.Done()

	ac.RunNow(context.Background())
	for {
		select {
		case <-ac.ticker.C:
			ac.RunNow(context.Background())
		case <-ac.stop:
			return
		}
	}
}

// RunNow performs one check and returns the closings it created.
func (ac *AutoCloser) RunNow(ctx context.Context) []ledger.ClosingRecord {
	now := ac.Now()
	today := ledger.DateOf(now)

	var created []ledger.ClosingRecord
	if ac.CatchUp {
		created = append(created, ac.catchUp(ctx, today)...)
	}

	cutoff, err := ac.cutoff(now)
	if err != nil {
		ac.log.Error("invalid auto close time", zap.Error(err))
		return created
	}
	if now.Before(cutoff) || ac.lastClosed.Equal(today) {
		return created
	}

	if rec, ok := ac.closeDay(ctx, today); ok {
		created = append(created, rec)
	}
	return created
}

func (ac *AutoCloser) catchUp(ctx context.Context, today ledger.Date) []ledger.ClosingRecord {
	dates, err := ac.Closer.PendingDates(ctx)
	if err != nil {
		ac.log.Error("failed to list pending dates", zap.Error(err))
		return nil
	}
	var created []ledger.ClosingRecord
	for _, d := range dates {
		if !d.Before(today) {
			continue
		}
		rec, err := ac.Closer.CloseDay(ctx, d)
		if err != nil {
			if !errors.Is(err, ledger.ErrNothingToClose) {
				ac.log.Error("catch-up close failed", zap.String("date", d.String()), zap.Error(err))
			}
			continue
		}
		ac.log.Info("closed missed day", zap.String("date", d.String()), zap.String("closing", string(rec.ID)))
		created = append(created, rec)
	}
	return created
}

func (ac *AutoCloser) closeDay(ctx context.Context, day ledger.Date) (ledger.ClosingRecord, bool) {
	rec, err := ac.Closer.CloseDay(ctx, day)
	switch {
	case err == nil:
		ac.lastClosed = day
		ac.log.Info("day closed automatically",
			zap.String("date", day.String()), zap.String("closing", string(rec.ID)), zap.String("total", rec.Total.String()))
		return rec, true
	case errors.Is(err, ledger.ErrNothingToClose):
		ac.lastClosed = day
		ac.log.Debug("nothing to close", zap.String("date", day.String()))
	default:
		ac.log.Error("automatic close failed, will retry", zap.String("date", day.String()), zap.Error(err))
	}
	return ledger.ClosingRecord{}, false
}

// cutoff returns today's At in now's location.
func (ac *AutoCloser) cutoff(now time.Time) (time.Time, error) {
	at, err := time.Parse("15:04", ac.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("auto close time %q is not HH:MM", ac.At)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location()), nil
}
