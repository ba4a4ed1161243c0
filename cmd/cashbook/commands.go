package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/warp/cashbook/api"
	"github.com/warp/cashbook/ledger"
	"github.com/warp/cashbook/orders"
	"go.uber.org/zap"
)

// =============================================================================
// SERVE
// =============================================================================

type ServeCmd struct {
	Port      string `help:"Override http.port."`
	AutoClose bool   `help:"Enable automatic end-of-day closing regardless of closing.auto_enabled." name:"auto-close"`
}

func (cmd *ServeCmd) Run(ctx *kong.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if cmd.Port != "" {
		cfg.HTTP.Port = cmd.Port
	}

	book := orders.NewBook(orders.WithLogger(a.log.Named("orders")))
	handler := api.NewHandler(a.ledger, book,
		api.WithLogger(a.log.Named("api")),
		api.WithDepositRatio(cfg.Ledger.DepositEstimateRatio),
		api.WithMaxSummaryDays(cfg.Ledger.MaxSummaryDays),
		api.WithSalesCategory(cfg.Ledger.SalesCategory),
	)
	if err := handler.Categories.SeedDefaults(context.Background()); err != nil {
		return fmt.Errorf("failed to seed categories: %w", err)
	}

	if cfg.Closing.AutoEnabled || cmd.AutoClose {
		ac := api.NewAutoCloser(handler.Closer, a.log)
		ac.At = cfg.Closing.AutoAt
		ac.CheckInterval = cfg.Closing.CheckInterval
		if err := ac.Start(); err != nil {
			return err
		}
		defer ac.Stop()
	}

	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      a.log.Named("http"),
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.App.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		a.log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

type CloseDayCmd struct {
	Date string `help:"Day to close (YYYY-MM-DD). Defaults to today."`
}

func (cmd *CloseDayCmd) Run(ctx *kong.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	date, err := dateOrToday(cmd.Date, a.ledger)
	if err != nil {
		return err
	}
	rec, err := ledger.NewCloser(a.ledger).CloseDay(context.Background(), date)
	if errors.Is(err, ledger.ErrNothingToClose) {
		fmt.Fprintf(ctx.Stdout, "Nothing to close on %s\n", date)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stdout, "Closed %s: %d movements, total %s (closing %s)\n",
		rec.Date, len(rec.MovementIDs), rec.Total.StringFixed(2), rec.ID)
	for method, amount := range rec.MethodTotals {
		fmt.Fprintf(ctx.Stdout, "  %-12s %s\n", method, amount.StringFixed(2))
	}
	return nil
}

type PendingCmd struct{}

func (cmd *PendingCmd) Run(ctx *kong.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	dates, err := ledger.NewCloser(a.ledger).PendingDates(context.Background())
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		fmt.Fprintln(ctx.Stdout, "No pending days")
		return nil
	}
	for _, d := range dates {
		fmt.Fprintln(ctx.Stdout, d)
	}
	return nil
}

type SummaryCmd struct {
	Date string `help:"Day to summarize (YYYY-MM-DD). Defaults to today."`
	From string `help:"Range start (YYYY-MM-DD)."`
	To   string `help:"Range end (YYYY-MM-DD)."`
}

func (cmd *SummaryCmd) Run(ctx *kong.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	if (cmd.From == "") != (cmd.To == "") {
		return errors.New("--from and --to must be given together")
	}
	if cmd.From != "" && cmd.Date != "" {
		return errors.New("--date cannot be combined with --from/--to")
	}

	calc := ledger.NewCalculator(a.ledger,
		ledger.WithDepositRatio(a.cfg.Ledger.DepositEstimateRatio),
		ledger.WithMaxRangeDays(a.cfg.Ledger.MaxSummaryDays))
	bg := context.Background()

	tw := tabwriter.NewWriter(ctx.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	defer tw.Flush()
	fmt.Fprintln(tw, "date\tincome\texpense\tinvestment\tnet\t")

	if cmd.From != "" {
		from, err := ledger.ParseDate(cmd.From)
		if err != nil {
			return err
		}
		to, err := ledger.ParseDate(cmd.To)
		if err != nil {
			return err
		}
		rs, err := calc.RangeSummary(bg, from, to)
		if err != nil {
			return err
		}
		for _, d := range rs.Days {
			printSummary(tw, d.Date.String(), d)
		}
		printSummary(tw, "total", rs.Totals)
		return nil
	}

	date, err := dateOrToday(cmd.Date, a.ledger)
	if err != nil {
		return err
	}
	s, err := calc.DailySummary(bg, date)
	if err != nil {
		return err
	}
	printSummary(tw, date.String(), s)
	return nil
}

func printSummary(tw *tabwriter.Writer, label string, s ledger.DailySummary) {
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", label,
		s.Income.StringFixed(2), s.Expense.StringFixed(2), s.Investment.StringFixed(2), s.Net.StringFixed(2))
}

type BalanceCmd struct{}

func (cmd *BalanceCmd) Run(ctx *kong.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := ledger.NewCalculator(a.ledger).RunningBalance(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Stdout, b.StringFixed(2))
	return nil
}

type CategoriesCmd struct {
	Seed bool `help:"Add any missing default categories first."`
}

func (cmd *CategoriesCmd) Run(ctx *kong.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := ledger.NewRegistry(a.ledger)
	bg := context.Background()
	if cmd.Seed {
		if err := reg.SeedDefaults(bg); err != nil {
			return err
		}
	}
	cats, err := reg.List(bg)
	if err != nil {
		return err
	}
	for _, c := range cats {
		fmt.Fprintln(ctx.Stdout, c.Name)
	}
	return nil
}

func dateOrToday(s string, l *ledger.Ledger) (ledger.Date, error) {
	if s == "" {
		return ledger.DateOf(l.Now()), nil
	}
	return ledger.ParseDate(s)
}
