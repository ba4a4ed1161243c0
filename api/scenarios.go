/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  data for demos and manual testing. Dates are relative to the ledger
  clock's today, so a loaded scenario always looks current.

AVAILABLE SCENARIOS:
  small-shop:     Three days of sales and costs, the first day already closed
  order-payments: Orders in every payment state; one settles to PAID_FULL
  late-entries:   A closed day that received new movements afterwards

HOW SCENARIOS WORK:
  1. Reset store and order book, reseed default categories
  2. Record movements through the ledger (same path as the API)
  3. Optionally close days and drive order transitions

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "small-shop"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/cashbook/ledger"
	"github.com/warp/cashbook/orders"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-shop",
		Name:        "Small Shop",
		Description: "Three days of sales, raw material and rent; the oldest day is closed",
	},
	{
		ID:          "order-payments",
		Name:        "Order Payments",
		Description: "Orders with and without deposits; settling one records the outstanding income",
	},
	{
		ID:          "late-entries",
		Name:        "Late Entries",
		Description: "A day closed twice because movements arrived after the first closing",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, today ledger.Date) error

var scenarioLoaders = map[string]scenarioLoader{
	"small-shop":     (*Handler).loadSmallShop,
	"order-payments": (*Handler).loadOrderPayments,
	"late-entries":   (*Handler).loadLateEntries,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID resets and loads scenario id.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "scenario", ID: id}
	}
	if err := h.reset(ctx); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	if err := load(h, ctx, ledger.DateOf(h.Ledger.Now())); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type entry struct {
	typ      ledger.MovementType
	amount   string
	category string
	desc     string
	method   ledger.PaymentMethod
	at       string
}

func (h *Handler) recordAll(ctx context.Context, day ledger.Date, entries []entry) error {
	for _, e := range entries {
		t, err := ledger.ParseTimeOfDay(e.at)
		if err != nil {
			return err
		}
		_, err = h.Ledger.Record(ctx, ledger.MovementInput{
			Type:          e.typ,
			Amount:        decimal.RequireFromString(e.amount),
			Category:      e.category,
			Description:   e.desc,
			Date:          day,
			Time:          t,
			PaymentMethod: e.method,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSmallShop(ctx context.Context, today ledger.Date) error {
	days := []struct {
		date    ledger.Date
		entries []entry
	}{
		{today.AddDays(-2), []entry{
			{ledger.Income, "12500", "Ventas", "Counter sales", ledger.MethodCash, "10:15"},
			{ledger.Income, "8300", "Ventas", "Card sales", ledger.MethodCard, "13:40"},
			{ledger.Expense, "4200", "Materia Prima", "Flour and sugar", ledger.MethodTransfer, "09:00"},
			{ledger.Expense, "35000", "Alquiler", "Monthly rent", ledger.MethodTransfer, "08:30"},
		}},
		{today.AddDays(-1), []entry{
			{ledger.Income, "9800", "Ventas", "Counter sales", ledger.MethodCash, "11:05"},
			{ledger.Investment, "60000", "Inversión", "New oven", ledger.MethodTransfer, "16:20"},
			{ledger.Expense, "1500", "Servicios", "Electricity", ledger.MethodOther, "17:00"},
		}},
		{today, []entry{
			{ledger.Income, "5000", "Ventas", "Morning sales", ledger.MethodCash, "09:45"},
			{ledger.Expense, "2000", "Materia Prima", "Eggs", ledger.MethodCash, "10:30"},
		}},
	}
	for _, d := range days {
		if err := h.recordAll(ctx, d.date, d.entries); err != nil {
			return err
		}
	}
	_, err := h.Closer.CloseDay(ctx, today.AddDays(-2))
	return err
}

func (h *Handler) loadOrderPayments(ctx context.Context, today ledger.Date) error {
	deposit := decimal.NewFromInt(3000)
	seed := []ledger.Order{
		{ID: "ORD-1001", ClientName: "Ana Pérez", Total: decimal.NewFromInt(10000), PaymentState: ledger.DepositPaid, AmountReceived: &deposit},
		{ID: "ORD-1002", ClientName: "Luis Gómez", Total: decimal.NewFromInt(8000), PaymentState: ledger.DepositPaid},
		{ID: "ORD-1003", ClientName: "Marta Ruiz", Total: decimal.NewFromInt(4500), PaymentState: ledger.NoDeposit},
		{ID: "ORD-1004", ClientName: "Jorge Díaz", Total: decimal.NewFromInt(6000), PaymentState: ledger.NoDeposit},
	}
	for _, o := range seed {
		if _, err := h.Orders.Put(ctx, o); err != nil {
			return err
		}
	}

	// The operator records the deposit that arrived for ORD-1001.
	if err := h.recordAll(ctx, today.AddDays(-1), []entry{
		{ledger.Income, "3000", "Ventas", "Deposit ORD-1001", ledger.MethodTransfer, "12:00"},
	}); err != nil {
		return err
	}

	// Settling ORD-1001 records the remaining 7000 through the synchronizer.
	_, err := h.Orders.Transition(ctx, orders.TransitionRequest{
		OrderID:       "ORD-1001",
		To:            ledger.PaidFull,
		CloseDate:     today,
		PaymentMethod: ledger.MethodCash,
	})
	return err
}

func (h *Handler) loadLateEntries(ctx context.Context, today ledger.Date) error {
	day := today.AddDays(-1)
	if err := h.recordAll(ctx, day, []entry{
		{ledger.Income, "5000", "Ventas", "Sales", ledger.MethodCash, "10:00"},
		{ledger.Expense, "2000", "Materia Prima", "Supplies", ledger.MethodCash, "11:00"},
	}); err != nil {
		return err
	}
	if _, err := h.Closer.CloseDay(ctx, day); err != nil {
		return err
	}
	if err := h.recordAll(ctx, day, []entry{
		{ledger.Income, "1200", "Ventas", "Late card sale", ledger.MethodCard, "19:30"},
	}); err != nil {
		return err
	}
	_, err := h.Closer.CloseDay(ctx, day)
	return err
}
