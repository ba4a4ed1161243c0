/*
handlers_test.go - HTTP API tests

Runs the full router against an in-memory store with a pinned clock:
- Idempotent recording and replace-mode conflicts
- Cash closing, closing detail, NothingToClose
- Optimistic concurrency via If-Match
- Summaries, receivable and order transitions
- Category rename cascade
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashbook/ledger"
	"github.com/warp/cashbook/ledger/store"
	"github.com/warp/cashbook/orders"
)

var fixedNow = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, opts ...ledger.Option) *testServer {
	t.Helper()
	opts = append([]ledger.Option{ledger.WithClock(func() time.Time { return fixedNow })}, opts...)
	l := ledger.NewLedger(store.NewMemory(), opts...)
	h := NewHandler(l, orders.NewBook())
	require.NoError(t, h.Categories.SeedDefaults(context.Background()))
	return &testServer{handler: h, router: NewRouter(h, RouterConfig{})}
}

func (ts *testServer) request(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func movementBody(typ, amount, method, date string) map[string]any {
	return map[string]any{
		"type":           typ,
		"amount":         amount,
		"category":       "Ventas",
		"date":           date,
		"time":           "10:00",
		"payment_method": method,
	}
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestCreateMovement_IdempotencyKeyReplay(t *testing.T) {
	ts := newTestServer(t)
	body := movementBody("income", "5000", "cash", "2025-01-10")

	first := ts.request(http.MethodPost, "/api/movements", body, "Idempotency-Key", "sale-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := ts.request(http.MethodPost, "/api/movements", body, "Idempotency-Key", "sale-1")
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())

	a := decodeBody[MovementDTO](t, first)
	b := decodeBody[MovementDTO](t, second)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "sale-1", b.IdempotencyKey)

	list := decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements?date=2025-01-10", nil))
	assert.Len(t, list, 1)
}

func TestCreateMovement_ReplaceRegisteredIsConflict(t *testing.T) {
	ts := newTestServer(t)
	body := movementBody("income", "5000", "cash", "2025-01-10")
	w := ts.request(http.MethodPost, "/api/movements", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.request(http.MethodPost, "/api/closings", map[string]string{"date": "2025-01-10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body["amount"] = "9999"
	w = ts.request(http.MethodPost, "/api/movements?mode=replace", body, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "immutable_record", decodeBody[ErrorResponse](t, w).Code)

	list := decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "5000", list[0].Amount)
	assert.True(t, list[0].Registered)
}

func TestCreateMovement_ReplaceUnregistered(t *testing.T) {
	ts := newTestServer(t)
	body := movementBody("income", "5000", "cash", "2025-01-10")
	first := decodeBody[MovementDTO](t, ts.request(http.MethodPost, "/api/movements", body, "Idempotency-Key", "k-1"))

	body["amount"] = "6000"
	w := ts.request(http.MethodPost, "/api/movements?mode=replace", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	replaced := decodeBody[MovementDTO](t, w)

	assert.Equal(t, first.ID, replaced.ID)
	assert.Equal(t, "6000", replaced.Amount)
	assert.Equal(t, 2, replaced.Version)
}

func TestCreateMovement_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"zero amount", movementBody("income", "0", "cash", "2025-01-10"), "amount"},
		{"unknown type", movementBody("gift", "10", "cash", "2025-01-10"), "type"},
		{"unknown method", movementBody("income", "10", "crypto", "2025-01-10"), "payment_method"},
		{"bad date", movementBody("income", "10", "cash", "10/01/2025"), "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.request(http.MethodPost, "/api/movements", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			resp := decodeBody[ErrorResponse](t, w)
			assert.Equal(t, "validation_error", resp.Code)
			details, ok := resp.Details.(map[string]any)
			require.True(t, ok, "details should carry the field")
			assert.Equal(t, tt.field, details["field"])
		})
	}
}

func TestCreateMovement_UnknownMode(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(http.MethodPost, "/api/movements?mode=upsert", movementBody("income", "10", "cash", "2025-01-10"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateMovement_DefaultsToToday(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(http.MethodPost, "/api/movements", map[string]any{"type": "expense", "amount": "12.5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	m := decodeBody[MovementDTO](t, w)
	assert.Equal(t, "2025-01-10", m.Date)
	assert.Equal(t, "12:00:00", m.Time)
}

func TestUpdateMovement_IfMatch(t *testing.T) {
	ts := newTestServer(t)
	m := decodeBody[MovementDTO](t, ts.request(http.MethodPost, "/api/movements", movementBody("expense", "100", "cash", "2025-01-10")))

	stale := ts.request(http.MethodPatch, "/api/movements/"+m.ID, map[string]any{"amount": "150"}, "If-Match", "7")
	assert.Equal(t, http.StatusConflict, stale.Code)
	resp := decodeBody[ErrorResponse](t, stale)
	assert.Equal(t, "concurrency_conflict", resp.Code)
	assert.True(t, resp.Retry)

	ok := ts.request(http.MethodPatch, "/api/movements/"+m.ID, map[string]any{"amount": "150"}, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	updated := decodeBody[MovementDTO](t, ok)
	assert.Equal(t, "150", updated.Amount)
	assert.Equal(t, 2, updated.Version)
}

func TestDeleteMovement(t *testing.T) {
	ts := newTestServer(t)
	m := decodeBody[MovementDTO](t, ts.request(http.MethodPost, "/api/movements", movementBody("expense", "100", "cash", "2025-01-10")))

	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodDelete, "/api/movements/"+m.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.request(http.MethodGet, "/api/movements/"+m.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.request(http.MethodDelete, "/api/movements/"+m.ID, nil).Code)
}

func TestDeleteMovement_RegisteredIsImmutable(t *testing.T) {
	ts := newTestServer(t)
	m := decodeBody[MovementDTO](t, ts.request(http.MethodPost, "/api/movements", movementBody("income", "100", "cash", "2025-01-10")))
	require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/closings", map[string]string{"date": "2025-01-10"}).Code)

	w := ts.request(http.MethodDelete, "/api/movements/"+m.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "immutable_record", decodeBody[ErrorResponse](t, w).Code)
}

// =============================================================================
// CLOSINGS
// =============================================================================

func TestCloseDay_TotalsAndDetail(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []map[string]any{
		movementBody("income", "5000", "cash", "2025-01-10"),
		movementBody("income", "1500", "card", "2025-01-10"),
		movementBody("income", "500", "", "2025-01-10"),
		movementBody("expense", "2000", "cash", "2025-01-10"),
		movementBody("income", "999", "cash", "2025-01-09"),
	} {
		require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/movements", body).Code)
	}

	w := ts.request(http.MethodPost, "/api/closings", map[string]string{"date": "2025-01-10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decodeBody[ClosingDTO](t, w)

	assert.Equal(t, "5000", rec.Total)
	assert.Equal(t, map[string]string{"cash": "5000", "card": "1500", "unspecified": "500"}, rec.MethodTotals)
	assert.Len(t, rec.MovementIDs, 4)

	again := ts.request(http.MethodPost, "/api/closings", map[string]string{"date": "2025-01-10"})
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "nothing_to_close", decodeBody[ErrorResponse](t, again).Code)

	detail := decodeBody[ClosingDetailDTO](t, ts.request(http.MethodGet, "/api/closings/"+rec.ID, nil))
	assert.Len(t, detail.Movements, 4)
	assert.Zero(t, detail.Missing)

	pending := decodeBody[[]string](t, ts.request(http.MethodGet, "/api/closings/pending", nil))
	assert.Equal(t, []string{"2025-01-09"}, pending)

	list := decodeBody[[]ClosingDTO](t, ts.request(http.MethodGet, "/api/closings?date=2025-01-10", nil))
	assert.Len(t, list, 1)
}

func TestCloseDay_DanglingDetail(t *testing.T) {
	ts := newTestServer(t, ledger.AllowRegisteredDelete(true))
	m := decodeBody[MovementDTO](t, ts.request(http.MethodPost, "/api/movements", movementBody("income", "100", "cash", "2025-01-10")))
	_ = ts.request(http.MethodPost, "/api/movements", movementBody("income", "50", "cash", "2025-01-10"))
	rec := decodeBody[ClosingDTO](t, ts.request(http.MethodPost, "/api/closings", map[string]string{"date": "2025-01-10"}))

	require.Equal(t, http.StatusNoContent, ts.request(http.MethodDelete, "/api/movements/"+m.ID, nil).Code)

	detail := decodeBody[ClosingDetailDTO](t, ts.request(http.MethodGet, "/api/closings/"+rec.ID, nil))
	assert.Len(t, detail.Movements, 1)
	assert.Equal(t, 1, detail.Missing)
	assert.Equal(t, "150", detail.Closing.Total)
}

func TestCloseDay_MissingDate(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(http.MethodPost, "/api/closings", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// SUMMARIES
// =============================================================================

func TestSummaries(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []map[string]any{
		movementBody("income", "1000", "cash", "2025-01-09"),
		movementBody("income", "5000", "cash", "2025-01-10"),
		movementBody("expense", "1200", "cash", "2025-01-10"),
		movementBody("investment", "800", "transfer", "2025-01-10"),
	} {
		require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/movements", body).Code)
	}

	daily := decodeBody[SummaryDTO](t, ts.request(http.MethodGet, "/api/summary/daily?date=2025-01-10", nil))
	assert.Equal(t, SummaryDTO{Date: "2025-01-10", Income: "5000", Expense: "2000", Investment: "800", Net: "3000"}, daily)

	rng := decodeBody[RangeSummaryDTO](t, ts.request(http.MethodGet, "/api/summary/range?from=2025-01-08&to=2025-01-10", nil))
	require.Len(t, rng.Days, 3)
	assert.Equal(t, "0", rng.Days[0].Net)
	assert.Equal(t, "1000", rng.Days[1].Net)
	assert.Equal(t, "4000", rng.Totals.Net)
	assert.Empty(t, rng.Totals.Date)

	bal := decodeBody[BalanceDTO](t, ts.request(http.MethodGet, "/api/balance", nil))
	assert.Equal(t, "4000", bal.Balance)

	bad := ts.request(http.MethodGet, "/api/summary/range?from=2025-01-10&to=2025-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	huge := ts.request(http.MethodGet, "/api/summary/range?from=1000-01-01&to=9999-12-31", nil)
	assert.Equal(t, http.StatusBadRequest, huge.Code)
}

func TestReceivable(t *testing.T) {
	ts := newTestServer(t)

	posted := ReceivableRequest{Orders: []OrderRequest{
		{ID: "a", Total: dec("10000"), PaymentState: "DEPOSIT_PAID"},
		{ID: "b", Total: dec("4000"), PaymentState: "NO_DEPOSIT"},
		{ID: "c", Total: dec("9000"), PaymentState: "PAID_FULL"},
	}}
	got := decodeBody[ReceivableDTO](t, ts.request(http.MethodPost, "/api/receivable", posted))
	assert.Equal(t, "9000", got.Receivable)
	assert.Equal(t, 3, got.Orders)

	// Empty body falls back to the order book.
	require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/orders",
		OrderRequest{ID: "o-1", Total: dec("300")}).Code)
	got = decodeBody[ReceivableDTO](t, ts.request(http.MethodPost, "/api/receivable", nil))
	assert.Equal(t, "300", got.Receivable)
	assert.Equal(t, 1, got.Orders)
}

// =============================================================================
// ORDERS
// =============================================================================

func TestTransitionOrder_PaidFullRecordsIncome(t *testing.T) {
	ts := newTestServer(t)
	deposit := dec("3000")
	require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/orders", OrderRequest{
		ID: "ORD-1", ClientName: "Ana", Total: dec("10000"), PaymentState: "DEPOSIT_PAID", AmountReceived: &deposit,
	}).Code)

	w := ts.request(http.MethodPost, "/api/orders/ORD-1/transitions", map[string]string{
		"to": "PAID_FULL", "payment_method": "transfer", "close_date": "2025-01-10",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[TransitionDTO](t, w)

	assert.Equal(t, "PAID_FULL", resp.Order.PaymentState)
	require.NotNil(t, resp.Movement)
	assert.Equal(t, "7000", resp.Movement.Amount)
	assert.Equal(t, "income", resp.Movement.Type)
	assert.Equal(t, "ORD-1", resp.Movement.OrderID)
	assert.Equal(t, "Ana", resp.Movement.ClientName)
	assert.Equal(t, "order:ORD-1:payment:2025-01-10:7000", resp.Movement.IdempotencyKey)

	// Repeating PAID_FULL settles nothing further.
	w = ts.request(http.MethodPost, "/api/orders/ORD-1/transitions", map[string]string{"to": "PAID_FULL"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decodeBody[TransitionDTO](t, w).Movement)

	list := decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements", nil))
	assert.Len(t, list, 1)
}

func TestTransitionOrder_DepositWritesNothing(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/orders", OrderRequest{ID: "o", Total: dec("100")}).Code)

	w := ts.request(http.MethodPost, "/api/orders/o/transitions", map[string]string{"to": "DEPOSIT_PAID"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decodeBody[TransitionDTO](t, w).Movement)

	back := ts.request(http.MethodPost, "/api/orders/o/transitions", map[string]string{"to": "NO_DEPOSIT"})
	assert.Equal(t, http.StatusBadRequest, back.Code)

	missing := ts.request(http.MethodPost, "/api/orders/nope/transitions", map[string]string{"to": "PAID_FULL"})
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

// =============================================================================
// CATEGORIES
// =============================================================================

func TestRenameCategory_Cascades(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/movements", movementBody("income", "10", "cash", "2025-01-10")).Code)

	w := ts.request(http.MethodPut, "/api/categories/Ventas", map[string]string{"name": "Sales"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	moved := decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements?category=Sales", nil))
	assert.Len(t, moved, 1)
	old := decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements?category=Ventas", nil))
	assert.Empty(t, old)

	dup := ts.request(http.MethodPut, "/api/categories/Sales", map[string]string{"name": "Otros"})
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "duplicate", decodeBody[ErrorResponse](t, dup).Code)

	missing := ts.request(http.MethodPut, "/api/categories/Nope", map[string]string{"name": "X"})
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestDeleteCategory_LeavesLabels(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/categories", map[string]string{"name": "Fletes"}).Code)
	assert.Equal(t, http.StatusConflict, ts.request(http.MethodPost, "/api/categories", map[string]string{"name": "Fletes"}).Code)

	body := movementBody("expense", "10", "cash", "2025-01-10")
	body["category"] = "Fletes"
	require.Equal(t, http.StatusCreated, ts.request(http.MethodPost, "/api/movements", body).Code)

	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodDelete, "/api/categories/Fletes", nil).Code)

	orphaned := decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements?category=Fletes", nil))
	assert.Len(t, orphaned, 1)
}

// =============================================================================
// SCENARIOS / HEALTH
// =============================================================================

func TestScenarios_LoadEach(t *testing.T) {
	ts := newTestServer(t)

	list := decodeBody[[]ScenarioDTO](t, ts.request(http.MethodGet, "/api/scenarios", nil))
	require.Len(t, list, len(scenarioLoaders))

	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			w := ts.request(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: s.ID})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			current := decodeBody[ScenarioDTO](t, ts.request(http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, s.ID, current.ID)

			movements := decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements", nil))
			assert.NotEmpty(t, movements)
		})
	}

	unknown := ts.request(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestScenarios_LateEntriesClosesTwice(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.handler.LoadScenarioByID(context.Background(), "late-entries"))

	closings := decodeBody[[]ClosingDTO](t, ts.request(http.MethodGet, "/api/closings?date=2025-01-09", nil))
	require.Len(t, closings, 2)
	assert.Equal(t, "3000", closings[0].Total)
	assert.Equal(t, "1200", closings[1].Total)
}

func TestResetDatabase(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.handler.LoadScenarioByID(context.Background(), "small-shop"))

	require.Equal(t, http.StatusOK, ts.request(http.MethodPost, "/api/scenarios/reset", nil).Code)

	assert.Empty(t, decodeBody[[]MovementDTO](t, ts.request(http.MethodGet, "/api/movements", nil)))
	cats := decodeBody[[]CategoryDTO](t, ts.request(http.MethodGet, "/api/categories", nil))
	assert.Len(t, cats, len(ledger.DefaultCategories))
	assert.Equal(t, "null\n", ts.request(http.MethodGet, "/api/scenarios/current", nil).Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownFieldRejected(t *testing.T) {
	ts := newTestServer(t)
	body := movementBody("income", "10", "cash", "2025-01-10")
	body["amount_cents"] = 10
	assert.Equal(t, http.StatusBadRequest, ts.request(http.MethodPost, "/api/movements", body).Code)
}
