/*
handlers.go - HTTP API handlers for the cashbook

PURPOSE:
  Exposes the ledger, category registry, cash closing engine, balance
  calculator and order book via REST. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger package.

ENDPOINTS:
  Movements:
    POST   /api/movements              Record (Idempotency-Key header, ?mode=replace)
    GET    /api/movements              List (?date= | ?from=&to= | ?category=)
    GET    /api/movements/{id}         Get one
    PATCH  /api/movements/{id}         Partial update (If-Match: <version>)
    DELETE /api/movements/{id}         Hard delete

  Categories:
    GET    /api/categories             List
    POST   /api/categories             Add
    PUT    /api/categories/{name}      Rename (cascades to movements)
    DELETE /api/categories/{name}      Remove registry entry only

  Closings:
    POST   /api/closings               Close a day
    GET    /api/closings               List (?date= | ?from=&to=)
    GET    /api/closings/pending       Dates with unregistered movements
    GET    /api/closings/{id}          Detail with resolved movements

  Summaries:
    GET    /api/summary/daily?date=
    GET    /api/summary/range?from=&to=
    GET    /api/balance
    POST   /api/receivable

  Orders:
    GET    /api/orders
    POST   /api/orders
    GET    /api/orders/{id}
    POST   /api/orders/{id}/transitions

REQUEST FLOW:
  1. Decode and validate the body (validator tags on DTOs)
  2. Convert to ledger types
  3. Call the ledger service
  4. Serialize response
  5. Map domain errors to status codes (writeDomainError)

ERROR HANDLING:
  - 400: ValidationError, malformed input
  - 404: NotFoundError
  - 409: DuplicateError, ImmutableRecordError, NothingToCloseError
  - 409 + retry: ConcurrencyConflictError (refresh and retry)
  - 500: Everything else

SECURITY NOTE:
  No authentication. Run behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/cashbook/ledger"
	"github.com/warp/cashbook/orders"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can drop all data (demo only).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Pinger is implemented by stores with a reachable backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *ledger.Ledger
	Categories *ledger.Registry
	Closer     *ledger.Closer
	Calculator *ledger.Calculator
	Sync       *ledger.Synchronizer
	Orders     *orders.Book

	log      *zap.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	log          *zap.Logger
	depositRatio *decimal.Decimal
	maxDays      int
	salesCat     string
}

func WithLogger(log *zap.Logger) HandlerOption {
	return func(c *handlerConfig) { c.log = log }
}

func WithDepositRatio(r decimal.Decimal) HandlerOption {
	return func(c *handlerConfig) { c.depositRatio = &r }
}

// WithMaxSummaryDays caps the span of /api/summary/range.
func WithMaxSummaryDays(n int) HandlerOption {
	return func(c *handlerConfig) { c.maxDays = n }
}

func WithSalesCategory(name string) HandlerOption {
	return func(c *handlerConfig) { c.salesCat = name }
}

// NewHandler wires the ledger services around l and subscribes the payment
// synchronizer to the order book.
func NewHandler(l *ledger.Ledger, book *orders.Book, opts ...HandlerOption) *Handler {
	cfg := handlerConfig{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var calcOpts []ledger.CalculatorOption
	if cfg.depositRatio != nil {
		calcOpts = append(calcOpts, ledger.WithDepositRatio(*cfg.depositRatio))
	}
	if cfg.maxDays > 0 {
		calcOpts = append(calcOpts, ledger.WithMaxRangeDays(cfg.maxDays))
	}
	var syncOpts []ledger.SyncOption
	if cfg.salesCat != "" {
		syncOpts = append(syncOpts, ledger.WithSalesCategory(cfg.salesCat))
	}

	h := &Handler{
		Ledger:     l,
		Categories: ledger.NewRegistry(l),
		Closer:     ledger.NewCloser(l),
		Calculator: ledger.NewCalculator(l, calcOpts...),
		Sync:       ledger.NewSynchronizer(l, book, syncOpts...),
		Orders:     book,
		log:        cfg.log,
		validate:   newValidator(),
	}
	book.Subscribe(h.onTransition)
	return h
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// movementSink carries the synchronizer's output back to the request that
// triggered the transition.
type movementSink struct {
	movement *ledger.Movement
}

type sinkKey struct{}

func (h *Handler) onTransition(ctx context.Context, before ledger.Order, t ledger.Transition) error {
	m, err := h.Sync.Apply(ctx, before, t)
	if err != nil {
		return err
	}
	if sink, ok := ctx.Value(sinkKey{}).(*movementSink); ok {
		sink.movement = m
	}
	return nil
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// CreateMovement records a movement.
func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req CreateMovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	in, err := req.toInput()
	if err != nil {
		h.fail(w, err)
		return
	}

	var mode ledger.RecordMode
	switch q := r.URL.Query().Get("mode"); q {
	case "", "return":
		mode = ledger.ReturnExisting
	case "replace":
		mode = ledger.ReplaceIfExists
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown mode %q", q), nil)
		return
	}

	m, err := h.Ledger.Record(r.Context(), in, ledger.WithMode(mode))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

// ListMovements lists movements, filtered by one of date, range or category.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		movements []ledger.Movement
		err       error
	)
	switch {
	case q.Get("date") != "":
		var d ledger.Date
		if d, err = ledger.ParseDate(q.Get("date")); err == nil {
			movements, err = h.Ledger.ListByDate(ctx, d)
		}
	case q.Get("from") != "" || q.Get("to") != "":
		var from, to ledger.Date
		if from, to, err = parseRange(q.Get("from"), q.Get("to")); err == nil {
			movements, err = h.Ledger.ListRange(ctx, from, to)
		}
	case q.Has("category"):
		movements, err = h.Ledger.ListByCategory(ctx, q.Get("category"))
	default:
		movements, err = h.Ledger.ListAll(ctx)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

func (h *Handler) GetMovement(w http.ResponseWriter, r *http.Request) {
	m, err := h.Ledger.Get(r.Context(), ledger.MovementID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// UpdateMovement patches an unregistered movement. An If-Match header with
// the expected version is equivalent to expected_version in the body.
func (h *Handler) UpdateMovement(w http.ResponseWriter, r *http.Request) {
	var req UpdateMovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	if match := strings.Trim(r.Header.Get("If-Match"), `"`); match != "" {
		v, err := strconv.Atoi(match)
		if err != nil {
			writeError(w, http.StatusBadRequest, "If-Match must be a version number", err)
			return
		}
		req.ExpectedVersion = &v
	}

	patch, err := req.toPatch()
	if err != nil {
		h.fail(w, err)
		return
	}
	m, err := h.Ledger.Update(r.Context(), ledger.MovementID(chi.URLParam(r, "id")), patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

func (h *Handler) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Delete(r.Context(), ledger.MovementID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Categories.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = CategoryDTO{Name: c.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Categories.Add(r.Context(), req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CategoryDTO{Name: c.Name})
}

// RenameCategory renames {name} to the body's name and relabels movements.
func (h *Handler) RenameCategory(w http.ResponseWriter, r *http.Request) {
	var req RenameCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Categories.Rename(r.Context(), chi.URLParam(r, "name"), req.Name); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CategoryDTO{Name: req.Name})
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Categories.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CLOSING HANDLERS
// =============================================================================

func (h *Handler) CloseDay(w http.ResponseWriter, r *http.Request) {
	var req CloseDayRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		h.fail(w, err)
		return
	}
	rec, err := h.Closer.CloseDay(r.Context(), date)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClosingDTO(rec))
}

// ListClosings lists closings for ?date= or ?from=&to=.
func (h *Handler) ListClosings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		closings []ledger.ClosingRecord
		err      error
	)
	if q.Get("date") != "" {
		var d ledger.Date
		if d, err = ledger.ParseDate(q.Get("date")); err == nil {
			closings, err = h.Closer.ClosingsForDate(r.Context(), d)
		}
	} else {
		var from, to ledger.Date
		if from, to, err = parseRange(q.Get("from"), q.Get("to")); err == nil {
			closings, err = h.Closer.Closings(r.Context(), from, to)
		}
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTOs(closings))
}

func (h *Handler) PendingClosings(w http.ResponseWriter, r *http.Request) {
	dates, err := h.Closer.PendingDates(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetClosing(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Closer.Detail(r.Context(), ledger.ClosingID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClosingDetailDTO{
		Closing:   toClosingDTO(detail.Closing),
		Movements: toMovementDTOs(detail.Movements),
		Missing:   detail.Missing,
	})
}

// =============================================================================
// SUMMARY / BALANCE HANDLERS
// =============================================================================

func (h *Handler) DailySummary(w http.ResponseWriter, r *http.Request) {
	date, err := ledger.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, err)
		return
	}
	s, err := h.Calculator.DailySummary(r.Context(), date)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

func (h *Handler) RangeSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		h.fail(w, err)
		return
	}
	rs, err := h.Calculator.RangeSummary(r.Context(), from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	days := make([]SummaryDTO, len(rs.Days))
	for i, d := range rs.Days {
		days[i] = toSummaryDTO(d)
	}
	totals := toSummaryDTO(rs.Totals)
	totals.Date = ""
	writeJSON(w, http.StatusOK, RangeSummaryDTO{
		From:   rs.From.String(),
		To:     rs.To.String(),
		Days:   days,
		Totals: totals,
	})
}

func (h *Handler) RunningBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Calculator.RunningBalance(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Balance: b.String()})
}

// Receivable computes the receivable over the posted orders, or over the
// whole order book when the body is empty or lists none.
func (h *Handler) Receivable(w http.ResponseWriter, r *http.Request) {
	var req ReceivableRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	var list []ledger.Order
	if len(req.Orders) > 0 {
		list = make([]ledger.Order, len(req.Orders))
		for i, o := range req.Orders {
			list[i] = o.toOrder()
		}
	} else {
		var err error
		if list, err = h.Orders.Orders(r.Context()); err != nil {
			h.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ReceivableDTO{
		Receivable: h.Calculator.Receivable(list).String(),
		Orders:     len(list),
	})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.Orders(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]OrderDTO, len(list))
	for i, o := range list {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Order(r.Context(), ledger.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) PutOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.Orders.Put(r.Context(), req.toOrder())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

// TransitionOrder moves an order's payment state. Reaching PAID_FULL
// records the outstanding amount as income dated close_date (today when
// omitted).
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	closeDate := ledger.DateOf(h.Ledger.Now())
	if req.CloseDate != "" {
		var err error
		if closeDate, err = ledger.ParseDate(req.CloseDate); err != nil {
			h.fail(w, err)
			return
		}
	}

	sink := &movementSink{}
	ctx := context.WithValue(r.Context(), sinkKey{}, sink)
	o, err := h.Orders.Transition(ctx, orders.TransitionRequest{
		OrderID:        ledger.OrderID(chi.URLParam(r, "id")),
		To:             ledger.PaymentState(req.To),
		CloseDate:      closeDate,
		PaymentMethod:  ledger.PaymentMethod(req.PaymentMethod),
		AmountReceived: req.AmountReceived,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := TransitionDTO{Order: toOrderDTO(o)}
	if sink.movement != nil {
		dto := toMovementDTO(*sink.movement)
		resp.Movement = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Ledger.Store().(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetDatabase clears all data and reseeds the default categories.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Ledger.Store().(Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.Orders.Reset()

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	return h.Categories.SeedDefaults(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeDomainError(w, fromValidator(err))
		return false
	}
	return true
}

// fromValidator converts the first field failure into a ValidationError.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &ledger.ValidationError{Field: fe.Field(), Reason: "failed " + reason}
	}
	return &ledger.ValidationError{Field: "body", Reason: err.Error()}
}

func parseRange(fromStr, toStr string) (ledger.Date, ledger.Date, error) {
	if fromStr == "" || toStr == "" {
		return ledger.Date{}, ledger.Date{}, &ledger.ValidationError{Field: "range", Reason: "from and to are required"}
	}
	from, err := ledger.ParseDate(fromStr)
	if err != nil {
		return ledger.Date{}, ledger.Date{}, err
	}
	to, err := ledger.ParseDate(toStr)
	if err != nil {
		return ledger.Date{}, ledger.Date{}, err
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail logs unexpected errors and writes the mapped response.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	if status, _ := classify(err); status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeDomainError(w, err)
}

// writeDomainError maps ledger errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  code,
		Retry: errors.Is(err, ledger.ErrConcurrencyConflict),
	}

	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Details = map[string]string{"field": verr.Field, "reason": verr.Reason}
	}
	if status == http.StatusInternalServerError {
		// Do not leak storage details.
		resp.Error = "Internal error"
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, ledger.ErrImmutableRecord):
		return http.StatusConflict, "immutable_record"
	case errors.Is(err, ledger.ErrNothingToClose):
		return http.StatusConflict, "nothing_to_close"
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
