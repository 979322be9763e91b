package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bancart/internal/domain"
	"bancart/internal/report"
	"bancart/internal/service"
	"bancart/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	service       *service.Service
	reports       *report.Engine
	carts         *service.CartRegistry
	allowedOrigin string
	health        Pinger
}

func New(svc *service.Service, reports *report.Engine, carts *service.CartRegistry, allowedOrigin string) *API {
	if carts == nil {
		carts = service.NewCartRegistry()
	}
	return &API{
		service:       svc,
		reports:       reports,
		carts:         carts,
		allowedOrigin: allowedOrigin,
	}
}

// WithHealthCheck makes /healthz report 503 while p fails.
func (a *API) WithHealthCheck(p Pinger) *API {
	a.health = p
	return a
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/products", a.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", a.handleCreateProduct).Methods(http.MethodPost)
	api.HandleFunc("/products/low-stock", a.handleLowStock).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}", a.handleGetProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}", a.handleUpdateProduct).Methods(http.MethodPut)
	api.HandleFunc("/products/{id:[0-9]+}", a.handleDeleteProduct).Methods(http.MethodDelete)
	api.HandleFunc("/products/{id:[0-9]+}/stock", a.handleAdjustStock).Methods(http.MethodPost)

	api.HandleFunc("/tabs", a.handleTabs).Methods(http.MethodGet)
	api.HandleFunc("/tabs/{tabID:[0-9]+}", a.handleSelectTab).Methods(http.MethodGet)
	api.HandleFunc("/tabs/{tabID:[0-9]+}/lines", a.handleAddTabLine).Methods(http.MethodPost)
	api.HandleFunc("/tabs/{tabID:[0-9]+}/close", a.handleCloseTab).Methods(http.MethodPost)

	api.HandleFunc("/carts", a.handleNewCart).Methods(http.MethodPost)
	api.HandleFunc("/carts/{cartID}", a.handleGetCart).Methods(http.MethodGet)
	api.HandleFunc("/carts/{cartID}", a.handleClearCart).Methods(http.MethodDelete)
	api.HandleFunc("/carts/{cartID}/lines", a.handleAddCartLine).Methods(http.MethodPost)
	api.HandleFunc("/carts/{cartID}/finalize", a.handleFinalizeCart).Methods(http.MethodPost)

	api.HandleFunc("/reports/daily", a.handleDailyReport).Methods(http.MethodGet)

	return a.withMiddleware(r)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, errors.Wrap(store.ErrStoreUnavailable, err.Error()))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := parsePositive(r.URL.Query().Get("threshold"), 0)
	products, err := a.service.LowStock(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProductID(w, r)
	if !ok {
		return
	}
	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProductID(w, r)
	if !ok {
		return
	}
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProductID(w, r)
	if !ok {
		return
	}
	if err := a.service.DeleteProduct(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProductID(w, r)
	if !ok {
		return
	}
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.AdjustStock(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleTabs(w http.ResponseWriter, r *http.Request) {
	overview, err := a.service.TabOverview(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (a *API) handleSelectTab(w http.ResponseWriter, r *http.Request) {
	tabID, ok := parseTabID(w, r)
	if !ok {
		return
	}
	view, err := a.service.SelectTab(r.Context(), tabID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAddTabLine(w http.ResponseWriter, r *http.Request) {
	tabID, ok := parseTabID(w, r)
	if !ok {
		return
	}
	var req domain.AddLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	line, err := a.service.AddLine(r.Context(), tabID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"line": line})
}

func (a *API) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	tabID, ok := parseTabID(w, r)
	if !ok {
		return
	}
	var req domain.CloseTabRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.CloseTab(r.Context(), tabID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleNewCart(w http.ResponseWriter, _ *http.Request) {
	cart := a.service.NewCart()
	a.carts.Put(cart)
	writeJSON(w, http.StatusCreated, cart.View())
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, ok := a.cart(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cart.View())
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	cart, ok := a.cart(w, r)
	if !ok {
		return
	}
	cart.Clear()
	writeJSON(w, http.StatusOK, cart.View())
}

func (a *API) handleAddCartLine(w http.ResponseWriter, r *http.Request) {
	cart, ok := a.cart(w, r)
	if !ok {
		return
	}
	var req domain.AddLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := a.service.AddToCart(r.Context(), cart, req); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cart.View())
}

func (a *API) handleFinalizeCart(w http.ResponseWriter, r *http.Request) {
	cart, ok := a.cart(w, r)
	if !ok {
		return
	}
	var req domain.FinalizeCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.FinalizeCart(r.Context(), cart, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	day, err := a.reports.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))); format {
	case "text", "txt":
		text, _, err := a.reports.RenderReport(r.Context(), day)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=\""+report.FileName(day)+"\"")
		_, _ = w.Write([]byte(text))
	case "csv":
		var buf bytes.Buffer
		if err := a.reports.RenderCSV(r.Context(), day, &buf); err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=\"daily-report-"+day.Format("2006-01-02")+".csv\"")
		_, _ = w.Write(buf.Bytes())
	case "", "json":
		summary, err := a.reports.DailySummary(r.Context(), day)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		writeError(w, http.StatusBadRequest, errors.Errorf("unsupported format %q", format))
	}
}

func (a *API) cart(w http.ResponseWriter, r *http.Request) (*service.Cart, bool) {
	id := mux.Vars(r)["cartID"]
	cart, ok := a.carts.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("cart %s not found", id))
		return nil, false
	}
	return cart, true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.L().Info("http request",
			zap.String("component", "httpapi"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(startedAt)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func parseProductID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("invalid product id"))
		return 0, false
	}
	return id, true
}

func parseTabID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["tabID"])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid tab id"))
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func parsePositive(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, report.ErrEmptyReport):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry driver or file system details.
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		zap.L().Warn("store unavailable", zap.String("component", "httpapi"), zap.Error(err))
		w.Header().Set("Retry-After", "1")
		msg = "store unavailable, retry shortly"
	case status >= 500:
		zap.L().Error("internal error", zap.String("component", "httpapi"), zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
