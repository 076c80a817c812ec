// Package handler содержит HTTP-обработчики API портала выдачи имущества.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/supply-portal/internal/middleware"
	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
	"github.com/mmeshcher/supply-portal/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateItem(ctx context.Context, name string, quantity int64, fee decimal.Decimal) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	DeleteItem(ctx context.Context, id int64) error

	CreateBorrowRequest(ctx context.Context, requesterID, itemID, quantity int64, expectedReturn string) (*model.BorrowRequest, error)
	ListBorrowRequests(ctx context.Context, f repository.RequestFilter) ([]model.BorrowRequest, error)
	ListBorrowedEntries(ctx context.Context, requesterID int64) ([]model.BorrowedEntry, error)
	DecideBorrowRequest(ctx context.Context, requestID int64, outcome service.Outcome) (*service.Decision, error)

	ListLoans(ctx context.Context, f repository.LoanFilter) ([]model.Loan, error)
	TransitionLoan(ctx context.Context, loanID int64, status model.LoanStatus) (*service.Transition, error)
	ListLoanHistory(ctx context.Context, f repository.HistoryFilter) ([]model.LoanHistory, error)
	TransitionLoanHistory(ctx context.Context, historyID int64, status model.LoanStatus) (*service.Transition, error)
}

// Handler реализует HTTP-обработчики API портала.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled):
		return
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetRequestID(r.Context())),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func queryPage(r *http.Request) (repository.Page, bool) {
	number, ok := queryInt(r, "page")
	if !ok {
		return repository.Page{}, false
	}
	size, ok := queryInt(r, "size")
	if !ok {
		return repository.Page{}, false
	}
	return repository.Page{Number: int(number), Size: int(size)}, true
}

func formatDate(t time.Time) string {
	return t.Format(model.DateLayout)
}

type createItemRequest struct {
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	Fee      decimal.Decimal `json:"fee"`
}

type itemResponse struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	CreatedAt string          `json:"created_at"`
}

func toItemResponse(it model.Item) itemResponse {
	return itemResponse{
		ID:        it.ID,
		Name:      it.Name,
		Quantity:  it.Quantity,
		Fee:       it.Fee,
		CreatedAt: it.CreatedAt.Format(time.RFC3339),
	}
}

// ListItems возвращает каталог с текущими остатками.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, toItemResponse(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateItem добавляет позицию в каталог.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	item, err := h.service.CreateItem(r.Context(), req.Name, req.Quantity, req.Fee)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(*item))
}

// DeleteItem удаляет позицию каталога.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid item id")
		return
	}

	if err := h.service.DeleteItem(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
