package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/supply-portal/internal/middleware"
	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
	"github.com/mmeshcher/supply-portal/internal/service"
)

type createBorrowRequest struct {
	ItemID         int64  `json:"item_id"`
	Quantity       int64  `json:"quantity"`
	ExpectedReturn string `json:"expected_return"`
}

type borrowRequestResponse struct {
	ID             int64  `json:"id"`
	RequesterID    int64  `json:"requester_id"`
	ItemID         int64  `json:"item_id"`
	Quantity       int64  `json:"quantity"`
	ExpectedReturn string `json:"expected_return"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toBorrowRequestResponse(br model.BorrowRequest) borrowRequestResponse {
	return borrowRequestResponse{
		ID:             br.ID,
		RequesterID:    br.RequesterID,
		ItemID:         br.ItemID,
		Quantity:       br.Quantity,
		ExpectedReturn: formatDate(br.ExpectedReturn),
		Status:         string(br.Status),
		CreatedAt:      br.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      br.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateBorrowRequest создаёт заявку текущего пользователя.
func (h *Handler) CreateBorrowRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createBorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	br, err := h.service.CreateBorrowRequest(r.Context(), userID, req.ItemID, req.Quantity, req.ExpectedReturn)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBorrowRequestResponse(*br))
}

type borrowedEntryResponse struct {
	ID             string `json:"id"`
	ItemID         int64  `json:"item_id"`
	ItemName       string `json:"item_name"`
	Quantity       int64  `json:"quantity"`
	ExpectedReturn string `json:"expected_return"`
	Status         string `json:"status"`
}

// GetBorrowedItems возвращает ожидающие заявки и выдачи текущего пользователя.
func (h *Handler) GetBorrowedItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	entries, err := h.service.ListBorrowedEntries(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]borrowedEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, borrowedEntryResponse{
			ID:             e.ID,
			ItemID:         e.ItemID,
			ItemName:       e.ItemName,
			Quantity:       e.Quantity,
			ExpectedReturn: formatDate(e.ExpectedReturn),
			Status:         e.Status,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListBorrowRequests возвращает заявки с фильтрами requester_id, item_id, status и страницей.
func (h *Handler) ListBorrowRequests(w http.ResponseWriter, r *http.Request) {
	requesterID, ok1 := queryInt(r, "requester_id")
	itemID, ok2 := queryInt(r, "item_id")
	page, ok3 := queryPage(r)
	if !ok1 || !ok2 || !ok3 {
		badRequest(w, "invalid query parameters")
		return
	}

	requests, err := h.service.ListBorrowRequests(r.Context(), repository.RequestFilter{
		RequesterID: requesterID,
		ItemID:      itemID,
		Status:      model.RequestStatus(r.URL.Query().Get("status")),
		Page:        page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(requests) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]borrowRequestResponse, 0, len(requests))
	for _, br := range requests {
		resp = append(resp, toBorrowRequestResponse(br))
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRequest struct {
	Status string `json:"status"`
}

type decisionResponse struct {
	Request borrowRequestResponse `json:"request"`
	Loan    *loanResponse         `json:"loan,omitempty"`
	Stock   *stockResponse        `json:"stock,omitempty"`
}

type stockResponse struct {
	ItemID int64 `json:"item_id"`
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// DecideBorrowRequest одобряет или отклоняет заявку.
func (h *Handler) DecideBorrowRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid borrow request id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	outcome, err := service.ParseOutcome(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.service.DecideBorrowRequest(r.Context(), id, outcome)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := decisionResponse{Request: toBorrowRequestResponse(d.Request)}
	if d.Loan != nil {
		loan := toLoanResponse(*d.Loan)
		resp.Loan = &loan
	}
	if d.Stock != nil {
		resp.Stock = &stockResponse{ItemID: d.Stock.ItemID, Before: d.Stock.Before, After: d.Stock.After}
	}

	h.logger.Debug("borrow request decided",
		zap.Int64("requestID", id),
		zap.String("outcome", string(outcome)),
	)
	writeJSON(w, http.StatusOK, resp)
}
