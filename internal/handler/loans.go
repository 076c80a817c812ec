package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mmeshcher/supply-portal/internal/middleware"
	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
	"github.com/mmeshcher/supply-portal/internal/service"
)

type loanResponse struct {
	ID             int64  `json:"id"`
	RequestID      *int64 `json:"request_id,omitempty"`
	RequesterID    int64  `json:"requester_id"`
	ItemID         int64  `json:"item_id"`
	Quantity       int64  `json:"quantity"`
	ExpectedReturn string `json:"expected_return"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toLoanResponse(l model.Loan) loanResponse {
	return loanResponse{
		ID:             l.ID,
		RequestID:      l.RequestID,
		RequesterID:    l.RequesterID,
		ItemID:         l.ItemID,
		Quantity:       l.Quantity,
		ExpectedReturn: formatDate(l.ExpectedReturn),
		Status:         string(l.Status),
		CreatedAt:      l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      l.UpdatedAt.Format(time.RFC3339),
	}
}

type historyResponse struct {
	ID             int64  `json:"id"`
	LoanID         int64  `json:"loan_id"`
	RequesterID    int64  `json:"requester_id"`
	ItemID         int64  `json:"item_id"`
	Quantity       int64  `json:"quantity"`
	ExpectedReturn string `json:"expected_return"`
	Status         string `json:"status"`
	UpdatedAt      string `json:"updated_at"`
}

func toHistoryResponse(hs model.LoanHistory) historyResponse {
	return historyResponse{
		ID:             hs.ID,
		LoanID:         hs.LoanID,
		RequesterID:    hs.RequesterID,
		ItemID:         hs.ItemID,
		Quantity:       hs.Quantity,
		ExpectedReturn: formatDate(hs.ExpectedReturn),
		Status:         string(hs.Status),
		UpdatedAt:      hs.UpdatedAt.Format(time.RFC3339),
	}
}

type transitionResponse struct {
	Loan          loanResponse   `json:"loan"`
	Previous      string         `json:"previous_status"`
	RequestSynced bool           `json:"request_synced"`
	Restored      *stockResponse `json:"restored,omitempty"`
}

func toTransitionResponse(t *service.Transition) transitionResponse {
	resp := transitionResponse{
		Loan:          toLoanResponse(t.Loan),
		Previous:      string(t.Previous),
		RequestSynced: t.RequestSynced,
	}
	if t.Restored != nil {
		resp.Restored = &stockResponse{ItemID: t.Restored.ItemID, Before: t.Restored.Before, After: t.Restored.After}
	}
	return resp
}

// ListLoans возвращает выдачи с фильтрами requester_id, item_id, status и страницей.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	requesterID, ok1 := queryInt(r, "requester_id")
	itemID, ok2 := queryInt(r, "item_id")
	page, ok3 := queryPage(r)
	if !ok1 || !ok2 || !ok3 {
		badRequest(w, "invalid query parameters")
		return
	}

	loans, err := h.service.ListLoans(r.Context(), repository.LoanFilter{
		RequesterID: requesterID,
		ItemID:      itemID,
		Status:      model.LoanStatus(r.URL.Query().Get("status")),
		Page:        page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(loans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		resp = append(resp, toLoanResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// TransitionLoan переводит выдачу в статус overdue или returned.
func (h *Handler) TransitionLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid loan id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	t, err := h.service.TransitionLoan(r.Context(), id, model.LoanStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(t))
}

// TransitionLoanHistory меняет статус выдачи по записи истории.
func (h *Handler) TransitionLoanHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid history id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	t, err := h.service.TransitionLoanHistory(r.Context(), id, model.LoanStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(t))
}

// ListHistory возвращает историю выдач для администратора.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	requesterID, ok1 := queryInt(r, "requester_id")
	itemID, ok2 := queryInt(r, "item_id")
	page, ok3 := queryPage(r)
	if !ok1 || !ok2 || !ok3 {
		badRequest(w, "invalid query parameters")
		return
	}

	h.writeHistory(w, r, repository.HistoryFilter{
		RequesterID: requesterID,
		ItemID:      itemID,
		Status:      model.LoanStatus(r.URL.Query().Get("status")),
		Page:        page,
	})
}

// GetUserHistory возвращает историю выдач текущего пользователя.
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	page, ok := queryPage(r)
	if !ok {
		badRequest(w, "invalid query parameters")
		return
	}

	h.writeHistory(w, r, repository.HistoryFilter{RequesterID: userID, Page: page})
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, f repository.HistoryFilter) {
	rows, err := h.service.ListLoanHistory(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(rows) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]historyResponse, 0, len(rows))
	for _, hs := range rows {
		resp = append(resp, toHistoryResponse(hs))
	}
	writeJSON(w, http.StatusOK, resp)
}
