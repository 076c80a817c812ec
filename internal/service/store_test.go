package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
)

type memState struct {
	items     map[int64]model.Item
	requests  map[int64]model.BorrowRequest
	loans     map[int64]model.Loan
	histories map[int64]model.LoanHistory
	nextID    int64
}

func (s *memState) clone() *memState {
	c := &memState{
		items:     make(map[int64]model.Item, len(s.items)),
		requests:  make(map[int64]model.BorrowRequest, len(s.requests)),
		loans:     make(map[int64]model.Loan, len(s.loans)),
		histories: make(map[int64]model.LoanHistory, len(s.histories)),
		nextID:    s.nextID,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.histories {
		c.histories[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memStore: хранилище в памяти: транзакция работает над копией состояния
// и подменяет его только при успешном завершении.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// failOn заставляет указанный метод транзакции вернуть ошибку.
	failOn map[string]error
	// setItemCalls считает записи остатка, включая откатанные.
	setItemCalls int
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			items:     map[int64]model.Item{},
			requests:  map[int64]model.BorrowRequest{},
			loans:     map[int64]model.Loan{},
			histories: map[int64]model.LoanHistory{},
		},
		failOn: map[string]error{},
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) WithinTx(ctx context.Context, fn func(tx repository.TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{store: m, st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) addItem(name string, quantity int64) model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := model.Item{ID: m.state.id(), Name: name, Quantity: quantity, Fee: decimal.Zero}
	m.state.items[it.ID] = it
	return it
}

func (m *memStore) item(id int64) (model.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.state.items[id]
	return it, ok
}

func (m *memStore) request(id int64) model.BorrowRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.requests[id]
}

func (m *memStore) loan(id int64) model.Loan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.loans[id]
}

func (m *memStore) historyFor(loanID int64) (model.LoanHistory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.state.histories {
		if h.LoanID == loanID {
			return h, true
		}
	}
	return model.LoanHistory{}, false
}

func (m *memStore) insertLegacyLoan(l model.Loan) model.Loan {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.ID = m.state.id()
	m.state.loans[l.ID] = l
	h := model.LoanHistory{
		ID: m.state.id(), LoanID: l.ID, RequesterID: l.RequesterID, ItemID: l.ItemID,
		Quantity: l.Quantity, ExpectedReturn: l.ExpectedReturn, Status: l.Status,
	}
	m.state.histories[h.ID] = h
	return l
}

func (m *memStore) insertRequest(br model.BorrowRequest) model.BorrowRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	br.ID = m.state.id()
	m.state.requests[br.ID] = br
	return br
}

func (m *memStore) CreateItem(ctx context.Context, name string, quantity int64, fee decimal.Decimal) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := model.Item{ID: m.state.id(), Name: name, Quantity: quantity, Fee: fee, CreatedAt: time.Now()}
	m.state.items[it.ID] = it
	return &it, nil
}

func (m *memStore) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.state.items[id]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	return &it, nil
}

func (m *memStore) ListItems(ctx context.Context) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]model.Item, 0, len(m.state.items))
	for _, it := range m.state.items {
		res = append(res, it)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (m *memStore) DeleteItem(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.items[id]; !ok {
		return repository.ErrItemNotFound
	}
	for reqID, br := range m.state.requests {
		if br.ItemID == id && br.Status == model.RequestStatusPending {
			delete(m.state.requests, reqID)
		}
	}
	delete(m.state.items, id)
	return nil
}

func (m *memStore) CreateBorrowRequest(ctx context.Context, br *model.BorrowRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.items[br.ItemID]; !ok {
		return fmt.Errorf("%w: %d", repository.ErrItemNotFound, br.ItemID)
	}
	br.ID = m.state.id()
	br.Status = model.RequestStatusPending
	m.state.requests[br.ID] = *br
	return nil
}

func (m *memStore) GetBorrowRequest(ctx context.Context, id int64) (*model.BorrowRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	br, ok := m.state.requests[id]
	if !ok {
		return nil, repository.ErrRequestNotFound
	}
	return &br, nil
}

func (m *memStore) ListBorrowRequests(ctx context.Context, f repository.RequestFilter) ([]model.BorrowRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.BorrowRequest
	for _, br := range m.state.requests {
		if f.Status != "" && br.Status != f.Status {
			continue
		}
		if f.RequesterID != 0 && br.RequesterID != f.RequesterID {
			continue
		}
		if f.ItemID != 0 && br.ItemID != f.ItemID {
			continue
		}
		res = append(res, br)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (m *memStore) ListBorrowedEntries(ctx context.Context, requesterID int64) ([]model.BorrowedEntry, error) {
	return nil, nil
}

func (m *memStore) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.state.loans[id]
	if !ok {
		return nil, repository.ErrLoanNotFound
	}
	return &l, nil
}

func (m *memStore) ListLoans(ctx context.Context, f repository.LoanFilter) ([]model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Loan
	for _, l := range m.state.loans {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.DueBefore != nil && !l.ExpectedReturn.Before(*f.DueBefore) {
			continue
		}
		if l.ID <= f.AfterID {
			continue
		}
		res = append(res, l)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	size := f.Page.Size
	if size > 0 && len(res) > size {
		res = res[:size]
	}
	return res, nil
}

func (m *memStore) GetLoanHistory(ctx context.Context, id int64) (*model.LoanHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.state.histories[id]
	if !ok {
		return nil, repository.ErrHistoryNotFound
	}
	return &h, nil
}

func (m *memStore) ListLoanHistory(ctx context.Context, f repository.HistoryFilter) ([]model.LoanHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.LoanHistory
	for _, h := range m.state.histories {
		if f.Status != "" && h.Status != f.Status {
			continue
		}
		if f.RequesterID != 0 && h.RequesterID != f.RequesterID {
			continue
		}
		if f.ItemID != 0 && h.ItemID != f.ItemID {
			continue
		}
		res = append(res, h)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

type memTx struct {
	store *memStore
	st    *memState
}

func (t *memTx) fail(op string) error {
	return t.store.failOn[op]
}

func (t *memTx) LockItem(ctx context.Context, itemID int64) (*model.Item, error) {
	if err := t.fail("LockItem"); err != nil {
		return nil, err
	}
	it, ok := t.st.items[itemID]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	return &it, nil
}

func (t *memTx) SetItemQuantity(ctx context.Context, itemID int64, quantity int64) error {
	if err := t.fail("SetItemQuantity"); err != nil {
		return err
	}
	it, ok := t.st.items[itemID]
	if !ok {
		return repository.ErrItemNotFound
	}
	t.store.setItemCalls++
	it.Quantity = quantity
	t.st.items[itemID] = it
	return nil
}

func (t *memTx) LockBorrowRequest(ctx context.Context, id int64) (*model.BorrowRequest, error) {
	br, ok := t.st.requests[id]
	if !ok {
		return nil, repository.ErrRequestNotFound
	}
	return &br, nil
}

func (t *memTx) SetBorrowRequestStatus(ctx context.Context, id int64, status model.RequestStatus) error {
	if err := t.fail("SetBorrowRequestStatus"); err != nil {
		return err
	}
	br, ok := t.st.requests[id]
	if !ok {
		return repository.ErrRequestNotFound
	}
	br.Status = status
	t.st.requests[id] = br
	return nil
}

func (t *memTx) MatchBorrowRequest(ctx context.Context, loan *model.Loan) (int64, bool, error) {
	var best int64
	for _, br := range t.st.requests {
		if br.RequesterID != loan.RequesterID || br.ItemID != loan.ItemID ||
			br.Quantity != loan.Quantity || !br.ExpectedReturn.Equal(loan.ExpectedReturn) {
			continue
		}
		if br.Status == model.RequestStatusPending || br.Status == model.RequestStatusRejected {
			continue
		}
		if br.ID > best {
			best = br.ID
		}
	}
	return best, best != 0, nil
}

func (t *memTx) InsertLoan(ctx context.Context, loan *model.Loan) error {
	if err := t.fail("InsertLoan"); err != nil {
		return err
	}
	loan.ID = t.st.id()
	t.st.loans[loan.ID] = *loan
	return nil
}

func (t *memTx) LockLoan(ctx context.Context, id int64) (*model.Loan, error) {
	l, ok := t.st.loans[id]
	if !ok {
		return nil, repository.ErrLoanNotFound
	}
	return &l, nil
}

func (t *memTx) SetLoanStatus(ctx context.Context, id int64, status model.LoanStatus) error {
	if err := t.fail("SetLoanStatus"); err != nil {
		return err
	}
	l, ok := t.st.loans[id]
	if !ok {
		return repository.ErrLoanNotFound
	}
	l.Status = status
	t.st.loans[id] = l
	return nil
}

func (t *memTx) InsertLoanHistory(ctx context.Context, h *model.LoanHistory) error {
	if err := t.fail("InsertLoanHistory"); err != nil {
		return err
	}
	h.ID = t.st.id()
	t.st.histories[h.ID] = *h
	return nil
}

func (t *memTx) SetLoanHistoryStatus(ctx context.Context, loanID int64, status model.LoanStatus) error {
	if err := t.fail("SetLoanHistoryStatus"); err != nil {
		return err
	}
	for id, h := range t.st.histories {
		if h.LoanID == loanID {
			h.Status = status
			t.st.histories[id] = h
			return nil
		}
	}
	return repository.ErrHistoryNotFound
}
