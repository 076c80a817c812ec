package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/supply-portal/internal/model"
)

// TxStore описывает операции, доступные внутри транзакции жизненного цикла выдачи.
// Методы Lock* блокируют строку до конца транзакции.
type TxStore interface {
	LockItem(ctx context.Context, itemID int64) (*model.Item, error)
	SetItemQuantity(ctx context.Context, itemID int64, quantity int64) error

	LockBorrowRequest(ctx context.Context, id int64) (*model.BorrowRequest, error)
	SetBorrowRequestStatus(ctx context.Context, id int64, status model.RequestStatus) error
	// MatchBorrowRequest ищет уже решённую заявку по совпадению полей выдачи.
	MatchBorrowRequest(ctx context.Context, loan *model.Loan) (int64, bool, error)

	InsertLoan(ctx context.Context, loan *model.Loan) error
	LockLoan(ctx context.Context, id int64) (*model.Loan, error)
	SetLoanStatus(ctx context.Context, id int64, status model.LoanStatus) error

	InsertLoanHistory(ctx context.Context, h *model.LoanHistory) error
	SetLoanHistoryStatus(ctx context.Context, loanID int64, status model.LoanStatus) error
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockItem(ctx context.Context, itemID int64) (*model.Item, error) {
	var it model.Item
	var fee string
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, quantity, fee::text, created_at FROM items WHERE id = $1 FOR UPDATE`,
		itemID,
	).Scan(&it.ID, &it.Name, &it.Quantity, &fee, &it.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("lock item: %w", err)
	}

	if it.Fee, err = parseFee(fee); err != nil {
		return nil, err
	}
	return &it, nil
}

func (t *pgTx) SetItemQuantity(ctx context.Context, itemID int64, quantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE items SET quantity = $2 WHERE id = $1`, itemID, quantity)
	if err != nil {
		return fmt.Errorf("update item quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *pgTx) LockBorrowRequest(ctx context.Context, id int64) (*model.BorrowRequest, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM borrow_requests WHERE id = $1 FOR UPDATE`,
		id,
	)

	br, err := scanBorrowRequest(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("lock borrow request: %w", err)
	}
	return br, nil
}

func (t *pgTx) SetBorrowRequestStatus(ctx context.Context, id int64, status model.RequestStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE borrow_requests SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update borrow request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (t *pgTx) MatchBorrowRequest(ctx context.Context, loan *model.Loan) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM borrow_requests
		 WHERE requester_id = $1 AND item_id = $2 AND quantity = $3 AND expected_return = $4
		   AND status NOT IN ($5, $6)
		 ORDER BY id DESC
		 LIMIT 1
		 FOR UPDATE`,
		loan.RequesterID, loan.ItemID, loan.Quantity, loan.ExpectedReturn,
		string(model.RequestStatusPending), string(model.RequestStatusRejected),
	).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("match borrow request: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) InsertLoan(ctx context.Context, loan *model.Loan) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO loans (request_id, requester_id, item_id, quantity, expected_return, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		loan.RequestID, loan.RequesterID, loan.ItemID, loan.Quantity, loan.ExpectedReturn, string(loan.Status),
	).Scan(&loan.ID, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (t *pgTx) LockLoan(ctx context.Context, id int64) (*model.Loan, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`,
		id,
	)

	l, err := scanLoan(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("lock loan: %w", err)
	}
	return l, nil
}

func (t *pgTx) SetLoanStatus(ctx context.Context, id int64, status model.LoanStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE loans SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update loan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func (t *pgTx) InsertLoanHistory(ctx context.Context, h *model.LoanHistory) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO loan_histories (loan_id, requester_id, item_id, quantity, expected_return, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		h.LoanID, h.RequesterID, h.ItemID, h.Quantity, h.ExpectedReturn, string(h.Status),
	).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert loan history: %w", err)
	}
	return nil
}

func (t *pgTx) SetLoanHistoryStatus(ctx context.Context, loanID int64, status model.LoanStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE loan_histories SET status = $2, updated_at = NOW() WHERE loan_id = $1`,
		loanID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update loan history status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: loan %d", ErrHistoryNotFound, loanID)
	}
	return nil
}

// dateOnly отбрасывает время, чтобы значение совпадало с колонкой DATE.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
