package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/supply-portal/internal/model"
)

func scanLoan(row pgx.Row) (*model.Loan, error) {
	var (
		l      model.Loan
		status string
	)
	err := row.Scan(&l.ID, &l.RequestID, &l.RequesterID, &l.ItemID, &l.Quantity, &l.ExpectedReturn, &status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = model.LoanStatus(status)
	return &l, nil
}

func scanLoanHistory(row pgx.Row) (*model.LoanHistory, error) {
	var (
		h      model.LoanHistory
		status string
	)
	err := row.Scan(&h.ID, &h.LoanID, &h.RequesterID, &h.ItemID, &h.Quantity, &h.ExpectedReturn, &status, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Status = model.LoanStatus(status)
	return &h, nil
}

// GetLoan возвращает выдачу по идентификатору.
func (r *PostgresRepository) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)

	l, err := scanLoan(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

// ListLoans возвращает выдачи по фильтру.
func (r *PostgresRepository) ListLoans(ctx context.Context, f LoanFilter) ([]model.Loan, error) {
	sql, args, err := buildLoansQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build loans query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		res = append(res, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetLoanHistory возвращает запись истории по идентификатору.
func (r *PostgresRepository) GetLoanHistory(ctx context.Context, id int64) (*model.LoanHistory, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+historyColumns+` FROM loan_histories WHERE id = $1`, id)

	h, err := scanLoanHistory(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrHistoryNotFound
		}
		return nil, fmt.Errorf("get loan history: %w", err)
	}
	return h, nil
}

// ListLoanHistory возвращает записи истории по фильтру, новые первыми.
func (r *PostgresRepository) ListLoanHistory(ctx context.Context, f HistoryFilter) ([]model.LoanHistory, error) {
	sql, args, err := buildHistoryQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select loan history: %w", err)
	}
	defer rows.Close()

	var res []model.LoanHistory
	for rows.Next() {
		h, err := scanLoanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan history: %w", err)
		}
		res = append(res, *h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
