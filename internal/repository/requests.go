package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/supply-portal/internal/model"
)

func scanBorrowRequest(row pgx.Row) (*model.BorrowRequest, error) {
	var (
		br     model.BorrowRequest
		status string
	)
	err := row.Scan(&br.ID, &br.RequesterID, &br.ItemID, &br.Quantity, &br.ExpectedReturn, &status, &br.CreatedAt, &br.UpdatedAt)
	if err != nil {
		return nil, err
	}
	br.Status = model.RequestStatus(status)
	return &br, nil
}

// CreateBorrowRequest сохраняет новую заявку в статусе pending.
// Строка позиции блокируется на время вставки, поэтому заявка не переживёт параллельный DeleteItem.
func (r *PostgresRepository) CreateBorrowRequest(ctx context.Context, br *model.BorrowRequest) error {
	br.Status = model.RequestStatusPending
	err := r.pool.QueryRow(ctx,
		`INSERT INTO borrow_requests (requester_id, item_id, quantity, expected_return, status)
		 SELECT $1::bigint, $2::bigint, $3::bigint, $4::date, $5::varchar
		 WHERE EXISTS (SELECT 1 FROM items WHERE id = $2 FOR KEY SHARE)
		 RETURNING id, created_at, updated_at`,
		br.RequesterID, br.ItemID, br.Quantity, dateOnly(br.ExpectedReturn), string(br.Status),
	).Scan(&br.ID, &br.CreatedAt, &br.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: %d", ErrItemNotFound, br.ItemID)
		}
		return fmt.Errorf("create borrow request: %w", err)
	}
	return nil
}

// GetBorrowRequest возвращает заявку по идентификатору.
func (r *PostgresRepository) GetBorrowRequest(ctx context.Context, id int64) (*model.BorrowRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM borrow_requests WHERE id = $1`, id)

	br, err := scanBorrowRequest(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get borrow request: %w", err)
	}
	return br, nil
}

// ListBorrowRequests возвращает заявки по фильтру, новые первыми.
func (r *PostgresRepository) ListBorrowRequests(ctx context.Context, f RequestFilter) ([]model.BorrowRequest, error) {
	sql, args, err := buildRequestsQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build requests query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select borrow requests: %w", err)
	}
	defer rows.Close()

	var res []model.BorrowRequest
	for rows.Next() {
		br, err := scanBorrowRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan borrow request: %w", err)
		}
		res = append(res, *br)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListBorrowedEntries возвращает экран «мои вещи»: ожидающие заявки пользователя и его выдачи.
func (r *PostgresRepository) ListBorrowedEntries(ctx context.Context, requesterID int64) ([]model.BorrowedEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, item_id, item_name, quantity, expected_return, status FROM (
		     SELECT 'req-' || br.id AS id, br.id AS raw_id, 0 AS ord, br.item_id, COALESCE(i.name, '') AS item_name,
		            br.quantity, br.expected_return, br.status
		     FROM borrow_requests br
		     LEFT JOIN items i ON i.id = br.item_id
		     WHERE br.requester_id = $1 AND br.status = $2
		     UNION ALL
		     SELECT 'bor-' || l.id, l.id, 1, l.item_id, COALESCE(i.name, ''),
		            l.quantity, l.expected_return, l.status
		     FROM loans l
		     LEFT JOIN items i ON i.id = l.item_id
		     WHERE l.requester_id = $1
		 ) AS entries
		 ORDER BY ord, raw_id DESC`,
		requesterID, string(model.RequestStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("select borrowed entries: %w", err)
	}
	defer rows.Close()

	var res []model.BorrowedEntry
	for rows.Next() {
		var e model.BorrowedEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.ItemName, &e.Quantity, &e.ExpectedReturn, &e.Status); err != nil {
			return nil, fmt.Errorf("scan borrowed entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
