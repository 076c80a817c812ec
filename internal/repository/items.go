package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/supply-portal/internal/model"
)

func parseFee(s string) (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse fee %q: %w", s, err)
	}
	return fee, nil
}

// CreateItem добавляет позицию в каталог.
func (r *PostgresRepository) CreateItem(ctx context.Context, name string, quantity int64, fee decimal.Decimal) (*model.Item, error) {
	it := model.Item{Name: name, Quantity: quantity, Fee: fee}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO items (name, quantity, fee) VALUES ($1, $2, $3::numeric) RETURNING id, created_at`,
		name, quantity, fee.StringFixed(2),
	).Scan(&it.ID, &it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return &it, nil
}

// GetItem возвращает позицию каталога по идентификатору.
func (r *PostgresRepository) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	var it model.Item
	var fee string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, quantity, fee::text, created_at FROM items WHERE id = $1`,
		id,
	).Scan(&it.ID, &it.Name, &it.Quantity, &fee, &it.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}

	if it.Fee, err = parseFee(fee); err != nil {
		return nil, err
	}
	return &it, nil
}

// ListItems возвращает каталог, новые позиции первыми.
func (r *PostgresRepository) ListItems(ctx context.Context) ([]model.Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, quantity, fee::text, created_at FROM items ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var fee string
		if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &fee, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if it.Fee, err = parseFee(fee); err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// DeleteItem удаляет позицию каталога вместе с её ожидающими заявками.
// Решённые заявки, выдачи и история сохраняются.
func (r *PostgresRepository) DeleteItem(ctx context.Context, id int64) error {
	return withRetry(ctx, retryDelays, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var exists bool
		err = tx.QueryRow(ctx, `SELECT true FROM items WHERE id = $1 FOR UPDATE`, id).Scan(&exists)
		if err != nil {
			if isNoRows(err) {
				return ErrItemNotFound
			}
			return fmt.Errorf("lock item: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM borrow_requests WHERE item_id = $1 AND status = $2`,
			id, string(model.RequestStatusPending),
		); err != nil {
			return fmt.Errorf("delete pending requests: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM items WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
