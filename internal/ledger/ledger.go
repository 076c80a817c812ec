// Package ledger ведёт остатки позиций каталога: списание при выдаче и возврат на склад.
//
// Операции не идемпотентны: повторный вызов повторно меняет остаток. Вызывающий
// обязан гарантировать не более одного вызова на переход статуса и выполнять
// вызов внутри транзакции, в которой строка позиции заблокирована.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
)

var (
	// ErrInsufficientStock возвращается политикой PolicyReject, если остатка не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrItemGone возвращается при возврате на склад удалённой позиции.
	ErrItemGone = errors.New("catalog item no longer exists")
	// ErrNegativeQuantity возвращается при отрицательном количестве.
	ErrNegativeQuantity = errors.New("quantity must not be negative")
)

// Policy определяет поведение списания при нехватке остатка.
type Policy string

const (
	// PolicyClamp обнуляет остаток вместо ухода в минус.
	PolicyClamp Policy = "clamp"
	// PolicyReject отклоняет списание сверх остатка.
	PolicyReject Policy = "reject"
)

// ParsePolicy разбирает название политики. Пустая строка означает PolicyClamp.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyClamp:
		return PolicyClamp, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown stock policy %q", s)
}

// Store описывает операции над строкой позиции внутри транзакции.
type Store interface {
	LockItem(ctx context.Context, itemID int64) (*model.Item, error)
	SetItemQuantity(ctx context.Context, itemID int64, quantity int64) error
}

// Movement описывает изменение остатка позиции.
type Movement struct {
	ItemID int64
	Before int64
	After  int64
}

// Ledger списывает и возвращает остатки согласно политике.
type Ledger struct {
	policy Policy
}

// New создаёт Ledger с указанной политикой списания.
func New(policy Policy) *Ledger {
	if policy == "" {
		policy = PolicyClamp
	}
	return &Ledger{policy: policy}
}

// Policy возвращает политику списания.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Deduct списывает quantity единиц позиции.
func (l *Ledger) Deduct(ctx context.Context, store Store, itemID, quantity int64) (Movement, error) {
	if quantity < 0 {
		return Movement{}, ErrNegativeQuantity
	}

	it, err := store.LockItem(ctx, itemID)
	if err != nil {
		return Movement{}, fmt.Errorf("lock item %d: %w", itemID, err)
	}

	if quantity > it.Quantity && l.policy == PolicyReject {
		return Movement{}, fmt.Errorf("%w: item %d has %d, requested %d", ErrInsufficientStock, itemID, it.Quantity, quantity)
	}

	after := it.Quantity - quantity
	if after < 0 {
		after = 0
	}

	if err := store.SetItemQuantity(ctx, itemID, after); err != nil {
		return Movement{}, fmt.Errorf("deduct item %d: %w", itemID, err)
	}

	return Movement{ItemID: itemID, Before: it.Quantity, After: after}, nil
}

// Restore возвращает quantity единиц позиции на склад без верхней границы.
func (l *Ledger) Restore(ctx context.Context, store Store, itemID, quantity int64) (Movement, error) {
	if quantity < 0 {
		return Movement{}, ErrNegativeQuantity
	}

	it, err := store.LockItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return Movement{ItemID: itemID}, ErrItemGone
		}
		return Movement{}, fmt.Errorf("lock item %d: %w", itemID, err)
	}

	after := it.Quantity + quantity
	if err := store.SetItemQuantity(ctx, itemID, after); err != nil {
		return Movement{}, fmt.Errorf("restore item %d: %w", itemID, err)
	}

	return Movement{ItemID: itemID, Before: it.Quantity, After: after}, nil
}
