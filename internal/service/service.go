// Package service реализует жизненный цикл выдачи имущества: заявка, выдача, возврат.
//
// Все изменения статусов и остатков выполняются в одной транзакции хранилища:
// выдача, история, зеркало заявки и остаток позиции либо меняются вместе, либо не меняются.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/supply-portal/internal/ledger"
	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
)

const maxItemNameLen = 255

// Store описывает контракт доступа к данным, используемый сервисом.
type Store interface {
	Close() error
	WithinTx(ctx context.Context, fn func(tx repository.TxStore) error) error

	CreateItem(ctx context.Context, name string, quantity int64, fee decimal.Decimal) (*model.Item, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	DeleteItem(ctx context.Context, id int64) error

	CreateBorrowRequest(ctx context.Context, br *model.BorrowRequest) error
	GetBorrowRequest(ctx context.Context, id int64) (*model.BorrowRequest, error)
	ListBorrowRequests(ctx context.Context, f repository.RequestFilter) ([]model.BorrowRequest, error)
	ListBorrowedEntries(ctx context.Context, requesterID int64) ([]model.BorrowedEntry, error)

	GetLoan(ctx context.Context, id int64) (*model.Loan, error)
	ListLoans(ctx context.Context, f repository.LoanFilter) ([]model.Loan, error)
	GetLoanHistory(ctx context.Context, id int64) (*model.LoanHistory, error)
	ListLoanHistory(ctx context.Context, f repository.HistoryFilter) ([]model.LoanHistory, error)
}

// Service содержит бизнес-логику выдачи и возврата имущества.
type Service struct {
	store  Store
	ledger *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт сервис с указанным хранилищем, учётом остатков и логгером.
func NewService(store Store, l *ledger.Ledger, logger *zap.Logger) *Service {
	if l == nil {
		l = ledger.New(ledger.PolicyClamp)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		ledger: l,
		logger: logger,
		now:    time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// notFound переводит ошибки «не найдено» хранилища в ErrNotFound.
func notFound(err error) error {
	switch {
	case errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrRequestNotFound),
		errors.Is(err, repository.ErrLoanNotFound),
		errors.Is(err, repository.ErrHistoryNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// CreateItem добавляет позицию в каталог.
func (s *Service) CreateItem(ctx context.Context, name string, quantity int64, fee decimal.Decimal) (*model.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxItemNameLen {
		return nil, fmt.Errorf("%w: item name must be 1..%d characters", ErrValidation, maxItemNameLen)
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("%w: fee must not be negative", ErrValidation)
	}
	return s.store.CreateItem(ctx, name, quantity, fee)
}

// GetItem возвращает позицию каталога.
func (s *Service) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return it, nil
}

// ListItems возвращает каталог.
func (s *Service) ListItems(ctx context.Context) ([]model.Item, error) {
	return s.store.ListItems(ctx)
}

// DeleteItem удаляет позицию каталога и её ожидающие заявки.
// Решённые заявки и выдачи остаются: возврат такой выдачи не восстанавливает остаток.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return notFound(err)
	}
	s.logger.Info("catalog item deleted", zap.Int64("itemID", id))
	return nil
}

// CreateBorrowRequest создаёт заявку на выдачу в статусе pending.
// expectedReturn передаётся в формате model.DateLayout и не может быть раньше сегодняшнего дня.
func (s *Service) CreateBorrowRequest(ctx context.Context, requesterID, itemID, quantity int64, expectedReturn string) (*model.BorrowRequest, error) {
	if requesterID <= 0 {
		return nil, fmt.Errorf("%w: requester is required", ErrValidation)
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	due, err := time.Parse(model.DateLayout, strings.TrimSpace(expectedReturn))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed expected return date %q", ErrValidation, expectedReturn)
	}
	if due.Before(s.today()) {
		return nil, fmt.Errorf("%w: expected return date is in the past", ErrValidation)
	}

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, fmt.Errorf("%w: item %d does not exist", ErrValidation, itemID)
		}
		return nil, err
	}

	br := &model.BorrowRequest{
		RequesterID:    requesterID,
		ItemID:         itemID,
		Quantity:       quantity,
		ExpectedReturn: due,
	}
	if err := s.store.CreateBorrowRequest(ctx, br); err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, fmt.Errorf("%w: item %d does not exist", ErrValidation, itemID)
		}
		return nil, err
	}
	return br, nil
}

// ListBorrowRequests возвращает заявки для экрана администратора.
func (s *Service) ListBorrowRequests(ctx context.Context, f repository.RequestFilter) ([]model.BorrowRequest, error) {
	return s.store.ListBorrowRequests(ctx, f)
}

// ListBorrowedEntries возвращает ожидающие заявки и выдачи пользователя.
func (s *Service) ListBorrowedEntries(ctx context.Context, requesterID int64) ([]model.BorrowedEntry, error) {
	return s.store.ListBorrowedEntries(ctx, requesterID)
}

// GetLoan возвращает выдачу.
func (s *Service) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	l, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

// ListLoans возвращает выдачи по фильтру.
func (s *Service) ListLoans(ctx context.Context, f repository.LoanFilter) ([]model.Loan, error) {
	return s.store.ListLoans(ctx, f)
}

// ListLoanHistory возвращает записи истории по фильтру.
func (s *Service) ListLoanHistory(ctx context.Context, f repository.HistoryFilter) ([]model.LoanHistory, error) {
	return s.store.ListLoanHistory(ctx, f)
}
