package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/supply-portal/internal/ledger"
	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
)

// Outcome: решение администратора по заявке.
type Outcome string

const (
	OutcomeAccept Outcome = "accept"
	OutcomeReject Outcome = "reject"
)

// ParseOutcome разбирает решение. Принимаются также формы accepted/rejected.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "accept", "accepted":
		return OutcomeAccept, nil
	case "reject", "rejected":
		return OutcomeReject, nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrValidation, s)
}

// Decision: результат решения по заявке. Loan и Stock заполнены только при одобрении.
type Decision struct {
	Request model.BorrowRequest
	Loan    *model.Loan
	History *model.LoanHistory
	Stock   *ledger.Movement
}

// DecideBorrowRequest одобряет или отклоняет заявку в статусе pending.
// Повторное решение по заявке возвращает ErrConflict.
func (s *Service) DecideBorrowRequest(ctx context.Context, requestID int64, outcome Outcome) (*Decision, error) {
	if outcome != OutcomeAccept && outcome != OutcomeReject {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, outcome)
	}

	var res *Decision
	err := s.store.WithinTx(ctx, func(tx repository.TxStore) error {
		res = nil

		br, err := tx.LockBorrowRequest(ctx, requestID)
		if err != nil {
			return notFound(err)
		}
		if br.Status != model.RequestStatusPending {
			return fmt.Errorf("%w: borrow request %d is already %s", ErrConflict, br.ID, br.Status)
		}

		if outcome == OutcomeReject {
			if err := tx.SetBorrowRequestStatus(ctx, br.ID, model.RequestStatusRejected); err != nil {
				return err
			}
			br.Status = model.RequestStatusRejected
			res = &Decision{Request: *br}
			return nil
		}

		res, err = s.accept(ctx, tx, br)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.Loan != nil {
		s.logger.Info("borrow request accepted",
			zap.Int64("requestID", requestID),
			zap.Int64("loanID", res.Loan.ID),
			zap.Int64("itemID", res.Loan.ItemID),
			zap.Int64("stockBefore", res.Stock.Before),
			zap.Int64("stockAfter", res.Stock.After),
		)
		if res.Loan.Quantity > res.Stock.Before {
			s.logger.Warn("loan exceeds available stock, stock clamped to zero",
				zap.Int64("loanID", res.Loan.ID),
				zap.Int64("quantity", res.Loan.Quantity),
				zap.Int64("available", res.Stock.Before),
			)
		}
	} else {
		s.logger.Info("borrow request rejected", zap.Int64("requestID", requestID))
	}

	return res, nil
}

// accept создаёт выдачу и историю, списывает остаток и отмечает заявку одобренной.
func (s *Service) accept(ctx context.Context, tx repository.TxStore, br *model.BorrowRequest) (*Decision, error) {
	requestID := br.ID
	loan := &model.Loan{
		RequestID:      &requestID,
		RequesterID:    br.RequesterID,
		ItemID:         br.ItemID,
		Quantity:       br.Quantity,
		ExpectedReturn: br.ExpectedReturn,
		Status:         model.LoanStatusAccepted,
	}
	if err := tx.InsertLoan(ctx, loan); err != nil {
		return nil, err
	}

	h := &model.LoanHistory{
		LoanID:         loan.ID,
		RequesterID:    loan.RequesterID,
		ItemID:         loan.ItemID,
		Quantity:       loan.Quantity,
		ExpectedReturn: loan.ExpectedReturn,
		Status:         loan.Status,
	}
	if err := tx.InsertLoanHistory(ctx, h); err != nil {
		return nil, err
	}

	mv, err := s.ledger.Deduct(ctx, tx, br.ItemID, br.Quantity)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientStock) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, notFound(err)
	}

	if err := tx.SetBorrowRequestStatus(ctx, br.ID, model.RequestStatusAccepted); err != nil {
		return nil, err
	}
	br.Status = model.RequestStatusAccepted

	return &Decision{Request: *br, Loan: loan, History: h, Stock: &mv}, nil
}

// Transition: результат смены статуса выдачи.
type Transition struct {
	Loan     model.Loan
	Previous model.LoanStatus
	// RequestSynced сообщает, что найдена и обновлена исходная заявка.
	RequestSynced bool
	// Restored заполнен, если остаток возвращён на склад.
	Restored *ledger.Movement
}

// TransitionLoan переводит выдачу в статус overdue или returned.
// Возвращённая выдача больше не меняется: такая попытка завершается ErrInvalidTransition без записей.
// Остаток возвращается на склад ровно один раз, при переходе в returned.
func (s *Service) TransitionLoan(ctx context.Context, loanID int64, status model.LoanStatus) (*Transition, error) {
	if !status.IsTransitionTarget() {
		return nil, fmt.Errorf("%w: loan status must be %s or %s", ErrValidation, model.LoanStatusOverdue, model.LoanStatusReturned)
	}

	var (
		res      *Transition
		itemGone bool
	)
	err := s.store.WithinTx(ctx, func(tx repository.TxStore) error {
		res, itemGone = nil, false

		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return notFound(err)
		}

		previous := loan.Status
		if previous.Terminal() {
			return fmt.Errorf("%w: loan %d is already %s", ErrInvalidTransition, loan.ID, previous)
		}

		if err := tx.SetLoanStatus(ctx, loan.ID, status); err != nil {
			return err
		}
		if err := tx.SetLoanHistoryStatus(ctx, loan.ID, status); err != nil {
			return err
		}
		loan.Status = status

		synced, err := s.syncRequest(ctx, tx, loan)
		if err != nil {
			return err
		}

		t := &Transition{Loan: *loan, Previous: previous, RequestSynced: synced}

		if status == model.LoanStatusReturned && previous != model.LoanStatusReturned {
			mv, err := s.ledger.Restore(ctx, tx, loan.ItemID, loan.Quantity)
			switch {
			case errors.Is(err, ledger.ErrItemGone):
				itemGone = true
			case err != nil:
				return err
			default:
				t.Restored = &mv
			}
		}

		res = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if itemGone {
		s.logger.Warn("catalog item deleted before return, stock not restored",
			zap.Int64("loanID", loanID),
			zap.Int64("itemID", res.Loan.ItemID),
			zap.Int64("quantity", res.Loan.Quantity),
		)
	}
	if !res.RequestSynced {
		s.logger.Debug("no borrow request found for loan", zap.Int64("loanID", loanID))
	}
	s.logger.Info("loan status changed",
		zap.Int64("loanID", loanID),
		zap.String("from", string(res.Previous)),
		zap.String("to", string(status)),
	)

	return res, nil
}

// syncRequest переносит статус выдачи на исходную заявку. Отсутствие заявки не ошибка.
func (s *Service) syncRequest(ctx context.Context, tx repository.TxStore, loan *model.Loan) (bool, error) {
	requestID, found := int64(0), false
	if loan.RequestID != nil {
		requestID, found = *loan.RequestID, true
	} else {
		var err error
		requestID, found, err = tx.MatchBorrowRequest(ctx, loan)
		if err != nil {
			return false, err
		}
	}
	if !found {
		return false, nil
	}

	err := tx.SetBorrowRequestStatus(ctx, requestID, model.RequestStatus(loan.Status))
	if errors.Is(err, repository.ErrRequestNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TransitionLoanHistory меняет статус по идентификатору записи истории.
func (s *Service) TransitionLoanHistory(ctx context.Context, historyID int64, status model.LoanStatus) (*Transition, error) {
	if !status.IsTransitionTarget() {
		return nil, fmt.Errorf("%w: loan status must be %s or %s", ErrValidation, model.LoanStatusOverdue, model.LoanStatusReturned)
	}

	h, err := s.store.GetLoanHistory(ctx, historyID)
	if err != nil {
		return nil, notFound(err)
	}
	return s.TransitionLoan(ctx, h.LoanID, status)
}

const overdueBatchSize = 100

// MarkOverdue переводит в overdue все выдачи в статусе accepted с датой возврата раньше дня asOf.
// Каждая выдача обрабатывается в своей транзакции; ошибки по отдельным выдачам не прерывают обход.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	var (
		marked int
		cursor int64
	)

	y, m, d := asOf.Date()
	due := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	for {
		loans, err := s.store.ListLoans(ctx, repository.LoanFilter{
			Status:    model.LoanStatusAccepted,
			DueBefore: &due,
			AfterID:   cursor,
			Page:      repository.Page{Size: overdueBatchSize},
		})
		if err != nil {
			return marked, fmt.Errorf("list due loans: %w", err)
		}

		for _, l := range loans {
			cursor = l.ID

			if _, err := s.TransitionLoan(ctx, l.ID, model.LoanStatusOverdue); err != nil {
				if ctx.Err() != nil {
					return marked, ctx.Err()
				}
				s.logger.Error("mark loan overdue", zap.Error(err), zap.Int64("loanID", l.ID))
				continue
			}
			marked++
		}

		if len(loans) < overdueBatchSize {
			return marked, nil
		}
	}
}
