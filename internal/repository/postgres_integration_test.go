package repository_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/supply-portal/internal/model"
	"github.com/mmeshcher/supply-portal/internal/repository"
)

var due = time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)

// newTestRepository подключается к DATABASE_URI и очищает таблицы. Без базы тест пропускается.
func newTestRepository(t *testing.T) *repository.PostgresRepository {
	t.Helper()

	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI is not set")
	}

	repo, err := repository.NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(context.Background(),
		`TRUNCATE loan_histories, loans, borrow_requests, items RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return repo
}

func mustItem(t *testing.T, repo *repository.PostgresRepository, name string, quantity int64) *model.Item {
	t.Helper()

	it, err := repo.CreateItem(context.Background(), name, quantity, decimal.RequireFromString("1.50"))
	require.NoError(t, err)
	return it
}

func mustRequest(t *testing.T, repo *repository.PostgresRepository, requesterID, itemID, quantity int64, status model.RequestStatus) *model.BorrowRequest {
	t.Helper()
	ctx := context.Background()

	br := &model.BorrowRequest{RequesterID: requesterID, ItemID: itemID, Quantity: quantity, ExpectedReturn: due}
	require.NoError(t, repo.CreateBorrowRequest(ctx, br))

	if status != model.RequestStatusPending {
		require.NoError(t, repo.WithinTx(ctx, func(tx repository.TxStore) error {
			return tx.SetBorrowRequestStatus(ctx, br.ID, status)
		}))
		br.Status = status
	}
	return br
}

func mustLoan(t *testing.T, repo *repository.PostgresRepository, loan model.Loan) *model.Loan {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.WithinTx(ctx, func(tx repository.TxStore) error {
		if err := tx.InsertLoan(ctx, &loan); err != nil {
			return err
		}
		return tx.InsertLoanHistory(ctx, &model.LoanHistory{
			LoanID:         loan.ID,
			RequesterID:    loan.RequesterID,
			ItemID:         loan.ItemID,
			Quantity:       loan.Quantity,
			ExpectedReturn: loan.ExpectedReturn,
			Status:         loan.Status,
		})
	}))
	return &loan
}

func TestPostgres_ListBorrowedEntries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	projector := mustItem(t, repo, "projector", 5)
	tripod := mustItem(t, repo, "tripod", 5)

	waitingProjector := mustRequest(t, repo, 1, projector.ID, 1, model.RequestStatusPending)
	waitingTripod := mustRequest(t, repo, 1, tripod.ID, 2, model.RequestStatusPending)
	mustRequest(t, repo, 1, projector.ID, 3, model.RequestStatusRejected)
	decided := mustRequest(t, repo, 1, projector.ID, 1, model.RequestStatusAccepted)
	mustRequest(t, repo, 2, projector.ID, 1, model.RequestStatusPending)

	accepted := mustLoan(t, repo, model.Loan{
		RequestID: &decided.ID, RequesterID: 1, ItemID: projector.ID, Quantity: 1,
		ExpectedReturn: due, Status: model.LoanStatusAccepted,
	})
	legacy := mustLoan(t, repo, model.Loan{
		RequesterID: 1, ItemID: tripod.ID, Quantity: 4,
		ExpectedReturn: due, Status: model.LoanStatusReturned,
	})
	mustLoan(t, repo, model.Loan{
		RequesterID: 2, ItemID: projector.ID, Quantity: 1,
		ExpectedReturn: due, Status: model.LoanStatusAccepted,
	})

	entries, err := repo.ListBorrowedEntries(ctx, 1)
	require.NoError(t, err)

	type row struct{ ID, Name, Status string }
	var got []row
	for _, e := range entries {
		got = append(got, row{e.ID, e.ItemName, e.Status})
		assert.Equal(t, due.Format(model.DateLayout), e.ExpectedReturn.Format(model.DateLayout))
	}

	assert.Equal(t, []row{
		{"req-" + itoa(waitingTripod.ID), "tripod", "pending"},
		{"req-" + itoa(waitingProjector.ID), "projector", "pending"},
		{"bor-" + itoa(legacy.ID), "tripod", "returned"},
		{"bor-" + itoa(accepted.ID), "projector", "accepted"},
	}, got)

	require.NoError(t, repo.DeleteItem(ctx, tripod.ID))

	entries, err = repo.ListBorrowedEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "req-"+itoa(waitingProjector.ID), entries[0].ID)
	assert.Equal(t, "bor-"+itoa(legacy.ID), entries[1].ID)
	assert.Empty(t, entries[1].ItemName)
}

func TestPostgres_MatchBorrowRequest(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	item := mustItem(t, repo, "ladder", 10)

	mustRequest(t, repo, 7, item.ID, 2, model.RequestStatusAccepted)
	latestDecided := mustRequest(t, repo, 7, item.ID, 2, model.RequestStatusOverdue)
	mustRequest(t, repo, 7, item.ID, 2, model.RequestStatusPending)
	mustRequest(t, repo, 7, item.ID, 2, model.RequestStatusRejected)
	mustRequest(t, repo, 8, item.ID, 2, model.RequestStatusAccepted)

	tests := []struct {
		name   string
		loan   model.Loan
		wantID int64
		found  bool
	}{
		{
			name:   "latest decided wins, pending and rejected skipped",
			loan:   model.Loan{RequesterID: 7, ItemID: item.ID, Quantity: 2, ExpectedReturn: due},
			wantID: latestDecided.ID,
			found:  true,
		},
		{
			name: "different quantity",
			loan: model.Loan{RequesterID: 7, ItemID: item.ID, Quantity: 3, ExpectedReturn: due},
		},
		{
			name: "different date",
			loan: model.Loan{RequesterID: 7, ItemID: item.ID, Quantity: 2, ExpectedReturn: due.AddDate(0, 0, 1)},
		},
		{
			name: "different requester",
			loan: model.Loan{RequesterID: 9, ItemID: item.ID, Quantity: 2, ExpectedReturn: due},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				id    int64
				found bool
			)
			err := repo.WithinTx(ctx, func(tx repository.TxStore) error {
				var err error
				id, found, err = tx.MatchBorrowRequest(ctx, &tt.loan)
				return err
			})
			require.NoError(t, err)

			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestPostgres_DeleteItemKeepsDecidedRequests(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	item := mustItem(t, repo, "camera", 3)
	waiting := mustRequest(t, repo, 1, item.ID, 1, model.RequestStatusPending)
	decided := mustRequest(t, repo, 1, item.ID, 1, model.RequestStatusAccepted)
	loan := mustLoan(t, repo, model.Loan{
		RequestID: &decided.ID, RequesterID: 1, ItemID: item.ID, Quantity: 1,
		ExpectedReturn: due, Status: model.LoanStatusAccepted,
	})

	require.NoError(t, repo.DeleteItem(ctx, item.ID))

	_, err := repo.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, repository.ErrItemNotFound)

	_, err = repo.GetBorrowRequest(ctx, waiting.ID)
	assert.ErrorIs(t, err, repository.ErrRequestNotFound)

	kept, err := repo.GetBorrowRequest(ctx, decided.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusAccepted, kept.Status)

	gotLoan, err := repo.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, gotLoan.RequestID)
	assert.Equal(t, decided.ID, *gotLoan.RequestID)

	err = repo.WithinTx(ctx, func(tx repository.TxStore) error {
		_, err := tx.LockItem(ctx, item.ID)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrItemNotFound)

	assert.ErrorIs(t, repo.DeleteItem(ctx, item.ID), repository.ErrItemNotFound)

	err = repo.CreateBorrowRequest(ctx, &model.BorrowRequest{RequesterID: 1, ItemID: item.ID, Quantity: 1, ExpectedReturn: due})
	assert.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestPostgres_LockItemSerializesWriters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	item := mustItem(t, repo, "generator", 10)

	locked := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		firstDone <- repo.WithinTx(ctx, func(tx repository.TxStore) error {
			it, err := tx.LockItem(ctx, item.ID)
			if err != nil {
				return err
			}
			close(locked)
			<-release
			return tx.SetItemQuantity(ctx, item.ID, it.Quantity-1)
		})
	}()

	<-locked

	var seen int64
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- repo.WithinTx(ctx, func(tx repository.TxStore) error {
			it, err := tx.LockItem(ctx, item.ID)
			if err != nil {
				return err
			}
			seen = it.Quantity
			return tx.SetItemQuantity(ctx, item.ID, it.Quantity-1)
		})
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second writer did not wait for the row lock: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	assert.Equal(t, int64(9), seen)

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Quantity)
}

func TestPostgres_ListBorrowRequestsFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	drill := mustItem(t, repo, "drill", 5)
	saw := mustItem(t, repo, "saw", 5)

	first := mustRequest(t, repo, 1, drill.ID, 1, model.RequestStatusPending)
	mustRequest(t, repo, 1, saw.ID, 1, model.RequestStatusPending)
	mustRequest(t, repo, 2, drill.ID, 1, model.RequestStatusRejected)
	last := mustRequest(t, repo, 1, drill.ID, 2, model.RequestStatusPending)

	got, err := repo.ListBorrowRequests(ctx, repository.RequestFilter{
		RequesterID: 1,
		ItemID:      drill.ID,
		Status:      model.RequestStatusPending,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, last.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	page, err := repo.ListBorrowRequests(ctx, repository.RequestFilter{Page: repository.Page{Number: 2, Size: 3}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
