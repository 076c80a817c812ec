package repository

import (
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // postgres dialect
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/mmeshcher/supply-portal/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

var (
	dialect = goqu.Dialect("postgres")

	requestCols = []string{"id", "requester_id", "item_id", "quantity", "expected_return", "status", "created_at", "updated_at"}
	loanCols    = []string{"id", "request_id", "requester_id", "item_id", "quantity", "expected_return", "status", "created_at", "updated_at"}
	historyCols = []string{"id", "loan_id", "requester_id", "item_id", "quantity", "expected_return", "status", "created_at", "updated_at"}

	requestColumns = strings.Join(requestCols, ", ")
	loanColumns    = strings.Join(loanCols, ", ")
	historyColumns = strings.Join(historyCols, ", ")
)

// Page задаёт страницу выборки. Нулевые значения заменяются значениями по умолчанию.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number <= 0 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// RequestFilter описывает выборку заявок на выдачу.
type RequestFilter struct {
	RequesterID int64
	ItemID      int64
	Status      model.RequestStatus
	Page        Page
}

// LoanFilter описывает выборку выдач.
type LoanFilter struct {
	RequesterID int64
	ItemID      int64
	Status      model.LoanStatus
	// DueBefore оставляет выдачи с ожидаемой датой возврата строго раньше указанной.
	DueBefore *time.Time
	// AfterID включает курсорный обход по возрастанию id вместо страниц.
	AfterID int64
	Page    Page
}

// HistoryFilter описывает выборку записей истории.
type HistoryFilter struct {
	RequesterID int64
	ItemID      int64
	Status      model.LoanStatus
	Page        Page
}

func selectFrom(table string, cols []string) *goqu.SelectDataset {
	sel := make([]any, 0, len(cols))
	for _, c := range cols {
		sel = append(sel, goqu.C(c))
	}
	return dialect.From(table).Select(sel...)
}

func ownerFilter(requesterID, itemID int64, status string) goqu.Ex {
	ex := goqu.Ex{}
	if requesterID != 0 {
		ex["requester_id"] = requesterID
	}
	if itemID != 0 {
		ex["item_id"] = itemID
	}
	if status != "" {
		ex["status"] = status
	}
	return ex
}

func paginate(ds *goqu.SelectDataset, p Page) *goqu.SelectDataset {
	p = p.normalize()
	return ds.Order(goqu.C("id").Desc()).Limit(uint(p.Size)).Offset(uint(p.offset()))
}

func buildRequestsQuery(f RequestFilter) (string, []any, error) {
	ds := selectFrom("borrow_requests", requestCols)
	if ex := ownerFilter(f.RequesterID, f.ItemID, string(f.Status)); len(ex) > 0 {
		ds = ds.Where(ex)
	}
	return paginate(ds, f.Page).Prepared(true).ToSQL()
}

func buildLoansQuery(f LoanFilter) (string, []any, error) {
	ds := selectFrom("loans", loanCols)

	conds := []exp.Expression{}
	if ex := ownerFilter(f.RequesterID, f.ItemID, string(f.Status)); len(ex) > 0 {
		conds = append(conds, ex)
	}
	if f.DueBefore != nil {
		conds = append(conds, goqu.C("expected_return").Lt(dateOnly(*f.DueBefore)))
	}
	if f.AfterID > 0 {
		conds = append(conds, goqu.C("id").Gt(f.AfterID))
	}
	if len(conds) > 0 {
		ds = ds.Where(conds...)
	}

	if f.AfterID > 0 || f.DueBefore != nil {
		p := f.Page.normalize()
		ds = ds.Order(goqu.C("id").Asc()).Limit(uint(p.Size))
	} else {
		ds = paginate(ds, f.Page)
	}
	return ds.Prepared(true).ToSQL()
}

func buildHistoryQuery(f HistoryFilter) (string, []any, error) {
	ds := selectFrom("loan_histories", historyCols)
	if ex := ownerFilter(f.RequesterID, f.ItemID, string(f.Status)); len(ex) > 0 {
		ds = ds.Where(ex)
	}
	return paginate(ds, f.Page).Prepared(true).ToSQL()
}
