// Package model содержит доменные сущности портала учёта и выдачи имущества.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout задаёт формат ожидаемой даты возврата.
const DateLayout = "2006-01-02"

// Item описывает позицию каталога с остатком на складе.
type Item struct {
	ID        int64
	Name      string
	Quantity  int64
	Fee       decimal.Decimal
	CreatedAt time.Time
}

// RequestStatus описывает статус заявки на выдачу.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusReturned RequestStatus = "returned"
	RequestStatusOverdue  RequestStatus = "overdue"
)

// LoanStatus описывает статус выданного имущества.
type LoanStatus string

const (
	LoanStatusAccepted LoanStatus = "accepted"
	LoanStatusOverdue  LoanStatus = "overdue"
	LoanStatusReturned LoanStatus = "returned"
)

// Terminal сообщает, что из статуса больше нет переходов.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusReturned
}

// IsTransitionTarget сообщает, можно ли перевести выдачу в этот статус.
func (s LoanStatus) IsTransitionTarget() bool {
	return s == LoanStatusOverdue || s == LoanStatusReturned
}

// BorrowRequest описывает заявку пользователя на выдачу имущества.
type BorrowRequest struct {
	ID             int64
	RequesterID    int64
	ItemID         int64
	Quantity       int64
	ExpectedReturn time.Time
	Status         RequestStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Loan описывает одобренную выдачу. RequestID пуст только у перенесённых записей.
type Loan struct {
	ID             int64
	RequestID      *int64
	RequesterID    int64
	ItemID         int64
	Quantity       int64
	ExpectedReturn time.Time
	Status         LoanStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LoanHistory зеркалит статус выдачи для экранов истории.
type LoanHistory struct {
	ID             int64
	LoanID         int64
	RequesterID    int64
	ItemID         int64
	Quantity       int64
	ExpectedReturn time.Time
	Status         LoanStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BorrowedEntry: строка экрана «мои вещи»: ожидающая заявка либо выдача.
type BorrowedEntry struct {
	ID             string
	ItemID         int64
	ItemName       string
	Quantity       int64
	ExpectedReturn time.Time
	Status         string
}
