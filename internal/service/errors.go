package service

import "errors"

// Ошибки жизненного цикла выдачи. Конкретная причина оборачивается через %w.
var (
	// ErrValidation: некорректные входные данные, запись не выполнялась.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition: попытка сменить статус возвращённой выдачи.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound: заявка, выдача, запись истории или позиция не найдены.
	ErrNotFound = errors.New("not found")
	// ErrConflict: повторное решение по заявке или нехватка остатка при политике reject.
	ErrConflict = errors.New("conflict")
)
