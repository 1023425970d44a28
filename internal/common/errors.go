// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех пакетах движка.
// Все ошибки содержат понятное описание на русском языке,
// чтобы оператор CLI сразу видел причину отказа.
package common

import (
	"errors"
	"fmt"
)

// Общие ошибки
var (
	// ErrNotFound — запись не найдена в хранилище
	ErrNotFound = errors.New("запись не найдена")
	// ErrUserNotFound — пользователь не найден
	ErrUserNotFound = errors.New("пользователь не найден")
)

// Ошибки событий кармы
var (
	// ErrUnknownEventType — неизвестный тип события без явного множителя
	ErrUnknownEventType = errors.New("неизвестный тип события, укажите множитель явно")
)

// Ошибки доставки уведомлений
var (
	// ErrNoAddress — у получателя нет адреса для выбранного канала
	ErrNoAddress = errors.New("у получателя нет адреса доставки")
	// ErrRateLimited — превышен лимит отправки одному получателю
	ErrRateLimited = errors.New("превышен лимит отправки")
)

// ValidationError — входные данные отклонены до любой записи.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

// Validation создаёт ошибку валидации поля.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "ошибка валидации: " + e.Reason
	}
	return fmt.Sprintf("ошибка валидации %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation сообщает, является ли err (или что-то в его цепочке) ошибкой валидации.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
