package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/zeebo/errs"
)

// Коды ошибок PostgreSQL.
const (
	pgUniqueViolationCode     = "23505"
	pgForeignKeyViolationCode = "23503"
	// Класс 22 - ошибки данных, например "integer out of range" (22003)
	pgDataExceptionClass = "22"
)

// Error помечает сбои самого хранилища: потерю соединения, таймауты, ошибки SQL.
var Error = errs.Class("repository")

var (
	// ErrMapNotFound возвращается, если видимая карта не найдена.
	ErrMapNotFound = errors.New("map not found")
	// ErrConstraintViolation возвращается, если запись нарушает ограничения схемы.
	// Повтор той же записи не поможет.
	ErrConstraintViolation = errors.New("constraint violation")
)

// wrapError классифицирует ошибку драйвера: нарушения ограничений и ошибки данных
// становятся ErrConstraintViolation, остальное помечается классом Error.
func wrapError(err error, op string) error {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) && rejectsData(pgErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrConstraintViolation, err)
	}
	return Error.Wrap(fmt.Errorf("%s: %w", op, err))
}

// rejectsData сообщает, отверг ли сервер сами значения, так что повтор
// той же записи не пройдет.
func rejectsData(pgErr *pq.Error) bool {
	switch {
	case pgErr.Code == pgUniqueViolationCode, pgErr.Code == pgForeignKeyViolationCode:
		return true
	case pgErr.Code.Class() == pgDataExceptionClass:
		return true
	}
	return false
}
