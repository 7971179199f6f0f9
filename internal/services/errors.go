package services

import (
	"errors"

	"github.com/zeebo/errs"
)

var (
	// ErrNotFound - единый ответ для идентификатора, который нельзя отдать
	// (пустой, неразборчивый, неизвестный, удаленный или без файла).
	ErrNotFound = errors.New("not found")

	// ErrInvalidUpdate - событие синхронизации, которое нельзя применить никогда.
	ErrInvalidUpdate = errors.New("invalid sync event")

	// ErrStoreUnavailable - сбой хранилища метаданных, операцию стоит повторить.
	ErrStoreUnavailable = errs.Class("metadata store unavailable")
)
