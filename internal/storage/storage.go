// Package storage находит и читает файлы, которые отдает CDN.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound возвращается, если по пути нет файла.
var ErrObjectNotFound = errors.New("object not found in storage")

// ObjectInfo описывает сохраненный файл.
type ObjectInfo struct {
	Size    int64
	ModTime time.Time
}

// FileStorage определяет интерфейс чтения файлового хранилища.
type FileStorage interface {
	// Exists проверяет наличие файла по пути path.
	Exists(ctx context.Context, path string) (bool, error)
	// Open возвращает reader с поддержкой Seek, закрывает его вызывающий.
	// Если файла нет, возвращает ErrObjectNotFound.
	Open(ctx context.Context, path string) (io.ReadSeekCloser, ObjectInfo, error)
}
