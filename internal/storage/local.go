package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// LocalStorage реализует FileStorage поверх файловой системы.
type LocalStorage struct {
	fs  afero.Fs
	log *zap.Logger
}

// NewLocalStorage создает новый экземпляр LocalStorage для чтения из fsys.
// В рабочем коде передается afero.NewOsFs(), в тестах afero.NewMemMapFs().
func NewLocalStorage(fsys afero.Fs, log *zap.Logger) *LocalStorage {
	return &LocalStorage{fs: fsys, log: log}
}

// Exists проверяет, есть ли обычный файл по пути path.
func (s *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}

// Open открывает обычный файл по пути path.
func (s *LocalStorage) Open(_ context.Context, path string) (io.ReadSeekCloser, ObjectInfo, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, ErrObjectNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ObjectInfo{}, ErrObjectNotFound
	}

	s.log.Debug("opened file", zap.String("path", path), zap.Int64("size", info.Size()))
	return f, ObjectInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}
