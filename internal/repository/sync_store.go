package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/models"
)

// SyncTx определяет операции записи, доступные внутри транзакции синхронизации.
type SyncTx interface {
	// UpsertMap вставляет или обновляет карту по MapUpsert.ID.
	UpsertMap(ctx context.Context, m models.MapUpsert) error
	// DemoteOtherVersions снимает публикацию со всех версий карты, кроме hash.
	// Возвращает количество затронутых версий.
	DemoteOtherVersions(ctx context.Context, mapID int, hash string) (int64, error)
	// UpsertVersion вставляет или обновляет версию по VersionUpsert.Hash.
	UpsertVersion(ctx context.Context, v models.VersionUpsert) error
}

// SyncStore выполняет набор операций атомарно.
type SyncStore interface {
	// RunInTx выполняет fn в транзакции: коммит, если fn вернула nil,
	// иначе откат.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx SyncTx) error) error
}

const (
	upsertMap = `INSERT INTO map ("mapId", "songName", "levelAuthorName", "fileName", deleted)
	          VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), $4, $5)
	          ON CONFLICT ("mapId") DO UPDATE SET
	              "songName" = COALESCE($2, map."songName"),
	              "levelAuthorName" = COALESCE($3, map."levelAuthorName"),
	              "fileName" = COALESCE($4, map."fileName"),
	              deleted = EXCLUDED.deleted`

	demoteOtherVersions = `UPDATE version SET published = FALSE
	          WHERE "mapId" = $1 AND hash <> $2 AND published`

	upsertVersion = `INSERT INTO version (hash, "mapId", published)
	          VALUES ($1, $2, COALESCE($3, FALSE))
	          ON CONFLICT (hash) DO UPDATE SET
	              "mapId" = EXCLUDED."mapId",
	              published = COALESCE($3, version.published)`
)

// postgresSyncStore реализует SyncStore для PostgreSQL.
type postgresSyncStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewPostgresSyncStore создает новый экземпляр SyncStore поверх db.
func NewPostgresSyncStore(db *sqlx.DB, log *zap.Logger) SyncStore {
	return &postgresSyncStore{db: db, log: log}
}

func (s *postgresSyncStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx SyncTx) error) (err error) {
	// Начинаем транзакцию
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapError(err, "begin transaction")
	}

	// Откатываем при любой ошибке, включая ошибку коммита
	defer func() {
		if err == nil {
			return
		}
		// sql.ErrTxDone означает, что транзакция уже завершена
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	// Ошибку fn возвращаем как есть: она уже классифицирована wrapError
	if err = fn(ctx, &postgresSyncTx{tx: tx}); err != nil {
		return err
	}

	// Фиксируем изменения
	if err = tx.Commit(); err != nil {
		return wrapError(err, "commit transaction")
	}
	return nil
}

// postgresSyncTx выполняет запросы в рамках открытой транзакции.
type postgresSyncTx struct {
	tx *sqlx.Tx
}

func (t *postgresSyncTx) UpsertMap(ctx context.Context, m models.MapUpsert) error {
	// nil-поля передаются как NULL, COALESCE оставляет сохраненные значения
	_, err := t.tx.ExecContext(ctx, upsertMap, m.ID, m.SongName, m.LevelAuthorName, m.FileName, m.Deleted)
	if err != nil {
		return wrapError(err, fmt.Sprintf("upsert map %d", m.ID))
	}
	return nil
}

func (t *postgresSyncTx) DemoteOtherVersions(ctx context.Context, mapID int, hash string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, demoteOtherVersions, mapID, hash)
	if err != nil {
		return 0, wrapError(err, fmt.Sprintf("demote versions of map %d", mapID))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapError(err, "rows affected")
	}
	return n, nil
}

func (t *postgresSyncTx) UpsertVersion(ctx context.Context, v models.VersionUpsert) error {
	_, err := t.tx.ExecContext(ctx, upsertVersion, v.Hash, v.MapID, v.Published)
	if err != nil {
		return wrapError(err, fmt.Sprintf("upsert version %s", v.Hash))
	}
	return nil
}
