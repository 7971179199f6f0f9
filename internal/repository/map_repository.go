package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/models"
)

// MapRepository определяет операции чтения метаданных для разрешения идентификаторов.
type MapRepository interface {
	// GetMapByVersionHash возвращает неудаленную карту, которой принадлежит версия с hash.
	GetMapByVersionHash(ctx context.Context, hash string) (*models.Map, error)
	// GetPublishedMap возвращает неудаленную карту по id вместе с ее
	// опубликованной версией.
	GetPublishedMap(ctx context.Context, mapID int) (*models.PublishedMap, error)
	// SetFileName сохраняет fileName, если у карты имя еще не записано.
	SetFileName(ctx context.Context, mapID int, fileName string) error
}

const (
	selectMapByVersionHash = `SELECT m."mapId", m."fileName", m."songName", m."levelAuthorName", m.deleted
	          FROM version v JOIN map m ON m."mapId" = v."mapId"
	          WHERE v.hash = $1 AND NOT m.deleted LIMIT 1`

	selectPublishedMap = `SELECT m."mapId", m."fileName", m."songName", m."levelAuthorName", m.deleted, v.hash
	          FROM map m JOIN version v ON v."mapId" = m."mapId" AND v.published
	          WHERE m."mapId" = $1 AND NOT m.deleted LIMIT 1`

	updateMissingFileName = `UPDATE map SET "fileName" = $2 WHERE "mapId" = $1 AND "fileName" IS NULL`
)

// postgresMapRepository реализует MapRepository для PostgreSQL.
type postgresMapRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewPostgresMapRepository создает новый экземпляр MapRepository поверх db.
func NewPostgresMapRepository(db *sqlx.DB, log *zap.Logger) MapRepository {
	return &postgresMapRepository{db: db, log: log}
}

func (r *postgresMapRepository) GetMapByVersionHash(ctx context.Context, hash string) (*models.Map, error) {
	var m models.Map

	err := r.db.GetContext(ctx, &m, selectMapByVersionHash, hash)
	if err != nil {
		// Нет строки: версии нет или карта удалена
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debug("no visible map for version", zap.String("hash", hash))
			return nil, ErrMapNotFound
		}
		return nil, wrapError(err, "select map by version hash")
	}

	return &m, nil
}

func (r *postgresMapRepository) GetPublishedMap(ctx context.Context, mapID int) (*models.PublishedMap, error) {
	var pm models.PublishedMap

	err := r.db.GetContext(ctx, &pm, selectPublishedMap, mapID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debug("no visible published version", zap.Int("mapId", mapID))
			return nil, ErrMapNotFound
		}
		return nil, wrapError(err, "select published map")
	}

	return &pm, nil
}

// SetFileName - условная запись: имя, записанное синхронизацией, главнее
// и не перезаписывается при заполнении кэша.
func (r *postgresMapRepository) SetFileName(ctx context.Context, mapID int, fileName string) error {
	res, err := r.db.ExecContext(ctx, updateMissingFileName, mapID, fileName)
	if err != nil {
		return wrapError(err, "update map file name")
	}

	// 0 строк: имя уже было записано, это не ошибка
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.log.Debug("file name already set", zap.Int("mapId", mapID))
	}
	return nil
}
