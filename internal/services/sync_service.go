package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/filename"
	"github.com/maynagashev/beatmaps-cdn/internal/models"
	"github.com/maynagashev/beatmaps-cdn/internal/repository"
	publicmodels "github.com/maynagashev/beatmaps-cdn/models"
)

// SyncService применяет события об изменениях карт к хранилищу метаданных.
type SyncService struct {
	store repository.SyncStore
	log   *zap.Logger
}

// NewSyncService создает новый экземпляр сервиса синхронизации.
func NewSyncService(store repository.SyncStore, log *zap.Logger) *SyncService {
	return &SyncService{store: store, log: log}
}

// Apply применяет одно событие в одной транзакции. Повторное применение того же
// события оставляет хранилище в том же состоянии.
//
// Карта записывается всегда. Названия пишутся только если пришли оба, вместе с
// заново построенным именем файла. Без хеша событие меняет только карту.
// Опубликованная версия сначала снимает публикацию с остальных версий карты.
func (s *SyncService) Apply(ctx context.Context, update publicmodels.CDNUpdate) error {
	// Некорректное событие отклоняем до любой записи в хранилище
	if err := validateUpdate(update); err != nil {
		return err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.SyncTx) error {
		// Сначала карта: версия ссылается на нее внешним ключом
		if err := tx.UpsertMap(ctx, mapUpsert(update)); err != nil {
			return err
		}

		// Событие только о карте (названия или флаг удаления)
		if update.Hash == nil {
			return nil
		}
		// Хеши храним в нижнем регистре, поиск по URL тоже приводит к нему
		hash := strings.ToLower(*update.Hash)

		// Снимаем публикацию с остальных версий до записи новой,
		// иначе сработает уникальный индекс на опубликованные версии
		if update.Published != nil && *update.Published {
			demoted, err := tx.DemoteOtherVersions(ctx, update.MapID, hash)
			if err != nil {
				return err
			}
			if demoted > 0 {
				s.log.Debug("versions demoted",
					zap.Int("mapId", update.MapID), zap.Int64("count", demoted))
			}
		}

		// Published == nil сохраняет флаг у уже существующей версии
		return tx.UpsertVersion(ctx, models.VersionUpsert{
			Hash:      hash,
			MapID:     update.MapID,
			Published: update.Published,
		})
	})
	if err != nil {
		// Нарушение ограничений повторится при любой повторной доставке.
		// Остальные ошибки считаем недоступностью хранилища
		if errors.Is(err, repository.ErrConstraintViolation) {
			return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
		}
		return ErrStoreUnavailable.Wrap(err)
	}

	s.log.Debug("sync event applied",
		zap.Int("mapId", update.MapID),
		zap.Bool("deleted", update.Deleted),
		zap.Bool("hasVersion", update.Hash != nil))
	return nil
}

// validateUpdate проверяет событие до обращения к хранилищу.
func validateUpdate(update publicmodels.CDNUpdate) error {
	// Идентификатор карты хранится в колонке INTEGER
	if update.MapID <= 0 || update.MapID > math.MaxInt32 {
		return fmt.Errorf("%w: map id %d", ErrInvalidUpdate, update.MapID)
	}
	if update.Hash != nil && !validHash(*update.Hash) {
		return fmt.Errorf("%w: version hash %q", ErrInvalidUpdate, *update.Hash)
	}
	return nil
}

// mapUpsert собирает запись карты из события.
func mapUpsert(update publicmodels.CDNUpdate) models.MapUpsert {
	m := models.MapUpsert{ID: update.MapID, Deleted: update.Deleted}
	if update.HasNames() {
		name := filename.Build(update.MapID, *update.SongName, *update.LevelAuthorName)
		m.SongName = update.SongName
		m.LevelAuthorName = update.LevelAuthorName
		m.FileName = &name
	}
	return m
}
