package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/metrics"
	"github.com/maynagashev/beatmaps-cdn/internal/models"
	"github.com/maynagashev/beatmaps-cdn/internal/notify"
	"github.com/maynagashev/beatmaps-cdn/internal/repository"
	"github.com/maynagashev/beatmaps-cdn/internal/storage"
	publicmodels "github.com/maynagashev/beatmaps-cdn/models"
)

// Виды ресурсов, используются как метки метрик.
const (
	KindMapByHash     = "zip_hash"
	KindMapByKey      = "zip_key"
	KindAudioByHash   = "audio_hash"
	KindAudioByKey    = "audio_key"
	KindCover         = "cover"
	KindAvatar        = "avatar"
	KindPlaylistCover = "playlist_cover"
)

// Типы содержимого отдаваемых файлов.
const (
	contentTypeZip  = "application/zip"
	contentTypeJPEG = "image/jpeg"
	contentTypePNG  = "image/png"
	contentTypeMP3  = "audio/mpeg"
)

// Resolution указывает на файл, который можно отдать.
type Resolution struct {
	Path        string
	ContentType string
	// FileName - имя для скачивания, пустое для ресурсов, отдаваемых inline
	FileName string
}

// FilenameCache возвращает имя файла карты и сохраняет его, если оно еще не записано.
type FilenameCache interface {
	GetOrCompute(ctx context.Context, m *models.Map) string
}

// Resolver сопоставляет публичные идентификаторы с файлами. Удаленные карты не
// отдаются, по ключу отдается только опубликованная версия, а любой
// неразрешимый идентификатор дает ErrNotFound.
type Resolver struct {
	maps      repository.MapRepository
	filenames FilenameCache
	files     storage.FileStorage
	layout    storage.Layout
	notifier  notify.Notifier
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewResolver создает новый экземпляр Resolver.
func NewResolver(
	maps repository.MapRepository,
	filenames FilenameCache,
	files storage.FileStorage,
	layout storage.Layout,
	notifier notify.Notifier,
	log *zap.Logger,
	m *metrics.Metrics,
) *Resolver {
	return &Resolver{
		maps:      maps,
		filenames: filenames,
		files:     files,
		layout:    layout,
		notifier:  notifier,
		log:       log,
		metrics:   m,
	}
}

// ResolveByHash находит архив версии карты по хешу содержимого.
// Регистр хеша не учитывается.
func (s *Resolver) ResolveByHash(ctx context.Context, hash, clientAddress string) (*Resolution, error) {
	if !validIdentifier(hash) {
		return nil, s.fail(KindMapByHash, ErrNotFound)
	}
	// Версии хранятся под хешем в нижнем регистре
	hash = strings.ToLower(hash)

	// Ищем видимую (не удаленную) карту по хешу версии
	m, err := s.maps.GetMapByVersionHash(ctx, hash)
	if err != nil {
		return nil, s.fail(KindMapByHash, s.lookupError(err))
	}

	// Имя файла берем из кэша или строим и сохраняем
	name := s.filenames.GetOrCompute(ctx, m)
	path := s.layout.MapArchive(hash)

	exists, err := s.files.Exists(ctx, path)
	if err != nil {
		return nil, s.fail(KindMapByHash, fmt.Errorf("checking %s: %w", path, err))
	}
	if !exists {
		s.log.Warn("archive missing for visible version", zap.String("hash", hash), zap.String("path", path))
		return nil, s.fail(KindMapByHash, ErrNotFound)
	}

	// Уведомление не блокирует ответ
	s.notifier.Notify(ctx, publicmodels.DownloadTypeHash, hash, clientAddress)
	return s.ok(KindMapByHash, &Resolution{Path: path, ContentType: contentTypeZip, FileName: name}), nil
}

// ResolveByKey находит архив опубликованной версии карты по старому hex-ключу.
// Имя файла сохраняется даже без архива, а уведомление о скачивании
// отправляется только если архив есть.
func (s *Resolver) ResolveByKey(ctx context.Context, key, clientAddress string) (*Resolution, error) {
	pm, err := s.publishedByKey(ctx, key)
	if err != nil {
		return nil, s.fail(KindMapByKey, err)
	}

	path := s.layout.MapArchive(pm.Hash)
	// Имя сохраняем до проверки архива
	name := s.filenames.GetOrCompute(ctx, &pm.Map)

	exists, err := s.files.Exists(ctx, path)
	if err != nil {
		return nil, s.fail(KindMapByKey, fmt.Errorf("checking %s: %w", path, err))
	}
	if !exists {
		s.log.Warn("archive missing for published version",
			zap.Int("mapId", pm.ID), zap.String("hash", pm.Hash), zap.String("path", path))
		return nil, s.fail(KindMapByKey, ErrNotFound)
	}

	s.notifier.Notify(ctx, publicmodels.DownloadTypeKey, key, clientAddress)
	return s.ok(KindMapByKey, &Resolution{Path: path, ContentType: contentTypeZip, FileName: name}), nil
}

// ResolveAudioByHash находит аудио-превью версии. Метаданные не читаются.
func (s *Resolver) ResolveAudioByHash(_ context.Context, hash string) (*Resolution, error) {
	if !validIdentifier(hash) {
		return nil, s.fail(KindAudioByHash, ErrNotFound)
	}
	return s.ok(KindAudioByHash, &Resolution{Path: s.layout.Audio(strings.ToLower(hash)), ContentType: contentTypeMP3}), nil
}

// ResolveAudioByKey находит аудио-превью опубликованной версии карты.
func (s *Resolver) ResolveAudioByKey(ctx context.Context, key string) (*Resolution, error) {
	pm, err := s.publishedByKey(ctx, key)
	if err != nil {
		return nil, s.fail(KindAudioByKey, err)
	}
	return s.ok(KindAudioByKey, &Resolution{Path: s.layout.Audio(pm.Hash), ContentType: contentTypeMP3}), nil
}

// ResolveCover находит обложку версии.
func (s *Resolver) ResolveCover(_ context.Context, hash string) (*Resolution, error) {
	if !validIdentifier(hash) {
		return nil, s.fail(KindCover, ErrNotFound)
	}
	return s.ok(KindCover, &Resolution{Path: s.layout.Cover(strings.ToLower(hash)), ContentType: contentTypeJPEG}), nil
}

// ResolveAvatar находит аватар пользователя, ext - "png" или "jpg".
func (s *Resolver) ResolveAvatar(_ context.Context, user, ext string) (*Resolution, error) {
	var contentType string
	switch ext {
	case "png":
		contentType = contentTypePNG
	case "jpg":
		contentType = contentTypeJPEG
	default:
		return nil, s.fail(KindAvatar, ErrNotFound)
	}

	userID, err := strconv.ParseInt(user, 10, 64)
	if err != nil {
		return nil, s.fail(KindAvatar, ErrNotFound)
	}
	return s.ok(KindAvatar, &Resolution{Path: s.layout.Avatar(userID, ext), ContentType: contentType}), nil
}

// ResolvePlaylistCover находит обложку плейлиста.
func (s *Resolver) ResolvePlaylistCover(_ context.Context, id string) (*Resolution, error) {
	if !validIdentifier(id) {
		return nil, s.fail(KindPlaylistCover, ErrNotFound)
	}
	return s.ok(KindPlaylistCover, &Resolution{Path: s.layout.PlaylistCover(id), ContentType: contentTypeJPEG}), nil
}

func (s *Resolver) publishedByKey(ctx context.Context, key string) (*models.PublishedMap, error) {
	id, ok := parseKey(key)
	if !ok {
		return nil, ErrNotFound
	}

	pm, err := s.maps.GetPublishedMap(ctx, id)
	if err != nil {
		return nil, s.lookupError(err)
	}
	return pm, nil
}

// lookupError различает "нет такой записи" и "хранилище недоступно": ErrNotFound только для первого.
func (s *Resolver) lookupError(err error) error {
	if errors.Is(err, repository.ErrMapNotFound) {
		return ErrNotFound
	}
	return ErrStoreUnavailable.Wrap(err)
}

func (s *Resolver) ok(kind string, r *Resolution) *Resolution {
	s.metrics.Resolutions.WithLabelValues(kind, metrics.OutcomeOK).Inc()
	return r
}

func (s *Resolver) fail(kind string, err error) error {
	if errors.Is(err, ErrNotFound) {
		s.metrics.Resolutions.WithLabelValues(kind, metrics.OutcomeNotFound).Inc()
		return err
	}
	s.metrics.Resolutions.WithLabelValues(kind, metrics.OutcomeError).Inc()
	s.log.Error("resolution failed", zap.String("kind", kind), zap.Error(err))
	return err
}
