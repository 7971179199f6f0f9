package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/services"
	"github.com/maynagashev/beatmaps-cdn/internal/storage"
)

// FileParam - параметр маршрута chi вида "<идентификатор>.<расширение>".
const FileParam = "file"

// Resolver определяет интерфейс разрешения публичных идентификаторов в файлы.
type Resolver interface {
	ResolveByHash(ctx context.Context, hash, clientAddress string) (*services.Resolution, error)
	ResolveByKey(ctx context.Context, key, clientAddress string) (*services.Resolution, error)
	ResolveAudioByHash(ctx context.Context, hash string) (*services.Resolution, error)
	ResolveAudioByKey(ctx context.Context, key string) (*services.Resolution, error)
	ResolveCover(ctx context.Context, hash string) (*services.Resolution, error)
	ResolveAvatar(ctx context.Context, user, ext string) (*services.Resolution, error)
	ResolvePlaylistCover(ctx context.Context, id string) (*services.Resolution, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// CDNHandler отдает архивы карт и медиафайлы карт, пользователей и плейлистов.
type CDNHandler struct {
	resolver Resolver
	files    storage.FileStorage
	log      *zap.Logger
}

// NewCDNHandler создает новый экземпляр CDNHandler.
func NewCDNHandler(resolver Resolver, files storage.FileStorage, log *zap.Logger) *CDNHandler {
	return &CDNHandler{resolver: resolver, files: files, log: log}
}

// ServeByHash обрабатывает /cdn/{hash}.zip, /cdn/{hash}.mp3 и /cdn/{hash}.jpg.
func (h *CDNHandler) ServeByHash(w http.ResponseWriter, r *http.Request) {
	id, ext := splitFile(chi.URLParam(r, FileParam))

	var (
		res *services.Resolution
		err error
	)
	switch ext {
	case "zip":
		res, err = h.resolver.ResolveByHash(r.Context(), id, clientAddress(r))
	case "mp3":
		res, err = h.resolver.ResolveAudioByHash(r.Context(), id)
	case "jpg":
		res, err = h.resolver.ResolveCover(r.Context(), id)
	default:
		err = services.ErrNotFound
	}
	h.serve(w, r, res, err)
}

// ServeByKey обрабатывает /cdn/beatsaver/{key}.zip и /cdn/beatsaver/{key}.mp3.
func (h *CDNHandler) ServeByKey(w http.ResponseWriter, r *http.Request) {
	key, ext := splitFile(chi.URLParam(r, FileParam))

	var (
		res *services.Resolution
		err error
	)
	switch ext {
	case "zip":
		res, err = h.resolver.ResolveByKey(r.Context(), key, clientAddress(r))
	case "mp3":
		res, err = h.resolver.ResolveAudioByKey(r.Context(), key)
	default:
		err = services.ErrNotFound
	}
	h.serve(w, r, res, err)
}

// ServeAvatar обрабатывает /cdn/avatar/{user}.png и /cdn/avatar/{user}.jpg.
func (h *CDNHandler) ServeAvatar(w http.ResponseWriter, r *http.Request) {
	user, ext := splitFile(chi.URLParam(r, FileParam))
	res, err := h.resolver.ResolveAvatar(r.Context(), user, ext)
	h.serve(w, r, res, err)
}

// ServePlaylistCover обрабатывает /cdn/playlist/{id}.jpg.
func (h *CDNHandler) ServePlaylistCover(w http.ResponseWriter, r *http.Request) {
	id, ext := splitFile(chi.URLParam(r, FileParam))
	if ext != "jpg" {
		h.serve(w, r, nil, services.ErrNotFound)
		return
	}
	res, err := h.resolver.ResolvePlaylistCover(r.Context(), id)
	h.serve(w, r, res, err)
}

// NotFound отвечает 404 с JSON-телом, общим для всех маршрутов CDN.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: "Not Found"})
}

func (h *CDNHandler) serve(w http.ResponseWriter, r *http.Request, res *services.Resolution, err error) {
	// Ошибка разрешения: 404 или 500
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Файл мог пропасть между проверкой и открытием, тогда это тоже 404
	f, info, err := h.files.Open(r.Context(), res.Path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			err = services.ErrNotFound
		}
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	// Тип задаем сами, чтобы ServeContent не определял его по содержимому
	w.Header().Set("Content-Type", res.ContentType)
	if res.FileName != "" {
		// Для не-ASCII имен FormatMediaType выдает filename* по RFC 2231
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName})
		if disposition != "" {
			w.Header().Set("Content-Disposition", disposition)
		}
	}
	// ServeContent обрабатывает Range, If-Modified-Since и HEAD
	http.ServeContent(w, r, "", info.ModTime, f)
}

// fail отвечает 404 для ErrNotFound и 500 для остальных ошибок.
func (h *CDNHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, services.ErrNotFound) {
		NotFound(w, r)
		return
	}
	h.log.Error("serving asset failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// splitFile разделяет "abc.zip" на "abc" и "zip".
func splitFile(file string) (string, string) {
	i := strings.LastIndexByte(file, '.')
	if i < 0 {
		return file, ""
	}
	return file[:i], file[i+1:]
}

// clientAddress возвращает IP клиента. За прокси RemoteAddr уже переписан
// middleware RealIP.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
