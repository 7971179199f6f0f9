package storage

import (
	"path"
	"strconv"
)

// Layout строит физический путь к файлу каждого вида по его идентификатору.
// Файлы, адресуемые по хешу, раскладываются по подкаталогам из первых
// ShardPrefixLen символов идентификатора.
type Layout struct {
	ZipDir           string
	CoverDir         string
	AudioDir         string
	AvatarDir        string
	PlaylistCoverDir string
	ShardPrefixLen   int
}

// MapArchive возвращает путь к zip-архиву версии карты.
func (l Layout) MapArchive(hash string) string {
	return path.Join(l.ZipDir, l.shard(hash), hash+".zip")
}

// Cover возвращает путь к обложке версии карты.
func (l Layout) Cover(hash string) string {
	return path.Join(l.CoverDir, l.shard(hash), hash+".jpg")
}

// Audio возвращает путь к аудио-превью версии карты.
func (l Layout) Audio(hash string) string {
	return path.Join(l.AudioDir, l.shard(hash), hash+".mp3")
}

// Avatar возвращает путь к аватару пользователя, ext - "png" или "jpg".
func (l Layout) Avatar(userID int64, ext string) string {
	return path.Join(l.AvatarDir, strconv.FormatInt(userID, 10)+"."+ext)
}

// PlaylistCover возвращает путь к обложке плейлиста. Обложки плейлистов не шардируются.
func (l Layout) PlaylistCover(id string) string {
	return path.Join(l.PlaylistCoverDir, id+".jpg")
}

func (l Layout) shard(id string) string {
	n := l.ShardPrefixLen
	if n <= 0 {
		n = 1
	}
	if len(id) < n {
		return id
	}
	return id[:n]
}
