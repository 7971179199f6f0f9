// Package filename builds the human-readable download name of a map archive and
// fills the cached copy of it in the metadata store on first use.
package filename

import (
	"context"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/maynagashev/beatmaps-cdn/internal/models"
)

const (
	// MaxLength is the upper bound, in bytes, of a built filename.
	MaxLength = 200

	extension = ".zip"
)

// illegal holds characters rejected by at least one common filesystem
// or that break a quoted Content-Disposition value.
const illegal = `<>:"/\|?*`

// Build returns the display filename of a map, "<hex id> (<song> - <author>).zip".
// The result is deterministic and safe to use as a file name on any platform.
func Build(mapID int, songName, levelAuthorName string) string {
	name := strconv.FormatInt(int64(mapID), 16) + " (" + songName + " - " + levelAuthorName + ")"
	name = sanitize(name)
	name = truncate(name, MaxLength-len(extension))
	return name + extension
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == utf8.RuneError, strings.ContainsRune(illegal, r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " .")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " .")
}

// Writer persists a computed filename for a map that has none yet.
type Writer interface {
	SetFileName(ctx context.Context, mapID int, fileName string) error
}

// Cache is the read-through cache-fill for Map.FileName.
type Cache struct {
	writer Writer
	log    *zap.Logger
}

// NewCache creates a Cache writing through w.
func NewCache(w Writer, log *zap.Logger) *Cache {
	return &Cache{writer: w, log: log}
}

// GetOrCompute returns the cached filename of m or computes, persists and returns it.
// A failed write is logged and the computed name is still returned: the value is
// deterministic and the next request will retry the fill.
func (c *Cache) GetOrCompute(ctx context.Context, m *models.Map) string {
	if m.FileName != nil {
		return *m.FileName
	}

	name := Build(m.ID, m.SongName, m.LevelAuthorName)
	if err := c.writer.SetFileName(ctx, m.ID, name); err != nil {
		c.log.Warn("filename cache fill failed", zap.Int("mapId", m.ID), zap.Error(err))
		return name
	}

	c.log.Debug("filename cached", zap.Int("mapId", m.ID), zap.String("fileName", name))
	return name
}
