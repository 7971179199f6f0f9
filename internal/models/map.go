package models

// Map - локальная копия карты: метаданные для имени файла и флаг удаления.
// Теги `db` соответствуют колонкам таблицы "map" для sqlx.
type Map struct {
	ID              int     `db:"mapId" json:"mapId"`
	FileName        *string `db:"fileName" json:"fileName,omitempty"` // NULL до первого разрешения
	SongName        string  `db:"songName" json:"songName"`
	LevelAuthorName string  `db:"levelAuthorName" json:"levelAuthorName"`
	Deleted         bool    `db:"deleted" json:"deleted"`
}

// PublishedMap - карта вместе с хешем ее опубликованной версии.
type PublishedMap struct {
	Map
	Hash string `db:"hash" json:"hash"`
}

// MapUpsert описывает колонки, которые пишет upsert карты.
// nil-указатели при конфликте оставляют сохраненное значение.
type MapUpsert struct {
	ID              int
	SongName        *string
	LevelAuthorName *string
	FileName        *string
	Deleted         bool
}
