package models

// Version - неизменяемая ревизия карты, адресуемая по хешу содержимого.
type Version struct {
	Hash      string `db:"hash" json:"hash"`
	MapID     int    `db:"mapId" json:"mapId"`
	Published bool   `db:"published" json:"published"`
}

// VersionUpsert описывает колонки, которые пишет upsert версии.
// Published == nil сохраняет текущий флаг (false для новой записи).
type VersionUpsert struct {
	Hash      string
	MapID     int
	Published *bool
}
