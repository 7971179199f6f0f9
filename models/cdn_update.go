package models

// CDNUpdate - сообщение, которое основной сервис публикует с ключами "cdn.#"
// при изменении карты или одной из ее версий.
// Необязательные поля - указатели: nil значит "не входит в это обновление".
type CDNUpdate struct {
	MapID           int     `json:"mapId"`
	SongName        *string `json:"songName,omitempty"`
	LevelAuthorName *string `json:"levelAuthorName,omitempty"`
	Deleted         bool    `json:"deleted"`
	// Hash отсутствует в уведомлениях об удалении
	Hash      *string `json:"hash,omitempty"`
	Published *bool   `json:"published,omitempty"`
}

// HasNames сообщает, содержит ли обновление оба названия.
func (u CDNUpdate) HasNames() bool {
	return u.SongName != nil && u.LevelAuthorName != nil
}
