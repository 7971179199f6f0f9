package models

import "strings"

// DownloadType сообщает аналитике, как был запрошен файл.
type DownloadType string

const (
	DownloadTypeHash DownloadType = "HASH"
	DownloadTypeKey  DownloadType = "KEY"
)

// RoutingSegment возвращает форму для ключей маршрутизации ("download.hash.<id>").
func (t DownloadType) RoutingSegment() string {
	return strings.ToLower(string(t))
}

// DownloadInfo публикуется в exchange аналитики после успешного разрешения.
type DownloadInfo struct {
	Identifier    string       `json:"identifier"`
	Kind          DownloadType `json:"kind"`
	ClientAddress string       `json:"clientAddress"`
}
