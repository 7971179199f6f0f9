package services

import (
	"strconv"
)

const (
	maxIdentifierLength = 128
	hashLength          = 40
)

// validIdentifier принимает непустые идентификаторы из символов [0-9A-Za-z_-].
// Все остальное не может быть именем файла и не должно попасть в построение пути.
func validIdentifier(id string) bool {
	if id == "" || len(id) > maxIdentifierLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// validHash принимает 40-символьные шестнадцатеричные хеши в любом регистре.
func validHash(h string) bool {
	if len(h) != hashLength {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// parseKey разбирает старый ключ карты: положительное число в base-16,
// которое помещается в колонку идентификатора. Знаки и префиксы не допускаются.
func parseKey(key string) (int, bool) {
	if !validIdentifier(key) {
		return 0, false
	}
	// 31 бит: ключ должен помещаться в INTEGER
	id, err := strconv.ParseUint(key, 16, 31)
	if err != nil || id == 0 {
		return 0, false
	}
	return int(id), true
}
