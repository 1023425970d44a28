// Package middleware содержит обвязку доставки: логирование,
// восстановление после паники и rate-limiting.
package middleware

import (
	log "github.com/sirupsen/logrus"
)

const previewRunes = 50

// LogDelivery логирует исходящее сообщение.
// Записывает: user_id, chat_id, вид уведомления, текст (первые 50 символов).
func LogDelivery(logger log.FieldLogger, userID, chatID int64, kind, text string) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"user_id": userID,
		"chat_id": chatID,
		"kind":    kind,
		"text":    Preview(text),
	}).Debug("Исходящее сообщение")
}

// Preview обрезает текст до 50 символов (по рунам, не по байтам).
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}
