package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogDispatcher «доставляет» уведомления в лог. Используется при NOTIFY_SINK=log
// и в окружениях без Telegram и Kafka.
type LogDispatcher struct {
	log log.FieldLogger
}

// NewLogDispatcher создаёт лог-доставщик. logger == nil — стандартный логгер.
func NewLogDispatcher(logger log.FieldLogger) *LogDispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogDispatcher{log: logger}
}

// Send пишет уведомление в лог.
func (d *LogDispatcher) Send(_ context.Context, r Recipient, kind Kind, p Payload) error {
	d.log.WithFields(log.Fields{
		"user_id":  r.UserID,
		"username": r.Username,
		"kind":     kind,
		"ref":      p.Reference,
		"title":    p.Title,
	}).Info("Уведомление")
	return nil
}
