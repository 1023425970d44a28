// Package kafkasink публикует уведомления в Kafka вместо прямой доставки.
// Сообщения читает внешний сервис рассылок (почта, push).
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/features/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Envelope — тело сообщения в топике.
type Envelope struct {
	Kind      notify.Kind       `json:"kind"`
	UserID    int64             `json:"user_id"`
	Username  string            `json:"username,omitempty"`
	Email     string            `json:"email,omitempty"`
	ChatID    *int64            `json:"telegram_chat_id,omitempty"`
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Reference string            `json:"reference"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sink реализует notify.Dispatcher.
type Sink struct {
	writer messageWriter
	closer func() error
	now    func() time.Time
	log    log.FieldLogger
}

// New создаёт Sink поверх kafka.Writer. Ключ сообщения — user_id,
// поэтому уведомления одного пользователя попадают в одну партицию по порядку.
func New(brokers []string, topic string, logger log.FieldLogger) *Sink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	s := newSink(w, logger)
	s.closer = w.Close
	return s
}

func newSink(w messageWriter, logger log.FieldLogger) *Sink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sink{
		writer: w,
		now:    time.Now,
		log:    logger.WithField("component", "kafka"),
	}
}

// Close сбрасывает буфер писателя.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Send публикует уведомление.
func (s *Sink) Send(ctx context.Context, r notify.Recipient, kind notify.Kind, p notify.Payload) error {
	env := Envelope{
		Kind:      kind,
		UserID:    r.UserID,
		Username:  r.Username,
		Email:     r.Email,
		ChatID:    r.TelegramChatID,
		Title:     p.Title,
		Text:      p.Text,
		Reference: p.Reference,
		Data:      p.Data,
		CreatedAt: s.now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ошибка сериализации уведомления: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(r.UserID, 10)),
		Value: body,
		Time:  env.CreatedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("ошибка публикации в Kafka: %w", err)
	}

	s.log.WithFields(log.Fields{
		"user_id": r.UserID,
		"kind":    kind,
		"ref":     p.Reference,
	}).Debug("Уведомление опубликовано")
	return nil
}
