// Package bot доставляет уведомления движка репутации в Telegram.
// sender.go реализует notify.Dispatcher поверх telego.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/bot/middleware"
	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/features/notify"
)

// MessageSender — часть telego.Bot, которой пользуется Sender.
type MessageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Sender — канал доставки уведомлений в личные сообщения Telegram.
type Sender struct {
	api     MessageSender
	limiter *middleware.RateLimiter
	log     log.FieldLogger
}

// NewBot создаёт клиента Bot API.
func NewBot(token string, debug bool) (*telego.Bot, error) {
	b, err := telego.NewBot(token, telego.WithDefaultLogger(debug, true))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать Telegram-бота: %w", err)
	}
	return b, nil
}

// NewSender создаёт канал доставки. Не больше limit сообщений в чат за window.
func NewSender(api MessageSender, limit int, window time.Duration, logger log.FieldLogger) *Sender {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sender{
		api:     api,
		limiter: middleware.NewRateLimiter(limit, window),
		log:     logger.WithField("component", "telegram"),
	}
}

// Close останавливает фоновую очистку ограничителя.
func (s *Sender) Close() {
	s.limiter.Close()
}

// Send отправляет уведомление в чат получателя.
// Без chat_id — common.ErrNoAddress, при исчерпанном лимите — common.ErrRateLimited.
func (s *Sender) Send(ctx context.Context, r notify.Recipient, kind notify.Kind, p notify.Payload) error {
	if r.TelegramChatID == nil {
		return fmt.Errorf("user_id=%d: %w", r.UserID, common.ErrNoAddress)
	}
	chatID := *r.TelegramChatID

	if !s.limiter.Allow(chatID) {
		return fmt.Errorf("chat_id=%d, повтор через %s: %w",
			chatID, s.limiter.RetryAfter(chatID).Round(time.Second), common.ErrRateLimited)
	}

	text := Render(p)
	middleware.LogDelivery(s.log, r.UserID, chatID, string(kind), text)

	if _, err := s.api.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("ошибка отправки в Telegram: %w", err)
	}
	return nil
}

// Render собирает текст сообщения: заголовок, пустая строка, тело.
func Render(p notify.Payload) string {
	title := strings.TrimSpace(p.Title)
	text := strings.TrimSpace(p.Text)
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + "\n\n" + text
	}
}
