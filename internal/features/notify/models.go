// Package notify решает, кто и о чём получает уведомления: анонсы событий
// кармы, разблокировки достижений и повышения уровня.
// Как сообщение доставляется, решает Dispatcher (Telegram, Kafka, лог).
package notify

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Kind — вид уведомления.
type Kind string

const (
	KindUpcomingEvent       Kind = "upcoming_event"
	KindAchievementUnlocked Kind = "achievement_unlocked"
	KindTierUp              Kind = "tier_up"
)

// Recipient — получатель и его адреса.
type Recipient struct {
	UserID         int64
	Username       string
	Email          string
	TelegramChatID *int64
}

// Payload — содержимое уведомления.
type Payload struct {
	Title     string
	Text      string
	Reference string            // id события или slug достижения
	Data      map[string]string // дополнительные поля для машинных получателей
}

// Dispatcher доставляет одно уведомление. Ошибка — доставка не удалась;
// повторов на этом уровне нет.
type Dispatcher interface {
	Send(ctx context.Context, r Recipient, kind Kind, p Payload) error
}

// Audience выбирает получателей.
type Audience interface {
	// ActiveVerified — пользователи с подтверждённой почтой и
	// last_activity_date >= since, с id > afterID, по возрастанию id, не более limit.
	ActiveVerified(ctx context.Context, since time.Time, afterID int64, limit int) ([]Recipient, error)
	// Recipient — адреса конкретного пользователя; если нет — common.ErrUserNotFound.
	Recipient(ctx context.Context, userID int64) (*Recipient, error)
}

// Journal — журнал отправленных уведомлений.
type Journal interface {
	// Reserve записывает ключ, если его ещё нет. false — уведомление уже было.
	Reserve(ctx context.Context, key string, userID int64, kind Kind, at time.Time) (bool, error)
	// Known отмечает ключи, которые уже есть в журнале.
	Known(ctx context.Context, keys []string) (map[string]bool, error)
}

// DedupeKey — ключ журнала: blake2b-128 от вида, ссылки и пользователя, в hex.
func DedupeKey(kind Kind, reference string, userID int64) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(reference))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
