// Package ledger — service.go содержит путь записи в журнал:
// Append пишет запись как есть, Award применяет множители активных событий.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/common"
)

// Store — хранилище журнала.
type Store interface {
	// Append сохраняет запись и заполняет ID и CreatedAt.
	// Для несуществующего пользователя — common.ErrUserNotFound.
	Append(ctx context.Context, e *Entry) error
	// AddKarma оптимистично сдвигает users.karma_points на delta.
	AddKarma(ctx context.Context, userID, delta int64) error
	// History возвращает последние записи пользователя, новые первыми.
	History(ctx context.Context, userID int64, limit int) ([]*Entry, error)
}

// MultiplierSource отдаёт совокупный множитель событий на момент t.
type MultiplierSource interface {
	MultiplierAt(ctx context.Context, t time.Time) (decimal.Decimal, error)
}

// Service — запись в журнал.
type Service struct {
	store       Store
	multipliers MultiplierSource
	now         func() time.Time
	log         log.FieldLogger
}

// Option настраивает Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l log.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// NewService создаёт сервис журнала.
func NewService(store Store, multipliers MultiplierSource, opts ...Option) *Service {
	s := &Service{
		store:       store,
		multipliers: multipliers,
		now:         time.Now,
		log:         log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append добавляет запись в журнал. Агрегат пользователя не трогает.
func (s *Service) Append(ctx context.Context, userID, amount int64, source Source, description string) (*Entry, error) {
	if userID <= 0 {
		return nil, common.Validation("user_id", "некорректный ID пользователя %d", userID)
	}
	if strings.TrimSpace(string(source)) == "" {
		return nil, common.Validation("source", "источник начисления не указан")
	}

	entry := &Entry{
		UserID:      userID,
		Amount:      amount,
		Source:      source,
		Description: description,
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("ошибка записи в журнал: %w", err)
	}

	appendedCounter.WithLabelValues(string(source)).Inc()
	s.log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  amount,
		"source":  source,
	}).Debug("Запись добавлена в журнал")

	return entry, nil
}

// Award начисляет карму за действие: base умножается на произведение множителей
// событий, активных в момент вызова (округление половины от нуля), затем
// запись добавляется в журнал и karma_points сдвигается оптимистично.
// Ошибка оптимистичного сдвига только логируется: пересчёт всё равно сведёт агрегат.
func (s *Service) Award(ctx context.Context, userID, base int64, source Source, description string) (*Entry, error) {
	now := s.now()
	m, err := s.multipliers.MultiplierAt(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения множителя: %w", err)
	}
	amount := ApplyMultiplier(base, m)

	entry, err := s.Append(ctx, userID, amount, source, description)
	if err != nil {
		return nil, err
	}

	if err := s.store.AddKarma(ctx, userID, amount); err != nil {
		s.log.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"amount":  amount,
		}).Warn("Не удалось обновить карму сразу, агрегат сведёт пересчёт")
	}

	if !m.Equal(decimal.NewFromInt(1)) {
		s.log.WithFields(log.Fields{
			"user_id":    userID,
			"base":       base,
			"multiplier": m.String(),
			"amount":     amount,
		}).Debug("Начисление умножено активными событиями")
	}

	return entry, nil
}

// History возвращает последние записи пользователя.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.History(ctx, userID, limit)
}

// ApplyMultiplier умножает base на m и округляет до целого (половина от нуля).
func ApplyMultiplier(base int64, m decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(m).Round(0).IntPart()
}
