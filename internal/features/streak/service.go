// Package streak — service.go записывает активность пользователей.
package streak

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/common"
)

// Store — хранилище сигналов активности.
type Store interface {
	// Record атомарно применяет Next к сохранённому сигналу и возвращает результат.
	Record(ctx context.Context, userID int64, day time.Time) (*Signal, error)
	// Get возвращает сигнал; если нет — common.ErrNotFound.
	Get(ctx context.Context, userID int64) (*Signal, error)
}

// Service ведёт сигналы активности.
type Service struct {
	store Store
	loc   *time.Location
	log   log.FieldLogger
}

// NewService создаёт сервис. Календарные дни считаются в часовом поясе loc.
func NewService(store Store, loc *time.Location, logger log.FieldLogger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, loc: loc, log: logger}
}

// RecordActivity отмечает активность пользователя в момент at.
func (s *Service) RecordActivity(ctx context.Context, userID int64, at time.Time) (*Signal, error) {
	if userID <= 0 {
		return nil, common.Validation("user_id", "некорректный ID пользователя %d", userID)
	}
	day := common.DateIn(at, s.loc)

	sig, err := s.store.Record(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи активности: %w", err)
	}

	s.log.WithFields(log.Fields{
		"user_id": userID,
		"day":     day.Format("2006-01-02"),
		"streak":  sig.CurrentStreak,
	}).Debug("Активность записана")
	return sig, nil
}

// Get возвращает сигнал активности пользователя.
func (s *Service) Get(ctx context.Context, userID int64) (*Signal, error) {
	return s.store.Get(ctx, userID)
}
