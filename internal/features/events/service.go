// Package events — service.go содержит планировщик событий кармы.
// Активность события всегда выводится из start_at/end_at и текущего времени;
// флаг is_active в БД — лишь кеш для удобства запросов.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/common"
)

// Store — хранилище событий. Реализации: Repository (PostgreSQL) и memory.Store.
type Store interface {
	Create(ctx context.Context, e *KarmaEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*KarmaEvent, error)
	// ListActiveAt — события с start_at <= t < end_at.
	ListActiveAt(ctx context.Context, t time.Time) ([]*KarmaEvent, error)
	// ListStartingIn — события с start_at в полуинтервале (from, to], по возрастанию start_at.
	ListStartingIn(ctx context.Context, from, to time.Time) ([]*KarmaEvent, error)
	// SyncActiveFlags пересчитывает is_active на момент t и возвращает
	// только те события, у которых флаг изменился (уже с новым значением).
	SyncActiveFlags(ctx context.Context, t time.Time) ([]*KarmaEvent, error)
}

// Service — планировщик событий кармы.
type Service struct {
	store Store
	types map[string]TypeDefaults
	now   func() time.Time
	log   log.FieldLogger
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени (для тестов и CLI с --now).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger задаёт логгер вместо стандартного logrus.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithTypes дополняет (и переопределяет) встроенную таблицу типов событий.
func WithTypes(types map[string]TypeDefaults) Option {
	return func(s *Service) {
		for k, v := range types {
			s.types[k] = v
		}
	}
}

// NewService создаёт планировщик событий.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		types: BuiltinTypes(),
		now:   time.Now,
		log:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now возвращает текущее время по часам сервиса.
func (s *Service) Now() time.Time {
	return s.now()
}

// Schedule валидирует параметры и сохраняет новое событие.
// При любой ошибке валидации ничего не записывается.
//
// Проверки:
//   - тип не пустой
//   - длительность > 0 часов
//   - множитель, если указан, > 0, не больше 4 знаков после запятой и влезает в колонку
//   - без множителя тип должен быть в таблице типов
func (s *Service) Schedule(ctx context.Context, p ScheduleParams) (*KarmaEvent, error) {
	eventType := strings.TrimSpace(p.Type)
	if eventType == "" {
		return nil, common.Validation("type", "тип события не указан")
	}
	if p.StartAt.IsZero() {
		return nil, common.Validation("start_at", "время начала не указано")
	}
	if p.DurationHours <= 0 {
		return nil, common.Validation("duration_hours", "должна быть > 0, получено %d", p.DurationHours)
	}

	defaults, known := s.types[eventType]

	var multiplier decimal.Decimal
	switch {
	case p.Multiplier != nil:
		multiplier = *p.Multiplier
		switch {
		case !multiplier.IsPositive():
			return nil, common.Validation("multiplier", "должен быть > 0, получено %s", multiplier.String())
		case !multiplier.Equal(multiplier.Round(MultiplierScale)):
			return nil, common.Validation("multiplier", "не больше %d знаков после запятой, получено %s", MultiplierScale, multiplier.String())
		case multiplier.GreaterThan(MaxMultiplier):
			return nil, common.Validation("multiplier", "должен быть не больше %s, получено %s", MaxMultiplier.String(), multiplier.String())
		}
	case known:
		multiplier = defaults.Multiplier
	default:
		return nil, &common.ValidationError{
			Field:  "type",
			Reason: fmt.Sprintf("тип %q неизвестен и множитель не указан", eventType),
			Err:    common.ErrUnknownEventType,
		}
	}

	name := eventType
	if known && defaults.Name != "" {
		name = defaults.Name
	}
	description := defaults.Description
	if p.Description != nil {
		description = *p.Description
	}

	start := p.StartAt.UTC()
	event := &KarmaEvent{
		ID:          uuid.New(),
		Type:        eventType,
		Name:        name,
		Description: description,
		Multiplier:  multiplier,
		StartAt:     start,
		EndAt:       start.Add(time.Duration(p.DurationHours) * time.Hour),
	}

	if err := s.store.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("ошибка сохранения события: %w", err)
	}

	scheduledCounter.WithLabelValues(eventType).Inc()
	s.log.WithFields(log.Fields{
		"event_id":   event.ID,
		"type":       event.Type,
		"multiplier": event.Multiplier.String(),
		"start_at":   event.StartAt,
		"end_at":     event.EndAt,
	}).Info("Событие кармы запланировано")

	return event, nil
}

// Get возвращает событие по ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*KarmaEvent, error) {
	return s.store.GetByID(ctx, id)
}

// ActiveAt возвращает события, действующие в момент now. Ничего не изменяет.
func (s *Service) ActiveAt(ctx context.Context, now time.Time) ([]*KarmaEvent, error) {
	list, err := s.store.ListActiveAt(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных событий: %w", err)
	}
	return list, nil
}

// Upcoming возвращает события, которые начнутся в (now, now+withinHours].
func (s *Service) Upcoming(ctx context.Context, withinHours int, now time.Time) ([]*KarmaEvent, error) {
	if withinHours <= 0 {
		return nil, common.Validation("within_hours", "должно быть > 0, получено %d", withinHours)
	}
	list, err := s.store.ListStartingIn(ctx, now, now.Add(time.Duration(withinHours)*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения предстоящих событий: %w", err)
	}
	return list, nil
}

// MultiplierAt возвращает произведение множителей всех событий, активных в момент t.
// Без активных событий — 1.
func (s *Service) MultiplierAt(ctx context.Context, t time.Time) (decimal.Decimal, error) {
	active, err := s.ActiveAt(ctx, t)
	if err != nil {
		return decimal.Zero, err
	}
	m := decimal.NewFromInt(1)
	for _, e := range active {
		m = m.Mul(e.Multiplier)
	}
	return m, nil
}

// SweepResult — изменения кеша is_active за один проход.
type SweepResult struct {
	Activated   []*KarmaEvent
	Deactivated []*KarmaEvent
}

// Sweep обновляет кеш is_active на момент now.
// Флаг выводится только из неизменяемых start_at/end_at, поэтому повторный
// или параллельный запуск безопасен: второй проход подряд ничего не меняет.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	changed, err := s.store.SyncActiveFlags(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("ошибка обновления флагов событий: %w", err)
	}

	var res SweepResult
	for _, e := range changed {
		if e.IsActive {
			res.Activated = append(res.Activated, e)
		} else {
			res.Deactivated = append(res.Deactivated, e)
		}
	}

	if active, err := s.store.ListActiveAt(ctx, now); err == nil {
		activeGauge.Set(float64(len(active)))
	} else if !errors.Is(err, context.Canceled) {
		s.log.WithError(err).Warn("Не удалось обновить метрику активных событий")
	}

	return res, nil
}
