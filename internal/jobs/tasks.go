// Package jobs — внешние точки входа движка репутации: разовые задачи
// (их вызывает karmactl) и расписание cron, которое гоняет те же задачи в демоне.
package jobs

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/features/achievements"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/ledger"
	"serotonyl.ru/reputation/internal/features/notify"
)

// Tasks объединяет сервисы, из которых собираются задачи.
type Tasks struct {
	events    *events.Service
	engine    *ledger.Engine
	notifier  *notify.Notifier
	evaluator *achievements.Evaluator
	log       log.FieldLogger
}

// NewTasks собирает задачи. logger == nil — стандартный логгер logrus.
func NewTasks(
	eventService *events.Service,
	engine *ledger.Engine,
	notifier *notify.Notifier,
	evaluator *achievements.Evaluator,
	logger log.FieldLogger,
) *Tasks {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Tasks{
		events:    eventService,
		engine:    engine,
		notifier:  notifier,
		evaluator: evaluator,
		log:       logger,
	}
}

// ScheduleEvent планирует событие кармы.
func (t *Tasks) ScheduleEvent(ctx context.Context, p events.ScheduleParams) (*events.KarmaEvent, error) {
	return t.events.Schedule(ctx, p)
}

// SweepEvents обновляет кеш is_active и логирует начавшиеся и закончившиеся события.
func (t *Tasks) SweepEvents(ctx context.Context) (events.SweepResult, error) {
	res, err := t.events.Sweep(ctx, t.events.Now())
	if err != nil {
		return res, err
	}
	for _, e := range res.Activated {
		t.log.WithFields(log.Fields{
			"event_id":   e.ID,
			"type":       e.Type,
			"multiplier": e.Multiplier.String(),
			"end_at":     e.EndAt,
		}).Info("Событие кармы началось")
	}
	for _, e := range res.Deactivated {
		t.log.WithFields(log.Fields{
			"event_id": e.ID,
			"type":     e.Type,
		}).Info("Событие кармы закончилось")
	}
	return res, nil
}

// RecalculateAll пересчитывает карму и уровни всех пользователей
// и отмечает каждое повышение уровня.
func (t *Tasks) RecalculateAll(ctx context.Context) (ledger.Summary, error) {
	sum, err := t.engine.RecalculateAll(ctx)
	for _, up := range sum.TierUps {
		t.notifier.NotifyTierUp(ctx, up.UserID, up.To)
	}
	return sum, err
}

// NotifyUpcomingEvents анонсирует события, которые начнутся в ближайшие
// lookaheadHours часов. Ошибка одного события не мешает остальным.
// Возвращает суммарное число отправленных уведомлений.
func (t *Tasks) NotifyUpcomingEvents(ctx context.Context, lookaheadHours, limit int) (int, error) {
	now := t.events.Now()
	upcoming, err := t.events.Upcoming(ctx, lookaheadHours, now)
	if err != nil {
		return 0, err
	}

	var total, failed int
	for _, e := range upcoming {
		sent, err := t.notifier.NotifyUpcomingEvent(ctx, e, limit)
		if err != nil {
			failed++
			t.log.WithError(err).WithField("event_id", e.ID).Error("Ошибка анонса события")
			continue
		}
		total += sent
	}

	t.log.WithFields(log.Fields{
		"events": len(upcoming),
		"failed": failed,
		"sent":   total,
		"window": fmt.Sprintf("%dh", lookaheadHours),
	}).Info("Анонсы предстоящих событий разосланы")
	return total, nil
}

// EvaluateAchievements проверяет достижения для снимка метрик сущности.
func (t *Tasks) EvaluateAchievements(ctx context.Context, snap achievements.Snapshot, types ...string) (achievements.Result, error) {
	start := time.Now()
	res, err := t.evaluator.Evaluate(ctx, snap, types...)
	if err != nil {
		return res, err
	}
	t.log.WithFields(log.Fields{
		"entity":     snap.Entity.Kind,
		"entity_id":  snap.Entity.ID,
		"unlocked":   len(res.Unlocked),
		"progressed": res.Progressed,
		"failed":     res.Failed,
		"took":       time.Since(start).Round(time.Millisecond),
	}).Info("Достижения проверены")
	return res, nil
}
