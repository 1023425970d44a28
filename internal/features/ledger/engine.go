// Package ledger — engine.go пересчитывает агрегаты пользователей из журнала.
//
// Пересчёт идёт порциями по возрастанию user_id. Каждая порция — один атомарный
// оператор "прочитать сумму и записать агрегат", поэтому параллельные записи
// в журнал не теряются: они попадут либо в этот проход, либо в следующий.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/features/tiers"
)

// DefaultBatchSize — размер порции пересчёта по умолчанию.
const DefaultBatchSize = 500

// AggregateStore — хранилище агрегатов.
type AggregateStore interface {
	// RecalculateChunk пересчитывает до limit пользователей с id > afterID
	// (по возрастанию id) и возвращает их новые агрегаты.
	// Пользователи без записей получают karma_points = 0.
	RecalculateChunk(ctx context.Context, afterID int64, limit int) ([]Aggregate, error)
	// RecalculateUser пересчитывает одного пользователя тем же способом.
	RecalculateUser(ctx context.Context, userID int64) (Aggregate, error)
	// UserIDs возвращает до limit id пользователей с id > afterID по возрастанию.
	UserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// TierLister отдаёт справочник уровней.
type TierLister interface {
	List(ctx context.Context) ([]tiers.Tier, error)
}

// Engine — движок пересчёта.
type Engine struct {
	store     AggregateStore
	tiers     TierLister
	batchSize int
	now       func() time.Time
	log       log.FieldLogger
}

// EngineOption настраивает Engine.
type EngineOption func(*Engine)

// WithBatchSize задаёт размер порции.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithEngineLogger(l log.FieldLogger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine создаёт движок пересчёта.
func NewEngine(store AggregateStore, tierLister TierLister, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		tiers:     tierLister,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		log:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecalculateAll пересчитывает всех пользователей.
func (e *Engine) RecalculateAll(ctx context.Context) (Summary, error) {
	return e.RecalculateFrom(ctx, 0)
}

// RecalculateFrom пересчитывает пользователей с id > afterID.
// Ошибка отдельного пользователя логируется и учитывается в Failed, проход продолжается.
// При возврате ошибки Summary.LastUserID указывает, откуда продолжить.
func (e *Engine) RecalculateFrom(ctx context.Context, afterID int64) (Summary, error) {
	started := e.now()
	sum := Summary{LastUserID: afterID}

	tierList, err := e.tiers.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("ошибка загрузки уровней: %w", err)
	}

	e.log.WithFields(log.Fields{
		"after_id":   afterID,
		"batch_size": e.batchSize,
	}).Info("Запуск пересчёта кармы")

	cursor := afterID
	for {
		if err := ctx.Err(); err != nil {
			sum.Duration = e.now().Sub(started)
			return sum, err
		}

		aggs, err := e.store.RecalculateChunk(ctx, cursor, e.batchSize)
		seen, last := len(aggs), int64(0)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				sum.Duration = e.now().Sub(started)
				return sum, err
			}
			e.log.WithError(err).WithField("after_id", cursor).Warn("Порция не пересчитана, пересчитываю по одному")
			aggs, seen, last, err = e.recalculateOneByOne(ctx, cursor, &sum)
			if err != nil {
				sum.Duration = e.now().Sub(started)
				return sum, fmt.Errorf("ошибка пересчёта порции после user_id=%d: %w", cursor, err)
			}
		} else if seen > 0 {
			last = aggs[seen-1].UserID
		}
		if seen == 0 {
			break
		}

		for _, agg := range aggs {
			e.account(&sum, tierList, agg)
		}
		cursor = last
		sum.LastUserID = cursor
		chunksCounter.Inc()

		if seen < e.batchSize {
			break
		}
	}

	sum.Duration = e.now().Sub(started)
	recalcDuration.Observe(sum.Duration.Seconds())

	e.log.WithFields(log.Fields{
		"processed": sum.Processed,
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
		"tier_ups":  len(sum.TierUps),
		"last_id":   sum.LastUserID,
		"duration":  sum.Duration,
	}).Info("Пересчёт кармы завершён")

	return sum, nil
}

// RecalculateUser пересчитывает одного пользователя. Повышение уровня, если было, возвращается.
func (e *Engine) RecalculateUser(ctx context.Context, userID int64) (Aggregate, *TierChange, error) {
	tierList, err := e.tiers.List(ctx)
	if err != nil {
		return Aggregate{}, nil, fmt.Errorf("ошибка загрузки уровней: %w", err)
	}
	agg, err := e.store.RecalculateUser(ctx, userID)
	if err != nil {
		return Aggregate{}, nil, fmt.Errorf("ошибка пересчёта user_id=%d: %w", userID, err)
	}
	if agg.TierID == nil && len(tierList) > 0 {
		return agg, nil, fmt.Errorf("user_id=%d, карма %d: нет подходящего уровня", userID, agg.KarmaPoints)
	}
	return agg, tierUp(tierList, agg), nil
}

// recalculateOneByOne — запасной путь, когда порция целиком не прошла:
// каждый пользователь пересчитывается отдельно, сбойные пропускаются.
// seen — сколько пользователей было в порции, last — id последнего из них.
func (e *Engine) recalculateOneByOne(ctx context.Context, afterID int64, sum *Summary) (out []Aggregate, seen int, last int64, err error) {
	ids, err := e.store.UserIDs(ctx, afterID, e.batchSize)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(ids) == 0 {
		return nil, 0, 0, nil
	}

	out = make([]Aggregate, 0, len(ids))
	for _, id := range ids {
		agg, err := e.store.RecalculateUser(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, 0, ctxErr
			}
			e.log.WithError(err).WithField("user_id", id).Error("Ошибка пересчёта пользователя")
			sum.Processed++
			sum.Failed++
			recalculatedCounter.WithLabelValues("failed").Inc()
			continue
		}
		out = append(out, agg)
	}
	return out, len(ids), ids[len(ids)-1], nil
}

func (e *Engine) account(sum *Summary, tierList []tiers.Tier, agg Aggregate) {
	sum.Processed++
	if agg.TierID == nil && len(tierList) > 0 {
		sum.Failed++
		recalculatedCounter.WithLabelValues("failed").Inc()
		e.log.WithFields(log.Fields{
			"user_id": agg.UserID,
			"karma":   agg.KarmaPoints,
		}).Warn("Нет подходящего уровня для кармы пользователя")
		return
	}

	sum.Succeeded++
	recalculatedCounter.WithLabelValues("ok").Inc()
	if change := tierUp(tierList, agg); change != nil {
		sum.TierUps = append(sum.TierUps, *change)
	}
}

// tierUp сообщает о повышении уровня: новый порог строго выше прежнего.
// Первое присвоение уровня с нулевым порогом повышением не считается.
func tierUp(tierList []tiers.Tier, agg Aggregate) *TierChange {
	if agg.TierID == nil {
		return nil
	}
	to, ok := tiers.ByID(tierList, *agg.TierID)
	if !ok {
		return nil
	}

	change := &TierChange{UserID: agg.UserID, KarmaPoints: agg.KarmaPoints, To: to}
	if agg.PrevTierID == nil {
		if to.RequiredScore <= 0 {
			return nil
		}
		return change
	}
	if *agg.PrevTierID == *agg.TierID {
		return nil
	}
	from, ok := tiers.ByID(tierList, *agg.PrevTierID)
	if ok && from.RequiredScore >= to.RequiredScore {
		return nil
	}
	if ok {
		change.From = &from
	}
	return change
}
