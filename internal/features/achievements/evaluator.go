// Package achievements — evaluator.go сравнивает метрики сущности с порогами
// достижений и разблокирует все пересечённые пороги за один проход.
package achievements

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/features/ledger"
)

// Claim — заявка на разблокировку.
type Claim struct {
	UserID        int64
	AchievementID int64
	At            time.Time
	Bonus         *ledger.Entry // nil — бонуса нет
}

// Store — хранилище достижений.
type Store interface {
	// ListRaw возвращает все достижения без проверки условий.
	ListRaw(ctx context.Context) ([]RawAchievement, error)
	// Insert добавляет достижение, если slug ещё не занят. false — уже было.
	Insert(ctx context.Context, a *RawAchievement) (bool, error)
	// Unlock атомарно ставит unlocked_at, если оно ещё не стоит, и в той же
	// транзакции пишет бонус. false — достижение уже было разблокировано,
	// ничего не записано.
	Unlock(ctx context.Context, c Claim) (bool, error)
	// SaveProgress сохраняет прогресс ниже порога. Разблокированную запись не трогает.
	SaveProgress(ctx context.Context, userID, achievementID int64, progress int) error
	// Records возвращает записи пользователя.
	Records(ctx context.Context, userID int64) ([]UnlockRecord, error)
}

// Announcer сообщает пользователю о разблокировке.
type Announcer interface {
	NotifyAchievementUnlocked(ctx context.Context, userID int64, a *Achievement) bool
}

// Evaluator — оценщик достижений.
type Evaluator struct {
	store     Store
	announcer Announcer
	now       func() time.Time
	log       log.FieldLogger

	mu   sync.RWMutex
	list []*Achievement
}

// Option настраивает Evaluator.
type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithLogger(l log.FieldLogger) Option {
	return func(e *Evaluator) { e.log = l }
}

// NewEvaluator создаёт оценщик. announcer может быть nil — тогда уведомления не отправляются.
func NewEvaluator(store Store, announcer Announcer, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     store,
		announcer: announcer,
		now:       time.Now,
		log:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load читает достижения из хранилища и разбирает условия.
// Некорректные записи пропускаются с предупреждением. Возвращает число загруженных.
func (e *Evaluator) Load(ctx context.Context) (int, error) {
	raws, err := e.store.ListRaw(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка загрузки достижений: %w", err)
	}

	list := make([]*Achievement, 0, len(raws))
	for _, raw := range raws {
		a, err := raw.Parse()
		if err != nil {
			skippedCounter.Inc()
			e.log.WithError(err).WithField("slug", raw.Slug).Warn("Достижение пропущено: некорректное условие")
			continue
		}
		list = append(list, a)
	}

	e.mu.Lock()
	e.list = list
	e.mu.Unlock()

	e.log.WithFields(log.Fields{
		"loaded":  len(list),
		"skipped": len(raws) - len(list),
	}).Info("Достижения загружены")
	return len(list), nil
}

// Achievements возвращает загруженные достижения указанных типов (все, если types пуст).
func (e *Evaluator) Achievements(types ...string) []*Achievement {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(types) == 0 {
		return append([]*Achievement(nil), e.list...)
	}
	want := make(map[string]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}
	var out []*Achievement
	for _, a := range e.list {
		if _, ok := want[a.Type]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Evaluate оценивает сущность по загруженным достижениям указанных типов.
func (e *Evaluator) Evaluate(ctx context.Context, snap Snapshot, types ...string) (Result, error) {
	return e.EvaluateAgainst(ctx, snap, e.Achievements(types...))
}

// EvaluateAgainst оценивает сущность по явному списку достижений.
//
// Каждое достижение проверяется независимо: пересечение сразу нескольких
// порогов разблокирует все. Повторная оценка с той же метрикой ничего не делает.
// Ошибка хранилища по одному достижению не прерывает остальные.
func (e *Evaluator) EvaluateAgainst(ctx context.Context, snap Snapshot, list []*Achievement) (Result, error) {
	var res Result

	userID := snap.Entity.Recipient()
	if userID <= 0 {
		return res, common.Validation("entity", "у сущности %s/%d нет пользователя-получателя", snap.Entity.Kind, snap.Entity.ID)
	}

	entry := e.log.WithFields(log.Fields{
		"entity":    snap.Entity.Kind,
		"entity_id": snap.Entity.ID,
		"user_id":   userID,
	})

	for _, a := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !a.Requirement.AppliesTo(snap.Entity.Kind) {
			continue
		}
		value, ok := snap.Metrics[a.Requirement.MetricKey()]
		if !ok {
			continue
		}

		if value < a.Requirement.Threshold {
			progress := a.Requirement.Progress(value)
			if progress == 0 {
				continue
			}
			if err := e.store.SaveProgress(ctx, userID, a.ID, progress); err != nil {
				res.Failed++
				entry.WithError(err).WithField("slug", a.Slug).Error("Ошибка сохранения прогресса")
				continue
			}
			res.Progressed++
			continue
		}

		unlock, claimed, err := e.unlock(ctx, userID, a)
		if err != nil {
			res.Failed++
			entry.WithError(err).WithField("slug", a.Slug).Error("Ошибка разблокировки достижения")
			continue
		}
		if !claimed {
			continue
		}
		res.Unlocked = append(res.Unlocked, unlock)
	}

	return res, nil
}

func (e *Evaluator) unlock(ctx context.Context, userID int64, a *Achievement) (Unlock, bool, error) {
	at := e.now()
	claim := Claim{UserID: userID, AchievementID: a.ID, At: at}
	if a.KarmaBonus != 0 {
		claim.Bonus = &ledger.Entry{
			UserID:      userID,
			Amount:      a.KarmaBonus,
			Source:      ledger.SourceAchievement,
			Description: "Достижение: " + a.Name,
		}
	}

	claimed, err := e.store.Unlock(ctx, claim)
	if err != nil || !claimed {
		return Unlock{}, false, err
	}

	unlockedCounter.WithLabelValues(a.Type).Inc()
	e.log.WithFields(log.Fields{
		"user_id": userID,
		"slug":    a.Slug,
		"bonus":   a.KarmaBonus,
	}).Info("Достижение разблокировано")

	u := Unlock{UserID: userID, Achievement: a, UnlockedAt: at}
	if e.announcer != nil {
		u.Notified = e.announcer.NotifyAchievementUnlocked(ctx, userID, a)
	}
	return u, true, nil
}
