// Package notify — notifier.go выбирает аудиторию и рассылает уведомления.
// Все операции fire-and-forget: изменение состояния, вызвавшее уведомление,
// уже зафиксировано и не откатывается при ошибке доставки.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/bot/middleware"
	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/features/achievements"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/tiers"
)

// Значения по умолчанию
const (
	DefaultLimit       = 1000
	DefaultRecencyDays = 7
	DefaultBatchSize   = 200
	DefaultMaxInflight = 16
)

// Options — параметры таргетинга и рассылки.
type Options struct {
	DefaultLimit int            // сколько получателей анонса события, если limit не задан
	RecencyDays  int            // окно активности в календарных днях, включительно
	BatchSize    int            // размер страницы выборки аудитории
	MaxInflight  int            // параллельных отправок
	Location     *time.Location // часовой пояс календарных дней
}

func (o *Options) normalize() {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = DefaultLimit
	}
	if o.RecencyDays <= 0 {
		o.RecencyDays = DefaultRecencyDays
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxInflight <= 0 {
		o.MaxInflight = DefaultMaxInflight
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
}

// Notifier — таргетинг и рассылка.
type Notifier struct {
	audience   Audience
	journal    Journal
	dispatcher Dispatcher
	opts       Options
	now        func() time.Time
	log        log.FieldLogger
}

// Option настраивает Notifier.
type Option func(*Notifier)

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func WithLogger(l log.FieldLogger) Option {
	return func(n *Notifier) { n.log = l }
}

// NewNotifier создаёт рассыльщик.
func NewNotifier(audience Audience, journal Journal, dispatcher Dispatcher, opts Options, options ...Option) *Notifier {
	opts.normalize()
	n := &Notifier{
		audience:   audience,
		journal:    journal,
		dispatcher: dispatcher,
		opts:       opts,
		now:        time.Now,
		log:        log.StandardLogger(),
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Since — первый календарный день, активность в который ещё засчитывается.
// При RecencyDays = 7 и сегодня 15-м числом это 8-е: активный 6 дней назад
// попадает в выборку, 8 дней назад — нет, ровно 7 дней назад — попадает.
func (n *Notifier) Since(now time.Time) time.Time {
	return common.DateIn(now, n.opts.Location).AddDate(0, 0, -n.opts.RecencyDays)
}

// SelectAudience возвращает первых limit получателей по возрастанию id,
// которым уведомление kind со ссылкой ref ещё не отправлялось.
// Выборка идёт страницами, чтобы не держать всю аудиторию в памяти.
func (n *Notifier) SelectAudience(ctx context.Context, now time.Time, limit int, kind Kind, ref string) ([]Recipient, error) {
	since := n.Since(now)
	out := make([]Recipient, 0, min(limit, n.opts.BatchSize))

	var after int64
	for len(out) < limit {
		batch, err := n.audience.ActiveVerified(ctx, since, after, n.opts.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("ошибка выборки аудитории: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		keys := make([]string, len(batch))
		for i, rc := range batch {
			keys[i] = DedupeKey(kind, ref, rc.UserID)
		}
		known, err := n.journal.Known(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения журнала уведомлений: %w", err)
		}
		for i, rc := range batch {
			if known[keys[i]] {
				continue
			}
			out = append(out, rc)
			if len(out) == limit {
				break
			}
		}

		if len(batch) < n.opts.BatchSize {
			break
		}
		after = batch[len(batch)-1].UserID
	}
	return out, nil
}

// NotifyUpcomingEvent анонсирует событие активной аудитории с подтверждённой почтой.
// limit <= 0 — значение по умолчанию. Возвращает число фактически отправленных.
// Пользователь, которому это событие уже анонсировали, пропускается.
func (n *Notifier) NotifyUpcomingEvent(ctx context.Context, e *events.KarmaEvent, limit int) (int, error) {
	if limit <= 0 {
		limit = n.opts.DefaultLimit
	}
	now := n.now()

	payload := n.eventPayload(e)
	recipients, err := n.SelectAudience(ctx, now, limit, KindUpcomingEvent, payload.Reference)
	if err != nil {
		return 0, err
	}

	sent := n.broadcast(ctx, recipients, KindUpcomingEvent, payload, now)

	n.log.WithFields(log.Fields{
		"event_id":   e.ID,
		"type":       e.Type,
		"candidates": len(recipients),
		"sent":       sent,
	}).Info("Анонс события разослан")

	return sent, nil
}

// broadcast рассылает уведомление параллельно, не более MaxInflight одновременно.
// Ошибка или паника одного получателя не влияет на остальных.
func (n *Notifier) broadcast(ctx context.Context, recipients []Recipient, kind Kind, p Payload, now time.Time) int {
	var (
		sent     atomic.Int64
		wg       sync.WaitGroup
		inflight = make(chan struct{}, n.opts.MaxInflight)
	)

	for _, r := range recipients {
		select {
		case inflight <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return int(sent.Load())
		}

		wg.Add(1)
		go func(r Recipient) {
			defer wg.Done()
			defer func() { <-inflight }()
			defer middleware.RecoverFromPanic()

			if n.deliver(ctx, r, kind, p, now) {
				sent.Add(1)
			}
		}(r)
	}

	wg.Wait()
	return int(sent.Load())
}

// deliver резервирует ключ в журнале и отправляет. Резерв не снимается
// при ошибке доставки: повтор — забота внешнего слоя.
func (n *Notifier) deliver(ctx context.Context, r Recipient, kind Kind, p Payload, now time.Time) bool {
	entry := n.log.WithFields(log.Fields{
		"user_id": r.UserID,
		"kind":    kind,
		"ref":     p.Reference,
	})

	fresh, err := n.journal.Reserve(ctx, DedupeKey(kind, p.Reference, r.UserID), r.UserID, kind, now)
	if err != nil {
		entry.WithError(err).Error("Ошибка журнала уведомлений")
		sentCounter.WithLabelValues(string(kind), "failed").Inc()
		return false
	}
	if !fresh {
		sentCounter.WithLabelValues(string(kind), "duplicate").Inc()
		entry.Debug("Уведомление уже отправлялось")
		return false
	}

	if err := n.dispatcher.Send(ctx, r, kind, p); err != nil {
		sentCounter.WithLabelValues(string(kind), "failed").Inc()
		entry.WithError(err).Warn("Уведомление не доставлено")
		return false
	}
	sentCounter.WithLabelValues(string(kind), "sent").Inc()
	return true
}

// NotifyAchievementUnlocked отправляет пользователю ровно одно уведомление
// о разблокировке. false — не отправлено (ошибка или уже было).
func (n *Notifier) NotifyAchievementUnlocked(ctx context.Context, userID int64, a *achievements.Achievement) bool {
	r, err := n.audience.Recipient(ctx, userID)
	if err != nil {
		sentCounter.WithLabelValues(string(KindAchievementUnlocked), "failed").Inc()
		entry := n.log.WithError(err).WithField("user_id", userID)
		if errors.Is(err, common.ErrUserNotFound) {
			entry.Warn("Получатель уведомления о достижении не найден")
		} else {
			entry.Error("Ошибка получения адресов пользователя")
		}
		return false
	}

	text := fmt.Sprintf("Вы получили достижение «%s»", a.Name)
	if a.KarmaBonus > 0 {
		text += " и " + common.FormatSignedPoints(a.KarmaBonus)
	}
	if a.Description != "" {
		text += "\n\n" + a.Description
	}

	p := Payload{
		Title:     "Новое достижение",
		Text:      text,
		Reference: a.Slug,
		Data: map[string]string{
			"slug":  a.Slug,
			"type":  a.Type,
			"bonus": fmt.Sprintf("%d", a.KarmaBonus),
		},
	}
	return n.deliver(ctx, *r, KindAchievementUnlocked, p, n.now())
}

// NotifyTierUp пишет аудиторскую запись о повышении уровня:
// ровно одна запись Info с user_id, tier_id и названием уровня.
func (n *Notifier) NotifyTierUp(ctx context.Context, userID int64, tier tiers.Tier) bool {
	if userID <= 0 || tier.Name == "" {
		n.log.WithFields(log.Fields{
			"user_id": userID,
			"tier_id": tier.ID,
		}).Warn("Некорректное повышение уровня, запись не сделана")
		return false
	}

	n.log.WithFields(log.Fields{
		"user_id": userID,
		"tier_id": tier.ID,
		"tier":    tier.Name,
	}).Info("Пользователь получил новый уровень")
	sentCounter.WithLabelValues(string(KindTierUp), "sent").Inc()
	return true
}

func (n *Notifier) eventPayload(e *events.KarmaEvent) Payload {
	hours := int64(e.Duration() / time.Hour)
	text := fmt.Sprintf("%s начнётся %s и продлится %s. Вся карма ×%s.",
		e.Name,
		common.FormatDateTime(e.StartAt, n.opts.Location),
		common.FormatHours(hours),
		e.Multiplier.String(),
	)
	if e.Description != "" {
		text += "\n\n" + e.Description
	}
	return Payload{
		Title:     "Скоро: " + e.Name,
		Text:      text,
		Reference: e.ID.String(),
		Data: map[string]string{
			"event_id":   e.ID.String(),
			"type":       e.Type,
			"multiplier": e.Multiplier.String(),
			"start_at":   e.StartAt.UTC().Format(time.RFC3339),
			"end_at":     e.EndAt.UTC().Format(time.RFC3339),
		},
	}
}
