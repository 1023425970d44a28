// Package memory — хранилище в памяти с теми же контрактами, что и PostgreSQL:
// атомарная разблокировка по (user, achievement), пересчёт порциями,
// выборка аудитории через сигналы активности.
// Используется в тестах.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/features/achievements"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/ledger"
	"serotonyl.ru/reputation/internal/features/notify"
	"serotonyl.ru/reputation/internal/features/streak"
	"serotonyl.ru/reputation/internal/features/tiers"
	"serotonyl.ru/reputation/internal/features/users"
)

type recordKey struct {
	userID        int64
	achievementID int64
}

type journalEntry struct {
	userID int64
	kind   notify.Kind
	at     time.Time
}

// Store — общее состояние. Методы сгруппированы по видам (Users, Ledger, ...),
// потому что разные пакеты ждут одноимённые методы с разными сигнатурами.
// Безопасно для конкурентного использования.
type Store struct {
	mu sync.Mutex

	lastUserID  int64
	lastTierID  int64
	lastEntryID int64
	lastAchID   int64

	users        map[int64]*users.User
	tiers        map[int64]*tiers.Tier
	entries      []*ledger.Entry
	events       map[uuid.UUID]*events.KarmaEvent
	achievements []*achievements.RawAchievement
	records      map[recordKey]*achievements.UnlockRecord
	signals      map[int64]*streak.Signal
	journal      map[string]journalEntry
	failing      map[int64]error

	now func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		users:   make(map[int64]*users.User),
		tiers:   make(map[int64]*tiers.Tier),
		events:  make(map[uuid.UUID]*events.KarmaEvent),
		records: make(map[recordKey]*achievements.UnlockRecord),
		signals: make(map[int64]*streak.Signal),
		journal: make(map[string]journalEntry),
		failing: make(map[int64]error),
		now:     time.Now,
	}
}

// SetClock задаёт часы для полей created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailUser заставляет пересчёт пользователя завершаться ошибкой err
// (порция с этим пользователем тоже падает целиком, как оператор в БД).
// err == nil снимает сбой.
func (s *Store) FailUser(userID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, userID)
		return
	}
	s.failing[userID] = err
}

// Users возвращает репозиторий пользователей.
func (s *Store) Users() *Users { return &Users{s} }

// Tiers возвращает репозиторий уровней.
func (s *Store) Tiers() *Tiers { return &Tiers{s} }

// Ledger возвращает журнал и агрегаты (ledger.Store и ledger.AggregateStore).
func (s *Store) Ledger() *Ledger { return &Ledger{s} }

// Events возвращает хранилище событий.
func (s *Store) Events() *Events { return &Events{s} }

// Achievements возвращает хранилище достижений.
func (s *Store) Achievements() *Achievements { return &Achievements{s} }

// Signals возвращает хранилище сигналов активности.
func (s *Store) Signals() *Signals { return &Signals{s} }

// Notifications возвращает аудиторию и журнал уведомлений.
func (s *Store) Notifications() *Notifications { return &Notifications{s} }

// ---------------------------------------------------------------------------
// Пользователи
// ---------------------------------------------------------------------------

type Users struct{ s *Store }

// Create добавляет пользователя или обновляет контакты по username.
func (r *Users) Create(_ context.Context, u *users.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			existing.Email = u.Email
			existing.EmailVerifiedAt = u.EmailVerifiedAt
			existing.TelegramChatID = u.TelegramChatID
			existing.UpdatedAt = now
			*u = *existing
			return nil
		}
	}

	s.lastUserID++
	stored := *u
	stored.ID = s.lastUserID
	stored.KarmaPoints = 0
	stored.TierID = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.users[stored.ID] = &stored
	*u = stored
	return nil
}

// GetByID возвращает копию пользователя.
func (r *Users) GetByID(_ context.Context, id int64) (*users.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user_id=%d: %w", id, common.ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

// VerifyEmail отмечает почту подтверждённой.
func (r *Users) VerifyEmail(_ context.Context, id int64, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user_id=%d: %w", id, common.ErrUserNotFound)
	}
	if u.EmailVerifiedAt == nil {
		t := at
		u.EmailVerifiedAt = &t
	}
	return nil
}

// ---------------------------------------------------------------------------
// Уровни
// ---------------------------------------------------------------------------

type Tiers struct{ s *Store }

// List возвращает уровни по возрастанию порога.
func (r *Tiers) List(_ context.Context) ([]tiers.Tier, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tierListLocked(), nil
}

// Upsert создаёт уровень или обновляет порог по имени.
func (r *Tiers) Upsert(_ context.Context, t *tiers.Tier) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tiers {
		if existing.Name == t.Name {
			existing.RequiredScore = t.RequiredScore
			*t = *existing
			return nil
		}
	}
	s.lastTierID++
	stored := *t
	stored.ID = s.lastTierID
	stored.CreatedAt = s.now()
	s.tiers[stored.ID] = &stored
	*t = stored
	return nil
}

func (s *Store) tierListLocked() []tiers.Tier {
	out := make([]tiers.Tier, 0, len(s.tiers))
	for _, t := range s.tiers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequiredScore != out[j].RequiredScore {
			return out[i].RequiredScore < out[j].RequiredScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ---------------------------------------------------------------------------
// Журнал и агрегаты
// ---------------------------------------------------------------------------

type Ledger struct{ s *Store }

// Append добавляет запись.
func (r *Ledger) Append(_ context.Context, e *ledger.Entry) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e)
}

func (s *Store) appendLocked(e *ledger.Entry) error {
	if _, ok := s.users[e.UserID]; !ok {
		return fmt.Errorf("user_id=%d: %w", e.UserID, common.ErrUserNotFound)
	}
	s.lastEntryID++
	e.ID = s.lastEntryID
	e.CreatedAt = s.now()
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

// AddKarma сдвигает karma_points.
func (r *Ledger) AddKarma(_ context.Context, userID, delta int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
	}
	u.KarmaPoints += delta
	return nil
}

// History возвращает последние записи пользователя, новые первыми.
func (r *Ledger) History(_ context.Context, userID int64, limit int) ([]*ledger.Entry, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ledger.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].UserID == userID {
			cp := *s.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Entries возвращает все записи пользователя в порядке добавления.
func (r *Ledger) Entries(userID int64) []ledger.Entry {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out
}

// RecalculateChunk пересчитывает порцию под одной блокировкой.
func (r *Ledger) RecalculateChunk(_ context.Context, afterID int64, limit int) ([]ledger.Aggregate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.userIDsLocked(afterID, limit)
	for _, id := range ids {
		if err := s.failing[id]; err != nil {
			return nil, fmt.Errorf("порция после user_id=%d: %w", afterID, err)
		}
	}

	tierList := s.tierListLocked()
	out := make([]ledger.Aggregate, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.recalculateLocked(id, tierList))
	}
	return out, nil
}

// RecalculateUser пересчитывает одного пользователя.
func (r *Ledger) RecalculateUser(_ context.Context, userID int64) (ledger.Aggregate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ledger.Aggregate{}, fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
	}
	if err := s.failing[userID]; err != nil {
		return ledger.Aggregate{}, err
	}
	return s.recalculateLocked(userID, s.tierListLocked()), nil
}

// UserIDs возвращает id пользователей после afterID.
func (r *Ledger) UserIDs(_ context.Context, afterID int64, limit int) ([]int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userIDsLocked(afterID, limit), nil
}

func (s *Store) userIDsLocked(afterID int64, limit int) []int64 {
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (s *Store) recalculateLocked(userID int64, tierList []tiers.Tier) ledger.Aggregate {
	var total int64
	for _, e := range s.entries {
		if e.UserID == userID {
			total += e.Amount
		}
	}

	u := s.users[userID]
	agg := ledger.Aggregate{UserID: userID, KarmaPoints: total, PrevTierID: u.TierID}

	u.KarmaPoints = total
	u.TierID = nil
	if t, ok := tiers.Resolve(tierList, total); ok {
		id := t.ID
		u.TierID = &id
	}
	u.UpdatedAt = s.now()
	agg.TierID = u.TierID
	return agg
}

// ---------------------------------------------------------------------------
// События
// ---------------------------------------------------------------------------

type Events struct{ s *Store }

// Create сохраняет событие.
func (r *Events) Create(_ context.Context, e *events.KarmaEvent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("событие %s уже существует", e.ID)
	}
	e.CreatedAt = s.now()
	e.IsActive = false
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

// GetByID возвращает событие.
func (r *Events) GetByID(_ context.Context, id uuid.UUID) (*events.KarmaEvent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("событие %s: %w", id, common.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// ListActiveAt — события с start_at <= t < end_at.
func (r *Events) ListActiveAt(_ context.Context, t time.Time) ([]*events.KarmaEvent, error) {
	return r.filter(func(e *events.KarmaEvent) bool { return e.ActiveAt(t) }), nil
}

// ListStartingIn — события с start_at в (from, to].
func (r *Events) ListStartingIn(_ context.Context, from, to time.Time) ([]*events.KarmaEvent, error) {
	return r.filter(func(e *events.KarmaEvent) bool {
		return e.StartAt.After(from) && !e.StartAt.After(to)
	}), nil
}

// SyncActiveFlags обновляет кеш флага и возвращает изменившиеся события.
func (r *Events) SyncActiveFlags(_ context.Context, t time.Time) ([]*events.KarmaEvent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []*events.KarmaEvent
	for _, e := range s.events {
		active := e.ActiveAt(t)
		if e.IsActive == active {
			continue
		}
		e.IsActive = active
		cp := *e
		changed = append(changed, &cp)
	}
	sortEvents(changed)
	return changed, nil
}

func (r *Events) filter(keep func(*events.KarmaEvent) bool) []*events.KarmaEvent {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*events.KarmaEvent
	for _, e := range s.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEvents(out)
	return out
}

func sortEvents(list []*events.KarmaEvent) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartAt.Equal(list[j].StartAt) {
			return list[i].StartAt.Before(list[j].StartAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

// ---------------------------------------------------------------------------
// Достижения
// ---------------------------------------------------------------------------

type Achievements struct{ s *Store }

// ListRaw возвращает достижения по id.
func (r *Achievements) ListRaw(_ context.Context) ([]achievements.RawAchievement, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]achievements.RawAchievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		out = append(out, *a)
	}
	return out, nil
}

// Insert добавляет достижение, если slug свободен.
func (r *Achievements) Insert(_ context.Context, a *achievements.RawAchievement) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.achievements {
		if existing.Slug == a.Slug {
			return false, nil
		}
	}
	s.lastAchID++
	a.ID = s.lastAchID
	cp := *a
	s.achievements = append(s.achievements, &cp)
	return true, nil
}

// Unlock — проверка и запись под одной блокировкой, бонус вместе с разблокировкой.
func (r *Achievements) Unlock(_ context.Context, c achievements.Claim) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{c.UserID, c.AchievementID}
	rec := s.records[key]
	if rec.Unlocked() {
		return false, nil
	}
	if _, ok := s.users[c.UserID]; !ok {
		return false, fmt.Errorf("user_id=%d: %w", c.UserID, common.ErrUserNotFound)
	}

	if c.Bonus != nil {
		if err := s.appendLocked(c.Bonus); err != nil {
			return false, err
		}
		s.users[c.UserID].KarmaPoints += c.Bonus.Amount
	}

	at := c.At
	if rec == nil {
		rec = &achievements.UnlockRecord{UserID: c.UserID, AchievementID: c.AchievementID}
		s.records[key] = rec
	}
	rec.Progress = 100
	rec.UnlockedAt = &at
	return true, nil
}

// SaveProgress обновляет прогресс незаблокированной записи.
func (r *Achievements) SaveProgress(_ context.Context, userID, achievementID int64, progress int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{userID, achievementID}
	rec := s.records[key]
	if rec.Unlocked() {
		return nil
	}
	if rec == nil {
		rec = &achievements.UnlockRecord{UserID: userID, AchievementID: achievementID}
		s.records[key] = rec
	}
	rec.Progress = progress
	return nil
}

// Records возвращает записи пользователя по achievement_id.
func (r *Achievements) Records(_ context.Context, userID int64) ([]achievements.UnlockRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []achievements.UnlockRecord
	for key, rec := range s.records {
		if key.userID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Сигналы активности
// ---------------------------------------------------------------------------

type Signals struct{ s *Store }

// Record применяет streak.Next к сохранённому сигналу.
func (r *Signals) Record(_ context.Context, userID int64, day time.Time) (*streak.Signal, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
	}
	next := streak.Next(s.signals[userID], userID, day)
	next.UpdatedAt = s.now()
	s.signals[userID] = &next
	cp := next
	return &cp, nil
}

// Get возвращает сигнал пользователя.
func (r *Signals) Get(_ context.Context, userID int64) (*streak.Signal, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[userID]
	if !ok {
		return nil, fmt.Errorf("активность user_id=%d: %w", userID, common.ErrNotFound)
	}
	cp := *sig
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Аудитория и журнал уведомлений
// ---------------------------------------------------------------------------

type Notifications struct{ s *Store }

// ActiveVerified — пользователи с подтверждённой почтой и активностью не раньше since.
func (r *Notifications) ActiveVerified(_ context.Context, since time.Time, afterID int64, limit int) ([]notify.Recipient, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.userIDsLocked(afterID, len(s.users))
	var out []notify.Recipient
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		u := s.users[id]
		if !u.IsVerified() {
			continue
		}
		sig, ok := s.signals[id]
		if !ok || sig.LastActivityDate.Before(since) {
			continue
		}
		out = append(out, recipientOf(u))
	}
	return out, nil
}

// Recipient — адреса пользователя.
func (r *Notifications) Recipient(_ context.Context, userID int64) (*notify.Recipient, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrUserNotFound)
	}
	rc := recipientOf(u)
	return &rc, nil
}

// Reserve записывает ключ, если его ещё нет.
func (r *Notifications) Reserve(_ context.Context, key string, userID int64, kind notify.Kind, at time.Time) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.journal[key]; ok {
		return false, nil
	}
	s.journal[key] = journalEntry{userID: userID, kind: kind, at: at}
	return true, nil
}

// Known отмечает ключи, которые уже есть в журнале.
func (r *Notifications) Known(_ context.Context, keys []string) (map[string]bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := s.journal[k]; ok {
			out[k] = true
		}
	}
	return out, nil
}

// Reserved возвращает число записей журнала.
func (r *Notifications) Reserved() int {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal)
}

func recipientOf(u *users.User) notify.Recipient {
	rc := notify.Recipient{UserID: u.ID, Username: u.Username, Email: u.Email}
	if u.TelegramChatID != nil {
		id := *u.TelegramChatID
		rc.TelegramChatID = &id
	}
	return rc
}
