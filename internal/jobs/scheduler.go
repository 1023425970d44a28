package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/bot/middleware"
)

// Schedule — cron-выражения периодических проходов.
type Schedule struct {
	Sweep  string // обновление кеша is_active
	Recalc string // полный пересчёт кармы и уровней
	Notify string // анонсы предстоящих событий

	LookaheadHours int
	NotifyLimit    int
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	tasks    *Tasks
	schedule Schedule
	loc      *time.Location
	log      log.FieldLogger
}

// NewScheduler создаёт планировщик в часовом поясе loc.
// Запуск задачи пропускается, если предыдущий ещё идёт.
func NewScheduler(tasks *Tasks, schedule Schedule, loc *time.Location, logger log.FieldLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{cron: c, tasks: tasks, schedule: schedule, loc: loc, log: logger}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"sweep", s.schedule.Sweep, func(ctx context.Context) error {
			_, err := s.tasks.SweepEvents(ctx)
			return err
		}},
		{"recalc", s.schedule.Recalc, func(ctx context.Context) error {
			_, err := s.tasks.RecalculateAll(ctx)
			return err
		}},
		{"notify", s.schedule.Notify, func(ctx context.Context) error {
			_, err := s.tasks.NotifyUpcomingEvents(ctx, s.schedule.LookaheadHours, s.schedule.NotifyLimit)
			return err
		}},
	}

	for _, j := range jobs {
		if j.spec == "" {
			s.log.WithField("job", j.name).Warn("[CRON] Задача отключена: пустое расписание")
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(ctx, j.name, j.run)); err != nil {
			return fmt.Errorf("некорректное расписание %s %q: %w", j.name, j.spec, err)
		}
	}

	s.cron.Start()
	s.log.WithField("timezone", s.loc.String()).Info("Планировщик задач запущен")
	return nil
}

func (s *Scheduler) wrap(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		defer middleware.RecoverFromPanic()

		if ctx.Err() != nil {
			return
		}
		entry := s.log.WithField("job", name)
		entry.Debug("[CRON] Запуск задачи")
		if err := run(ctx); err != nil {
			entry.WithError(err).Error("[CRON] Ошибка задачи")
		}
	}
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Планировщик задач остановлен")
}
