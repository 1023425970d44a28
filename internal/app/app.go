// Package app инициализирует все компоненты движка репутации.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы,
// канал доставки уведомлений и задачи. Его используют и демон, и karmactl.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/bot"
	"serotonyl.ru/reputation/internal/catalog"
	"serotonyl.ru/reputation/internal/config"
	"serotonyl.ru/reputation/internal/db/postgres"
	"serotonyl.ru/reputation/internal/features/achievements"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/ledger"
	"serotonyl.ru/reputation/internal/features/notify"
	"serotonyl.ru/reputation/internal/features/streak"
	"serotonyl.ru/reputation/internal/features/tiers"
	"serotonyl.ru/reputation/internal/features/users"
	"serotonyl.ru/reputation/internal/jobs"
	"serotonyl.ru/reputation/internal/kafkasink"
)

// App содержит все компоненты приложения.
type App struct {
	DB        *pgxpool.Pool
	Users     *users.Repository
	Events    *events.Service
	Ledger    *ledger.Service
	Engine    *ledger.Engine
	Streak    *streak.Service
	Notifier  *notify.Notifier
	Evaluator *achievements.Evaluator
	Tasks     *jobs.Tasks
	Scheduler *jobs.Scheduler

	closers []func()
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config, logger log.FieldLogger) (*App, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	loc := cfg.Location()

	// === 1. Каталог ===
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	// === 2. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	a := &App{DB: pool}
	a.closers = append(a.closers, pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 3. Репозитории ===
	userRepo := users.NewRepository(pool)
	tierRepo := tiers.NewRepository(pool)
	eventRepo := events.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	achievementRepo := achievements.NewRepository(pool)
	streakRepo := streak.NewRepository(pool)
	notifyRepo := notify.NewRepository(pool)

	if _, err := cat.Sync(ctx, tierRepo, achievementRepo, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка синхронизации каталога: %w", err)
	}

	// === 4. Доставка уведомлений ===
	dispatcher, err := a.dispatcher(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// === 5. Сервисы ===
	a.Users = userRepo
	a.Events = events.NewService(eventRepo,
		events.WithTypes(cat.EventDefaults()),
		events.WithLogger(logger),
	)
	a.Ledger = ledger.NewService(ledgerRepo, a.Events, ledger.WithLogger(logger))
	a.Engine = ledger.NewEngine(ledgerRepo, tierRepo,
		ledger.WithBatchSize(cfg.RecalcBatchSize),
		ledger.WithEngineLogger(logger),
	)
	a.Streak = streak.NewService(streakRepo, loc, logger)
	a.Notifier = notify.NewNotifier(notifyRepo, notifyRepo, dispatcher, notify.Options{
		DefaultLimit: cfg.NotifyDefaultLimit,
		RecencyDays:  cfg.AudienceRecencyDays,
		BatchSize:    cfg.AudienceBatchSize,
		MaxInflight:  cfg.NotifyMaxInflight,
		Location:     loc,
	}, notify.WithLogger(logger))
	a.Evaluator = achievements.NewEvaluator(achievementRepo, a.Notifier, achievements.WithLogger(logger))

	if _, err := a.Evaluator.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}

	// === 6. Задачи и планировщик ===
	a.Tasks = jobs.NewTasks(a.Events, a.Engine, a.Notifier, a.Evaluator, logger)
	a.Scheduler = jobs.NewScheduler(a.Tasks, jobs.Schedule{
		Sweep:          cfg.CronSweep,
		Recalc:         cfg.CronRecalc,
		Notify:         cfg.CronNotify,
		LookaheadHours: cfg.NotifyLookaheadHours,
		NotifyLimit:    cfg.NotifyDefaultLimit,
	}, loc, logger)

	return a, nil
}

func (a *App) dispatcher(cfg *config.Config, logger log.FieldLogger) (notify.Dispatcher, error) {
	switch cfg.NotifySink {
	case config.SinkTelegram:
		api, err := bot.NewBot(cfg.TelegramBotToken, cfg.AppEnv == "development")
		if err != nil {
			return nil, err
		}
		sender := bot.NewSender(api, cfg.TelegramSendLimit, cfg.TelegramSendWindow, logger)
		a.closers = append(a.closers, sender.Close)
		return sender, nil

	case config.SinkKafka:
		sink := kafkasink.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		a.closers = append(a.closers, func() {
			if err := sink.Close(); err != nil {
				logger.WithError(err).Warn("Ошибка закрытия Kafka writer")
			}
		})
		return sink, nil

	default:
		return notify.NewLogDispatcher(logger), nil
	}
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
