package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"serotonyl.ru/reputation/internal/app"
	"serotonyl.ru/reputation/internal/config"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/ledger"
)

func scheduleEventCmd() *cobra.Command {
	var (
		eventType   string
		start       string
		hours       int
		multiplier  string
		description string
	)
	cmd := &cobra.Command{
		Use:   "schedule-event",
		Short: "Запланировать событие кармы",
		Example: `  karmactl schedule-event --type tide --start "2026-11-01 18:00" --hours 24
  karmactl schedule-event --type boost --start 2026-11-01T15:00:00Z --hours 12 --multiplier 3 --description "Ночной буст"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, cfg *config.Config) error {
				params, err := scheduleParams(eventType, start, hours, multiplier, cmd.Flags().Changed("description"), description, cfg.Location())
				if err != nil {
					return err
				}
				e, err := a.Tasks.ScheduleEvent(ctx, params)
				if err != nil {
					return err
				}
				fmt.Printf("Событие %s запланировано\n", e.ID)
				printEvent(e, cfg.Location())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "тип события (tide, boost, ...)")
	cmd.Flags().StringVar(&start, "start", "", "начало: RFC3339 или \"2006-01-02 15:04\" в APP_TIMEZONE")
	cmd.Flags().IntVar(&hours, "hours", 0, "длительность в часах")
	cmd.Flags().StringVar(&multiplier, "multiplier", "", "множитель; пусто — по типу события")
	cmd.Flags().StringVar(&description, "description", "", "описание; не указано — по типу события")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func recalculateAllCmd() *cobra.Command {
	var from int64
	cmd := &cobra.Command{
		Use:   "recalculate-all",
		Short: "Пересчитать карму и уровни всех пользователей из журнала",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *config.Config) error {
				var (
					sum ledger.Summary
					err error
				)
				if from > 0 {
					sum, err = a.Engine.RecalculateFrom(ctx, from)
					for _, up := range sum.TierUps {
						a.Notifier.NotifyTierUp(ctx, up.UserID, up.To)
					}
				} else {
					sum, err = a.Tasks.RecalculateAll(ctx)
				}
				fmt.Printf("Обработано: %d, успешно: %d, ошибок: %d, повышений уровня: %d, за %s\n",
					sum.Processed, sum.Succeeded, sum.Failed, len(sum.TierUps), sum.Duration.Round(time.Millisecond))
				if err != nil {
					return fmt.Errorf("пересчёт прерван, продолжить: --from %d: %w", sum.LastUserID, err)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "продолжить с пользователей с id > from")
	return cmd
}

func notifyUpcomingCmd() *cobra.Command {
	var lookahead, limit int
	cmd := &cobra.Command{
		Use:   "notify-upcoming-events",
		Short: "Анонсировать события, которые скоро начнутся",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, cfg *config.Config) error {
				if !cmd.Flags().Changed("lookahead") {
					lookahead = cfg.NotifyLookaheadHours
				}
				sent, err := a.Tasks.NotifyUpcomingEvents(ctx, lookahead, limit)
				if err != nil {
					return err
				}
				fmt.Printf("Отправлено уведомлений: %d\n", sent)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&lookahead, "lookahead", 24, "окно в часах (по умолчанию NOTIFY_LOOKAHEAD_HOURS)")
	cmd.Flags().IntVar(&limit, "limit", 0, "получателей на событие; 0 — NOTIFY_DEFAULT_LIMIT")
	return cmd
}

func evaluateAchievementsCmd() *cobra.Command {
	var (
		entity  string
		id      int64
		owner   int64
		metrics map[string]int64
		types   []string
	)
	cmd := &cobra.Command{
		Use:     "evaluate-achievements",
		Short:   "Проверить достижения по снимку метрик",
		Example: `  karmactl evaluate-achievements --entity sub --id 42 --owner 7 --metric members_count=50 --metric posts_count=12`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := snapshot(entity, id, owner, metrics)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App, _ *config.Config) error {
				res, err := a.Tasks.EvaluateAchievements(ctx, snap, types...)
				if err != nil {
					return err
				}
				for _, u := range res.Unlocked {
					fmt.Printf("Разблокировано: %s (+%d) для user_id=%d\n", u.Achievement.Slug, u.Achievement.KarmaBonus, u.UserID)
				}
				fmt.Printf("Разблокировано: %d, прогресс обновлён: %d, ошибок: %d\n", len(res.Unlocked), res.Progressed, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "sub", "сущность: sub или user")
	cmd.Flags().Int64Var(&id, "id", 0, "id сущности")
	cmd.Flags().Int64Var(&owner, "owner", 0, "создатель сообщества (для --entity sub)")
	cmd.Flags().StringToInt64Var(&metrics, "metric", nil, "метрика key=value, можно несколько раз")
	cmd.Flags().StringSliceVar(&types, "type", nil, "проверять только достижения этих типов")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func sweepEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-events",
		Short: "Обновить флаги активности событий",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *config.Config) error {
				res, err := a.Tasks.SweepEvents(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Началось: %d, закончилось: %d\n", len(res.Activated), len(res.Deactivated))
				return nil
			})
		},
	}
}

func awardCmd() *cobra.Command {
	var (
		userID      int64
		amount      int64
		source      string
		description string
		raw         bool
	)
	cmd := &cobra.Command{
		Use:   "award",
		Short: "Начислить карму пользователю",
		Long: `Начисляет карму с учётом активных событий. С --raw записывает сумму как есть
(корректировки администратора, штрафы).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *config.Config) error {
				var (
					e   *ledger.Entry
					err error
				)
				if raw {
					e, err = a.Ledger.Append(ctx, userID, amount, ledger.Source(source), description)
				} else {
					e, err = a.Ledger.Award(ctx, userID, amount, ledger.Source(source), description)
				}
				if err != nil {
					return err
				}
				fmt.Printf("Запись #%d: user_id=%d %+d (%s)\n", e.ID, e.UserID, e.Amount, e.Source)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "id пользователя")
	cmd.Flags().Int64Var(&amount, "amount", 0, "сумма (до множителя)")
	cmd.Flags().StringVar(&source, "source", string(ledger.SourceAdmin), "источник записи")
	cmd.Flags().StringVar(&description, "description", "", "описание")
	cmd.Flags().BoolVar(&raw, "raw", false, "не применять множители событий")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func activeEventsCmd() *cobra.Command {
	var within int
	cmd := &cobra.Command{
		Use:   "active-events",
		Short: "Показать активные (и, с --within, предстоящие) события",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, cfg *config.Config) error {
				now := a.Events.Now()
				active, err := a.Events.ActiveAt(ctx, now)
				if err != nil {
					return err
				}
				fmt.Printf("Активных событий: %d\n", len(active))
				for _, e := range active {
					printEvent(e, cfg.Location())
				}
				m, err := a.Events.MultiplierAt(ctx, now)
				if err != nil {
					return err
				}
				fmt.Printf("Текущий множитель: ×%s\n", m.String())

				if within <= 0 {
					return nil
				}
				upcoming, err := a.Events.Upcoming(ctx, within, now)
				if err != nil {
					return err
				}
				fmt.Printf("\nНачнутся в ближайшие %d ч: %d\n", within, len(upcoming))
				for _, e := range upcoming {
					printEvent(e, cfg.Location())
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&within, "within", 0, "показать и предстоящие события в окне N часов")
	return cmd
}

func printEvent(e *events.KarmaEvent, loc *time.Location) {
	fmt.Printf("  %s  %-8s ×%-6s %s — %s  %s\n",
		e.ID, e.Type, e.Multiplier.String(),
		e.StartAt.In(loc).Format("2006-01-02 15:04"),
		e.EndAt.In(loc).Format("2006-01-02 15:04"),
		e.Name,
	)
}
