// Package main — karmactl, операторский CLI движка репутации.
// Каждая команда — разовый запуск одной задачи из internal/jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/reputation/internal/app"
	"serotonyl.ru/reputation/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "karmactl",
	Short:         "Операторские команды движка репутации",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// newApp читает конфигурацию и собирает приложение. Вызывающий обязан сделать defer a.Close().
func newApp(ctx context.Context) (*app.App, *config.Config, error) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	log.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}

	a, err := app.New(ctx, cfg, log.StandardLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("инициализация приложения: %w", err)
	}
	return a, cfg, nil
}

// withApp запускает f с собранным приложением и контекстом, который отменяется по Ctrl+C.
func withApp(f func(ctx context.Context, a *app.App, cfg *config.Config) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cfg, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return f(ctx, a, cfg)
}

func init() {
	rootCmd.AddCommand(
		scheduleEventCmd(),
		recalculateAllCmd(),
		notifyUpcomingCmd(),
		evaluateAchievementsCmd(),
		sweepEventsCmd(),
		awardCmd(),
		activeEventsCmd(),
	)
}
