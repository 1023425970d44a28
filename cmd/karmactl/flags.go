package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/reputation/internal/features/achievements"
	"serotonyl.ru/reputation/internal/features/events"
)

var localLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

// parseStart понимает RFC3339 и локальное время в loc.
func parseStart(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("не удалось разобрать время начала %q", s)
}

func scheduleParams(eventType, start string, hours int, multiplier string, hasDescription bool, description string, loc *time.Location) (events.ScheduleParams, error) {
	at, err := parseStart(start, loc)
	if err != nil {
		return events.ScheduleParams{}, err
	}
	p := events.ScheduleParams{Type: eventType, StartAt: at, DurationHours: hours}

	if multiplier = strings.TrimSpace(multiplier); multiplier != "" {
		m, err := decimal.NewFromString(strings.Replace(multiplier, ",", ".", 1))
		if err != nil {
			return events.ScheduleParams{}, fmt.Errorf("некорректный множитель %q: %w", multiplier, err)
		}
		p.Multiplier = &m
	}
	if hasDescription {
		p.Description = &description
	}
	return p, nil
}

func snapshot(entity string, id, owner int64, metrics map[string]int64) (achievements.Snapshot, error) {
	e := achievements.Entity{ID: id, OwnerUserID: owner}
	switch achievements.EntityKind(entity) {
	case achievements.EntitySub:
		e.Kind = achievements.EntitySub
		if owner <= 0 {
			return achievements.Snapshot{}, fmt.Errorf("для --entity sub нужен --owner")
		}
	case achievements.EntityUser:
		e.Kind = achievements.EntityUser
	default:
		return achievements.Snapshot{}, fmt.Errorf("неизвестная сущность %q: sub или user", entity)
	}
	if len(metrics) == 0 {
		return achievements.Snapshot{}, fmt.Errorf("нужна хотя бы одна --metric")
	}
	return achievements.Snapshot{Entity: e, Metrics: metrics}, nil
}
