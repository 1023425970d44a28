// Package catalog читает TOML-каталог движка репутации: уровни, типы
// событий и достижения. Каталог — единственный способ завести
// достижения, поэтому он синхронизируется в БД при каждом старте.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/reputation/internal/features/achievements"
	"serotonyl.ru/reputation/internal/features/events"
	"serotonyl.ru/reputation/internal/features/tiers"
)

// Catalog — содержимое файла каталога.
type Catalog struct {
	Tiers        []Tier        `toml:"tiers"`
	EventTypes   []EventType   `toml:"event_types"`
	Achievements []Achievement `toml:"achievements"`
}

type Tier struct {
	Name          string `toml:"name"`
	RequiredScore int64  `toml:"required_score"`
}

type EventType struct {
	Type        string  `toml:"type"`
	Name        string  `toml:"name"`
	Description string  `toml:"description"`
	Multiplier  float64 `toml:"multiplier"`
}

type Achievement struct {
	Slug        string         `toml:"slug"`
	Name        string         `toml:"name"`
	Description string         `toml:"description"`
	Type        string         `toml:"type"`
	Requirement string         `toml:"requirement"`
	Params      map[string]any `toml:"params"`
	KarmaBonus  int64          `toml:"karma_bonus"`
}

// Raw приводит запись каталога к виду хранилища.
func (a Achievement) Raw() achievements.RawAchievement {
	return achievements.RawAchievement{
		Slug:              strings.TrimSpace(a.Slug),
		Name:              a.Name,
		Description:       a.Description,
		Type:              a.Type,
		RequirementKind:   a.Requirement,
		RequirementParams: a.Params,
		KarmaBonus:        a.KarmaBonus,
	}
}

// Read декодирует каталог из r.
func Read(r io.Reader) (*Catalog, error) {
	var c Catalog
	if _, err := toml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("не удалось разобрать каталог: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load читает каталог из файла. Пустой путь даёт пустой каталог.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть каталог: %w", err)
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// validate проверяет уровни и типы событий. Достижения здесь не проверяются:
// битое достижение пропускается при синхронизации, а не валит старт.
func (c *Catalog) validate() error {
	names := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("уровень без имени")
		}
		if names[name] {
			return fmt.Errorf("уровень %q объявлен дважды", name)
		}
		names[name] = true
	}

	types := make(map[string]bool, len(c.EventTypes))
	for _, et := range c.EventTypes {
		typ := strings.TrimSpace(et.Type)
		if typ == "" {
			return fmt.Errorf("тип события без имени")
		}
		if types[typ] {
			return fmt.Errorf("тип события %q объявлен дважды", typ)
		}
		if et.Multiplier <= 0 {
			return fmt.Errorf("тип события %q: множитель должен быть > 0", typ)
		}
		if decimal.NewFromFloat(et.Multiplier).GreaterThan(events.MaxMultiplier) {
			return fmt.Errorf("тип события %q: множитель больше %s", typ, events.MaxMultiplier)
		}
		types[typ] = true
	}
	return nil
}

// EventDefaults — таблица типов событий для events.WithTypes.
func (c *Catalog) EventDefaults() map[string]events.TypeDefaults {
	out := make(map[string]events.TypeDefaults, len(c.EventTypes))
	for _, et := range c.EventTypes {
		typ := strings.TrimSpace(et.Type)
		name := et.Name
		if name == "" {
			name = typ
		}
		out[typ] = events.TypeDefaults{
			Type:        typ,
			Name:        name,
			Description: et.Description,
			Multiplier:  decimal.NewFromFloat(et.Multiplier).Round(events.MultiplierScale),
		}
	}
	return out
}

// TierStore — куда пишутся уровни.
type TierStore interface {
	Upsert(ctx context.Context, t *tiers.Tier) error
}

// AchievementStore — куда пишутся достижения. Insert не трогает существующий slug.
type AchievementStore interface {
	Insert(ctx context.Context, a *achievements.RawAchievement) (bool, error)
}

// SyncResult — итог синхронизации.
type SyncResult struct {
	Tiers    int
	Inserted int
	Existing int
	Skipped  int
}

// Sync переносит уровни и достижения каталога в хранилище.
// Уровни обновляются по имени, достижения только добавляются:
// после создания они неизменяемы. Битые достижения пропускаются с предупреждением.
func (c *Catalog) Sync(ctx context.Context, ts TierStore, as AchievementStore, logger log.FieldLogger) (SyncResult, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	var res SyncResult

	for _, ct := range c.Tiers {
		t := &tiers.Tier{Name: strings.TrimSpace(ct.Name), RequiredScore: ct.RequiredScore}
		if err := ts.Upsert(ctx, t); err != nil {
			return res, err
		}
		res.Tiers++
	}

	for _, ca := range c.Achievements {
		raw := ca.Raw()
		if _, err := raw.Parse(); err != nil {
			logger.WithError(err).WithField("slug", raw.Slug).Warn("Достижение из каталога пропущено")
			res.Skipped++
			continue
		}
		inserted, err := as.Insert(ctx, &raw)
		if err != nil {
			return res, fmt.Errorf("ошибка сохранения достижения %s: %w", raw.Slug, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Existing++
		}
	}

	logger.WithFields(log.Fields{
		"tiers":    res.Tiers,
		"inserted": res.Inserted,
		"existing": res.Existing,
		"skipped":  res.Skipped,
	}).Info("Каталог синхронизирован")
	return res, nil
}
