// Package achievements — requirement.go разбирает условия достижений.
// Условие проверяется один раз при загрузке каталога; оценщик дальше
// работает только с типизированным Requirement.
package achievements

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind — вид условия достижения.
type Kind string

// Поддерживаемые виды условий
const (
	KindSubMembers      Kind = "sub_members"      // участников в сообществе >= threshold
	KindSubPosts        Kind = "sub_posts"        // постов в сообществе >= threshold
	KindCountOfAction   Kind = "count_of_action"  // действий action у пользователя >= threshold
	KindMetricThreshold Kind = "metric_threshold" // произвольная метрика metric >= threshold
)

// Ключи метрик в Snapshot
const (
	MetricMembersCount = "members_count"
	MetricPostsCount   = "posts_count"
	actionMetricPrefix = "action:"
)

// ActionMetric возвращает ключ метрики для счётчика действия: "action:sub_created".
func ActionMetric(action string) string {
	return actionMetricPrefix + action
}

// Requirement — разобранное условие.
type Requirement struct {
	Kind      Kind
	Threshold int64
	Action    string // для count_of_action
	Metric    string // для metric_threshold
	Entity    EntityKind
}

// MetricKey — ключ метрики, с которой сравнивается порог.
func (r Requirement) MetricKey() string {
	switch r.Kind {
	case KindSubMembers:
		return MetricMembersCount
	case KindSubPosts:
		return MetricPostsCount
	case KindCountOfAction:
		return ActionMetric(r.Action)
	default:
		return r.Metric
	}
}

// AppliesTo сообщает, проверяется ли условие для сущности данного вида.
func (r Requirement) AppliesTo(kind EntityKind) bool {
	return r.Entity == "" || r.Entity == kind
}

// Params возвращает параметры в виде, пригодном для хранения в JSONB.
func (r Requirement) Params() map[string]any {
	p := map[string]any{"threshold": r.Threshold}
	switch r.Kind {
	case KindCountOfAction:
		p["action"] = r.Action
	case KindMetricThreshold:
		p["metric"] = r.Metric
		if r.Entity != "" {
			p["entity"] = string(r.Entity)
		}
	}
	return p
}

// Progress — процент выполнения для значения метрики, от 0 до 99
// (100 ставится только при разблокировке).
func (r Requirement) Progress(value int64) int {
	if value <= 0 || r.Threshold <= 0 {
		return 0
	}
	if value >= r.Threshold {
		return 99
	}
	p := value * 100 / r.Threshold
	if p > 99 {
		p = 99
	}
	return int(p)
}

// ParseRequirement проверяет вид и параметры условия.
func ParseRequirement(kind string, params map[string]any) (Requirement, error) {
	threshold, err := intParam(params, "threshold")
	if err != nil {
		return Requirement{}, err
	}
	if threshold <= 0 {
		return Requirement{}, fmt.Errorf("threshold должен быть > 0, получено %d", threshold)
	}

	req := Requirement{Kind: Kind(kind), Threshold: threshold}
	switch req.Kind {
	case KindSubMembers, KindSubPosts:
		req.Entity = EntitySub
	case KindCountOfAction:
		action, err := stringParam(params, "action")
		if err != nil {
			return Requirement{}, err
		}
		req.Action = action
		req.Entity = EntityUser
	case KindMetricThreshold:
		metric, err := stringParam(params, "metric")
		if err != nil {
			return Requirement{}, err
		}
		req.Metric = metric
		if raw, ok := params["entity"]; ok {
			entity, _ := raw.(string)
			switch EntityKind(entity) {
			case EntitySub, EntityUser:
				req.Entity = EntityKind(entity)
			default:
				return Requirement{}, fmt.Errorf("неизвестный вид сущности %v", raw)
			}
		}
	default:
		return Requirement{}, fmt.Errorf("неизвестный вид условия %q", kind)
	}
	return req, nil
}

// intParam достаёт целое из параметров. Значения приходят из TOML (int64)
// и из JSONB (float64 или json.Number через строку).
func intParam(params map[string]any, key string) (int64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("параметр %s не указан", key)
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("параметр %s должен быть целым, получено %v", key, v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("параметр %s должен быть целым, получено %q", key, v)
		}
		return n, nil
	case fmt.Stringer:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("параметр %s должен быть целым, получено %q", key, v.String())
		}
		return n, nil
	default:
		return 0, fmt.Errorf("параметр %s: неподдерживаемый тип %T", key, raw)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("параметр %s не указан", key)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("параметр %s должен быть непустой строкой", key)
	}
	return strings.TrimSpace(s), nil
}
