// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование чисел, работа с датами.
package common

import (
	"fmt"
	"math"
	"time"
)

// PluralizePoints возвращает правильную форму слова «очко» для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → "очко" (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → "очка" (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → "очков" (0, 5-20, 25-30, 100, ...)
func PluralizePoints(n int64) string {
	return pluralize(n, "очко", "очка", "очков")
}

// PluralizeHours возвращает правильную форму слова «час».
func PluralizeHours(n int64) string {
	return pluralize(n, "час", "часа", "часов")
}

// PluralizeDays возвращает правильную форму слова «день».
func PluralizeDays(n int64) string {
	return pluralize(n, "день", "дня", "дней")
}

func pluralize(n int64, one, few, many string) string {
	// Берём абсолютное значение для отрицательных чисел
	absN := int64(math.Abs(float64(n)))
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// FormatPoints форматирует количество очков кармы: FormatPoints(150) → "150 очков".
func FormatPoints(points int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(points), PluralizePoints(points))
}

// FormatHours форматирует длительность в часах. Кратное суткам
// пишется днями: FormatHours(48) → "2 дня", FormatHours(30) → "30 часов".
func FormatHours(hours int64) string {
	if hours > 0 && hours%24 == 0 {
		days := hours / 24
		return fmt.Sprintf("%d %s", days, PluralizeDays(days))
	}
	return fmt.Sprintf("%d %s", hours, PluralizeHours(hours))
}

// DateIn возвращает календарную дату момента t в часовом поясе loc.
// Дата представлена полночью UTC — так же её отдаёт колонка DATE в PostgreSQL,
// поэтому даты из БД и вычисленные в коде сравниваются напрямую.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDateTime форматирует время в "02.01.2006 15:04" в часовом поясе loc.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}
