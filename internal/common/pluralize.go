// Package common — pluralize.go содержит вспомогательные функции
// для форматирования чисел в текстах уведомлений.
package common

import "fmt"

// FormatSignedPoints создаёт строку вида "+100 очков" или "-50 очков".
// Знак «+» или «-» добавляется автоматически.
//
// Примеры:
//
//	FormatSignedPoints(100) → "+100 очков"
//	FormatSignedPoints(-50) → "-50 очков"
//	FormatSignedPoints(1)   → "+1 очко"
func FormatSignedPoints(amount int64) string {
	if amount >= 0 {
		return "+" + FormatPoints(amount)
	}
	return FormatPoints(amount)
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s %03d", FormatNumber(n/1000), n%1000)
}
