package telegram

import "strings"

const captionLimit = 1024

// TrimCaption укорачивает подпись до лимита Bot API, по возможности
// обрезая по границе строки, чтобы не рвать форматированные блоки.
func TrimCaption(caption string) string {
	trimmed := strings.TrimSpace(caption)
	runes := []rune(trimmed)
	if len(runes) <= captionLimit {
		return trimmed
	}

	split := -1
	for i := captionLimit; i > 0; i-- {
		if runes[i-1] == '\n' {
			split = i - 1
			break
		}
	}
	if split <= 0 {
		split = captionLimit
	}
	return strings.Trim(string(runes[:split]), "\n")
}
