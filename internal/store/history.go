package store

import "proxyhealth/internal/model"

// AppendHistory appends c to history and keeps only the newest limit
// entries. The returned slice never aliases history.
func AppendHistory(history []model.Check, c model.Check, limit int) []model.Check {
	if limit <= 0 {
		limit = 1
	}
	n := len(history) + 1
	start := 0
	if n > limit {
		start = n - limit
	}
	out := make([]model.Check, 0, n-start)
	if start < len(history) {
		out = append(out, history[start:]...)
	}
	return append(out, c)
}
