package tui

import (
	"fmt"
	"sort"
	"strings"

	"autosurvey/internal/domain"
)

// FormatContent renders an answer payload with option labels resolved.
func FormatContent(q domain.Question, c domain.Content) string {
	switch v := c.(type) {
	case nil:
		return "-"
	case domain.Text:
		return string(v)
	case domain.Index:
		return optionLabel(q, int(v))
	case domain.Indices:
		labels := make([]string, len(v))
		for i, idx := range v {
			labels[i] = optionLabel(q, idx)
		}
		return strings.Join(labels, "; ")
	case domain.Fields:
		parts := make([]string, 0, len(v))
		for _, k := range q.SubFieldKeys() {
			if val, ok := v[k]; ok {
				parts = append(parts, fmt.Sprintf("%s=%s", subFieldLabel(q, k), val))
			}
		}
		if len(parts) == 0 {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				parts = append(parts, k+"="+v[k])
			}
		}
		return strings.Join(parts, "; ")
	case domain.List:
		return strings.Join(v, " | ")
	}
	return fmt.Sprintf("%v", c)
}

func optionLabel(q domain.Question, idx int) string {
	if idx >= 0 && idx < len(q.Options) {
		return fmt.Sprintf("%d. %s", idx+1, q.Options[idx])
	}
	return fmt.Sprintf("#%d", idx)
}

func subFieldLabel(q domain.Question, key string) string {
	if l := q.SubFields[key]; l != "" {
		return l
	}
	return key
}

func truncateRunes(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
