package answer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"autosurvey/internal/detect"
	"autosurvey/internal/domain"
)

func invalid(q domain.Question, format string, args ...any) error {
	return &domain.ValidationError{QuestionID: q.ID, Type: q.Type, Reason: fmt.Sprintf(format, args...)}
}

// DecodeContent turns a raw JSON answer value into the content shape of
// q's type. Index answers may be given as integers, digit strings,
// "N|text" strings, option letters, circled numbers or the option text.
func DecodeContent(q domain.Question, raw json.RawMessage) (domain.Content, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, invalid(q, "answer is missing")
	}
	switch q.Type {
	case domain.FillBlank, domain.Essay:
		s, err := scalarString(raw)
		if err != nil {
			return nil, invalid(q, "want a string: %v", err)
		}
		return domain.Text(s), nil
	case domain.CascadeDropdown:
		var parts []string
		if json.Unmarshal(raw, &parts) == nil {
			return domain.Text(strings.Join(parts, "/")), nil
		}
		s, err := scalarString(raw)
		if err != nil {
			return nil, invalid(q, "want a string: %v", err)
		}
		return domain.Text(s), nil
	case domain.SingleChoice, domain.TrueFalse, domain.Dropdown:
		idx, err := decodeIndex(q, raw)
		if err != nil {
			return nil, err
		}
		return domain.Index(idx), nil
	case domain.MultipleChoice:
		return decodeIndices(q, raw)
	case domain.MatrixFill, domain.MultipleEssay:
		f, err := decodeFields(raw)
		if err != nil {
			return nil, invalid(q, "want an object of sub-field values: %v", err)
		}
		return f, nil
	case domain.GapFill:
		if f, err := decodeFields(raw); err == nil {
			return f, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, invalid(q, "want an object or a list of strings")
		}
		list := make(domain.List, len(items))
		for i, it := range items {
			s, err := scalarString(it)
			if err != nil {
				return nil, invalid(q, "blank %d: %v", i, err)
			}
			list[i] = s
		}
		return list, nil
	}
	return nil, invalid(q, "unsupported question type")
}

// Validate checks c against the answer shape of q's type.
func Validate(q domain.Question, c domain.Content) error {
	if c == nil {
		return invalid(q, "answer is missing")
	}
	switch q.Type {
	case domain.FillBlank, domain.Essay, domain.CascadeDropdown:
		s, ok := c.(domain.Text)
		if !ok {
			return invalid(q, "want text, got %s", c.Kind())
		}
		if q.Required && strings.TrimSpace(string(s)) == "" {
			return invalid(q, "required answer is empty")
		}
		return nil
	case domain.SingleChoice, domain.TrueFalse, domain.Dropdown:
		i, ok := c.(domain.Index)
		if !ok {
			return invalid(q, "want an option index, got %s", c.Kind())
		}
		return checkIndex(q, int(i))
	case domain.MultipleChoice:
		idx, ok := c.(domain.Indices)
		if !ok {
			return invalid(q, "want a list of option indices, got %s", c.Kind())
		}
		if len(idx) == 0 && q.Required {
			return invalid(q, "required question needs at least one option")
		}
		seen := make(map[int]bool, len(idx))
		for _, i := range idx {
			if err := checkIndex(q, i); err != nil {
				return err
			}
			if seen[i] {
				return invalid(q, "duplicate option index %d", i)
			}
			seen[i] = true
		}
		return nil
	case domain.MatrixFill, domain.MultipleEssay:
		f, ok := c.(domain.Fields)
		if !ok {
			return invalid(q, "want sub-field values, got %s", c.Kind())
		}
		return checkFields(q, f)
	case domain.GapFill:
		switch v := c.(type) {
		case domain.Fields:
			return checkFields(q, v)
		case domain.List:
			return checkList(q, v)
		}
		return invalid(q, "want sub-field values or a list, got %s", c.Kind())
	}
	return invalid(q, "unsupported question type")
}

func checkIndex(q domain.Question, i int) error {
	if i < 0 || i >= len(q.Options) {
		return invalid(q, "option index %d out of range [0,%d)", i, len(q.Options))
	}
	return nil
}

func checkFields(q domain.Question, f domain.Fields) error {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := q.SubFields[k]; !ok {
			return invalid(q, "unknown sub-field %q", k)
		}
	}
	if !q.Required {
		return nil
	}
	if len(q.SubFields) == 0 && len(f) == 0 {
		return invalid(q, "required answer is empty")
	}
	for _, k := range q.SubFieldKeys() {
		if strings.TrimSpace(f[k]) == "" {
			return invalid(q, "required sub-field %q is empty", k)
		}
	}
	return nil
}

func checkList(q domain.Question, l domain.List) error {
	if len(q.SubFields) == 0 {
		return invalid(q, "positional values need recorded blanks")
	}
	if n := len(q.SubFields); len(l) > n {
		return invalid(q, "%d values for %d blanks", len(l), n)
	}
	if !q.Required {
		return nil
	}
	if len(l) == 0 {
		return invalid(q, "required answer is empty")
	}
	if n := len(q.SubFields); len(l) < n {
		return invalid(q, "required question has %d blanks, got %d values", n, len(l))
	}
	for i, s := range l {
		if strings.TrimSpace(s) == "" {
			return invalid(q, "blank %d is empty", i)
		}
	}
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("unexpected value %s", truncate(string(raw), 60))
}

func decodeFields(raw json.RawMessage) (domain.Fields, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	out := make(domain.Fields, len(obj))
	for k, v := range obj {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		s, err := scalarString(v)
		if err != nil {
			return nil, fmt.Errorf("sub-field %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func decodeIndex(q domain.Question, raw json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != float64(int(f)) {
			return 0, invalid(q, "option index %v is not an integer", f)
		}
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, invalid(q, "want an option index, got %s", truncate(string(raw), 60))
	}
	idx, err := parseIndex(s, q)
	if err != nil {
		return 0, invalid(q, "%v", err)
	}
	return idx, nil
}

func decodeIndices(q domain.Question, raw json.RawMessage) (domain.Content, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		// "[0, 2]" or "0,2" given as a string
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil, invalid(q, "want a list of option indices")
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") && json.Unmarshal([]byte(s), &items) == nil {
			return decodeIndices(q, json.RawMessage(s))
		}
		items = nil
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' || r == '、' }) {
			b, _ := json.Marshal(strings.TrimSpace(part))
			items = append(items, b)
		}
	}
	out := make(domain.Indices, 0, len(items))
	for _, it := range items {
		idx, err := decodeIndex(q, it)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

var circled = []rune("①②③④⑤⑥⑦⑧⑨⑩⑪⑫⑬⑭⑮⑯⑰⑱⑲⑳")

// parseIndex resolves the textual forms of an option reference.
func parseIndex(s string, q domain.Question) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty option reference")
	}
	head := s
	if i := strings.Index(s, "|"); i >= 0 {
		head = strings.TrimSpace(s[:i])
	}
	if n, err := strconv.Atoi(head); err == nil {
		return n, nil
	}
	if r, _ := utf8.DecodeRuneInString(head); r != utf8.RuneError {
		for i, c := range circled {
			if r == c {
				return i, nil
			}
		}
	}
	if len(head) == 1 {
		if c := head[0] | 0x20; c >= 'a' && c <= 'z' {
			return int(c - 'a'), nil
		}
	}
	if i := matchOption(s, q); i >= 0 {
		return i, nil
	}
	// "B. text" style references whose text did not match any option
	if len(head) > 1 && head[0] >= 'A' && head[0] <= 'Z' && (head[1] == '.' || head[1] == ')' || strings.HasPrefix(head[1:], "、")) {
		return int(head[0] - 'A'), nil
	}
	return 0, fmt.Errorf("cannot resolve option reference %q", truncate(s, 60))
}

// negations mark an answer that contradicts the option text it contains.
var negations = []string{"不", "没", "无", "未", "非", "否", "别", "not", "no ", "never", "non-"}

// matchOption finds an option by exact label, then by a single containing
// match. True/false questions and one-rune labels only match exactly, and an
// answer never matches the option it negates.
func matchOption(s string, q domain.Question) int {
	want := detect.CleanLabel(s)
	if want == "" {
		return -1
	}
	for i, o := range q.Options {
		if detect.CleanLabel(o) == want {
			return i
		}
	}
	if q.Type == domain.TrueFalse || utf8.RuneCountInString(want) < 2 {
		return -1
	}
	found := -1
	for i, o := range q.Options {
		label := detect.CleanLabel(o)
		if utf8.RuneCountInString(label) < 2 {
			continue
		}
		var rest string
		switch {
		case strings.Contains(want, label):
			rest = strings.Replace(want, label, "", 1)
		case strings.Contains(label, want):
			rest = strings.Replace(label, want, "", 1)
		default:
			continue
		}
		if negated(rest) {
			continue
		}
		if found >= 0 {
			return -1
		}
		found = i
	}
	return found
}

func negated(s string) bool {
	s = strings.ToLower(strings.ReplaceAll(s, "非常", ""))
	for _, n := range negations {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
