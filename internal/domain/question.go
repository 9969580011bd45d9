package domain

import (
	"fmt"
	"sort"
	"strings"
)

// QuestionType is the closed set of question layouts the filler understands.
// It decides both the answer shape and the DOM fill strategy.
type QuestionType int

const (
	FillBlank QuestionType = iota
	SingleChoice
	MultipleChoice
	TrueFalse
	Essay
	MatrixFill
	MultipleEssay
	Dropdown
	GapFill
	CascadeDropdown
)

var questionTypeNames = [...]string{
	FillBlank:       "fill_blank",
	SingleChoice:    "single_choice",
	MultipleChoice:  "multiple_choice",
	TrueFalse:       "true_false",
	Essay:           "essay",
	MatrixFill:      "matrix_fill",
	MultipleEssay:   "multiple_essay",
	Dropdown:        "dropdown",
	GapFill:         "gap_fill",
	CascadeDropdown: "cascade_dropdown",
}

// AllQuestionTypes lists every variant in declaration order.
func AllQuestionTypes() []QuestionType {
	out := make([]QuestionType, len(questionTypeNames))
	for i := range questionTypeNames {
		out[i] = QuestionType(i)
	}
	return out
}

func (t QuestionType) Valid() bool { return t >= 0 && int(t) < len(questionTypeNames) }

func (t QuestionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("question_type(%d)", int(t))
	}
	return questionTypeNames[t]
}

// ParseQuestionType accepts the snake_case names produced by String.
func ParseQuestionType(s string) (QuestionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range questionTypeNames {
		if name == s {
			return QuestionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown question type %q", s)
}

func (t QuestionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid question type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *QuestionType) UnmarshalText(b []byte) error {
	v, err := ParseQuestionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IsChoice reports whether answers are indices into Options.
func (t QuestionType) IsChoice() bool {
	switch t {
	case SingleChoice, MultipleChoice, TrueFalse, Dropdown:
		return true
	}
	return false
}

// Handle is a weak reference to the controls the scraper found for one
// question. It holds selectors only; the page itself belongs to the driver.
type Handle struct {
	Root         string            `json:"root"`
	Input        string            `json:"input,omitempty"`
	Options      []string          `json:"options,omitempty"`
	OptionValues []string          `json:"option_values,omitempty"`
	Cells        map[string]string `json:"cells,omitempty"`
	Levels       []string          `json:"levels,omitempty"`
}

// Question is one typed question scraped from a questionnaire page.
type Question struct {
	ID        string            `json:"id"`
	Type      QuestionType      `json:"type"`
	Content   string            `json:"content"`
	Options   []string          `json:"options,omitempty"`
	Order     int               `json:"order"`
	Required  bool              `json:"required"`
	SubFields map[string]string `json:"sub_fields,omitempty"`
	// SubFieldOrder keeps the on-page order of SubFields keys.
	SubFieldOrder []string `json:"sub_field_order,omitempty"`
	Handle        Handle   `json:"handle"`
}

// SubFieldKeys returns sub-field keys in a stable order: scrape order first,
// then any keys missing from SubFieldOrder sorted lexically.
func (q Question) SubFieldKeys() []string {
	if len(q.SubFields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(q.SubFields))
	seen := make(map[string]struct{}, len(q.SubFields))
	for _, k := range q.SubFieldOrder {
		if _, ok := q.SubFields[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	var rest []string
	for k := range q.SubFields {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Questionnaire is the result of one scrape.
type Questionnaire struct {
	URL          string     `json:"url"`
	Platform     string     `json:"platform"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	TemplateType string     `json:"template_type"`
	Questions    []Question `json:"questions"`
}
