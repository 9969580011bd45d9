package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"autosurvey/internal/domain"
)

// Markers are the attribute values and selectors the cascade looks for.
// The zero value is unusable; start from DefaultMarkers.
type Markers struct {
	TypeAttrs        []string `yaml:"type_attrs"`
	GapFillAttr      string   `yaml:"gap_fill_attr"`
	MultiEssayTypes  []string `yaml:"multi_essay_types"`
	MatrixTypes      []string `yaml:"matrix_types"`
	EssayTypes       []string `yaml:"essay_types"`
	DropdownTypes    []string `yaml:"dropdown_types"`
	TrueFalseTypes   []string `yaml:"true_false_types"`
	JudgeAttr        string   `yaml:"judge_attr"`
	VerifyAttr       string   `yaml:"verify_attr"`
	CascadeKeywords  []string `yaml:"cascade_keywords"`
	RadioSelector    string   `yaml:"radio_selector"`
	CheckboxSelector string   `yaml:"checkbox_selector"`
	OptionLabel      string   `yaml:"option_label"`
	PositiveLabels   []string `yaml:"positive_labels"`
	NegativeLabels   []string `yaml:"negative_labels"`
}

// DefaultMarkers matches the wenjuanxing layout.
func DefaultMarkers() Markers {
	return Markers{
		TypeAttrs:        []string{"type", "data-type"},
		GapFillAttr:      "gapfill",
		MultiEssayTypes:  []string{"9"},
		MatrixTypes:      []string{"6", "9"},
		EssayTypes:       []string{"2"},
		DropdownTypes:    []string{"7"},
		TrueFalseTypes:   []string{"tf"},
		JudgeAttr:        "data-judge",
		VerifyAttr:       "verify",
		CascadeKeywords:  []string{"多级", "级联", "cascade"},
		RadioSelector:    ".ui-radio, input[type=radio]",
		CheckboxSelector: ".ui-checkbox, input[type=checkbox]",
		OptionLabel:      "div.label, .label",
		PositiveLabels:   []string{"正确", "对", "是", "true", "yes", "√"},
		NegativeLabels:   []string{"错误", "错", "否", "false", "no", "×"},
	}
}

// Detector classifies question fragments. It holds no mutable state, so the
// same fragment always yields the same type.
type Detector struct {
	m Markers
}

func New(m Markers) *Detector { return &Detector{m: m} }

func Default() *Detector { return New(DefaultMarkers()) }

func (d *Detector) Markers() Markers { return d.m }

// Detect returns the question type of a question container.
func (d *Detector) Detect(field *goquery.Selection) domain.QuestionType {
	t, _ := d.Classify(field)
	return t
}

// Classify is Detect that also reports domain.ErrDetectionAmbiguous when no
// structural rule matched and the FillBlank default was used. The type is
// always usable.
func (d *Detector) Classify(field *goquery.Selection) (domain.QuestionType, error) {
	typ := d.typeMarker(field)
	hasTable := field.Find("table").Length() > 0

	switch {
	case d.hasGapFill(field):
		return domain.GapFill, nil
	case in(typ, d.m.MultiEssayTypes) && hasTable && field.Find("table textarea").Length() > 0:
		return domain.MultipleEssay, nil
	case in(typ, d.m.MatrixTypes) && hasTable:
		return domain.MatrixFill, nil
	case in(typ, d.m.EssayTypes) && !hasTable && field.Find("textarea").Length() > 0:
		return domain.Essay, nil
	case in(typ, d.m.DropdownTypes) && field.Find("select").Length() > 0:
		return domain.Dropdown, nil
	case d.isCascade(field):
		return domain.CascadeDropdown, nil
	case d.isTrueFalse(field, typ):
		return domain.TrueFalse, nil
	case field.Find(d.m.RadioSelector).Length() > 0:
		return domain.SingleChoice, nil
	case field.Find(d.m.CheckboxSelector).Length() > 0:
		return domain.MultipleChoice, nil
	}
	return domain.FillBlank, domain.ErrDetectionAmbiguous
}

// DetectHTML parses an HTML fragment and classifies its first element.
func (d *Detector) DetectHTML(fragment string) (domain.QuestionType, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return domain.FillBlank, fmt.Errorf("parse fragment: %w", err)
	}
	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	return d.Detect(root), nil
}

func (d *Detector) typeMarker(field *goquery.Selection) string {
	for _, attr := range d.m.TypeAttrs {
		if v, ok := field.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}

func (d *Detector) hasGapFill(field *goquery.Selection) bool {
	if d.m.GapFillAttr == "" {
		return false
	}
	if markerOn(field, d.m.GapFillAttr) {
		return true
	}
	found := false
	field.Find("[" + d.m.GapFillAttr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = markerOn(s, d.m.GapFillAttr)
		return !found
	})
	return found
}

func markerOn(s *goquery.Selection, attr string) bool {
	v, ok := s.Attr(attr)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no":
		return false
	}
	return true
}

func (d *Detector) isCascade(field *goquery.Selection) bool {
	if d.m.VerifyAttr == "" {
		return false
	}
	check := func(s *goquery.Selection) bool {
		v, ok := s.Attr(d.m.VerifyAttr)
		if !ok {
			return false
		}
		v = strings.ToLower(v)
		for _, kw := range d.m.CascadeKeywords {
			if strings.Contains(v, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}
	if check(field) {
		return true
	}
	found := false
	field.Find("[" + d.m.VerifyAttr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = check(s)
		return !found
	})
	return found
}

func (d *Detector) isTrueFalse(field *goquery.Selection, typ string) bool {
	if in(typ, d.m.TrueFalseTypes) {
		return true
	}
	if d.m.JudgeAttr != "" {
		if _, ok := field.Attr(d.m.JudgeAttr); ok {
			return true
		}
		if field.Find("["+d.m.JudgeAttr+"]").Length() > 0 {
			return true
		}
	}
	if field.Find(d.m.RadioSelector).Length() == 0 {
		return false
	}
	labels := OptionLabels(field, d.m)
	if len(labels) != 2 {
		return false
	}
	a, b := d.polarity(labels[0]), d.polarity(labels[1])
	return a != 0 && b != 0 && a != b
}

// polarity is +1 for a yes-style label, -1 for a no-style label, else 0.
func (d *Detector) polarity(label string) int {
	l := strings.ToLower(strings.TrimSpace(label))
	for _, p := range d.m.PositiveLabels {
		if l == strings.ToLower(p) {
			return 1
		}
	}
	for _, n := range d.m.NegativeLabels {
		if l == strings.ToLower(n) {
			return -1
		}
	}
	return 0
}

var (
	letterPrefix = regexp.MustCompile(`^[A-Z][\.、\s]+`)
	digitPrefix  = regexp.MustCompile(`^\d+[\.、\s]+`)
)

// CleanLabel strips the "A." or "1、" numbering platforms prepend to labels.
func CleanLabel(s string) string {
	s = strings.TrimSpace(s)
	s = letterPrefix.ReplaceAllString(s, "")
	s = digitPrefix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// OptionLabels returns the cleaned labels of a choice question in page order.
// Option containers are preferred; bare inputs fall back to their <label>.
func OptionLabels(field *goquery.Selection, m Markers) []string {
	var labels []string
	field.Find(".ui-radio, .ui-checkbox").Each(func(_ int, s *goquery.Selection) {
		if l := CleanLabel(s.Find(m.OptionLabel).First().Text()); l != "" {
			labels = append(labels, l)
		}
	})
	if len(labels) > 0 {
		return labels
	}
	field.Find("input[type=radio], input[type=checkbox]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		var text string
		if id != "" {
			text = field.Find(`label[for="` + id + `"]`).First().Text()
		}
		if text == "" {
			text = s.Closest("label").Text()
		}
		if l := CleanLabel(text); l != "" {
			labels = append(labels, l)
		}
	})
	return labels
}

func in(v string, set []string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
