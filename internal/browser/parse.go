package browser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"autosurvey/internal/detect"
	"autosurvey/internal/domain"
	"autosurvey/internal/logger"
)

const (
	fieldSelector       = ".field"
	titleSelector       = ".surveyhead h1, .survey-title, h1.title"
	descriptionSelector = ".surveyhead .description, .survey-description"
	untitled            = "Untitled questionnaire"
)

var (
	numberPrefix = regexp.MustCompile(`^\d+[\.、\s]+`)
	tagPrefix    = regexp.MustCompile(`^[\[【]\s*[必选单多判填空题问答择]+\s*[\]】]\s*`)
	spaces       = regexp.MustCompile(`\s+`)

	examKeywords   = []string{"考试", "测试", "考核", "exam", "test"}
	surveyKeywords = []string{"调查", "问卷", "survey", "questionnaire"}
)

// ParseQuestionnaire builds a Questionnaire from the rendered page HTML.
// Fields that fail to parse are logged and skipped.
func ParseQuestionnaire(url, html string, det *detect.Detector, log *logger.Logger) (domain.Questionnaire, error) {
	if log == nil {
		log = logger.Nop()
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.Questionnaire{}, fmt.Errorf("parse page: %w", err)
	}
	qn := domain.Questionnaire{
		URL:          url,
		Platform:     platformName,
		Title:        firstText(doc.Selection, titleSelector, untitled),
		Description:  firstText(doc.Selection, descriptionSelector, ""),
		TemplateType: TemplateType(doc.Text()),
	}
	doc.Find(fieldSelector).Each(func(i int, field *goquery.Selection) {
		q, err := parseField(field, i+1, det)
		if err != nil {
			log.Warn("skip question", "order", i+1, "error", err)
			return
		}
		qn.Questions = append(qn.Questions, q)
	})
	log.Info("questions extracted", "url", url, "count", len(qn.Questions), "template", qn.TemplateType)
	return qn, nil
}

// TemplateType scores exam against survey keywords in the page text.
func TemplateType(text string) string {
	text = strings.ToLower(text)
	score := func(kws []string) int {
		n := 0
		for _, kw := range kws {
			if strings.Contains(text, kw) {
				n++
			}
		}
		return n
	}
	if score(examKeywords) > score(surveyKeywords) {
		return "exam"
	}
	return "survey"
}

func firstText(s *goquery.Selection, sel, fallback string) string {
	if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
		return spaces.ReplaceAllString(t, " ")
	}
	return fallback
}

// cleanContent strips question numbering, type tags and required stars.
func cleanContent(s string) string {
	s = spaces.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.TrimSpace(strings.TrimPrefix(s, "*"))
	s = strings.TrimSpace(numberPrefix.ReplaceAllString(s, ""))
	s = strings.TrimSpace(tagPrefix.ReplaceAllString(s, ""))
	return strings.TrimSpace(strings.TrimSuffix(s, "*"))
}

func parseField(field *goquery.Selection, order int, det *detect.Detector) (domain.Question, error) {
	id := strings.TrimSpace(field.AttrOr("id", ""))
	if id == "" {
		id = "q" + strconv.Itoa(order)
	}
	root := cssID(id)
	content := cleanContent(field.Find(".field-label, .title").First().Text())
	if content == "" {
		content = fmt.Sprintf("Question %d", order)
	}
	typ, err := det.Classify(field)
	if err != nil {
		// ambiguous layouts still parse as FillBlank
		typ = domain.FillBlank
	}
	q := domain.Question{
		ID:       id,
		Type:     typ,
		Content:  content,
		Order:    order,
		Required: isRequired(field),
		Handle:   domain.Handle{Root: root},
	}
	inputName := strings.Replace(id, "div", "q", 1)
	m := det.Markers()

	switch typ {
	case domain.SingleChoice, domain.TrueFalse, domain.MultipleChoice:
		containerClass, inputType := ".ui-radio", "radio"
		if typ == domain.MultipleChoice {
			containerClass, inputType = ".ui-checkbox", "checkbox"
		}
		q.Options, q.Handle.Options, q.Handle.OptionValues = choiceOptions(field, root, containerClass, inputType, m)
		if len(q.Options) == 0 {
			return q, fmt.Errorf("%s: choice question without options", id)
		}
		name := field.Find("input[type=" + inputType + "]").First().AttrOr("name", inputName)
		q.Handle.Input = fmt.Sprintf(`%s input[type=%s][name="%s"]`, root, inputType, name)
	case domain.Dropdown:
		sel := field.Find("select").First()
		q.Handle.Input = controlSelector(root, sel, "select")
		sel.Find("option").Each(func(_ int, o *goquery.Selection) {
			v, text := o.AttrOr("value", ""), strings.TrimSpace(o.Text())
			if isPlaceholder(v, text) {
				return
			}
			q.Options = append(q.Options, detect.CleanLabel(text))
			q.Handle.OptionValues = append(q.Handle.OptionValues, v)
		})
		if len(q.Options) == 0 {
			return q, fmt.Errorf("%s: dropdown without options", id)
		}
	case domain.MatrixFill, domain.MultipleEssay:
		matrixCells(&q, field, root, inputName)
		if len(q.SubFields) == 0 {
			return q, fmt.Errorf("%s: table without inputs", id)
		}
	case domain.GapFill:
		gapCells(&q, field, root, inputName)
		if len(q.SubFields) == 0 {
			return q, fmt.Errorf("%s: gap fill without blanks", id)
		}
	case domain.CascadeDropdown:
		field.Find("select").Each(func(_ int, s *goquery.Selection) {
			q.Handle.Levels = append(q.Handle.Levels, controlSelector(root, s, "select"))
		})
		if len(q.Handle.Levels) == 0 {
			q.Handle.Input = textInput(field, root)
		}
	default:
		q.Handle.Input = textInput(field, root)
		if q.Handle.Input == "" {
			return q, fmt.Errorf("%s: no input control", id)
		}
	}
	return q, nil
}

func isRequired(field *goquery.Selection) bool {
	if strings.Contains(field.AttrOr("class", ""), "required") {
		return true
	}
	if v := field.AttrOr("req", ""); v == "1" || v == "true" {
		return true
	}
	return field.Find(".req, .required").Length() > 0
}

func isPlaceholder(value, text string) bool {
	return value == "" || value == "-1" || value == "-2" || strings.HasPrefix(text, "请选择") || strings.EqualFold(text, "please select")
}

// choiceOptions returns option labels, click targets and input values in
// page order. Containers without a label keep their slot so indices stay
// aligned with the page.
func choiceOptions(field *goquery.Selection, root, containerClass, inputType string, m detect.Markers) (labels, targets, values []string) {
	containers := field.Find(containerClass)
	if containers.Length() > 0 {
		containers.Each(func(i int, c *goquery.Selection) {
			input := c.Find("input[type=" + inputType + "]").First()
			v := input.AttrOr("value", strconv.Itoa(i+1))
			label := detect.CleanLabel(c.Find(m.OptionLabel).First().Text())
			if label == "" {
				label = detect.CleanLabel(c.Text())
			}
			if label == "" {
				label = fmt.Sprintf("Option %d", i+1)
			}
			labels = append(labels, label)
			values = append(values, v)
			targets = append(targets, fmt.Sprintf(`%s %s:has(input[value="%s"])`, root, containerClass, v))
		})
		return labels, targets, values
	}
	field.Find("input[type=" + inputType + "]").Each(func(i int, in *goquery.Selection) {
		v := in.AttrOr("value", strconv.Itoa(i+1))
		var text string
		if id := in.AttrOr("id", ""); id != "" {
			text = field.Find(`label[for="` + id + `"]`).First().Text()
		}
		if text == "" {
			text = in.Closest("label").Text()
		}
		label := detect.CleanLabel(text)
		if label == "" {
			label = fmt.Sprintf("Option %d", i+1)
		}
		labels = append(labels, label)
		values = append(values, v)
		targets = append(targets, fmt.Sprintf(`%s input[type=%s][value="%s"]`, root, inputType, v))
	})
	return labels, targets, values
}

// matrixCells records one sub-field per text control in the question's
// table, labeled by row header and, for multi-column rows, column header.
func matrixCells(q *domain.Question, field *goquery.Selection, root, inputName string) {
	table := field.Find("table").First()
	var headers []string
	table.Find("tr").First().Children().Each(func(_ int, c *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(c.Text()))
	})
	n := 0
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		controls := tr.Find("textarea, input[type=text], input:not([type])")
		if controls.Length() == 0 {
			return
		}
		rowLabel := strings.TrimSpace(tr.Find("th").First().Text())
		if rowLabel == "" {
			rowLabel = strings.TrimSpace(tr.Children().First().Text())
		}
		controls.Each(func(_ int, c *goquery.Selection) {
			key := c.AttrOr("name", c.AttrOr("id", ""))
			if key == "" {
				key = fmt.Sprintf("%s_%d", inputName, n)
			}
			label := rowLabel
			if controls.Length() > 1 {
				col := c.Closest("td, th").Index()
				if col >= 0 && col < len(headers) && headers[col] != "" {
					label = strings.TrimSpace(label + " / " + headers[col])
				}
			}
			if label == "" {
				label = fmt.Sprintf("Item %d", n+1)
			}
			addCell(q, key, label, controlSelector(root, c, "textarea"))
			n++
		})
	})
}

// gapCells records the blanks of an inline gap-fill question.
func gapCells(q *domain.Question, field *goquery.Selection, root, inputName string) {
	field.Find("textarea, input[type=text], input:not([type])").Each(func(i int, c *goquery.Selection) {
		key := c.AttrOr("name", c.AttrOr("id", ""))
		if key == "" {
			key = fmt.Sprintf("%s_%d", inputName, i)
		}
		label := strings.TrimSpace(c.AttrOr("placeholder", ""))
		if label == "" {
			label = fmt.Sprintf("Blank %d", i+1)
		}
		addCell(q, key, label, controlSelector(root, c, "input"))
	})
}

func addCell(q *domain.Question, key, label, sel string) {
	if q.SubFields == nil {
		q.SubFields = make(map[string]string)
		q.Handle.Cells = make(map[string]string)
	}
	if _, dup := q.SubFields[key]; dup {
		return
	}
	q.SubFields[key] = label
	q.SubFieldOrder = append(q.SubFieldOrder, key)
	q.Handle.Cells[key] = sel
}

func textInput(field *goquery.Selection, root string) string {
	if ta := field.Find("textarea").First(); ta.Length() > 0 {
		return controlSelector(root, ta, "textarea")
	}
	if in := field.Find("input[type=text], input:not([type])").First(); in.Length() > 0 {
		return controlSelector(root, in, "input")
	}
	return ""
}

// controlSelector prefers the control's id, then its name, then the first
// element of tag under root.
func controlSelector(root string, s *goquery.Selection, tag string) string {
	if id := s.AttrOr("id", ""); id != "" {
		return cssID(id)
	}
	if name := s.AttrOr("name", ""); name != "" {
		return fmt.Sprintf(`%s [name="%s"]`, root, name)
	}
	return root + " " + tag
}

var plainID = regexp.MustCompile(`^[A-Za-z][\w-]*$`)

func cssID(id string) string {
	if plainID.MatchString(id) {
		return "#" + id
	}
	return fmt.Sprintf(`[id="%s"]`, strings.ReplaceAll(id, `"`, `\"`))
}
