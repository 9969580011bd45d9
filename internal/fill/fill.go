package fill

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"autosurvey/internal/domain"
	"autosurvey/internal/logger"
	"autosurvey/internal/metrics"
)

// Engine writes validated answers into the page through a Driver.
type Engine struct {
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewEngine(log *logger.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{log: log, metrics: m}
}

// Fill dispatches on q.Type. Controls are located only through q.Handle.
// Errors are *FillError unless the driver reported a fatal session error,
// which is returned untouched.
func (e *Engine) Fill(ctx context.Context, d Driver, q domain.Question, a domain.Answer) error {
	if a.Status == domain.StatusFailed || a.Content == nil {
		return e.fail(q, "no usable answer", nil)
	}
	var err error
	switch q.Type {
	case domain.SingleChoice, domain.TrueFalse:
		err = e.fillRadio(ctx, d, q, a.Content)
	case domain.MultipleChoice:
		err = e.fillCheckbox(ctx, d, q, a.Content)
	case domain.FillBlank, domain.Essay:
		err = e.fillText(ctx, d, q, a.Content)
	case domain.Dropdown:
		err = e.fillSelect(ctx, d, q, a.Content)
	case domain.MatrixFill, domain.MultipleEssay, domain.GapFill:
		err = e.fillCells(ctx, d, q, a.Content)
	case domain.CascadeDropdown:
		err = e.fillCascade(ctx, d, q, a.Content)
	default:
		err = e.fail(q, "unsupported question type "+q.Type.String(), nil)
	}
	if err == nil {
		e.log.Debug("question filled", "question_id", q.ID, "type", q.Type.String())
	}
	return err
}

func (e *Engine) fail(q domain.Question, reason string, cause error) error {
	if domain.IsFatal(cause) {
		return cause
	}
	e.metrics.FillError(q.Type.String())
	return &FillError{QuestionID: q.ID, Reason: reason, Err: cause}
}

// driverErr classifies a driver error for q.
func (e *Engine) driverErr(q domain.Question, action string, err error) error {
	switch {
	case domain.IsFatal(err):
		return err
	case errors.Is(err, ErrNotFound):
		return e.fail(q, action+": control not found", err)
	case errors.Is(err, ErrNotInteractable):
		return e.fail(q, action+": control not interactable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return e.fail(q, action+": timed out", err)
	}
	return e.fail(q, action, err)
}

func (e *Engine) fillRadio(ctx context.Context, d Driver, q domain.Question, c domain.Content) error {
	i, ok := c.(domain.Index)
	if !ok {
		return e.fail(q, "want an option index, got "+c.Kind().String(), nil)
	}
	return e.clickOption(ctx, d, q, int(i))
}

func (e *Engine) fillCheckbox(ctx context.Context, d Driver, q domain.Question, c domain.Content) error {
	idx, ok := c.(domain.Indices)
	if !ok {
		return e.fail(q, "want option indices, got "+c.Kind().String(), nil)
	}
	if len(idx) == 0 && q.Required {
		return e.fail(q, "required question has no selected option", nil)
	}
	for _, i := range idx {
		if err := e.clickOption(ctx, d, q, i); err != nil {
			return err
		}
	}
	return nil
}

// clickOption clicks the visible option container and falls back to the
// underlying input when the container cannot take the click.
func (e *Engine) clickOption(ctx context.Context, d Driver, q domain.Question, i int) error {
	if i < 0 || i >= len(q.Handle.Options) {
		return e.fail(q, "option index "+strconv.Itoa(i)+" out of range", nil)
	}
	err := d.Click(ctx, q.Handle.Options[i])
	if err == nil || domain.IsFatal(err) {
		return err
	}
	if fb := optionInput(q.Handle, i); fb != "" {
		e.log.Debug("option container click failed, trying input", "question_id", q.ID, "index", i, "error", err)
		if ferr := d.Click(ctx, fb); ferr == nil || domain.IsFatal(ferr) {
			return ferr
		}
	}
	return e.driverErr(q, "click option "+strconv.Itoa(i), err)
}

func optionInput(h domain.Handle, i int) string {
	if h.Input == "" || i >= len(h.OptionValues) {
		return ""
	}
	return h.Input + `[value="` + h.OptionValues[i] + `"]`
}

func (e *Engine) fillText(ctx context.Context, d Driver, q domain.Question, c domain.Content) error {
	s, ok := c.(domain.Text)
	if !ok {
		return e.fail(q, "want text, got "+c.Kind().String(), nil)
	}
	if q.Required && strings.TrimSpace(string(s)) == "" {
		return e.fail(q, "required value is empty", nil)
	}
	if q.Handle.Input == "" {
		return e.fail(q, "no text input recorded", nil)
	}
	if err := d.SetText(ctx, q.Handle.Input, string(s)); err != nil {
		return e.driverErr(q, "set text", err)
	}
	return nil
}

func (e *Engine) fillSelect(ctx context.Context, d Driver, q domain.Question, c domain.Content) error {
	i, ok := c.(domain.Index)
	if !ok {
		return e.fail(q, "want an option index, got "+c.Kind().String(), nil)
	}
	n := int(i)
	if n < 0 || n >= len(q.Options) {
		return e.fail(q, "option index "+strconv.Itoa(n)+" out of range", nil)
	}
	if q.Handle.Input == "" {
		return e.fail(q, "no select recorded", nil)
	}
	var err error
	if n < len(q.Handle.OptionValues) {
		err = d.SelectValue(ctx, q.Handle.Input, q.Handle.OptionValues[n])
	} else {
		err = d.SelectText(ctx, q.Handle.Input, q.Options[n])
	}
	if err != nil {
		return e.driverErr(q, "select option", err)
	}
	return nil
}

// fillCells writes one value per table cell in sub-field order. Keys
// without a value are left blank unless the question is required.
func (e *Engine) fillCells(ctx context.Context, d Driver, q domain.Question, c domain.Content) error {
	keys := q.SubFieldKeys()
	values := make(map[string]string, len(keys))
	switch v := c.(type) {
	case domain.Fields:
		for k, s := range v {
			values[k] = s
		}
	case domain.List:
		if len(keys) == 0 {
			return e.fail(q, "positional answer but no blanks recorded", nil)
		}
		if len(v) > len(keys) {
			return e.fail(q, strconv.Itoa(len(v))+" values for "+strconv.Itoa(len(keys))+" blanks", nil)
		}
		for i, s := range v {
			values[keys[i]] = s
		}
	default:
		return e.fail(q, "want sub-field values, got "+c.Kind().String(), nil)
	}
	for k := range values {
		if _, ok := q.SubFields[k]; !ok {
			return e.fail(q, "unknown sub-field "+k, nil)
		}
	}
	for _, k := range keys {
		s, ok := values[k]
		if !ok || strings.TrimSpace(s) == "" {
			if q.Required {
				return e.fail(q, "missing value for required sub-field "+k, nil)
			}
			continue
		}
		sel := q.Handle.Cells[k]
		if sel == "" {
			return e.fail(q, "no control recorded for sub-field "+k, nil)
		}
		if err := d.SetText(ctx, sel, s); err != nil {
			return e.driverErr(q, "set sub-field "+k, err)
		}
	}
	return nil
}

// fillCascade selects each level of a "/" separated path in order,
// waiting for the next level to populate before selecting in it.
func (e *Engine) fillCascade(ctx context.Context, d Driver, q domain.Question, c domain.Content) error {
	s, ok := c.(domain.Text)
	if !ok {
		return e.fail(q, "want text, got "+c.Kind().String(), nil)
	}
	var path []string
	for _, p := range strings.Split(string(s), "/") {
		if p = strings.TrimSpace(p); p != "" {
			path = append(path, p)
		}
	}
	if len(path) == 0 {
		if q.Required {
			return e.fail(q, "required value is empty", nil)
		}
		return nil
	}
	levels := q.Handle.Levels
	if len(levels) == 0 {
		// picker widgets keep the chosen path in one text input
		if q.Handle.Input == "" {
			return e.fail(q, "no cascade levels recorded", nil)
		}
		if err := d.SetText(ctx, q.Handle.Input, strings.Join(path, "/")); err != nil {
			return e.driverErr(q, "set cascade path", err)
		}
		return nil
	}
	if len(path) > len(levels) {
		return e.fail(q, strconv.Itoa(len(path))+" path parts for "+strconv.Itoa(len(levels))+" levels", nil)
	}
	for i, part := range path {
		if i > 0 {
			if err := d.WaitReady(ctx, levels[i]); err != nil {
				return e.driverErr(q, "wait for level "+strconv.Itoa(i+1), err)
			}
		}
		if err := d.SelectText(ctx, levels[i], part); err != nil {
			return e.driverErr(q, "select level "+strconv.Itoa(i+1), err)
		}
	}
	return nil
}
