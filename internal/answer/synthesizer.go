package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autosurvey/internal/domain"
	"autosurvey/internal/logger"
	"autosurvey/internal/metrics"
)

// Completer is the LLM capability the synthesizer needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Options struct {
	// TopK caps the reference passages placed in the prompt.
	TopK int
	// ConfidenceThreshold flags answers below it for review. Nil disables.
	ConfidenceThreshold *float64
	// SystemPrompt replaces the built-in instructions. The format hint for
	// the question type is always appended.
	SystemPrompt string
	// Timeout bounds each LLM call. Zero leaves it to the client.
	Timeout time.Duration
}

// Synthesizer produces validated answers from an LLM.
type Synthesizer struct {
	llm     Completer
	log     *logger.Logger
	metrics *metrics.Metrics
	opts    Options
}

func NewSynthesizer(llm Completer, log *logger.Logger, m *metrics.Metrics, opts Options) *Synthesizer {
	if log == nil {
		log = logger.Nop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Synthesizer{llm: llm, log: log, metrics: m, opts: opts}
}

type reply struct {
	Answer     json.RawMessage `json:"answer"`
	Confidence json.RawMessage `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// Synthesize asks the LLM for an answer and validates it, retrying once
// with a correction instruction when the reply cannot be parsed or fails
// validation. It never returns an unvalidated answer: persistent problems
// yield a Failed answer whose reasoning names the last error.
func (s *Synthesizer) Synthesize(ctx context.Context, q domain.Question, refs []domain.Reference) domain.Answer {
	log := s.log.With("question_id", q.ID, "type", q.Type.String())
	system := systemPrompt(s.opts.SystemPrompt, q.Type)
	user := userPrompt(q, refs, s.opts.TopK)

	prompt := user
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		raw, err := s.complete(ctx, system, prompt)
		if err != nil {
			log.Warn("llm call failed", "attempt", attempt, "error", err)
			a := domain.FailedAnswer(q.ID, fmt.Sprintf("llm call failed: %v", err))
			a.References = refs
			return a
		}
		a, err := s.parse(q, raw)
		if err == nil {
			a.References = refs
			if th := s.opts.ConfidenceThreshold; th != nil {
				a.NeedsReview = a.NeedsConfirmation(*th)
			}
			log.Debug("answer generated", "attempt", attempt, "needs_review", a.NeedsReview)
			return a
		}
		lastErr = err
		log.Warn("llm reply rejected", "attempt", attempt, "error", err)
		prompt = correctionPrompt(user, raw, err)
	}
	a := domain.FailedAnswer(q.ID, lastErr.Error())
	a.References = refs
	return a
}

func (s *Synthesizer) complete(ctx context.Context, system, user string) (string, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := s.llm.Complete(ctx, system, user)
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.metrics.LLMRequest(outcome, time.Since(start))
	return raw, err
}

// parse extracts, decodes and validates one LLM reply.
func (s *Synthesizer) parse(q domain.Question, raw string) (domain.Answer, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return domain.Answer{}, err
	}
	var r reply
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return domain.Answer{}, &domain.ParseError{Reason: err.Error(), Raw: raw}
	}
	content, err := DecodeContent(q, r.Answer)
	if err != nil {
		return domain.Answer{}, err
	}
	if err := Validate(q, content); err != nil {
		return domain.Answer{}, err
	}
	return domain.Answer{
		QuestionID:  q.ID,
		Content:     content,
		Status:      domain.StatusAIGenerated,
		Confidence:  parseConfidence(r.Confidence),
		Reasoning:   strings.TrimSpace(r.Reasoning),
		GeneratedAt: time.Now(),
	}, nil
}

// parseConfidence accepts numbers, numeric strings and percentages and
// clamps to [0,1]. Unusable values mean no confidence.
func parseConfidence(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		pct := strings.HasSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return nil
		}
		if pct {
			f /= 100
		}
		v = f
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return domain.Float(v)
}

// Preset validates a caller-supplied raw answer for q without the LLM.
// Valid presets count as confirmed by the user.
func Preset(q domain.Question, raw json.RawMessage) domain.Answer {
	content, err := DecodeContent(q, raw)
	if err == nil {
		err = Validate(q, content)
	}
	if err != nil {
		return domain.FailedAnswer(q.ID, err.Error())
	}
	return domain.Answer{
		QuestionID:  q.ID,
		Content:     content,
		Status:      domain.StatusUserConfirmed,
		Confidence:  domain.Float(1),
		Reasoning:   "preset answer",
		GeneratedAt: time.Now(),
	}
}
