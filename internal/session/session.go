package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"autosurvey/internal/answer"
	"autosurvey/internal/domain"
	"autosurvey/internal/fill"
	"autosurvey/internal/knowledge"
	"autosurvey/internal/logger"
	"autosurvey/internal/metrics"
)

// Retriever supplies knowledge passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, p knowledge.RetrieveParams) ([]domain.Reference, error)
}

// Synthesizer produces a validated or Failed answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, q domain.Question, refs []domain.Reference) domain.Answer
}

// Filler writes an answer into the page.
type Filler interface {
	Fill(ctx context.Context, d fill.Driver, q domain.Question, a domain.Answer) error
}

// Recorder persists sessions.
type Recorder interface {
	SaveSession(ctx context.Context, sess *domain.Session) error
}

type RunOptions struct {
	// UseKnowledge enables retrieval before synthesis.
	UseKnowledge bool
	Retrieval    knowledge.RetrieveParams
	// Visual runs with a visible browser; Submit then waits on a Confirmer.
	Visual bool
}

type RunRequest struct {
	Mode domain.Mode
	// SelectedIDs are the questions answered in user-select mode.
	SelectedIDs []string
	// Presets are raw answers matched to questions by position in Order.
	// A null entry leaves its question untouched.
	Presets []json.RawMessage
	Options RunOptions
}

type Orchestrator struct {
	retriever Retriever
	synth     Synthesizer
	filler    Filler
	recorder  Recorder
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// New wires an orchestrator. retriever and recorder may be nil.
func New(retriever Retriever, synth Synthesizer, filler Filler, recorder Recorder, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		retriever: retriever,
		synth:     synth,
		filler:    filler,
		recorder:  recorder,
		log:       log,
		metrics:   m,
	}
}

// Run answers the targeted questions one after another. Cancellation is
// honored between questions only. A fatal browser error stops the run and
// is returned together with the partial session, which is persisted either
// way.
func (o *Orchestrator) Run(ctx context.Context, d fill.Driver, qn domain.Questionnaire, req RunRequest, onEvent func(Event)) (*domain.Session, error) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	questions := append([]domain.Question(nil), qn.Questions...)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	presets, targeted, err := plan(questions, req, o.log)
	if err != nil {
		return nil, err
	}

	sess := &domain.Session{
		ID:            uuid.NewString(),
		Questionnaire: qn,
		Mode:          req.Mode,
		Visual:        req.Options.Visual,
		Status:        domain.SessionRunning,
		StartedAt:     time.Now(),
	}
	for _, q := range questions {
		sess.Progress = append(sess.Progress, domain.QuestionProgress{
			QuestionID: q.ID,
			Type:       q.Type,
			Targeted:   targeted[q.ID],
			State:      domain.StateNotStarted,
		})
	}
	log := o.log.With("session_id", sess.ID, "mode", req.Mode.String())
	log.Info("session started", "url", qn.URL, "questions", len(questions), "targeted", len(targeted))

	total := len(targeted)
	current := 0
	var runErr error
	for i, q := range questions {
		if !targeted[q.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			sess.Status = domain.SessionCanceled
			runErr = err
			log.Warn("session canceled", "answered", current)
			break
		}
		current++
		p := &sess.Progress[i]
		err := o.answerOne(context.WithoutCancel(ctx), d, q, p, presets, req, log)
		onEvent(progressEvent(current, total, p))
		if domain.IsFatal(err) {
			sess.Status = domain.SessionFatal
			sess.Error = err.Error()
			runErr = err
			log.Error("session aborted", "question_id", q.ID, "error", err)
			break
		}
	}
	if sess.Status == domain.SessionRunning {
		sess.Status = domain.SessionCompleted
	}
	now := time.Now()
	sess.FinishedAt = &now
	o.metrics.SessionFinished(sess.Status.String())
	o.persist(ctx, sess)

	st := sess.Stats()
	log.Info("session finished", "status", sess.Status.String(), "filled", st.Filled, "failed", st.Failed, "needs_review", st.NeedsReview)
	if runErr != nil {
		onEvent(Event{Kind: EventError, Current: current, Total: total, Err: runErr, Session: sess})
		return sess, runErr
	}
	onEvent(Event{Kind: EventComplete, Current: current, Total: total, Session: sess})
	return sess, nil
}

// plan resolves which questions a run targets and maps presets to them.
func plan(questions []domain.Question, req RunRequest, log *logger.Logger) (map[string]json.RawMessage, map[string]bool, error) {
	targeted := make(map[string]bool, len(questions))
	switch req.Mode {
	case domain.ModeFullAuto:
		for _, q := range questions {
			targeted[q.ID] = true
		}
		return nil, targeted, nil
	case domain.ModeUserSelect:
		known := make(map[string]bool, len(questions))
		for _, q := range questions {
			known[q.ID] = true
		}
		for _, id := range req.SelectedIDs {
			if !known[id] {
				return nil, nil, fmt.Errorf("unknown question %q", id)
			}
			targeted[id] = true
		}
		if len(targeted) == 0 {
			return nil, nil, errors.New("user-select mode needs at least one question")
		}
		return nil, targeted, nil
	case domain.ModePresetAnswers:
		raws := req.Presets
		if len(raws) > len(questions) {
			log.Warn("ignoring presets past the last question", "presets", len(raws), "questions", len(questions))
			raws = raws[:len(questions)]
		}
		presets := make(map[string]json.RawMessage, len(raws))
		for i, raw := range raws {
			if t := strings.TrimSpace(string(raw)); t == "" || t == "null" {
				continue
			}
			presets[questions[i].ID] = raw
			targeted[questions[i].ID] = true
		}
		return presets, targeted, nil
	}
	return nil, nil, fmt.Errorf("unsupported mode %s", req.Mode)
}

// answerOne drives one question through its states. Only fatal browser
// errors are returned; everything else ends in StateFailed.
func (o *Orchestrator) answerOne(ctx context.Context, d fill.Driver, q domain.Question, p *domain.QuestionProgress, presets map[string]json.RawMessage, req RunRequest, log *logger.Logger) error {
	log = log.With("question_id", q.ID, "type", q.Type.String())
	var a domain.Answer
	if raw, ok := presets[q.ID]; ok {
		o.advance(p, domain.StateValidating)
		a = answer.Preset(q, raw)
	} else {
		var refs []domain.Reference
		if o.retriever != nil && req.Options.UseKnowledge {
			o.advance(p, domain.StateRetrieving)
			var err error
			refs, err = o.retriever.Retrieve(ctx, retrievalQuery(q), req.Options.Retrieval)
			if err != nil {
				log.Warn("retrieval degraded", "error", err, "references", len(refs))
			}
		}
		o.advance(p, domain.StateSynthesizing)
		a = o.synth.Synthesize(ctx, q, refs)
		o.advance(p, domain.StateValidating)
		if a.Status != domain.StatusFailed {
			if err := answer.Validate(q, a.Content); err != nil {
				a = domain.FailedAnswer(q.ID, err.Error())
			}
		}
	}
	p.Answer = &a
	if a.Status == domain.StatusFailed {
		o.failQuestion(p, a.Reasoning)
		log.Warn("no usable answer", "reason", a.Reasoning)
		return nil
	}

	o.advance(p, domain.StateFilling)
	if err := o.filler.Fill(ctx, d, q, a); err != nil {
		// Content and references stay for the audit trail.
		failed := domain.FailedAnswer(q.ID, err.Error())
		failed.Content = a.Content
		failed.References = a.References
		p.Answer = &failed
		o.failQuestion(p, err.Error())
		if domain.IsFatal(err) {
			return err
		}
		log.Warn("fill failed", "error", err)
		return nil
	}
	o.advance(p, domain.StateFilled)
	return nil
}

func (o *Orchestrator) advance(p *domain.QuestionProgress, next domain.QuestionState) {
	if !p.State.CanAdvance(next) {
		o.log.Error("illegal state transition", "question_id", p.QuestionID, "from", p.State.String(), "to", next.String())
		return
	}
	p.State = next
	if next.Terminal() {
		o.metrics.QuestionFinished(p.Type.String(), next.String())
	}
}

func (o *Orchestrator) failQuestion(p *domain.QuestionProgress, reason string) {
	p.Error = reason
	o.advance(p, domain.StateFailed)
}

// retrievalQuery is the question text followed by its option labels.
func retrievalQuery(q domain.Question) string {
	if len(q.Options) == 0 {
		return q.Content
	}
	return q.Content + "\n" + strings.Join(q.Options, " ")
}

func (o *Orchestrator) persist(ctx context.Context, sess *domain.Session) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.SaveSession(context.WithoutCancel(ctx), sess); err != nil {
		o.log.Error("persist session failed", "session_id", sess.ID, "error", err)
	}
}
