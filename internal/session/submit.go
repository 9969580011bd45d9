package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"autosurvey/internal/answer"
	"autosurvey/internal/domain"
	"autosurvey/internal/fill"
)

var (
	ErrNotReady             = errors.New("session is not ready to submit")
	ErrReviewPending        = errors.New("answers still need review")
	ErrSubmitDeclined       = errors.New("submission declined")
	ErrConfirmationRequired = errors.New("visual session needs a confirmation before submit")
)

// Submitter performs the browser-level submit.
type Submitter interface {
	Submit(ctx context.Context) (domain.SubmissionResult, error)
}

// Confirmer asks a person to approve the filled page before it is sent.
type Confirmer interface {
	Confirm(ctx context.Context, sess *domain.Session) (bool, error)
}

type SubmitOptions struct {
	// Force submits even when answers await review.
	Force     bool
	Confirmer Confirmer
}

// Submit sends the filled form. Every targeted question must be terminal.
// Answers flagged for review block submission unless a Confirmer approves
// (visual sessions) or Force is set. Visual sessions always wait on the
// Confirmer, and Force does not replace it.
func (o *Orchestrator) Submit(ctx context.Context, sess *domain.Session, sub Submitter, opts SubmitOptions) (domain.SubmissionResult, error) {
	switch sess.Status {
	case domain.SessionCompleted, domain.SessionSubmitFailed:
	default:
		return domain.SubmissionResult{}, fmt.Errorf("%w: status %s", ErrNotReady, sess.Status)
	}
	for _, p := range sess.Progress {
		if p.Targeted && !p.State.Terminal() {
			return domain.SubmissionResult{}, fmt.Errorf("%w: question %s is %s", ErrNotReady, p.QuestionID, p.State)
		}
	}

	pending := pendingReview(sess)
	confirmed := false
	if sess.Visual {
		if opts.Confirmer == nil {
			return domain.SubmissionResult{}, ErrConfirmationRequired
		}
		ok, err := opts.Confirmer.Confirm(ctx, sess)
		if err != nil {
			return domain.SubmissionResult{}, fmt.Errorf("confirm submission: %w", err)
		}
		if !ok {
			return domain.SubmissionResult{}, ErrSubmitDeclined
		}
		confirmed = true
	}
	if len(pending) > 0 && !confirmed && !opts.Force {
		return domain.SubmissionResult{}, fmt.Errorf("%w: %d answers", ErrReviewPending, len(pending))
	}
	if confirmed {
		for _, a := range pending {
			a.Status = domain.StatusUserConfirmed
			a.NeedsReview = false
		}
	}

	log := o.log.With("session_id", sess.ID)
	log.Info("submitting", "forced", opts.Force && !confirmed, "pending_review", len(pending))
	res, err := sub.Submit(ctx)
	if res.SubmittedAt.IsZero() {
		res.SubmittedAt = time.Now()
	}
	sess.Submission = &res
	switch {
	case err != nil && domain.IsFatal(err):
		sess.Status = domain.SessionFatal
		sess.Error = err.Error()
	case err != nil:
		sess.Status = domain.SessionSubmitFailed
		res.Message = err.Error()
	case res.Success:
		sess.Status = domain.SessionSubmitted
	default:
		sess.Status = domain.SessionSubmitFailed
	}
	o.metrics.SessionFinished(sess.Status.String())
	o.persist(ctx, sess)
	log.Info("submission finished", "status", sess.Status.String(), "message", res.Message)
	return res, err
}

func pendingReview(sess *domain.Session) []*domain.Answer {
	var out []*domain.Answer
	for i := range sess.Progress {
		a := sess.Progress[i].Answer
		if a != nil && a.NeedsReview && a.Status == domain.StatusAIGenerated {
			out = append(out, a)
		}
	}
	return out
}

// ConfirmAnswer lets a reviewer accept a filled answer, optionally with
// new content. Changed content is validated and written to the page through
// d before the answer is promoted to UserConfirmed. A nil content confirms
// the current answer as is.
func (o *Orchestrator) ConfirmAnswer(ctx context.Context, d fill.Driver, sess *domain.Session, questionID string, content domain.Content) error {
	p := sess.ProgressFor(questionID)
	if p == nil {
		return fmt.Errorf("unknown question %q", questionID)
	}
	if p.State != domain.StateFilled || p.Answer == nil {
		return fmt.Errorf("question %s is %s and cannot be confirmed", questionID, p.State)
	}
	var q domain.Question
	for _, cand := range sess.Questionnaire.Questions {
		if cand.ID == questionID {
			q = cand
			break
		}
	}
	cur := p.Answer
	if content == nil {
		content = cur.Content
	}
	if err := answer.Validate(q, content); err != nil {
		return err
	}
	if !reflect.DeepEqual(content, cur.Content) {
		if d == nil {
			return errors.New("changing an answer needs a browser")
		}
		delta := domain.Answer{QuestionID: q.ID, Content: refillContent(q, cur.Content, content), Status: domain.StatusUserConfirmed}
		if !emptySelection(delta.Content) {
			if err := o.filler.Fill(ctx, d, refillQuestion(q), delta); err != nil {
				return fmt.Errorf("refill %s: %w", q.ID, err)
			}
		}
		cur.Content = content
		cur.Confidence = domain.Float(1)
		cur.Reasoning = "edited by reviewer"
	}
	cur.Status = domain.StatusUserConfirmed
	cur.NeedsReview = false
	o.log.Info("answer confirmed", "session_id", sess.ID, "question_id", q.ID)
	o.persist(ctx, sess)
	return nil
}

// refillContent returns what must be clicked or typed to turn old into
// next. Checkbox clicks toggle, so only the symmetric difference is
// clicked.
func refillContent(q domain.Question, old, next domain.Content) domain.Content {
	if q.Type != domain.MultipleChoice {
		return next
	}
	was, _ := old.(domain.Indices)
	now, _ := next.(domain.Indices)
	in := func(set domain.Indices, v int) bool {
		for _, s := range set {
			if s == v {
				return true
			}
		}
		return false
	}
	var toggle domain.Indices
	for _, i := range was {
		if !in(now, i) {
			toggle = append(toggle, i)
		}
	}
	for _, i := range now {
		if !in(was, i) {
			toggle = append(toggle, i)
		}
	}
	return toggle
}

// refillQuestion relaxes required so partial toggles pass the fill checks.
func refillQuestion(q domain.Question) domain.Question {
	if q.Type == domain.MultipleChoice {
		q.Required = false
	}
	return q
}

func emptySelection(c domain.Content) bool {
	idx, ok := c.(domain.Indices)
	return ok && len(idx) == 0
}
