package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"autosurvey/internal/domain"
	"autosurvey/internal/fill"
	"autosurvey/internal/knowledge"
)

type fakeSynth struct {
	answers map[string]domain.Answer
	calls   []string
	refs    map[string]int
}

func (f *fakeSynth) Synthesize(_ context.Context, q domain.Question, refs []domain.Reference) domain.Answer {
	f.calls = append(f.calls, q.ID)
	if f.refs == nil {
		f.refs = map[string]int{}
	}
	f.refs[q.ID] = len(refs)
	if a, ok := f.answers[q.ID]; ok {
		return a
	}
	return domain.FailedAnswer(q.ID, "no scripted answer")
}

type fakeFiller struct {
	filled []string
	errs   map[string]error
	// cancel, when set, is called after the named question is filled.
	cancelAfter string
	cancel      context.CancelFunc
	last        domain.Answer
}

func (f *fakeFiller) Fill(_ context.Context, _ fill.Driver, q domain.Question, a domain.Answer) error {
	if err := f.errs[q.ID]; err != nil {
		return err
	}
	f.filled = append(f.filled, q.ID)
	f.last = a
	if f.cancel != nil && q.ID == f.cancelAfter {
		f.cancel()
	}
	return nil
}

type fakeRetriever struct {
	queries []string
	err     error
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, _ knowledge.RetrieveParams) ([]domain.Reference, error) {
	f.queries = append(f.queries, query)
	return []domain.Reference{{DocumentID: "d", Content: "ctx"}}, f.err
}

type fakeRecorder struct{ saved int }

func (f *fakeRecorder) SaveSession(context.Context, *domain.Session) error {
	f.saved++
	return nil
}

type fakeSubmitter struct {
	res   domain.SubmissionResult
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(context.Context) (domain.SubmissionResult, error) {
	f.calls++
	return f.res, f.err
}

type fakeConfirmer struct {
	ok    bool
	calls int
}

func (f *fakeConfirmer) Confirm(context.Context, *domain.Session) (bool, error) {
	f.calls++
	return f.ok, nil
}

func questionnaire() domain.Questionnaire {
	return domain.Questionnaire{
		URL: "https://example.com/s",
		Questions: []domain.Question{
			{ID: "q2", Type: domain.SingleChoice, Content: "Color?", Options: []string{"red", "blue"}, Order: 2, Required: true},
			{ID: "q1", Type: domain.FillBlank, Content: "Name?", Order: 1, Required: true},
			{ID: "q3", Type: domain.MultipleChoice, Content: "Tools?", Options: []string{"a", "b", "c"}, Order: 3},
		},
	}
}

func aiAnswer(id string, c domain.Content, conf float64, review bool) domain.Answer {
	return domain.Answer{QuestionID: id, Content: c, Status: domain.StatusAIGenerated, Confidence: domain.Float(conf), NeedsReview: review}
}

func scriptedSynth() *fakeSynth {
	return &fakeSynth{answers: map[string]domain.Answer{
		"q1": aiAnswer("q1", domain.Text("Ann"), 0.9, false),
		"q2": aiAnswer("q2", domain.Index(1), 0.8, false),
		"q3": aiAnswer("q3", domain.Indices{0, 2}, 0.4, true),
	}}
}

func TestRunFullAuto(t *testing.T) {
	synth, filler, retr, rec := scriptedSynth(), &fakeFiller{}, &fakeRetriever{}, &fakeRecorder{}
	o := New(retr, synth, filler, rec, nil, nil)

	var events []Event
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{
		Mode:    domain.ModeFullAuto,
		Options: RunOptions{UseKnowledge: true},
	}, func(ev Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Status != domain.SessionCompleted {
		t.Fatalf("status: want=completed got=%s", sess.Status)
	}
	if got := fmt.Sprint(synth.calls); got != "[q1 q2 q3]" {
		t.Fatalf("questions must run in order, got %s", got)
	}
	if len(retr.queries) != 3 || synth.refs["q2"] != 1 {
		t.Fatalf("retrieval: queries=%d refs=%d", len(retr.queries), synth.refs["q2"])
	}
	for _, p := range sess.Progress {
		if p.State != domain.StateFilled {
			t.Fatalf("%s state: want=filled got=%s", p.QuestionID, p.State)
		}
	}
	if len(events) != 4 || events[3].Kind != EventComplete {
		t.Fatalf("events: want 3 progress + complete, got %d", len(events))
	}
	if ev := events[0]; ev.Current != 1 || ev.Total != 3 || ev.QuestionID != "q1" || ev.Answer == nil {
		t.Fatalf("first event: %+v", ev)
	}
	if rec.saved != 1 {
		t.Fatalf("persisted: want=1 got=%d", rec.saved)
	}
	st := sess.Stats()
	if st.Filled != 3 || st.NeedsReview != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestRunDegradedRetrievalStillAnswers(t *testing.T) {
	retr := &fakeRetriever{err: fmt.Errorf("rerank down: %w", domain.ErrRetrievalDegraded)}
	o := New(retr, scriptedSynth(), &fakeFiller{}, nil, nil, nil)
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{Mode: domain.ModeFullAuto, Options: RunOptions{UseKnowledge: true}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := sess.Stats(); st.Filled != 3 {
		t.Fatalf("filled: want=3 got=%d", st.Filled)
	}
}

func TestRunUserSelect(t *testing.T) {
	synth := scriptedSynth()
	o := New(nil, synth, &fakeFiller{}, nil, nil, nil)
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{Mode: domain.ModeUserSelect, SelectedIDs: []string{"q3"}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fmt.Sprint(synth.calls); got != "[q3]" {
		t.Fatalf("calls: got %s", got)
	}
	if p := sess.ProgressFor("q1"); p.Targeted || p.State != domain.StateNotStarted {
		t.Fatalf("untargeted question touched: %+v", p)
	}
	if _, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{Mode: domain.ModeUserSelect, SelectedIDs: []string{"nope"}}, nil); err == nil {
		t.Fatalf("unknown question id should fail")
	}
}

func TestRunPresets(t *testing.T) {
	synth, filler := scriptedSynth(), &fakeFiller{}
	o := New(nil, synth, filler, nil, nil, nil)
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{
		Mode:    domain.ModePresetAnswers,
		Presets: []json.RawMessage{json.RawMessage(`"Bob"`), json.RawMessage(`7`), json.RawMessage(`null`)},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(synth.calls) != 0 {
		t.Fatalf("preset mode must not call the LLM")
	}
	q1 := sess.ProgressFor("q1")
	if q1.State != domain.StateFilled || q1.Answer.Status != domain.StatusUserConfirmed || *q1.Answer.Confidence != 1 {
		t.Fatalf("q1: state=%s answer=%+v", q1.State, q1.Answer)
	}
	if q2 := sess.ProgressFor("q2"); q2.State != domain.StateFailed || q2.Error == "" {
		t.Fatalf("out of range preset: state=%s error=%q", q2.State, q2.Error)
	}
	if q3 := sess.ProgressFor("q3"); q3.Targeted {
		t.Fatalf("null preset should leave q3 untargeted")
	}
}

func TestRunIgnoresExtraPresets(t *testing.T) {
	filler := &fakeFiller{}
	o := New(nil, scriptedSynth(), filler, nil, nil, nil)
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{
		Mode: domain.ModePresetAnswers,
		Presets: []json.RawMessage{
			json.RawMessage(`"Bob"`), json.RawMessage(`0`), json.RawMessage(`[1]`), json.RawMessage(`"extra"`),
		},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fmt.Sprint(filler.filled); got != "[q1 q2 q3]" {
		t.Fatalf("filled: want=[q1 q2 q3] got=%s", got)
	}
	if st := sess.Stats(); st.Targeted != 3 || st.Failed != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestRunFatalAborts(t *testing.T) {
	filler := &fakeFiller{errs: map[string]error{"q2": fmt.Errorf("tab crashed: %w", domain.ErrSessionFatal)}}
	rec := &fakeRecorder{}
	o := New(nil, scriptedSynth(), filler, rec, nil, nil)
	var last Event
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{Mode: domain.ModeFullAuto}, func(ev Event) { last = ev })
	if !errors.Is(err, domain.ErrSessionFatal) {
		t.Fatalf("want fatal error, got %v", err)
	}
	if sess == nil || sess.Status != domain.SessionFatal {
		t.Fatalf("partial session must be returned with fatal status")
	}
	if p := sess.ProgressFor("q3"); p.State != domain.StateNotStarted {
		t.Fatalf("q3 should not start after fatal error, got %s", p.State)
	}
	if last.Kind != EventError || rec.saved != 1 {
		t.Fatalf("last event=%s saved=%d", last.Kind, rec.saved)
	}
}

func TestRunRecoverableFillError(t *testing.T) {
	filler := &fakeFiller{errs: map[string]error{"q2": &fill.FillError{QuestionID: "q2", Reason: "control not found"}}}
	o := New(nil, scriptedSynth(), filler, nil, nil, nil)
	var q2Event Event
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{Mode: domain.ModeFullAuto}, func(ev Event) {
		if ev.Kind == EventProgress && ev.QuestionID == "q2" {
			q2Event = ev
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	p := sess.ProgressFor("q2")
	if p.State != domain.StateFailed {
		t.Fatalf("q2: want=failed got=%s", p.State)
	}
	a := p.Answer
	if a.Status != domain.StatusFailed || a.Confidence != nil || a.NeedsReview {
		t.Fatalf("q2 answer: want failed without confidence, got %+v", a)
	}
	if !strings.Contains(a.Reasoning, "control not found") || a.Content != domain.Index(1) {
		t.Fatalf("q2 answer should keep content and explain the failure: %+v", a)
	}
	if q2Event.State != domain.StateFailed || !strings.Contains(q2Event.Reason, "control not found") {
		t.Fatalf("q2 event: state=%s reason=%q", q2Event.State, q2Event.Reason)
	}
	if q2Event.Answer == nil || q2Event.Answer.Status != domain.StatusFailed {
		t.Fatalf("q2 event answer: %+v", q2Event.Answer)
	}
	if p := sess.ProgressFor("q3"); p.State != domain.StateFilled {
		t.Fatalf("run must continue after a recoverable error, q3=%s", p.State)
	}
}

func TestRunCancellationBetweenQuestions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	filler := &fakeFiller{cancelAfter: "q1", cancel: cancel}
	o := New(nil, scriptedSynth(), filler, nil, nil, nil)
	sess, err := o.Run(ctx, nil, questionnaire(), RunRequest{Mode: domain.ModeFullAuto}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if sess.Status != domain.SessionCanceled {
		t.Fatalf("status: want=canceled got=%s", sess.Status)
	}
	if p := sess.ProgressFor("q1"); p.State != domain.StateFilled {
		t.Fatalf("in-flight question must finish, q1=%s", p.State)
	}
	if p := sess.ProgressFor("q2"); p.State != domain.StateNotStarted {
		t.Fatalf("q2 must not start, got %s", p.State)
	}
}

func completedSession(t *testing.T, visual bool) (*Orchestrator, *domain.Session, *fakeFiller) {
	t.Helper()
	filler := &fakeFiller{}
	o := New(nil, scriptedSynth(), filler, nil, nil, nil)
	sess, err := o.Run(context.Background(), nil, questionnaire(), RunRequest{Mode: domain.ModeFullAuto, Options: RunOptions{Visual: visual}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return o, sess, filler
}

func TestSubmitBlockedByReview(t *testing.T) {
	o, sess, _ := completedSession(t, false)
	sub := &fakeSubmitter{res: domain.SubmissionResult{Success: true}}
	if _, err := o.Submit(context.Background(), sess, sub, SubmitOptions{}); !errors.Is(err, ErrReviewPending) {
		t.Fatalf("want ErrReviewPending, got %v", err)
	}
	if sub.calls != 0 {
		t.Fatalf("submitter must not be called")
	}
	res, err := o.Submit(context.Background(), sess, sub, SubmitOptions{Force: true})
	if err != nil || !res.Success {
		t.Fatalf("forced submit: res=%+v err=%v", res, err)
	}
	if sess.Status != domain.SessionSubmitted {
		t.Fatalf("status: want=submitted got=%s", sess.Status)
	}
	if _, err := o.Submit(context.Background(), sess, sub, SubmitOptions{Force: true}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("second submit: want ErrNotReady got %v", err)
	}
}

func TestSubmitVisualConfirmation(t *testing.T) {
	o, sess, _ := completedSession(t, true)
	sub := &fakeSubmitter{res: domain.SubmissionResult{Success: true}}

	for _, opts := range []SubmitOptions{{}, {Force: true}} {
		if _, err := o.Submit(context.Background(), sess, sub, opts); !errors.Is(err, ErrConfirmationRequired) {
			t.Fatalf("visual submit without confirmer (force=%v): want ErrConfirmationRequired got %v", opts.Force, err)
		}
	}
	if sub.calls != 0 || sess.Status != domain.SessionCompleted {
		t.Fatalf("submitter must not run unconfirmed: calls=%d status=%s", sub.calls, sess.Status)
	}

	declined := &fakeConfirmer{ok: false}
	if _, err := o.Submit(context.Background(), sess, sub, SubmitOptions{Confirmer: declined}); !errors.Is(err, ErrSubmitDeclined) {
		t.Fatalf("want ErrSubmitDeclined, got %v", err)
	}
	approved := &fakeConfirmer{ok: true}
	if _, err := o.Submit(context.Background(), sess, sub, SubmitOptions{Confirmer: approved}); err != nil {
		t.Fatalf("approved submit: %v", err)
	}
	if a := sess.ProgressFor("q3").Answer; a.Status != domain.StatusUserConfirmed || a.NeedsReview {
		t.Fatalf("approval should confirm reviewed answers: %+v", a)
	}
}

func TestSubmitFailureAndNotReady(t *testing.T) {
	o, sess, _ := completedSession(t, false)
	sub := &fakeSubmitter{res: domain.SubmissionResult{Success: false, Message: "rejected"}}
	if _, err := o.Submit(context.Background(), sess, sub, SubmitOptions{Force: true}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sess.Status != domain.SessionSubmitFailed {
		t.Fatalf("status: want=submit_failed got=%s", sess.Status)
	}

	running := &domain.Session{Status: domain.SessionCanceled}
	if _, err := o.Submit(context.Background(), running, sub, SubmitOptions{Force: true}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("canceled session: want ErrNotReady got %v", err)
	}
}

func TestConfirmAnswer(t *testing.T) {
	o, sess, filler := completedSession(t, false)

	if err := o.ConfirmAnswer(context.Background(), nil, sess, "q3", nil); err != nil {
		t.Fatalf("confirm as is: %v", err)
	}
	if a := sess.ProgressFor("q3").Answer; a.Status != domain.StatusUserConfirmed || a.NeedsReview {
		t.Fatalf("q3 not confirmed: %+v", a)
	}

	if err := o.ConfirmAnswer(context.Background(), nil, sess, "q2", domain.Index(9)); err == nil {
		t.Fatalf("invalid edit must be rejected")
	}
	if err := o.ConfirmAnswer(context.Background(), &nopDriver{}, sess, "q3", domain.Indices{0, 1}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := fmt.Sprint(filler.last.Content); got != "[2 1]" {
		t.Fatalf("checkbox refill should toggle the difference, got %s", got)
	}
	if a := sess.ProgressFor("q3").Answer; fmt.Sprint(a.Content) != "[0 1]" || *a.Confidence != 1 {
		t.Fatalf("edited answer: %+v", a)
	}
}

type nopDriver struct{}

func (nopDriver) Exists(context.Context, string) (bool, error)      { return true, nil }
func (nopDriver) Click(context.Context, string) error               { return nil }
func (nopDriver) SetText(context.Context, string, string) error     { return nil }
func (nopDriver) SelectValue(context.Context, string, string) error { return nil }
func (nopDriver) SelectText(context.Context, string, string) error  { return nil }
func (nopDriver) WaitReady(context.Context, string) error           { return nil }
