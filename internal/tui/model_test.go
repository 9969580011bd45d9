package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"autosurvey/internal/domain"
	"autosurvey/internal/session"
)

type fakeSearcher struct {
	refs  []domain.Reference
	err   error
	calls []string
}

func (f *fakeSearcher) Search(_ context.Context, q string) ([]domain.Reference, error) {
	f.calls = append(f.calls, q)
	return f.refs, f.err
}

func typeText(t *testing.T, m tea.Model, s string) tea.Model {
	t.Helper()
	for _, r := range s {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func TestSearchRunsOnEnter(t *testing.T) {
	fs := &fakeSearcher{refs: []domain.Reference{
		{DocumentTitle: "faq", ChunkIndex: 0, Content: "Refunds take five days. Shipping is free.", Similarity: 0.9},
		{DocumentTitle: "faq", ChunkIndex: 1, Content: "Support is open daily.", Similarity: 0.6},
	}}
	var m tea.Model = New(fs, "2 documents")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = typeText(t, m, "refunds")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("enter should start a search")
	}
	m, _ = m.Update(cmd())
	got := m.(Model)
	if len(fs.calls) != 1 || fs.calls[0] != "refunds" {
		t.Fatalf("search calls: got=%v", fs.calls)
	}
	if len(got.results) != 2 || got.lastQuery != "refunds" {
		t.Fatalf("results: want=2 got=%d query=%q", len(got.results), got.lastQuery)
	}
	if !strings.Contains(got.renderCurrentResult(), "Result 1/2") {
		t.Fatalf("render: got=%q", got.renderCurrentResult())
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if c := m.(Model).cursor; c != 1 {
		t.Fatalf("cursor: want=1 got=%d", c)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if c := m.(Model).cursor; c != 0 {
		t.Fatalf("cursor wraps: want=0 got=%d", c)
	}
}

func TestSearchReportsErrors(t *testing.T) {
	var m tea.Model = New(&fakeSearcher{err: errors.New("boom")}, "")
	m, _ = m.Update(searchResultMsg{query: "x", err: errors.New("boom")})
	got := m.(Model)
	if !strings.Contains(got.status, "boom") || got.results != nil {
		t.Fatalf("status: got=%q results=%v", got.status, got.results)
	}

	refs := []domain.Reference{{Content: "kept"}}
	m, _ = m.Update(searchResultMsg{query: "x", refs: refs, err: errors.New("lexical fallback")})
	got = m.(Model)
	if len(got.results) != 1 || !strings.Contains(got.status, "degraded") {
		t.Fatalf("degraded: status=%q results=%d", got.status, len(got.results))
	}
}

func TestBestSentence(t *testing.T) {
	sentences := []string{"Shipping is free.", "Refunds take five days.", "Support is open."}
	if got := bestSentence(sentences, toTokenSet("how long do refunds take")); got != 1 {
		t.Fatalf("best: want=1 got=%d", got)
	}
	zh := []string{"今天天气很好。", "退款需要五天。"}
	if got := bestSentence(zh, toTokenSet("退款多久")); got != 1 {
		t.Fatalf("best zh: want=1 got=%d", got)
	}
}

func TestTokensSplitHan(t *testing.T) {
	got := tokens("AI模型 v2")
	want := []string{"ai", "模", "型", "v2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("tokens: want=%v got=%v", want, got)
	}
}

func TestFormatContent(t *testing.T) {
	q := domain.Question{
		Options:       []string{"Red", "Blue"},
		SubFields:     map[string]string{"r1": "Speed", "r2": "Price"},
		SubFieldOrder: []string{"r1", "r2"},
	}
	cases := []struct {
		c    domain.Content
		want string
	}{
		{domain.Index(1), "2. Blue"},
		{domain.Indices{0, 5}, "1. Red; #5"},
		{domain.Fields{"r2": "3", "r1": "4"}, "Speed=4; Price=3"},
		{domain.List{"a", "b"}, "a | b"},
		{domain.Text("hi"), "hi"},
		{nil, "-"},
	}
	for _, tc := range cases {
		if got := FormatContent(q, tc.c); got != tc.want {
			t.Fatalf("format %v: want=%q got=%q", tc.c, tc.want, got)
		}
	}
}

func TestMonitorFollowsEvents(t *testing.T) {
	qn := domain.Questionnaire{Title: "Poll", Questions: []domain.Question{
		{ID: "q2", Order: 2, Type: domain.SingleChoice, Content: "Second", Options: []string{"A", "B"}},
		{ID: "q1", Order: 1, Type: domain.FillBlank, Content: "First"},
	}}
	events := make(chan session.Event, 4)
	var m tea.Model = NewMonitor(qn, events)
	mon := m.(Monitor)
	if mon.rows[0].question.ID != "q1" {
		t.Fatalf("rows sorted by order: got=%s", mon.rows[0].question.ID)
	}

	a := domain.Answer{QuestionID: "q2", Content: domain.Index(0), Status: domain.StatusAIGenerated, Confidence: domain.Float(0.4), NeedsReview: true}
	m, cmd := m.Update(eventMsg(session.Event{Kind: session.EventProgress, Current: 1, Total: 2, QuestionID: "q2", State: domain.StateFilled, Answer: &a}))
	if cmd == nil {
		t.Fatalf("progress should keep listening")
	}
	mon = m.(Monitor)
	if mon.rows[1].state != domain.StateFilled || mon.current != 1 {
		t.Fatalf("row state: got=%s current=%d", mon.rows[1].state, mon.current)
	}
	if !strings.Contains(mon.View(), "1. A") {
		t.Fatalf("view should show the chosen option:\n%s", mon.View())
	}

	sess := &domain.Session{ID: "s"}
	m, _ = m.Update(eventMsg(session.Event{Kind: session.EventComplete, Current: 2, Total: 2, Session: sess}))
	mon = m.(Monitor)
	if !mon.done || mon.Session() != sess || mon.Err() != nil {
		t.Fatalf("final state: done=%v sess=%v err=%v", mon.done, mon.Session(), mon.Err())
	}

	close(events)
	if _, ok := waitForEvent(events)().(eventsClosedMsg); !ok {
		t.Fatalf("closed stream should be reported")
	}
}

func reviewSession() *domain.Session {
	a := &domain.Answer{QuestionID: "q1", Content: domain.Index(0), Status: domain.StatusAIGenerated, Confidence: domain.Float(0.3), NeedsReview: true}
	return &domain.Session{
		ID: "s1",
		Questionnaire: domain.Questionnaire{Title: "Poll", Questions: []domain.Question{
			{ID: "q1", Order: 1, Type: domain.SingleChoice, Content: "Color?", Options: []string{"Red", "Blue"}},
			{ID: "q2", Order: 2, Type: domain.FillBlank, Content: "Skipped"},
		}},
		Status: domain.SessionCompleted,
		Progress: []domain.QuestionProgress{
			{QuestionID: "q1", Targeted: true, State: domain.StateFilled, Answer: a},
			{QuestionID: "q2", Targeted: false, State: domain.StateNotStarted},
		},
	}
}

func TestReviewApproveAndDecline(t *testing.T) {
	var m tea.Model = NewReview(context.Background(), reviewSession(), nil)
	if n := len(m.(Review).items); n != 1 {
		t.Fatalf("only targeted questions are listed: got=%d", n)
	}
	if !strings.Contains(m.View(), "1 need review") {
		t.Fatalf("summary should count pending reviews:\n%s", m.View())
	}
	approved, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'y'}})
	if !approved.(Review).Approved() {
		t.Fatalf("y should approve")
	}
	declined, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	if declined.(Review).Approved() {
		t.Fatalf("n should decline")
	}
}

func TestReviewEdit(t *testing.T) {
	sess := reviewSession()
	var gotID, gotRaw string
	edit := func(_ context.Context, id, raw string) error {
		gotID, gotRaw = id, raw
		sess.Progress[0].Answer = &domain.Answer{QuestionID: id, Content: domain.Index(1), Status: domain.StatusUserConfirmed}
		return nil
	}
	var m tea.Model = NewReview(context.Background(), sess, edit)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'e'}})
	if !m.(Review).editing {
		t.Fatalf("e should open the editor")
	}
	m = typeText(t, m, "2")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("enter should apply the edit")
	}
	m, _ = m.Update(cmd())
	if gotID != "q1" || gotRaw != "2" {
		t.Fatalf("edit call: id=%q raw=%q", gotID, gotRaw)
	}
	if !strings.Contains(m.(Review).status, "updated q1") {
		t.Fatalf("status: got=%q", m.(Review).status)
	}
}
