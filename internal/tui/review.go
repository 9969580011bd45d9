package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"autosurvey/internal/domain"
)

// EditFunc replaces the answer of a filled question with raw, which uses
// the same notation as preset answers.
type EditFunc func(ctx context.Context, questionID, raw string) error

type editResultMsg struct {
	questionID string
	err        error
}

// Review shows a filled session and waits for the reviewer to approve or
// decline submission.
type Review struct {
	ctx      context.Context
	sess     *domain.Session
	edit     EditFunc
	items    []reviewItem
	cursor   int
	viewport viewport.Model
	input    textinput.Model
	editing  bool
	ready    bool
	decided  bool
	approved bool
	status   string
}

type reviewItem struct {
	question domain.Question
	progress *domain.QuestionProgress
}

// NewReview lists the targeted questions of sess in page order. edit may be
// nil, which disables editing.
func NewReview(ctx context.Context, sess *domain.Session, edit EditFunc) Review {
	ti := textinput.New()
	ti.Prompt = "answer> "
	ti.CharLimit = 0
	r := Review{ctx: ctx, sess: sess, edit: edit, input: ti, viewport: viewport.New(0, 0)}
	questions := append([]domain.Question(nil), sess.Questionnaire.Questions...)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	for _, q := range questions {
		p := sess.ProgressFor(q.ID)
		if p == nil || !p.Targeted {
			continue
		}
		r.items = append(r.items, reviewItem{question: q, progress: p})
	}
	r.status = r.summaryLine()
	return r
}

func (r Review) Init() tea.Cmd { return nil }

func (r Review) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.ready = true
		_, fh := resultBoxStyle.GetFrameSize()
		r.viewport.Width = max(20, msg.Width)
		r.viewport.Height = max(3, msg.Height/2-fh)
		r.viewport.SetContent(r.renderDetail())
		return r, nil
	case editResultMsg:
		if msg.err != nil {
			r.status = errorStyle.Render("edit failed: " + msg.err.Error())
		} else {
			r.status = statusStyle.Render("updated " + msg.questionID)
		}
		r.viewport.SetContent(r.renderDetail())
		return r, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			r.decided = true
			return r, tea.Quit
		}
		if r.editing {
			return r.updateEditing(msg)
		}
		switch msg.String() {
		case "y":
			r.decided, r.approved = true, true
			return r, tea.Quit
		case "n", "esc", "q":
			r.decided = true
			return r, tea.Quit
		case "down", "j":
			if len(r.items) > 0 {
				r.cursor = (r.cursor + 1) % len(r.items)
				r.viewport.SetContent(r.renderDetail())
			}
		case "up", "k":
			if len(r.items) > 0 {
				r.cursor = (r.cursor - 1 + len(r.items)) % len(r.items)
				r.viewport.SetContent(r.renderDetail())
			}
		case "e":
			if r.edit != nil && len(r.items) > 0 && r.items[r.cursor].progress.State == domain.StateFilled {
				r.editing = true
				r.input.SetValue("")
				r.input.Focus()
				return r, textinput.Blink
			}
		}
		return r, nil
	}
	return r, nil
}

func (r Review) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		r.editing = false
		r.input.Blur()
		return r, nil
	case tea.KeyEnter:
		raw := strings.TrimSpace(r.input.Value())
		r.editing = false
		r.input.Blur()
		if raw == "" {
			return r, nil
		}
		qid := r.items[r.cursor].question.ID
		edit, ctx := r.edit, r.ctx
		return r, func() tea.Msg {
			return editResultMsg{questionID: qid, err: edit(ctx, qid, raw)}
		}
	}
	var cmd tea.Cmd
	r.input, cmd = r.input.Update(msg)
	return r, cmd
}

func (r Review) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Review: " + r.sess.Questionnaire.Title))
	b.WriteString("\n")
	for i, it := range r.items {
		marker := "  "
		if i == r.cursor {
			marker = "> "
		}
		b.WriteString(marker + renderRow(row{question: it.question, state: it.progress.State, answer: it.progress.Answer}))
		b.WriteString("\n")
	}
	if r.ready {
		b.WriteString(resultBoxStyle.Render(r.viewport.View()))
		b.WriteString("\n")
	}
	if r.editing {
		b.WriteString(queryBoxStyle.Render(r.input.View()))
		b.WriteString("\n")
	}
	b.WriteString(r.status)
	b.WriteString("\n")
	help := "y: submit  n: cancel  ↑/↓: move"
	if r.edit != nil {
		help += "  e: edit answer"
	}
	b.WriteString(mutedStyle.Render(help))
	return b.String()
}

func (r Review) renderDetail() string {
	if len(r.items) == 0 {
		return "Nothing was answered."
	}
	it := r.items[r.cursor]
	q, p := it.question, it.progress
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s [%s]\n", q.Order, q.Content, q.Type)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "   %d. %s\n", i+1, opt)
	}
	if p.Answer == nil {
		b.WriteString("\nno answer")
		if p.Error != "" {
			b.WriteString(": " + p.Error)
		}
		return b.String()
	}
	a := p.Answer
	fmt.Fprintf(&b, "\nanswer: %s\nstatus: %s", FormatContent(q, a.Content), a.Status)
	if a.Confidence != nil {
		fmt.Fprintf(&b, "  confidence: %.2f", *a.Confidence)
	}
	if a.Reasoning != "" {
		b.WriteString("\nreasoning: " + a.Reasoning)
	}
	for i, ref := range a.References {
		fmt.Fprintf(&b, "\n[%d] %s #%d (%.3f) %s", i+1, ref.DocumentTitle, ref.ChunkIndex, ref.Similarity, truncateRunes(ref.Content, 80))
	}
	return b.String()
}

func (r Review) summaryLine() string {
	st := r.sess.Stats()
	line := fmt.Sprintf("%d filled, %d failed, %d need review", st.Filled, st.Failed, st.NeedsReview)
	if st.NeedsReview > 0 {
		return warnStyle.Render(line)
	}
	return statusStyle.Render(line)
}

// Approved reports whether the reviewer chose to submit.
func (r Review) Approved() bool { return r.decided && r.approved }

// Confirmer asks for approval in a terminal review screen.
type Confirmer struct {
	Edit    EditFunc
	Options []tea.ProgramOption
}

func (c *Confirmer) Confirm(ctx context.Context, sess *domain.Session) (bool, error) {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, c.Options...)
	final, err := tea.NewProgram(NewReview(ctx, sess, c.Edit), opts...).Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	r, ok := final.(Review)
	if !ok {
		return false, errors.New("review screen returned an unexpected model")
	}
	return r.Approved(), nil
}
