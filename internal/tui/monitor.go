package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"autosurvey/internal/domain"
	"autosurvey/internal/session"
)

type eventMsg session.Event

type eventsClosedMsg struct{}

type row struct {
	question domain.Question
	state    domain.QuestionState
	answer   *domain.Answer
}

// Monitor follows a running session through its event stream and quits
// once the run reports completion or the stream closes.
type Monitor struct {
	events      <-chan session.Event
	title       string
	rows        []row
	index       map[string]int
	current     int
	total       int
	spinner     spinner.Model
	done        bool
	interrupted bool
	sess        *domain.Session
	err         error
}

func NewMonitor(qn domain.Questionnaire, events <-chan session.Event) Monitor {
	questions := append([]domain.Question(nil), qn.Questions...)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	m := Monitor{
		events:  events,
		title:   qn.Title,
		index:   make(map[string]int, len(questions)),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	for i, q := range questions {
		m.rows = append(m.rows, row{question: q})
		m.index[q.ID] = i
	}
	return m
}

func (m Monitor) Init() tea.Cmd { return tea.Batch(m.spinner.Tick, waitForEvent(m.events)) }

func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.current, m.total = msg.Current, msg.Total
		switch msg.Kind {
		case session.EventProgress:
			if i, ok := m.index[msg.QuestionID]; ok {
				m.rows[i].state = msg.State
				m.rows[i].answer = msg.Answer
			}
			return m, waitForEvent(m.events)
		default:
			m.done = true
			m.sess = msg.Session
			m.err = msg.Err
			return m, tea.Quit
		}
	case eventsClosedMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.interrupted = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Monitor) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(m.title))
	b.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("stopped after %d/%d: %v", m.current, m.total, m.err)))
	case m.done:
		b.WriteString(statusStyle.Render(fmt.Sprintf("done %d/%d", m.current, m.total)))
	default:
		b.WriteString(fmt.Sprintf("%s answering %d/%d", m.spinner.View(), m.current, m.total))
	}
	b.WriteString("\n\n")
	for _, r := range m.rows {
		b.WriteString(renderRow(r))
		b.WriteString("\n")
	}
	if !m.done {
		b.WriteString(mutedStyle.Render("q: stop after the current question"))
	}
	return b.String()
}

func renderRow(r row) string {
	line := fmt.Sprintf("%3d %-13s %-12s %s", r.question.Order, r.question.Type, r.state, truncateRunes(r.question.Content, 40))
	if r.answer == nil {
		return mutedStyle.Render(line)
	}
	if r.answer.Status == domain.StatusFailed {
		return errorStyle.Render(line + "  ✗ " + truncateRunes(r.answer.Reasoning, 40))
	}
	line += "  → " + truncateRunes(FormatContent(r.question, r.answer.Content), 40)
	if r.answer.Confidence != nil {
		line += fmt.Sprintf(" (%.2f)", *r.answer.Confidence)
	}
	if r.answer.NeedsReview {
		return warnStyle.Render(line + " review")
	}
	return line
}

// Session is the final session reported by the run, if it finished.
func (m Monitor) Session() *domain.Session { return m.sess }

// Err is the error reported with the final event.
func (m Monitor) Err() error { return m.err }

// Interrupted reports whether the user asked to stop the run.
func (m Monitor) Interrupted() bool { return m.interrupted }
