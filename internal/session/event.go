package session

import "autosurvey/internal/domain"

type EventKind int

const (
	EventProgress EventKind = iota
	EventComplete
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event reports run progress. Progress events carry copies, so listeners
// may keep them after the callback returns. Reason explains a failed
// question. Session is set only on the terminal complete and error events,
// once the run no longer mutates it.
type Event struct {
	Kind       EventKind
	Current    int
	Total      int
	QuestionID string
	State      domain.QuestionState
	Answer     *domain.Answer
	Reason     string
	Err        error
	Session    *domain.Session
}

func progressEvent(current, total int, p *domain.QuestionProgress) Event {
	ev := Event{
		Kind:       EventProgress,
		Current:    current,
		Total:      total,
		QuestionID: p.QuestionID,
		State:      p.State,
	}
	if p.State == domain.StateFailed {
		ev.Reason = p.Error
	}
	if p.Answer != nil {
		a := *p.Answer
		ev.Answer = &a
	}
	return ev
}
