package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a session produces answers.
type Mode int

const (
	ModeFullAuto Mode = iota
	ModeUserSelect
	ModePresetAnswers
)

var modeNames = [...]string{
	ModeFullAuto:      "full_auto",
	ModeUserSelect:    "user_select",
	ModePresetAnswers: "preset_answers",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

func ParseMode(s string) (Mode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "auto", "full":
		return ModeFullAuto, nil
	case "select":
		return ModeUserSelect, nil
	case "preset":
		return ModePresetAnswers, nil
	}
	for i, name := range modeNames {
		if name == v {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// QuestionState is the per-question progress within one run. States only
// move forward; Filled and Failed are terminal.
type QuestionState int

const (
	StateNotStarted QuestionState = iota
	StateRetrieving
	StateSynthesizing
	StateValidating
	StateFilling
	StateFilled
	StateFailed
)

var questionStateNames = [...]string{
	StateNotStarted:   "not_started",
	StateRetrieving:   "retrieving",
	StateSynthesizing: "synthesizing",
	StateValidating:   "validating",
	StateFilling:      "filling",
	StateFilled:       "filled",
	StateFailed:       "failed",
}

func (s QuestionState) String() string {
	if s < 0 || int(s) >= len(questionStateNames) {
		return fmt.Sprintf("question_state(%d)", int(s))
	}
	return questionStateNames[s]
}

func (s QuestionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *QuestionState) UnmarshalText(b []byte) error {
	v := strings.TrimSpace(string(b))
	for i, name := range questionStateNames {
		if name == v {
			*s = QuestionState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown question state %q", v)
}

func (s QuestionState) Terminal() bool { return s == StateFilled || s == StateFailed }

// CanAdvance reports whether s -> next is a legal transition. Stages may be
// skipped. Filled is reachable only from Filling, and Failed from any
// non-terminal state.
func (s QuestionState) CanAdvance(next QuestionState) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateFailed:
		return true
	case StateFilled:
		return s == StateFilling
	}
	return next > s
}

// SessionStatus is the lifecycle of one answering run.
type SessionStatus int

const (
	SessionRunning SessionStatus = iota
	SessionCompleted
	SessionCanceled
	SessionFatal
	SessionSubmitted
	SessionSubmitFailed
)

var sessionStatusNames = [...]string{
	SessionRunning:      "running",
	SessionCompleted:    "completed",
	SessionCanceled:     "canceled",
	SessionFatal:        "fatal",
	SessionSubmitted:    "submitted",
	SessionSubmitFailed: "submit_failed",
}

func (s SessionStatus) String() string {
	if s < 0 || int(s) >= len(sessionStatusNames) {
		return fmt.Sprintf("session_status(%d)", int(s))
	}
	return sessionStatusNames[s]
}

func (s SessionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// QuestionProgress tracks one question inside a session.
type QuestionProgress struct {
	QuestionID string        `json:"question_id"`
	Type       QuestionType  `json:"type"`
	Targeted   bool          `json:"targeted"`
	State      QuestionState `json:"state"`
	Answer     *Answer       `json:"answer,omitempty"`
	// Error holds the reason a question ended Failed.
	Error string `json:"error,omitempty"`
}

// SubmissionResult is what the platform reported after the submit click.
type SubmissionResult struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	FinalURL    string    `json:"final_url,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Session is one answering run over one questionnaire.
type Session struct {
	ID            string             `json:"id"`
	Questionnaire Questionnaire      `json:"questionnaire"`
	Mode          Mode               `json:"mode"`
	Visual        bool               `json:"visual"`
	Status        SessionStatus      `json:"status"`
	Progress      []QuestionProgress `json:"progress"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
	Submission    *SubmissionResult  `json:"submission,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// SessionStats summarizes a session for listing and persistence.
type SessionStats struct {
	Total             int
	Targeted          int
	Filled            int
	Failed            int
	NeedsReview       int
	AverageConfidence *float64
	Duration          time.Duration
}

func (s *Session) Stats() SessionStats {
	st := SessionStats{Total: len(s.Progress)}
	var sum float64
	var n int
	for _, p := range s.Progress {
		if p.Targeted {
			st.Targeted++
		}
		switch p.State {
		case StateFilled:
			st.Filled++
		case StateFailed:
			st.Failed++
		}
		if p.Answer == nil {
			continue
		}
		if p.Answer.NeedsReview && p.Answer.Status == StatusAIGenerated {
			st.NeedsReview++
		}
		if p.Answer.Confidence != nil {
			sum += *p.Answer.Confidence
			n++
		}
	}
	if n > 0 {
		st.AverageConfidence = Float(sum / float64(n))
	}
	if s.FinishedAt != nil {
		st.Duration = s.FinishedAt.Sub(s.StartedAt)
	} else if !s.StartedAt.IsZero() {
		st.Duration = time.Since(s.StartedAt)
	}
	return st
}

// ProgressFor returns the progress record of a question, or nil.
func (s *Session) ProgressFor(questionID string) *QuestionProgress {
	for i := range s.Progress {
		if s.Progress[i].QuestionID == questionID {
			return &s.Progress[i]
		}
	}
	return nil
}
