package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContentKind tags the concrete shape carried by a Content value.
type ContentKind int

const (
	KindText ContentKind = iota
	KindIndex
	KindIndices
	KindFields
	KindList
)

func (k ContentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindIndex:
		return "index"
	case KindIndices:
		return "indices"
	case KindFields:
		return "fields"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("content_kind(%d)", int(k))
}

// Content is the answer payload. The set of implementations is closed:
// Text, Index, Indices, Fields and List.
type Content interface {
	Kind() ContentKind
	sealed()
}

type (
	Text    string
	Index   int
	Indices []int
	Fields  map[string]string
	List    []string
)

func (Text) Kind() ContentKind    { return KindText }
func (Index) Kind() ContentKind   { return KindIndex }
func (Indices) Kind() ContentKind { return KindIndices }
func (Fields) Kind() ContentKind  { return KindFields }
func (List) Kind() ContentKind    { return KindList }

func (Text) sealed()    {}
func (Index) sealed()   {}
func (Indices) sealed() {}
func (Fields) sealed()  {}
func (List) sealed()    {}

// MarshalContent renders a Content value as the plain JSON value it wraps.
func MarshalContent(c Content) (json.RawMessage, error) {
	if c == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(c)
}

// AnswerStatus tracks where an answer came from.
type AnswerStatus int

const (
	StatusPending AnswerStatus = iota
	StatusAIGenerated
	StatusUserConfirmed
	StatusFailed
)

var answerStatusNames = [...]string{
	StatusPending:       "pending",
	StatusAIGenerated:   "ai_generated",
	StatusUserConfirmed: "user_confirmed",
	StatusFailed:        "failed",
}

func (s AnswerStatus) String() string {
	if s < 0 || int(s) >= len(answerStatusNames) {
		return fmt.Sprintf("answer_status(%d)", int(s))
	}
	return answerStatusNames[s]
}

func (s AnswerStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *AnswerStatus) UnmarshalText(b []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(b)))
	for i, name := range answerStatusNames {
		if name == v {
			*s = AnswerStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown answer status %q", v)
}

// Reference is a snapshot of a retrieved chunk attached to an answer.
type Reference struct {
	DocumentID    string   `json:"document_id"`
	DocumentTitle string   `json:"document_title"`
	ChunkIndex    int      `json:"chunk_index"`
	Content       string   `json:"content"`
	Similarity    float64  `json:"similarity"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
}

// Answer is the answer for one question within one run.
type Answer struct {
	QuestionID  string       `json:"question_id"`
	Content     Content      `json:"-"`
	Status      AnswerStatus `json:"status"`
	Confidence  *float64     `json:"confidence,omitempty"`
	Reasoning   string       `json:"reasoning,omitempty"`
	References  []Reference  `json:"knowledge_references,omitempty"`
	NeedsReview bool         `json:"needs_review"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// MarshalJSON inlines Content as its plain JSON value.
func (a Answer) MarshalJSON() ([]byte, error) {
	type alias Answer
	raw, err := MarshalContent(a.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Content json.RawMessage `json:"content"`
	}{alias: alias(a), Content: raw})
}

// FailedAnswer builds a terminal failed answer with no confidence.
func FailedAnswer(questionID, reason string) Answer {
	return Answer{
		QuestionID:  questionID,
		Status:      StatusFailed,
		Reasoning:   reason,
		GeneratedAt: time.Now(),
	}
}

// NeedsConfirmation reports whether a reviewer should look at the answer
// given a confidence threshold. Answers without a confidence always do.
func (a Answer) NeedsConfirmation(threshold float64) bool {
	if a.Confidence == nil {
		return true
	}
	return *a.Confidence < threshold
}

func Float(v float64) *float64 { return &v }
