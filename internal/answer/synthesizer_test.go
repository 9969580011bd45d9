package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"autosurvey/internal/domain"
)

type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, _, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, user)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no more replies")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func sampleRefs() []domain.Reference {
	return []domain.Reference{{DocumentID: "d1", DocumentTitle: "Notes", ChunkIndex: 0, Content: "The sky is blue.", Similarity: 0.8}}
}

func TestSynthesizeValidAnswer(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"Sure!\n```json\n{\"answer\": 2, \"confidence\": 0.9, \"reasoning\": \"from notes\"}\n```"}}
	s := NewSynthesizer(llm, nil, nil, Options{ConfidenceThreshold: domain.Float(0.7)})
	q := choiceQuestion(domain.SingleChoice, true, "Red", "Green", "Blue")

	a := s.Synthesize(context.Background(), q, sampleRefs())
	if a.Status != domain.StatusAIGenerated {
		t.Fatalf("status: want=ai_generated got=%s (%s)", a.Status, a.Reasoning)
	}
	if a.Content != domain.Index(2) {
		t.Fatalf("content: want=2 got=%v", a.Content)
	}
	if a.Confidence == nil || *a.Confidence != 0.9 {
		t.Fatalf("confidence: want=0.9 got=%v", a.Confidence)
	}
	if a.NeedsReview {
		t.Fatalf("high confidence answer should not need review")
	}
	if len(a.References) != 1 {
		t.Fatalf("references: want=1 got=%d", len(a.References))
	}
	p := llm.prompts[0]
	if !strings.Contains(p, "2. Blue") || !strings.Contains(p, "The sky is blue.") {
		t.Fatalf("prompt misses options or context:\n%s", p)
	}
}

func TestSynthesizeRetriesOnceThenSucceeds(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"answer": 7, "confidence": 0.8}`,
		`{"answer": 1, "confidence": "80%"}`,
	}}
	s := NewSynthesizer(llm, nil, nil, Options{})
	q := choiceQuestion(domain.SingleChoice, true, "a", "b")

	a := s.Synthesize(context.Background(), q, nil)
	if a.Status != domain.StatusAIGenerated || a.Content != domain.Index(1) {
		t.Fatalf("want index 1 after retry, got status=%s content=%v", a.Status, a.Content)
	}
	if a.Confidence == nil || *a.Confidence != 0.8 {
		t.Fatalf("percent confidence: want=0.8 got=%v", a.Confidence)
	}
	if len(llm.prompts) != 2 {
		t.Fatalf("calls: want=2 got=%d", len(llm.prompts))
	}
	if !strings.Contains(llm.prompts[1], "out of range") {
		t.Fatalf("correction prompt should name the problem:\n%s", llm.prompts[1])
	}
}

func TestSynthesizeMalformedTwiceFails(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"I am not sure.", "still no json"}}
	s := NewSynthesizer(llm, nil, nil, Options{})
	q := choiceQuestion(domain.SingleChoice, true, "a", "b")

	a := s.Synthesize(context.Background(), q, sampleRefs())
	if a.Status != domain.StatusFailed {
		t.Fatalf("status: want=failed got=%s", a.Status)
	}
	if a.Confidence != nil {
		t.Fatalf("failed answer should carry no confidence")
	}
	if a.Reasoning == "" {
		t.Fatalf("failed answer should explain why")
	}
	if a.Content != nil {
		t.Fatalf("failed answer should carry no content, got %v", a.Content)
	}
	if len(llm.prompts) != 2 {
		t.Fatalf("calls: want=2 got=%d", len(llm.prompts))
	}
}

func TestSynthesizeTransportErrorDoesNotRetry(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("connection refused")}
	s := NewSynthesizer(llm, nil, nil, Options{})
	a := s.Synthesize(context.Background(), domain.Question{ID: "q", Type: domain.FillBlank}, nil)
	if a.Status != domain.StatusFailed {
		t.Fatalf("status: want=failed got=%s", a.Status)
	}
	if len(llm.prompts) != 1 {
		t.Fatalf("calls: want=1 got=%d", len(llm.prompts))
	}
}

func TestSynthesizeLowConfidenceNeedsReview(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"answer": "Paris", "confidence": 0.3}`, `{"answer": "Paris"}`}}
	s := NewSynthesizer(llm, nil, nil, Options{ConfidenceThreshold: domain.Float(0.5)})
	q := domain.Question{ID: "q", Type: domain.FillBlank, Required: true}

	a := s.Synthesize(context.Background(), q, nil)
	if !a.NeedsReview {
		t.Fatalf("low confidence answer should need review")
	}
	b := s.Synthesize(context.Background(), q, nil)
	if b.Confidence != nil || !b.NeedsReview {
		t.Fatalf("answer without confidence should need review, got confidence=%v review=%v", b.Confidence, b.NeedsReview)
	}
}

func TestPreset(t *testing.T) {
	q := choiceQuestion(domain.MultipleChoice, true, "a", "b", "c")
	a := Preset(q, []byte(`[0, 2]`))
	if a.Status != domain.StatusUserConfirmed || a.Confidence == nil || *a.Confidence != 1 {
		t.Fatalf("preset: status=%s confidence=%v", a.Status, a.Confidence)
	}
	bad := Preset(q, []byte(`[5]`))
	if bad.Status != domain.StatusFailed {
		t.Fatalf("invalid preset: want=failed got=%s", bad.Status)
	}
}
