package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"autosurvey/internal/domain"
)

func pendingSession() *domain.Session {
	a := &domain.Answer{QuestionID: "q1", Content: domain.Index(1), Status: domain.StatusAIGenerated, Confidence: domain.Float(0.3), NeedsReview: true}
	return &domain.Session{
		ID: "s1",
		Questionnaire: domain.Questionnaire{Title: "Poll", Questions: []domain.Question{
			{ID: "q1", Order: 1, Type: domain.SingleChoice, Content: "Color?", Options: []string{"Red", "Blue"}},
		}},
		Visual: true,
		Status: domain.SessionCompleted,
		Progress: []domain.QuestionProgress{
			{QuestionID: "q1", Targeted: true, State: domain.StateFilled, Answer: a},
		},
	}
}

func TestPromptConfirmer(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{" YES \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		got, err := promptConfirmer{in: strings.NewReader(tc.input), out: &out}.Confirm(context.Background(), pendingSession())
		if err != nil {
			t.Fatalf("Confirm(%q): %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("Confirm(%q): want=%v got=%v", tc.input, tc.want, got)
		}
		if !strings.Contains(out.String(), "review q1 Color? -> 2. Blue") || !strings.Contains(out.String(), "1 need review") {
			t.Fatalf("prompt: got=%q", out.String())
		}
	}
}

func TestPromptConfirmerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := promptConfirmer{in: strings.NewReader("y\n"), out: &bytes.Buffer{}}.Confirm(ctx, pendingSession())
	if ok || err == nil {
		t.Fatalf("canceled confirm: ok=%v err=%v", ok, err)
	}
}
