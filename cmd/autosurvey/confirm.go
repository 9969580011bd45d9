package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"autosurvey/internal/domain"
	"autosurvey/internal/tui"
)

// promptConfirmer asks for submit approval on a line based terminal.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (p promptConfirmer) Confirm(ctx context.Context, sess *domain.Session) (bool, error) {
	questions := append([]domain.Question(nil), sess.Questionnaire.Questions...)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	for _, q := range questions {
		pr := sess.ProgressFor(q.ID)
		if pr == nil || pr.Answer == nil || !pr.Answer.NeedsReview {
			continue
		}
		fmt.Fprintf(p.out, "  review %s %s -> %s\n", q.ID, q.Content, tui.FormatContent(q, pr.Answer.Content))
	}
	st := sess.Stats()
	fmt.Fprintf(p.out, "%d filled, %d failed, %d need review. Submit %q? [y/N] ", st.Filled, st.Failed, st.NeedsReview, sess.Questionnaire.Title)

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
