package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"autosurvey/internal/answer"
	"autosurvey/internal/browser"
	"autosurvey/internal/config"
	"autosurvey/internal/detect"
	"autosurvey/internal/domain"
	"autosurvey/internal/fill"
	"autosurvey/internal/llm"
	"autosurvey/internal/session"
	"autosurvey/internal/tui"
)

type runFlags struct {
	url         string
	mode        string
	selected    string
	presetsPath string
	noKnowledge bool
	visual      bool
	submit      bool
	force       bool
	plain       bool
}

func (a *app) run(ctx context.Context, args []string) error {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&f.url, "url", "", "questionnaire URL")
	fs.StringVar(&f.mode, "mode", "auto", "auto, select or preset")
	fs.StringVar(&f.selected, "select", "", "comma separated question ids for select mode")
	fs.StringVar(&f.presetsPath, "presets", "", "JSON array of answers for preset mode")
	fs.BoolVar(&f.noKnowledge, "no-knowledge", false, "answer without knowledge retrieval")
	fs.BoolVar(&f.visual, "visual", false, "show the browser and review before submitting")
	fs.BoolVar(&f.submit, "submit", false, "submit the form after answering")
	fs.BoolVar(&f.force, "force", false, "submit even when answers need review")
	fs.BoolVar(&f.plain, "plain", false, "log progress instead of the terminal UI")
	_ = fs.Parse(args)
	if f.url == "" {
		return errors.New("--url is required")
	}
	mode, err := domain.ParseMode(f.mode)
	if err != nil {
		return err
	}
	req := session.RunRequest{
		Mode: mode,
		Options: session.RunOptions{
			UseKnowledge: a.cfg.Retrieval.Enabled && !f.noKnowledge,
			Retrieval:    retrieveParams(a.cfg),
			Visual:       f.visual,
		},
	}
	if f.selected != "" {
		for _, id := range strings.Split(f.selected, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.SelectedIDs = append(req.SelectedIDs, id)
			}
		}
	}
	if f.presetsPath != "" {
		data, err := os.ReadFile(f.presetsPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &req.Presets); err != nil {
			return fmt.Errorf("presets: %w", err)
		}
	}

	if a.cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.log); err != nil {
				a.log.Error("metrics server failed", "error", err)
			}
		}()
	}

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}
	bcfg := a.cfg.Browser
	drv, err := browser.NewDriver(ctx, browser.Config{
		Headless:      bcfg.Headless && !f.visual,
		ExecPath:      bcfg.ExecPath,
		UserAgent:     bcfg.UserAgent,
		ActionTimeout: config.Secs(bcfg.ActionTimeoutSecs),
		PageTimeout:   config.Secs(bcfg.PageTimeoutSecs),
	}, a.log)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer drv.Close()
	platform := browser.NewWenjuanxing(drv, detect.New(bcfg.Markers), a.log)

	qn, err := platform.ExtractQuestions(ctx, f.url)
	if err != nil {
		return fmt.Errorf("extract questions: %w", err)
	}
	a.log.Info("questionnaire loaded", "title", qn.Title, "questions", len(qn.Questions), "template", qn.TemplateType)

	var sess *domain.Session
	if f.plain {
		sess, err = orch.Run(ctx, drv, qn, req, a.logEvent)
	} else {
		sess, err = a.runWithMonitor(ctx, orch, drv, qn, req)
	}
	if sess != nil {
		printSession(sess)
	}
	if err != nil {
		return err
	}
	if !f.submit {
		return nil
	}

	opts := session.SubmitOptions{Force: f.force}
	switch {
	case f.visual && f.plain:
		opts.Confirmer = promptConfirmer{in: os.Stdin, out: os.Stdout}
	case f.visual:
		opts.Confirmer = &tui.Confirmer{Edit: editAnswer(orch, drv, sess)}
	}
	res, err := orch.Submit(ctx, sess, platform, opts)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("submission not confirmed: %s", res.Message)
	}
	fmt.Printf("submitted: %s\n", res.Message)
	return nil
}

func (a *app) orchestrator() (*session.Orchestrator, error) {
	c := a.cfg.LLM
	client, err := llm.NewClient(llm.Config{
		BaseURL:     c.BaseURL,
		APIKeyEnv:   c.APIKeyEnv,
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     config.Secs(c.TimeoutSecs),
		MaxRetries:  c.MaxRetries,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	opts := answer.Options{TopK: a.cfg.Answering.ContextTopK, SystemPrompt: a.cfg.Answering.SystemPrompt}
	if t := a.cfg.Answering.ConfidenceThreshold; t > 0 {
		opts.ConfidenceThreshold = domain.Float(t)
	}
	synth := answer.NewSynthesizer(client, a.log, a.metrics, opts)
	return session.New(a.kb, synth, fill.NewEngine(a.log, a.metrics), a.store, a.log, a.metrics), nil
}

// runWithMonitor runs the session in the background while the terminal
// shows its progress. Quitting the monitor cancels the run between
// questions.
func (a *app) runWithMonitor(ctx context.Context, orch *session.Orchestrator, drv fill.Driver, qn domain.Questionnaire, req session.RunRequest) (*domain.Session, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := make(chan session.Event, 16)
	type result struct {
		sess *domain.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer close(events)
		sess, err := orch.Run(runCtx, drv, qn, req, func(ev session.Event) {
			select {
			case events <- ev:
			case <-runCtx.Done():
			}
		})
		done <- result{sess, err}
	}()

	if _, err := tea.NewProgram(tui.NewMonitor(qn, events), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		a.log.Warn("progress display failed", "error", err)
	}
	cancel()
	res := <-done
	return res.sess, res.err
}

func (a *app) logEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventProgress:
		kv := []any{"question_id", ev.QuestionID, "state", ev.State.String(), "current", ev.Current, "total", ev.Total}
		if ev.Answer != nil && ev.Answer.Confidence != nil {
			kv = append(kv, "confidence", *ev.Answer.Confidence)
		}
		if ev.Reason != "" {
			kv = append(kv, "reason", ev.Reason)
		}
		a.log.Info("question finished", kv...)
	case session.EventError:
		a.log.Error("session stopped", "error", ev.Err)
	case session.EventComplete:
		a.log.Info("session complete", "answered", ev.Current)
	}
}

// editAnswer decodes reviewer input like a preset answer. Input that is not
// JSON is taken as a string.
func editAnswer(orch *session.Orchestrator, drv fill.Driver, sess *domain.Session) tui.EditFunc {
	return func(ctx context.Context, questionID, raw string) error {
		var q *domain.Question
		for i := range sess.Questionnaire.Questions {
			if sess.Questionnaire.Questions[i].ID == questionID {
				q = &sess.Questionnaire.Questions[i]
				break
			}
		}
		if q == nil {
			return fmt.Errorf("unknown question %q", questionID)
		}
		data := json.RawMessage(raw)
		if !json.Valid(data) {
			data, _ = json.Marshal(raw)
		}
		content, err := answer.DecodeContent(*q, data)
		if err != nil {
			return err
		}
		return orch.ConfirmAnswer(ctx, drv, sess, questionID, content)
	}
}

func printSession(sess *domain.Session) {
	st := sess.Stats()
	fmt.Printf("session %s: %s, %d/%d filled, %d failed, %d need review", sess.ID, sess.Status, st.Filled, st.Targeted, st.Failed, st.NeedsReview)
	if st.AverageConfidence != nil {
		fmt.Printf(", avg confidence %.2f", *st.AverageConfidence)
	}
	fmt.Printf(", %s\n", st.Duration.Round(time.Millisecond))
	for _, p := range sess.Progress {
		if p.State == domain.StateFailed {
			fmt.Printf("  %s failed: %s\n", p.QuestionID, p.Error)
		}
	}
}

func (a *app) sessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of sessions")
	_ = fs.Parse(args)
	recs, err := a.store.ListSessions(ctx, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tMODE\tFILLED\tFAILED\tCONFIDENCE\tTITLE")
	for _, r := range recs {
		conf := "-"
		if r.AverageConfidence != nil {
			conf = fmt.Sprintf("%.2f", *r.AverageConfidence)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n", r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.Mode, r.Filled, r.Targeted, r.Failed, conf, r.Title)
	}
	return w.Flush()
}

func (a *app) answers(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: answers <session-id>")
	}
	recs, err := a.store.SessionAnswers(ctx, args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tQUESTION\tTYPE\tSTATE\tSTATUS\tCONFIDENCE\tANSWER")
	for _, r := range recs {
		conf := "-"
		if r.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *r.Confidence)
		}
		ans := string(r.Content)
		if r.Error != "" {
			ans = "error: " + r.Error
		}
		if r.NeedsReview {
			conf += " review"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Position, r.QuestionID, r.QuestionType, r.State, r.Status, conf, ans)
	}
	return w.Flush()
}
