package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"autosurvey/internal/detect"
	"autosurvey/internal/domain"
	"autosurvey/internal/logger"
)

const platformName = "wenjuanxing"

// Platform scrapes and submits one kind of survey site.
type Platform interface {
	Name() string
	ExtractQuestions(ctx context.Context, url string) (domain.Questionnaire, error)
	Submit(ctx context.Context) (domain.SubmissionResult, error)
}

var (
	submitSelectors = []string{
		"#ctlNext",
		".submitbtn",
		"div.submitbtn",
		"#divSubmit .submitbtn",
		"button[type=submit]",
		"input[type=submit]",
	}
	errorSelector   = ".error-message, .alert-danger, .tip-error, .error-tip"
	successSelector = ".success-message, .alert-success, .tip-success, .success-tip"
	successPhrases  = []string{"提交成功", "已完成", "感谢您的参与"}
	successHints    = []string{"感谢", "完成", "成功"}
)

// Wenjuanxing drives wenjuanxing-style pages (".field" containers, hidden
// radio inputs behind ".ui-radio" wrappers).
type Wenjuanxing struct {
	driver        *Driver
	detector      *detect.Detector
	log           *logger.Logger
	submitTimeout time.Duration
}

func NewWenjuanxing(d *Driver, det *detect.Detector, log *logger.Logger) *Wenjuanxing {
	if log == nil {
		log = logger.Nop()
	}
	if det == nil {
		det = detect.Default()
	}
	return &Wenjuanxing{driver: d, detector: det, log: log, submitTimeout: 10 * time.Second}
}

func (w *Wenjuanxing) Name() string { return platformName }

// ExtractQuestions opens url and scrapes every question. The page stays
// open for filling and submitting.
func (w *Wenjuanxing) ExtractQuestions(ctx context.Context, url string) (domain.Questionnaire, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return domain.Questionnaire{}, fmt.Errorf("invalid questionnaire url %q", url)
	}
	if err := w.driver.Navigate(ctx, url, fieldSelector); err != nil {
		return domain.Questionnaire{}, err
	}
	html, err := w.driver.HTML(ctx)
	if err != nil {
		return domain.Questionnaire{}, err
	}
	return ParseQuestionnaire(url, html, w.detector, w.log)
}

// Submit clicks the submit control and works out whether the platform
// accepted the answers. Only a lost browser is returned as an error.
func (w *Wenjuanxing) Submit(ctx context.Context) (domain.SubmissionResult, error) {
	res := domain.SubmissionResult{SubmittedAt: time.Now()}
	button := ""
	for _, sel := range submitSelectors {
		ok, err := w.driver.Exists(ctx, sel)
		if err != nil && domain.IsFatal(err) {
			return res, err
		}
		if ok {
			button = sel
			break
		}
	}
	if button == "" {
		res.Message = "submit control not found"
		w.log.Warn("submit control not found")
		return res, nil
	}
	w.log.Info("submitting", "selector", button)
	if err := w.driver.Click(ctx, button); err != nil {
		if domain.IsFatal(err) {
			return res, err
		}
		res.Message = "click submit: " + err.Error()
		return res, nil
	}

	completed, err := w.driver.WaitURL(ctx, "complete", w.submitTimeout)
	if err != nil {
		return res, err
	}
	res.FinalURL, _ = w.driver.Location(ctx)
	if completed {
		res.Success = true
		res.Message = "submitted"
		return res, nil
	}
	html, err := w.driver.HTML(ctx)
	if err != nil {
		if domain.IsFatal(err) {
			return res, err
		}
		res.Message = "read result page: " + err.Error()
		return res, nil
	}
	res.Success, res.Message = ClassifySubmission(res.FinalURL, html, w.driver.LastDialog())
	w.log.Info("submission finished", "success", res.Success, "message", res.Message)
	return res, nil
}

// ClassifySubmission decides the outcome of a submit from the resulting
// page: completion URL, then error markers or an alert, then success
// markers, then success keywords anywhere in the page.
func ClassifySubmission(finalURL, html, dialog string) (bool, string) {
	if strings.Contains(finalURL, "complete") {
		return true, "submitted"
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, "unreadable result page"
	}
	if msg := strings.TrimSpace(doc.Find(errorSelector).First().Text()); msg != "" {
		return false, "rejected: " + msg
	}
	if dialog = strings.TrimSpace(dialog); dialog != "" {
		return false, "rejected: " + dialog
	}
	if msg := strings.TrimSpace(doc.Find(successSelector).First().Text()); msg != "" {
		return true, msg
	}
	text := doc.Text()
	for _, p := range successPhrases {
		if strings.Contains(text, p) {
			return true, "submitted"
		}
	}
	for _, h := range successHints {
		if strings.Contains(text, h) {
			return true, "submitted (inferred from page text)"
		}
	}
	return false, "no confirmation after submit"
}
