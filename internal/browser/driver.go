package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"autosurvey/internal/domain"
	"autosurvey/internal/fill"
	"autosurvey/internal/logger"
)

type Config struct {
	Headless      bool
	ExecPath      string
	UserAgent     string
	ActionTimeout time.Duration
	PageTimeout   time.Duration
}

// Driver runs browser actions on one chromedp tab. Every action gets its
// own timeout; an action failing because the tab or browser is gone is
// reported as domain.ErrSessionFatal.
type Driver struct {
	cfg    Config
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	lastDialog string
}

// NewDriver starts a browser process and opens one tab.
func NewDriver(ctx context.Context, cfg Config, log *logger.Logger) (*Driver, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless), chromedp.WindowSize(1280, 900))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	}))
	d := &Driver{
		cfg: cfg,
		log: log,
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}
	chromedp.ListenTarget(tabCtx, d.onEvent)
	if err := chromedp.Run(tabCtx); err != nil {
		d.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return d, nil
}

// Close shuts the browser down. The driver is unusable afterwards.
func (d *Driver) Close() { d.cancel() }

// onEvent accepts JavaScript dialogs so validation alerts cannot block the
// tab, and keeps the last message for submission diagnostics.
func (d *Driver) onEvent(ev any) {
	if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
		d.mu.Lock()
		d.lastDialog = e.Message
		d.mu.Unlock()
		go func() {
			if err := chromedp.Run(d.ctx, page.HandleJavaScriptDialog(true)); err != nil {
				d.log.Warn("dismiss dialog failed", "error", err)
			}
		}()
	}
}

// LastDialog returns and clears the message of the last JavaScript dialog.
func (d *Driver) LastDialog() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.lastDialog
	d.lastDialog = ""
	return m
}

// run executes actions on the tab bounded by timeout and by the caller's
// context.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := d.ctx.Err(); err != nil {
		return fmt.Errorf("browser closed: %w", domain.ErrSessionFatal)
	}
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if d.ctx.Err() != nil || errors.Is(err, chromedp.ErrInvalidContext) {
		return fmt.Errorf("%v: %w", err, domain.ErrSessionFatal)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits until sel is visible.
func (d *Driver) Navigate(ctx context.Context, url, sel string) error {
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if sel != "" {
		actions = append(actions, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	if err := d.run(ctx, d.cfg.PageTimeout, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// HTML returns the serialized document.
func (d *Driver) HTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, d.cfg.PageTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return html, nil
}

// Location returns the current URL.
func (d *Driver) Location(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// WaitURL polls until the current URL contains fragment or timeout passes.
func (d *Driver) WaitURL(ctx context.Context, fragment string, timeout time.Duration) (bool, error) {
	expr := fmt.Sprintf("location.href.includes(%s)", jsString(fragment))
	var ok bool
	err := d.run(ctx, timeout+time.Second, chromedp.Poll(expr, &ok, chromedp.WithPollingTimeout(timeout)))
	if err == nil {
		return ok, nil
	}
	if domain.IsFatal(err) || ctx.Err() != nil {
		return false, err
	}
	return false, nil
}

func (d *Driver) Exists(ctx context.Context, sel string) (bool, error) {
	var nodes []*cdp.Node
	err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (d *Driver) require(ctx context.Context, sel string) error {
	ok, err := d.Exists(ctx, sel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", sel, fill.ErrNotFound)
	}
	return nil
}

// Click clicks a visible element with the mouse and falls back to a DOM
// click for hidden inputs.
func (d *Driver) Click(ctx context.Context, sel string) error {
	if err := d.require(ctx, sel); err != nil {
		return err
	}
	var visible bool
	probe := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return !!el && el.offsetParent !== null && !el.disabled; })()`, jsString(sel))
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Evaluate(probe, &visible)); err != nil {
		return err
	}
	if visible {
		err := d.run(ctx, d.cfg.ActionTimeout,
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		)
		if err == nil || domain.IsFatal(err) {
			return err
		}
		d.log.Debug("mouse click failed, using dom click", "selector", sel, "error", err)
	}
	var clicked bool
	js := fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el || el.disabled) return false; el.click(); return true; })()`, jsString(sel))
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Evaluate(js, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%s: %w", sel, fill.ErrNotInteractable)
	}
	return nil
}

// SetText replaces the value of an input or textarea, typing it when the
// control is visible so page key handlers run.
func (d *Driver) SetText(ctx context.Context, sel, text string) error {
	if err := d.require(ctx, sel); err != nil {
		return err
	}
	err := d.run(ctx, d.cfg.ActionTimeout,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err == nil || domain.IsFatal(err) {
		return err
	}
	d.log.Debug("typing failed, setting value", "selector", sel, "error", err)
	return d.setValue(ctx, sel, text)
}

func (d *Driver) setValue(ctx context.Context, sel, value string) error {
	js := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el || el.disabled) return false;
  el.value = %s;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})()`, jsString(sel), jsString(value))
	var ok bool
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", sel, fill.ErrNotInteractable)
	}
	return nil
}

func (d *Driver) SelectValue(ctx context.Context, sel, value string) error {
	if err := d.require(ctx, sel); err != nil {
		return err
	}
	return d.setValue(ctx, sel, value)
}

// SelectText picks the option whose visible text equals, or else contains,
// text.
func (d *Driver) SelectText(ctx context.Context, sel, text string) error {
	if err := d.require(ctx, sel); err != nil {
		return err
	}
	js := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el || el.disabled || !el.options) return "";
  const want = %s.trim();
  let hit = Array.from(el.options).find(o => o.text.trim() === want);
  if (!hit) hit = Array.from(el.options).find(o => o.text.includes(want));
  if (!hit) return "";
  el.value = hit.value;
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return hit.value || "_";
})()`, jsString(sel), jsString(text))
	var picked string
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Evaluate(js, &picked)); err != nil {
		return err
	}
	if picked == "" {
		return fmt.Errorf("%s has no option %q: %w", sel, text, fill.ErrNotFound)
	}
	return nil
}

// WaitReady waits until a select has real options beyond its placeholder.
func (d *Driver) WaitReady(ctx context.Context, sel string) error {
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return !!el && (!el.options || el.options.length > 1); })()`, jsString(sel))
	var ok bool
	err := d.run(ctx, d.cfg.ActionTimeout+time.Second,
		chromedp.Poll(expr, &ok, chromedp.WithPollingTimeout(d.cfg.ActionTimeout)))
	if err != nil && !domain.IsFatal(err) && ctx.Err() == nil {
		return fmt.Errorf("%s not ready: %v: %w", sel, err, fill.ErrNotInteractable)
	}
	return err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
