// Package mock provides an in-memory browser for testing without a real engine.
package mock

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/driver"
)

// Call describes one session operation, passed to Config.Fail.
type Call struct {
	Session int    // 1-based session number across the browser's lifetime
	Index   int    // 1-based operation number within the session
	Op      string // navigate, click, fill, waitForText, textContent, screenshot
	Arg     string
}

// Page is the content served for a URL.
type Page struct {
	Text    map[string]string // selector -> text content
	Visible []string          // texts visible anywhere on the page
}

// Config configures mock browser behavior.
type Config struct {
	// FailOnStep makes operation N of every session fail (1-indexed). 0 = never fail.
	FailOnStep int
	// Fail decides per operation; a non-nil error fails it. Checked after FailOnStep.
	Fail func(c Call) error
	// SessionError fails NewSession.
	SessionError error
	// StepDelay adds artificial delay per operation
	StepDelay time.Duration
	// Pages maps URL to content. Unknown URLs serve an empty page.
	Pages map[string]Page
	// Screenshot renders the PNG for a session. Defaults to a white image of the viewport size.
	Screenshot func(c Call) ([]byte, error)
}

// Browser is a mock implementation of driver.Browser for testing.
type Browser struct {
	Config Config

	mu       sync.Mutex
	opened   int
	closed   int
	open     int
	peak     int
	sessions []*Session
	stopped  bool
}

// New creates a new mock browser.
func New(cfg Config) *Browser {
	return &Browser{Config: cfg}
}

// NewSession opens a mock session.
func (b *Browser) NewSession(opts driver.SessionOptions) (driver.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Config.SessionError != nil {
		return nil, b.Config.SessionError
	}
	b.opened++
	b.open++
	if b.open > b.peak {
		b.peak = b.open
	}
	s := &Session{browser: b, number: b.opened, opts: opts, url: "about:blank"}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// Close stops the mock engine.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}

// Opened returns how many sessions were created.
func (b *Browser) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Closed returns how many sessions were closed.
func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Peak returns the largest number of sessions open at the same time.
func (b *Browser) Peak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

// Stopped reports whether Close was called.
func (b *Browser) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Sessions returns all sessions created so far.
func (b *Browser) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// Session is a mock implementation of driver.Session.
type Session struct {
	browser *Browser
	number  int
	opts    driver.SessionOptions

	mu     sync.Mutex
	url    string
	calls  []Call
	filled map[string]string
	closed bool
}

// Options returns the options the session was opened with.
func (s *Session) Options() driver.SessionOptions {
	return s.opts
}

// Calls returns the operations performed on the session.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Value returns what was filled into selector.
func (s *Session) Value(selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filled[selector]
}

func (s *Session) record(op, arg string) (Call, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Call{}, fmt.Errorf("session %d is closed", s.number)
	}
	c := Call{Session: s.number, Index: len(s.calls) + 1, Op: op, Arg: arg}
	s.calls = append(s.calls, c)
	s.mu.Unlock()

	cfg := s.browser.Config
	if cfg.StepDelay > 0 {
		time.Sleep(cfg.StepDelay)
	}
	if cfg.FailOnStep > 0 && c.Index == cfg.FailOnStep {
		return c, fmt.Errorf("mock failure on %s (operation %d)", op, c.Index)
	}
	if cfg.Fail != nil {
		if err := cfg.Fail(c); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (s *Session) page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser.Config.Pages[s.url]
}

// Navigate simulates loading url.
func (s *Session) Navigate(url string) error {
	if _, err := s.record("navigate", url); err != nil {
		return err
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}

// Click simulates a click.
func (s *Session) Click(selector string) error {
	_, err := s.record("click", selector)
	return err
}

// Fill simulates typing into an input.
func (s *Session) Fill(selector, value string) error {
	if _, err := s.record("fill", selector); err != nil {
		return err
	}
	s.mu.Lock()
	if s.filled == nil {
		s.filled = make(map[string]string)
	}
	s.filled[selector] = value
	s.mu.Unlock()
	return nil
}

// WaitForText succeeds if text is listed as visible on the current page.
func (s *Session) WaitForText(text string, _ time.Duration) error {
	if _, err := s.record("waitForText", text); err != nil {
		return err
	}
	for _, v := range s.page().Visible {
		if strings.Contains(v, text) {
			return nil
		}
	}
	return fmt.Errorf("timeout waiting for text %q", text)
}

// TextContent returns the configured text for selector.
func (s *Session) TextContent(selector string) (string, error) {
	if _, err := s.record("textContent", selector); err != nil {
		return "", err
	}
	text, ok := s.page().Text[selector]
	if !ok {
		return "", fmt.Errorf("no element matches %q", selector)
	}
	return text, nil
}

// URL returns the last navigated URL.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Screenshot returns a PNG for the session.
func (s *Session) Screenshot() ([]byte, error) {
	c, err := s.record("screenshot", "")
	if err != nil {
		return nil, err
	}
	if s.browser.Config.Screenshot != nil {
		return s.browser.Config.Screenshot(c)
	}
	w, h := s.opts.Width, s.opts.Height
	if w <= 0 || h <= 0 {
		w, h = 4, 4
	}
	return SolidPNG(w, h, color.White), nil
}

// Close releases the session. Only the first call counts.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.browser.mu.Lock()
	s.browser.closed++
	s.browser.open--
	s.browser.mu.Unlock()
	return nil
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SolidPNG encodes a w x h image filled with c.
func SolidPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
