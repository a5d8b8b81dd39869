// Package web implements driver.Browser on top of Playwright.
package web

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/driver"
	"github.com/devicelab-dev/visual-runner/pkg/logger"
)

// Config configures the shared engine.
type Config struct {
	Browser   string // chromium, firefox, webkit
	Headless  bool
	Timeout   time.Duration
	DriverDir string // Where the Playwright driver and browsers are installed
	Install   bool   // Download the driver and browser if missing
	Verbose   bool   // Driver install progress goes to Output
	Output    io.Writer
}

// Engine owns one Playwright instance and one launched browser. Sessions
// are isolated browser contexts on that browser.
type Engine struct {
	cfg     Config
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Launch starts Playwright and the configured browser.
func Launch(cfg Config) (*Engine, error) {
	if cfg.Browser == "" {
		cfg.Browser = "chromium"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = driver.DefaultTimeout
	}
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}

	opts := &playwright.RunOptions{
		DriverDirectory: cfg.DriverDir,
		Browsers:        []string{cfg.Browser},
		Verbose:         cfg.Verbose,
		Stdout:          out,
		Stderr:          out,
	}
	if cfg.Install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	bt, err := browserType(pw, cfg.Browser)
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}
	browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch %s: %w", cfg.Browser, err)
	}

	logger.Info("browser engine started: %s %s (headless=%v)", cfg.Browser, browser.Version(), cfg.Headless)
	return &Engine{cfg: cfg, pw: pw, browser: browser}, nil
}

func browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case "chromium", "chrome":
		return pw.Chromium, nil
	case "firefox":
		return pw.Firefox, nil
	case "webkit", "safari":
		return pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unknown browser %q (expected chromium, firefox or webkit)", name)
	}
}

// NewSession creates a fresh context and page. A named device applies the
// engine's device descriptor (viewport, user agent, scale, touch).
func (e *Engine) NewSession(opts driver.SessionOptions) (driver.Session, error) {
	e.mu.Lock()
	browser := e.browser
	e.mu.Unlock()
	if browser == nil {
		return nil, core.ErrSessionFailed.WithMessage("browser engine is closed")
	}

	contextOpts, err := e.contextOptions(opts)
	if err != nil {
		return nil, err
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		return nil, core.ErrSessionFailed.WithCause(err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, core.ErrSessionFailed.WithCause(err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	return &session{context: bctx, page: page, timeout: timeout}, nil
}

func (e *Engine) contextOptions(opts driver.SessionOptions) (playwright.BrowserNewContextOptions, error) {
	if opts.Device != "" {
		d, ok := e.pw.Devices[opts.Device]
		if !ok {
			return playwright.BrowserNewContextOptions{}, core.ErrInvalidConfig.WithMessagef("unknown device %q", opts.Device)
		}
		return playwright.BrowserNewContextOptions{
			Viewport:          d.Viewport,
			Screen:            d.Screen,
			UserAgent:         playwright.String(d.UserAgent),
			DeviceScaleFactor: playwright.Float(d.DeviceScaleFactor),
			IsMobile:          playwright.Bool(d.IsMobile),
			HasTouch:          playwright.Bool(d.HasTouch),
		}, nil
	}

	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = driver.DefaultWidth, driver.DefaultHeight
	}
	return playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: w, Height: h},
	}, nil
}

// Close stops the browser and Playwright.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		e.browser = nil
	}
	if e.pw != nil {
		if err := e.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		e.pw = nil
	}
	return errors.Join(errs...)
}
