package web

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

type session struct {
	context playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *session) Navigate(url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return classify(fmt.Errorf("navigation failed: %w", err))
	}
	return nil
}

func (s *session) Click(selector string) error {
	if err := s.page.Click(selector, playwright.PageClickOptions{}); err != nil {
		return classify(fmt.Errorf("click failed: %w", err))
	}
	return nil
}

func (s *session) Fill(selector, value string) error {
	if err := s.page.Fill(selector, value, playwright.PageFillOptions{}); err != nil {
		return classify(fmt.Errorf("fill failed: %w", err))
	}
	return nil
}

func (s *session) WaitForText(text string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.timeout
	}
	err := s.page.GetByText(text).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return classify(fmt.Errorf("text %q not visible: %w", text, err))
	}
	return nil
}

func (s *session) TextContent(selector string) (string, error) {
	text, err := s.page.Locator(selector).First().TextContent()
	if err != nil {
		return "", classify(fmt.Errorf("read text of %q: %w", selector, err))
	}
	return text, nil
}

func (s *session) URL() string {
	return s.page.URL()
}

func (s *session) Screenshot() ([]byte, error) {
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Animations: playwright.ScreenshotAnimationsDisabled,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("screenshot failed: %w", err))
	}
	return data, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.page.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.context.Close(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// classify maps Playwright failures onto execution error categories.
func classify(err error) error {
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return core.ErrTimeout.WithMessage(err.Error())
	case errors.Is(err, playwright.ErrTargetClosed):
		return core.ErrSessionFailed.WithMessage(err.Error())
	default:
		return core.ErrActionFailed.WithMessage(err.Error())
	}
}
