package plugin

import (
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/visual-runner/pkg/actions"
	"github.com/devicelab-dev/visual-runner/pkg/jsengine"
)

// bindPage exposes the session to scripts. Driver errors become JS exceptions
// carrying the original error.
func bindPage(e *jsengine.Engine, sc *actions.Context) *goja.Object {
	page := e.Runtime().NewObject()
	s := sc.Session

	check := func(err error) {
		if err != nil {
			e.Throw(err)
		}
	}

	page.Set("navigate", func(url string) { check(s.Navigate(url)) })
	page.Set("click", func(selector string) { check(s.Click(selector)) })
	page.Set("fill", func(selector, value string) { check(s.Fill(selector, value)) })
	page.Set("url", func() string { return s.URL() })
	page.Set("text", func(selector string) string {
		text, err := s.TextContent(selector)
		check(err)
		return strings.TrimSpace(text)
	})
	page.Set("isVisible", func(text string, timeoutMs int64) bool {
		timeout := sc.Timeout
		if timeoutMs > 0 {
			timeout = time.Duration(timeoutMs) * time.Millisecond
		}
		return s.WaitForText(text, timeout) == nil
	})
	return page
}

// bindContext exposes per-unit state to scripts.
func bindContext(e *jsengine.Engine, sc *actions.Context) *goja.Object {
	obj := e.Runtime().NewObject()
	obj.Set("unitId", sc.UnitID)
	obj.Set("warn", func(msg string) { sc.State.Warn(msg) })
	obj.Set("lastResponse", func() interface{} {
		resp := sc.State.LastResponse
		if resp == nil {
			return nil
		}
		return map[string]interface{}{
			"status":  resp.Status,
			"body":    resp.Body,
			"headers": resp.Headers,
			"ok":      resp.Ok,
			"json":    resp.JSON,
		}
	})
	return obj
}
