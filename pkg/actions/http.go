package actions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/jsengine"
)

var httpMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// request sends an HTTP request and keeps the response for later assertions.
// A single parameter is a GET of that URL.
func request(sc *Context, params []string) *core.CommandResult {
	req, err := parseRequest(params)
	if err != nil {
		return core.Failed(err)
	}
	req.Timeout = sc.Timeout

	resp, err := jsengine.Do(sc.context(), sc.HTTP, req)
	if err != nil {
		return core.Failed(core.ErrRequestFailed.WithMessagef("%s %s failed", req.Method, req.URL).WithCause(err))
	}
	sc.State.LastResponse = resp

	result := core.Succeeded(fmt.Sprintf("%s %s -> %d", req.Method, req.URL, resp.Status))
	result.Data = resp
	return result
}

func parseRequest(params []string) (jsengine.HTTPRequest, error) {
	if len(params) == 1 {
		return jsengine.HTTPRequest{Method: http.MethodGet, URL: params[0]}, nil
	}
	method := strings.ToUpper(param(params, 0))
	if !httpMethods[method] {
		return jsengine.HTTPRequest{}, core.ErrInvalidParams.WithMessagef("request: unsupported method %q", param(params, 0))
	}
	req := jsengine.HTTPRequest{Method: method, URL: param(params, 1), Body: param(params, 2)}
	if req.URL == "" {
		return req, core.ErrInvalidParams.WithMessage("request: url is required")
	}
	if raw := param(params, 3); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Headers); err != nil {
			return req, core.ErrInvalidParams.WithMessage("request: headers must be a JSON object of strings").WithCause(err)
		}
	}
	return req, nil
}

func assertStatus(sc *Context, params []string) *core.CommandResult {
	resp := sc.State.LastResponse
	if resp == nil {
		return core.Failed(core.ErrNoResponse)
	}
	want, err := strconv.Atoi(param(params, 0))
	if err != nil {
		return core.Failed(core.ErrInvalidParams.WithMessagef("assertStatus: invalid status %q", param(params, 0)))
	}
	if resp.Status != want {
		return core.Failed(core.ErrStatusMismatch.WithMessagef("expected status %d, got %d", want, resp.Status))
	}
	return core.Succeeded(fmt.Sprintf("status %d", want))
}

func assertBody(sc *Context, params []string) *core.CommandResult {
	resp := sc.State.LastResponse
	if resp == nil {
		return core.Failed(core.ErrNoResponse)
	}
	want := param(params, 0)
	if !strings.Contains(resp.Body, want) {
		return core.Failed(core.ErrBodyMismatch.WithMessagef("response body does not contain %q", want))
	}
	return core.Succeeded(fmt.Sprintf("body contains %q", want))
}
