package jsengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dop251/goja"
)

// DefaultHTTPTimeout bounds a request when the caller sets no timeout.
const DefaultHTTPTimeout = 30 * time.Second

// maxBodySize caps how much of a response body is kept.
const maxBodySize = 10 << 20

// HTTPResponse represents the response from an HTTP request
type HTTPResponse struct {
	Status   int               `json:"status"`
	Body     string            `json:"body"`
	Headers  map[string]string `json:"headers"`
	Ok       bool              `json:"ok"`
	JSON     interface{}       `json:"json"`
	Duration time.Duration     `json:"-"`
}

// HTTPRequest describes a request issued by the request action or a plugin.
type HTTPRequest struct {
	Method  string
	URL     string
	Body    string
	Headers map[string]string
	Timeout time.Duration
}

// Do performs req with client and reads the whole response.
func Do(ctx context.Context, client *http.Client, req HTTPRequest) (*HTTPResponse, error) {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != "" {
		body = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" && json.Valid([]byte(req.Body)) {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	response := &HTTPResponse{
		Status:   resp.StatusCode,
		Body:     string(bodyBytes),
		Headers:  make(map[string]string, len(resp.Header)),
		Ok:       resp.StatusCode >= 200 && resp.StatusCode < 300,
		Duration: time.Since(start),
	}
	for k, v := range resp.Header {
		if len(v) > 0 {
			response.Headers[k] = v[0]
		}
	}
	var parsed interface{}
	if err := json.Unmarshal(bodyBytes, &parsed); err == nil {
		response.JSON = parsed
	}
	return response, nil
}

// httpModule returns the http object with get, post, put, delete and request
func (e *Engine) httpModule() *goja.Object {
	obj := e.runtime.NewObject()
	for _, method := range []string{"get", "post", "put", "delete"} {
		m := method
		obj.Set(m, func(call goja.FunctionCall) goja.Value {
			return e.doHTTPRequest(m, call.Arguments)
		})
	}

	// http.request(method, url, [options])
	obj.Set("request", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("http.request requires method and url"))
		}
		return e.doHTTPRequest(call.Arguments[0].String(), call.Arguments[1:])
	})
	return obj
}

// doHTTPRequest runs a request for script code: (url, {body, headers, timeout}).
func (e *Engine) doHTTPRequest(method string, args []goja.Value) goja.Value {
	if len(args) < 1 {
		panic(e.runtime.NewTypeError(fmt.Sprintf("http.%s requires url", method)))
	}

	req := HTTPRequest{
		Method:  httpMethod(method),
		URL:     args[0].String(),
		Headers: make(map[string]string),
	}
	if len(args) > 1 && !goja.IsUndefined(args[1]) && !goja.IsNull(args[1]) {
		if opts, ok := args[1].Export().(map[string]interface{}); ok {
			applyRequestOptions(&req, opts)
		}
	}

	resp, err := Do(e.ctx, e.client, req)
	if err != nil {
		panic(e.runtime.NewGoError(fmt.Errorf("HTTP request failed: %w", err)))
	}

	responseObj := e.runtime.NewObject()
	responseObj.Set("status", resp.Status)
	responseObj.Set("body", resp.Body)
	responseObj.Set("headers", resp.Headers)
	responseObj.Set("ok", resp.Ok)
	if resp.JSON != nil {
		responseObj.Set("json", resp.JSON)
	} else {
		responseObj.Set("json", goja.Null())
	}
	return responseObj
}

func applyRequestOptions(req *HTTPRequest, opts map[string]interface{}) {
	if h, ok := opts["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			req.Headers[k] = fmt.Sprintf("%v", v)
		}
	}
	switch b := opts["body"].(type) {
	case string:
		req.Body = b
	case map[string]interface{}, []interface{}:
		if data, err := json.Marshal(b); err == nil {
			req.Body = string(data)
		}
	}
	switch t := opts["timeout"].(type) {
	case int64:
		req.Timeout = time.Duration(t) * time.Millisecond
	case float64:
		req.Timeout = time.Duration(t) * time.Millisecond
	}
}

func httpMethod(m string) string {
	switch m {
	case "get", "GET":
		return http.MethodGet
	case "post", "POST":
		return http.MethodPost
	case "put", "PUT":
		return http.MethodPut
	case "delete", "DELETE":
		return http.MethodDelete
	default:
		return m
	}
}
