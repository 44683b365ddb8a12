package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weftworks/weft/common/clients"
	"github.com/weftworks/weft/common/sdk"
)

// maxResponseSize caps how much of an upstream body is kept. Node outputs
// land in execution records, so an unbounded read would balloon storage.
const maxResponseSize = 10 << 20

// httpRequestNode performs one outbound HTTP request. The shared client
// handles target validation, redirects, and transient retries; this node
// turns config into a request and the response into outputs.
type httpRequestNode struct {
	client *clients.HTTPClient
}

func (n *httpRequestNode) InputPorts() []sdk.Port {
	return universalPort("input", false)
}

func (n *httpRequestNode) OutputPorts() []sdk.Port {
	return universalPort("output", false)
}

func (n *httpRequestNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"url":                prop("string", "request target, http or https"),
		"method":             prop("string", "HTTP method, default GET"),
		"headers":            prop("object", "extra request headers"),
		"payload":            prop("object", "JSON request body; defaults to the input port for non-GET methods"),
		"timeout":            prop("number", "per-request timeout in seconds"),
		"fail_on_http_error": prop("boolean", "treat status >= 400 as a node failure"),
	}, "url")
}

func (n *httpRequestNode) Execute(ctx context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	if n.client == nil {
		return nil, fmt.Errorf("http client is not configured")
	}

	rawURL := stringOr(in.Config, "url", "")
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	method := strings.ToUpper(stringOr(in.Config, "method", http.MethodGet))

	headers := make(map[string]string)
	for k, v := range mapOr(in.Config, "headers") {
		headers[k] = fmt.Sprintf("%v", v)
	}

	body, err := n.requestBody(in, method)
	if err != nil {
		return nil, err
	}
	if body != nil {
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	if sec := floatOr(in.Config, "timeout", 0); sec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(sec*float64(time.Second)))
		defer cancel()
	}

	start := time.Now()
	resp, err := n.client.DoRequest(ctx, method, rawURL, headers, body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed any
	if json.Valid(raw) {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	} else {
		parsed = string(raw)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	outputs := map[string]any{
		"status":      "success",
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"output":      parsed,
		"duration_ms": time.Since(start).Milliseconds(),
		"url":         rawURL,
		"method":      method,
	}
	if resp.StatusCode >= 400 && boolOr(in.Config, "fail_on_http_error", false) {
		outputs["status"] = "error"
		outputs["error"] = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	return outputs, nil
}

// requestBody picks the JSON body: explicit payload config wins, otherwise
// the input port for methods that carry one.
func (n *httpRequestNode) requestBody(in *sdk.NodeExecutionInput, method string) ([]byte, error) {
	payload, ok := in.Config["payload"]
	if !ok {
		if method == http.MethodGet || method == http.MethodHead {
			return nil, nil
		}
		payload, ok = in.Ports["input"]
		if !ok || payload == nil {
			return nil, nil
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON-encodable: %w", err)
	}
	return body, nil
}
