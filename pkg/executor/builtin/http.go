package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

// Doer abstracts the HTTP client behind http_request nodes so tests and
// embedders can substitute their own transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPTimeout applies when the action carries no timeout field.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPHandler executes http_request nodes. A non-2xx response is a normal
// output, not a failure; the handler fails only on transport errors or
// timeout.
type HTTPHandler struct {
	*executor.Base
	client Doer
}

// NewHTTPHandler creates an HTTP handler backed by the given client.
// A nil client falls back to a default net/http client.
func NewHTTPHandler(client Doer) *HTTPHandler {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPHandler{
		Base:   executor.NewBase(models.UsesHTTPRequest),
		client: client,
	}
}

// Execute performs the request described by the action payload.
func (h *HTTPHandler) Execute(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
	rawURL, err := h.RequireString(action, "url")
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: err.Error()}
	}
	method := strings.ToUpper(h.GetString(action, "method", http.MethodGet))

	timeout := DefaultHTTPTimeout
	if ms := h.GetInt(action, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestURL, err := appendParams(rawURL, h.GetMap(action, "params"))
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: fmt.Sprintf("invalid url: %v", err)}
	}

	body, contentType, err := buildBody(h.GetMap(action, "body"))
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: fmt.Sprintf("failed to build request: %v", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range h.GetMap(action, "headers") {
		if str, ok := value.(string); ok {
			req.Header.Set(key, str)
		}
	}
	if err := applyAuth(req, h.GetMap(action, "auth")); err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: err.Error()}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.Canceled) {
				return nil, models.ErrCancelled
			}
			return nil, &models.HandlerError{Kind: models.HandlerErrTransport, Detail: "request timed out", Err: ctxErr}
		}
		return nil, &models.HandlerError{Kind: models.HandlerErrTransport, Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrTransport, Detail: "failed to read response", Err: err}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decodeBody(resp.Header.Get("Content-Type"), respBody),
	}, nil
}

// Validate checks the action payload shape.
func (h *HTTPHandler) Validate(action map[string]any) error {
	if _, err := h.RequireString(action, "url"); err != nil {
		return err
	}
	if auth := h.GetMap(action, "auth"); auth != nil {
		authType, _ := auth["auth_type"].(string)
		switch authType {
		case "", "no_auth", "bearer", "basic", "custom":
		default:
			return fmt.Errorf("http_request: unknown auth_type %q", authType)
		}
	}
	if body := h.GetMap(action, "body"); body != nil {
		contentType, _ := body["content_type"].(string)
		switch contentType {
		case "", "none", "json", "form", "text":
		default:
			return fmt.Errorf("http_request: unknown body content_type %q", contentType)
		}
	}
	return nil
}

// appendParams merges query params into the URL.
func appendParams(rawURL string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	for key, value := range params {
		query.Set(key, toParamString(value))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func toParamString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// buildBody renders the request body per its content_type.
func buildBody(body map[string]any) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	contentType, _ := body["content_type"].(string)
	data := body["data"]

	switch contentType {
	case "", "none":
		return nil, "", nil
	case "json":
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal json body: %v", err)
		}
		return bytes.NewReader(encoded), "application/json", nil
	case "form":
		fields, ok := data.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("form body requires an object data field")
		}
		values := url.Values{}
		for key, value := range fields {
			values.Set(key, toParamString(value))
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		text, ok := data.(string)
		if !ok {
			return nil, "", fmt.Errorf("text body requires a string data field")
		}
		return strings.NewReader(text), "text/plain", nil
	default:
		return nil, "", fmt.Errorf("unknown body content_type %q", contentType)
	}
}

// applyAuth decorates the request per the auth block.
func applyAuth(req *http.Request, auth map[string]any) error {
	if auth == nil {
		return nil
	}
	authType, _ := auth["auth_type"].(string)
	switch authType {
	case "", "no_auth":
		return nil
	case "bearer":
		token, _ := auth["token"].(string)
		if token == "" {
			return fmt.Errorf("bearer auth requires a token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		username, _ := auth["username"].(string)
		password, _ := auth["password"].(string)
		req.SetBasicAuth(username, password)
	case "custom":
		header, _ := auth["header"].(string)
		value, _ := auth["value"].(string)
		if header == "" {
			return fmt.Errorf("custom auth requires a header name")
		}
		req.Header.Set(header, value)
	default:
		return fmt.Errorf("unknown auth_type %q", authType)
	}
	return nil
}

// decodeBody parses JSON responses into structured values and returns
// everything else as a string.
func decodeBody(contentType string, body []byte) any {
	if strings.Contains(contentType, "application/json") {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			return decoded
		}
	}
	return string(body)
}
