package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Config holds the per-context engine settings.
type Config struct {
	MemoryLimitMB    int           // per-VM heap limit
	ExecutionTimeout time.Duration // per-request script watchdog
	DrainTimeout     time.Duration // graceful listener shutdown bound
	MaxRequestBytes  int64         // max inbound body handed to a script
}

// ScriptRequest is the typed envelope handed to a tenant script's fetch
// handler. Everything is validated and flattened at the HTTP boundary
// before any VM sees it.
type ScriptRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// ScriptResponse is the envelope a tenant script's handler produced.
type ScriptResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// wireRequest is the JSON shape crossing into JS. Bodies travel base64 so
// binary payloads survive the string bridge.
type wireRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	BodyB64 string            `json:"bodyB64,omitempty"`
}

// wireResponse is the JSON shape coming back out of JS.
type wireResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	BodyB64 string            `json:"bodyB64"`
}

// EncodeRequest marshals a request for the __dispatch bridge.
func EncodeRequest(req *ScriptRequest) (string, error) {
	w := wireRequest{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
	}
	if len(req.Body) > 0 {
		w.BodyB64 = base64.StdEncoding.EncodeToString(req.Body)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encoding script request: %w", err)
	}
	return string(data), nil
}

// DecodeResponse parses the __dispatch bridge result.
func DecodeResponse(payload string) (*ScriptResponse, error) {
	var w wireResponse
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, fmt.Errorf("decoding script response: %w", err)
	}
	var body []byte
	if w.BodyB64 != "" {
		var err error
		body, err = base64.StdEncoding.DecodeString(w.BodyB64)
		if err != nil {
			return nil, fmt.Errorf("decoding script response body: %w", err)
		}
	}
	if w.Status == 0 {
		w.Status = 200
	}
	return &ScriptResponse{StatusCode: w.Status, Headers: w.Headers, Body: body}, nil
}
