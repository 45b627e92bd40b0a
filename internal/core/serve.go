package core

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// handleHTTP is the instance listener's handler: flatten the request into
// the typed envelope, run it through the confined VM under the execution
// watchdog, and write the script's response back with negotiated
// compression.
func (c *Context) handleHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.cfg.MaxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	// Duplicate header fields collapse to one comma-joined value (RFC 9110
	// §5.2) so nothing the client sent is dropped on the way into the VM.
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[name] = strings.Join(values, ", ")
	}

	req := &ScriptRequest{
		Method:  r.Method,
		URL:     "http://" + r.Host + r.URL.RequestURI(),
		Headers: headers,
		Body:    body,
	}

	watchdog := time.AfterFunc(c.cfg.ExecutionTimeout, c.interrupt)
	result, err := c.submit(job{
		kind:     jobInvoke,
		req:      req,
		deadline: time.Now().Add(c.cfg.ExecutionTimeout),
		res:      make(chan jobResult, 1),
	})
	watchdog.Stop()

	if err != nil {
		http.Error(w, "instance is shutting down", http.StatusServiceUnavailable)
		return
	}
	if result.err != nil {
		log.Printf("engine: script error: %v", result.err)
		http.Error(w, "script error: "+result.err.Error(), http.StatusInternalServerError)
		return
	}

	writeScriptResponse(w, r, result.resp)
}

// writeScriptResponse relays the script's response, compressing the body
// when the client asked for it and it is worth the bytes.
func writeScriptResponse(w http.ResponseWriter, r *http.Request, resp *ScriptResponse) {
	h := w.Header()
	for name, value := range resp.Headers {
		h.Set(name, value)
	}

	body := resp.Body
	if enc := chooseEncoding(r.Header.Get("Accept-Encoding")); enc != "" &&
		len(body) >= minCompressSize && h.Get("Content-Encoding") == "" {
		if compressed, err := compressBody(body, enc); err == nil && len(compressed) < len(body) {
			body = compressed
			h.Set("Content-Encoding", enc)
			h.Add("Vary", "Accept-Encoding")
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
