package core

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func TestChooseEncoding(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"gzip":                 "gzip",
		"br":                   "br",
		"gzip, deflate, br":    "br",
		"gzip;q=1.0, identity": "gzip",
		"br;q=0.9, gzip;q=1.0": "br",
		"identity":             "",
		"deflate":              "",
	}
	for accept, want := range cases {
		if got := chooseEncoding(accept); got != want {
			t.Errorf("chooseEncoding(%q) = %q, want %q", accept, got, want)
		}
	}
}

func TestWriteScriptResponseCompresses(t *testing.T) {
	body := []byte(strings.Repeat("compressible content ", 200))
	resp := &ScriptResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       body,
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	rec := httptest.NewRecorder()
	writeScriptResponse(rec, req, resp)

	if enc := rec.Header().Get("Content-Encoding"); enc != "br" {
		t.Fatalf("Content-Encoding = %q, want br", enc)
	}
	if rec.Body.Len() >= len(body) {
		t.Errorf("compressed length %d not smaller than %d", rec.Body.Len(), len(body))
	}
	decoded, err := io.ReadAll(brotli.NewReader(rec.Body))
	if err != nil {
		t.Fatalf("decompressing: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Error("brotli round-trip does not match the original body")
	}
}

func TestWriteScriptResponseGzipFallback(t *testing.T) {
	body := []byte(strings.Repeat("compressible content ", 200))
	resp := &ScriptResponse{StatusCode: 200, Body: body}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	writeScriptResponse(rec, req, resp)

	if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", enc)
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompressing: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Error("gzip round-trip does not match the original body")
	}
}

func TestWriteScriptResponseSkipsSmallBodies(t *testing.T) {
	resp := &ScriptResponse{StatusCode: 200, Body: []byte("tiny")}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	writeScriptResponse(rec, req, resp)

	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q for tiny body, want none", enc)
	}
	if rec.Body.String() != "tiny" {
		t.Errorf("body = %q, want verbatim", rec.Body.String())
	}
}

func TestWriteScriptResponseRespectsExistingEncoding(t *testing.T) {
	body := []byte(strings.Repeat("already compressed by the script ", 100))
	resp := &ScriptResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Encoding": "gzip"},
		Body:       body,
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	writeScriptResponse(rec, req, resp)

	if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Errorf("Content-Encoding = %q, script's own encoding clobbered", enc)
	}
	if !bytes.Equal(rec.Body.Bytes(), body) {
		t.Error("pre-encoded body was re-compressed")
	}
}

func TestWriteScriptResponseDefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeScriptResponse(rec, httptest.NewRequest("GET", "/", nil), &ScriptResponse{Body: []byte("x")})
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200 default", rec.Code)
	}
}
